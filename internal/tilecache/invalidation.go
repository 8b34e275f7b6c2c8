package tilecache

import (
	"strconv"
	"strings"

	"loolgw/internal/models"
)

// parseCacheName reverses TileKey.CacheName for directory sweeps.
func parseCacheName(name string) (models.TileKey, bool) {
	name = strings.TrimSuffix(name, ".png")
	parts := strings.Split(name, "_")
	if len(parts) != 7 {
		return models.TileKey{}, false
	}

	vals := make([]int, 7)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return models.TileKey{}, false
		}
		vals[i] = n
	}

	return models.TileKey{
		Part:         vals[0],
		RenderWidth:  vals[1],
		RenderHeight: vals[2],
		TilePosX:     vals[3],
		TilePosY:     vals[4],
		TileWidth:    vals[5],
		TileHeight:   vals[6],
	}, true
}

// ParseInvalidation parses an engine-formatted invalidation line of
// the shape:
//
//	invalidatetiles: part=1 x=0 y=0 width=3840 height=3840
//
// or the all-parts / whole-document shorthand:
//
//	invalidatetiles: EMPTY
//
// which invalidates every tile on every part.
func ParseInvalidation(line string) (part int, rect models.Rectangle, ok bool) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "invalidatetiles:")
	line = strings.TrimSpace(line)

	if line == "EMPTY" || line == "" {
		return -1, models.InfiniteRect(), true
	}

	fields := map[string]int{}
	for _, tok := range strings.Fields(line) {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		n, err := strconv.Atoi(tok[eq+1:])
		if err != nil {
			continue
		}
		fields[tok[:eq]] = n
	}

	p, hasPart := fields["part"]
	if !hasPart {
		return 0, models.Rectangle{}, false
	}

	x, y := fields["x"], fields["y"]
	w, hasW := fields["width"]
	h, hasH := fields["height"]
	if !hasW || !hasH {
		// No rectangle given: invalidate the whole part.
		return p, models.InfiniteRect(), true
	}

	return p, models.Rectangle{X: x, Y: y, Width: w, Height: h}, true
}
