package models

import "fmt"

// TileKey identifies a single rendered tile. Equality is exact on all
// seven fields (spec.md §3).
type TileKey struct {
	Part          int
	RenderWidth   int
	RenderHeight  int
	TilePosX      int
	TilePosY      int
	TileWidth     int
	TileHeight    int
}

// CacheName returns the on-disk file name for this tile, stable across
// process restarts so a re-opened TileCache can find prior renders.
func (k TileKey) CacheName() string {
	return fmt.Sprintf("%d_%d_%d_%d_%d_%d_%d.png",
		k.Part, k.RenderWidth, k.RenderHeight, k.TilePosX, k.TilePosY, k.TileWidth, k.TileHeight)
}

// Rect returns the tile's rectangle in document coordinates, used for
// intersection tests against invalidation regions.
func (k TileKey) Rect() Rectangle {
	return Rectangle{X: k.TilePosX, Y: k.TilePosY, Width: k.TileWidth, Height: k.TileHeight}
}

// Rectangle is an axis-aligned region in document coordinates.
type Rectangle struct {
	X, Y, Width, Height int
}

// Intersects reports whether r and o overlap. A rectangle with
// non-positive width/height never intersects anything (defensive
// against malformed invalidation lines).
func (r Rectangle) Intersects(o Rectangle) bool {
	if r.Width <= 0 || r.Height <= 0 || o.Width <= 0 || o.Height <= 0 {
		return false
	}
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// InfiniteRect represents the "rect=0,0,∞,∞" invalidation used when an
// edit may affect the entire part.
func InfiniteRect() Rectangle {
	const inf = 1 << 30
	return Rectangle{X: 0, Y: 0, Width: inf, Height: inf}
}
