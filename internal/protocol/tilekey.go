package protocol

import "loolgw/internal/models"

// TileKeyFromMessage extracts the seven tile-identifying fields from a
// "tile" (or one position of a "tilecombine") message. Shared by the
// worker's renderer and the gateway's cache interception so both sides
// agree on what makes two tile requests "the same" (spec.md §3).
func TileKeyFromMessage(msg Message) (models.TileKey, bool) {
	part, ok1 := msg.GetInt("part")
	w, ok2 := msg.GetInt("width")
	h, ok3 := msg.GetInt("height")
	x, ok4 := msg.GetInt("tileposx")
	y, ok5 := msg.GetInt("tileposy")
	tw, ok6 := msg.GetInt("tilewidth")
	th, ok7 := msg.GetInt("tileheight")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return models.TileKey{}, false
	}
	return models.TileKey{
		Part: part, RenderWidth: w, RenderHeight: h,
		TilePosX: x, TilePosY: y, TileWidth: tw, TileHeight: th,
	}, true
}
