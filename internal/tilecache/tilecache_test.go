package tilecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"loolgw/internal/models"
)

func openTestCache(t *testing.T) *TileCache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache"), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestSaveAndLookupTile(t *testing.T) {
	c := openTestCache(t)
	key := models.TileKey{Part: 0, RenderWidth: 256, RenderHeight: 256, TilePosX: 0, TilePosY: 0, TileWidth: 3840, TileHeight: 3840}

	if got := c.LookupTile(key); got != nil {
		t.Fatalf("expected miss before save, got %v", got)
	}

	if err := c.SaveTile(key, []byte("png-bytes")); err != nil {
		t.Fatalf("SaveTile: %v", err)
	}

	got := c.LookupTile(key)
	if string(got) != "png-bytes" {
		t.Fatalf("LookupTile = %q, want png-bytes", got)
	}
}

func TestInvalidateTilesRemovesIntersecting(t *testing.T) {
	c := openTestCache(t)
	hit := models.TileKey{Part: 0, TilePosX: 0, TilePosY: 0, TileWidth: 100, TileHeight: 100}
	miss := models.TileKey{Part: 0, TilePosX: 1000, TilePosY: 1000, TileWidth: 100, TileHeight: 100}

	_ = c.SaveTile(hit, []byte("a"))
	_ = c.SaveTile(miss, []byte("b"))

	if err := c.InvalidateTiles(0, models.Rectangle{X: 0, Y: 0, Width: 50, Height: 50}); err != nil {
		t.Fatalf("InvalidateTiles: %v", err)
	}

	if got := c.LookupTile(hit); got != nil {
		t.Fatalf("expected hit tile invalidated, got %v", got)
	}
	if got := c.LookupTile(miss); got == nil {
		t.Fatal("expected non-intersecting tile to survive invalidation")
	}
}

func TestInvalidateTilesLineEmptyClearsEveryPart(t *testing.T) {
	c := openTestCache(t)
	k1 := models.TileKey{Part: 0, TilePosX: 0, TilePosY: 0, TileWidth: 10, TileHeight: 10}
	k2 := models.TileKey{Part: 5, TilePosX: 0, TilePosY: 0, TileWidth: 10, TileHeight: 10}
	_ = c.SaveTile(k1, []byte("a"))
	_ = c.SaveTile(k2, []byte("b"))

	if err := c.InvalidateTilesLine("invalidatetiles: EMPTY"); err != nil {
		t.Fatalf("InvalidateTilesLine: %v", err)
	}

	if c.LookupTile(k1) != nil || c.LookupTile(k2) != nil {
		t.Fatal("expected EMPTY invalidation to clear every part")
	}
}

func TestTextFilePurgedOnFirstEdit(t *testing.T) {
	c := openTestCache(t)
	if err := c.SaveTextFile("status", []byte("type=text parts=1")); err != nil {
		t.Fatalf("SaveTextFile: %v", err)
	}
	if got := c.GetTextFile("status"); string(got) != "type=text parts=1" {
		t.Fatalf("GetTextFile before edit = %q", got)
	}

	c.SetEditing(true)

	if got := c.GetTextFile("status"); got != nil {
		t.Fatalf("expected status purged after edit, got %q", got)
	}
}

func TestDocumentSavedClearsDirty(t *testing.T) {
	c := openTestCache(t)
	c.SetEditing(true)
	if !c.IsDirty() {
		t.Fatal("expected dirty after SetEditing(true)")
	}
	c.DocumentSaved()
	if c.IsDirty() {
		t.Fatal("expected clean after DocumentSaved")
	}
}

func TestOpenWipesStaleCache(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")

	c, err := Open(cacheDir, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := models.TileKey{Part: 0, TileWidth: 10, TileHeight: 10}
	_ = c.SaveTile(key, []byte("stale"))

	// Re-open with a source mod time newer than the cache marker.
	c2, err := Open(cacheDir, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if got := c2.LookupTile(key); got != nil {
		t.Fatalf("expected stale cache wiped, got %v", got)
	}
}

func TestAtomicWriteLeavesNoTempFile(t *testing.T) {
	c := openTestCache(t)
	key := models.TileKey{Part: 0, TileWidth: 10, TileHeight: 10}
	if err := c.SaveTile(key, []byte("x")); err != nil {
		t.Fatalf("SaveTile: %v", err)
	}
	if _, err := os.Stat(c.tilePath(key) + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err = %v", err)
	}
}
