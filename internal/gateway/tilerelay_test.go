package gateway

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loolgw/internal/models"
	"loolgw/internal/tilecache"
)

// TestTileDeliveredIsCached exercises spec.md §4.4's "snoop on the
// return path": a tile frame relayed from a worker must land in the
// session's TileCache under the same key a later cache lookup uses.
func TestTileDeliveredIsCached(t *testing.T) {
	cfg := testConfig(t)
	gw := New(cfg, nil)

	// The session under test owns the server end of the socket, so what
	// it relays arrives on conn, the browser end.
	serverConns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- c
	}))
	defer srv.Close()

	conn := dialPublic(t, srv)
	defer conn.Close()
	serverConn := <-serverConns
	defer serverConn.Close()

	cache, err := tilecache.Open(filepath.Join(cfg.TileCacheRoot, "doc1"), time.Time{})
	if err != nil {
		t.Fatalf("tilecache.Open: %v", err)
	}

	sess := newClientSession(gw, serverConn)
	sess.mu.Lock()
	sess.cache = cache
	sess.loaded = true
	sess.mu.Unlock()

	key := models.TileKey{Part: 0, RenderWidth: 256, RenderHeight: 256, TilePosX: 0, TilePosY: 0, TileWidth: 3840, TileHeight: 3840}
	png := []byte("fake-png-bytes")
	frame := tileFrame(key, png)

	sess.onWorkerFrame(frame)

	got := cache.LookupTile(key)
	if !bytes.Equal(got, png) {
		t.Fatalf("cached tile = %q, want %q", got, png)
	}

	// The same frame should now also be relayed to the browser side.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read relayed tile frame: %v", err)
	}
	if !bytes.Equal(data, frame) {
		t.Fatalf("relayed frame = %q, want %q", data, frame)
	}
}
