package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loolgw/internal/models"
)

// TestPeerClosedTransitionsToDraining exercises spec.md §4.4's peer-
// destroy propagation: when a bound workerLink's read loop ends, the
// ClientSession it was bound to must move to DRAINING and unblock any
// saveAsQueue waiter rather than hang forever.
func TestPeerClosedTransitionsToDraining(t *testing.T) {
	cfg := testConfig(t)
	gw := New(cfg, nil)
	srv := httptest.NewServer(gw.PublicRouter())
	defer srv.Close()

	conn := dialPublic(t, srv)
	defer conn.Close()
	negotiate(t, conn)

	sess := newClientSession(gw, conn)
	link := &workerLink{sessionID: sess.meta.ID, jailID: "jail-9"}
	link.bind(sess)
	sess.mu.Lock()
	sess.peer = link
	sess.state = models.SessionRunning
	sess.mu.Unlock()

	done := make(chan string, 1)
	go func() { done <- sess.getSaveAs() }()

	link.onClosed()

	select {
	case got := <-done:
		if got != "" {
			t.Fatalf("expected empty saveas url after peer close, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("getSaveAs never unblocked after peer close")
	}

	sess.mu.Lock()
	state := sess.state
	sess.mu.Unlock()
	if state != models.SessionDraining {
		t.Fatalf("state = %s, want DRAINING", state)
	}
}

func TestWorkerAnnounceWrongSessionRejected(t *testing.T) {
	cfg := testConfig(t)
	gw := New(cfg, nil)
	srv := httptest.NewServer(gw.InternalRouter())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/loolws/child/some-session"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("child jail-1 other-session 99")); err != nil {
		t.Fatalf("write announce: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed after mismatched session id announce")
	}
}
