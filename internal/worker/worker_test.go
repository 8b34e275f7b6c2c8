package worker

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loolgw/internal/engine"
	"loolgw/internal/models"
)

// fakeConn is a minimal wsConn double driven entirely by a test:
// pushed text frames are returned from ReadMessage in order, and
// every WriteMessage is captured for assertions.
type fakeConn struct {
	in  chan []byte
	out chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan []byte, 16)}
}

func (f *fakeConn) push(msg string) { f.in <- []byte(msg) }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	m, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, m, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	cp := append([]byte{}, data...)
	f.out <- cp
	return nil
}

func (f *fakeConn) Close() error {
	return nil
}

func (f *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-f.out:
		return string(frame)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return ""
	}
}

func TestPasteRoundTripThroughDocument(t *testing.T) {
	doc := NewDocument("file:///docs/hello.odt", "/jail/docs/hello.odt", models.NewChildId(1), engine.FakeFactory{})
	defer doc.Close()

	conn := newFakeConn()
	sid := models.NewSessionID()
	sess := doc.CreateSession(sid, conn)
	go sess.ReadLoop()

	conn.push("load url=file:///docs/hello.odt")
	if status := conn.next(t); !strings.HasPrefix(status, "status: ") {
		t.Fatalf("expected status frame after load, got %q", status)
	}

	conn.push("uno .uno:SelectAll")
	conn.push("uno .uno:Delete")
	conn.push("paste mimetype=text/plain;charset=utf-8\naaa bbb ccc")
	conn.push("uno .uno:SelectAll")
	conn.push("gettextselection mimetype=text/plain;charset=utf-8")

	// .uno:Delete and the paste each fire a document-level invalidation,
	// fanned out to this session ahead of the selection reply.
	for i := 0; i < 2; i++ {
		if inv := conn.next(t); !strings.HasPrefix(inv, "invalidatetiles:") {
			t.Fatalf("expected invalidatetiles frame after edit %d, got %q", i+1, inv)
		}
	}

	frame := conn.next(t)
	if !strings.HasPrefix(frame, "textselectioncontent:") {
		t.Fatalf("expected textselectioncontent frame, got %q", frame)
	}
	body := frame[strings.Index(frame, "\n")+1:]
	if body != "aaa bbb ccc" {
		t.Fatalf("selection body = %q, want %q", body, "aaa bbb ccc")
	}

	conn.push("uno .uno:Save")
	saved := conn.next(t)
	if !strings.HasPrefix(saved, "documentSaved:") {
		t.Fatalf("expected documentSaved frame after .uno:Save, got %q", saved)
	}
	if doc.meta.Dirty {
		t.Fatalf("expected dirty flag cleared after .uno:Save")
	}

	conn.push("disconnect")
}

func TestLoadTwiceRejectsSecond(t *testing.T) {
	doc := NewDocument("file:///docs/two.odt", "/jail/docs/two.odt", models.NewChildId(2), engine.FakeFactory{})
	defer doc.Close()

	conn := newFakeConn()
	sess := doc.CreateSession(models.NewSessionID(), conn)
	go sess.ReadLoop()

	conn.push("load url=file:///docs/two.odt")
	_ = conn.next(t) // status

	conn.push("load url=file:///docs/other.odt")
	errFrame := conn.next(t)
	if !strings.Contains(errFrame, "kind=docalreadyloaded") {
		t.Fatalf("expected docalreadyloaded error, got %q", errFrame)
	}

	conn.push("disconnect")
}

func TestUnknownCommandRejected(t *testing.T) {
	doc := NewDocument("file:///docs/three.odt", "/jail/docs/three.odt", models.NewChildId(3), engine.FakeFactory{})
	defer doc.Close()

	conn := newFakeConn()
	sess := doc.CreateSession(models.NewSessionID(), conn)
	go sess.ReadLoop()

	conn.push("boguscommand foo=bar")
	errFrame := conn.next(t)
	if !strings.Contains(errFrame, "kind=unknown") {
		t.Fatalf("expected unknown-command error, got %q", errFrame)
	}

	conn.push("disconnect")
}

func TestTileRequestCachedInQueueCoalesces(t *testing.T) {
	doc := NewDocument("file:///docs/four.odt", "/jail/docs/four.odt", models.NewChildId(4), engine.FakeFactory{})
	defer doc.Close()

	conn := newFakeConn()
	sess := doc.CreateSession(models.NewSessionID(), conn)

	tile := "tile part=0 width=256 height=256 tileposx=0 tileposy=0 tilewidth=3840 tileheight=3840"
	sess.enqueue([]byte(tile))
	sess.enqueue([]byte(tile))

	if got := doc.queue.Len(); got != 1 {
		t.Fatalf("expected coalesced queue length 1, got %d", got)
	}
}
