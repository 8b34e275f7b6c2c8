package worker

import (
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"loolgw/internal/engine"
	"loolgw/internal/models"
	"loolgw/internal/queue"
)

// WorkerSession is the worker-side half of a client/worker session
// pair (spec.md §4.3). It owns the internal WebSocket back to the
// Gateway, classifies inbound frames, and hands anything that touches
// the engine to the owning Document's queue — it never calls the
// engine directly, so the document's single-writer invariant holds.
type WorkerSession struct {
	meta      models.SessionMeta
	doc       *Document
	transport wsConn

	mu    sync.Mutex
	state models.SessionState
	view  engine.View // nil until the "load" command creates it
}

func newWorkerSession(id models.SessionID, doc *Document, transport wsConn) *WorkerSession {
	return &WorkerSession{
		meta:      models.SessionMeta{ID: id, DocumentURI: doc.URI()},
		doc:       doc,
		transport: transport,
		state:     models.SessionBound,
	}
}

// Send writes a frame directly to the client-facing socket. Called
// both from ReadLoop's own response paths and from engine callbacks
// running on the Document's consumer goroutine — callers must never
// hold doc.mu while calling this, since WriteMessage can block on a
// slow client.
func (s *WorkerSession) Send(frame []byte) error {
	return s.transport.WriteMessage(websocket.TextMessage, frame)
}

func (s *WorkerSession) transitionTo(next models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		return
	}
	s.state = next
}

func (s *WorkerSession) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *WorkerSession) setView(v engine.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

func (s *WorkerSession) getView() engine.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// ReadLoop drains the internal socket until it closes or the client
// sends "disconnect"/"eof", classifying each frame and enqueueing it
// on the document's MessageQueue. It runs on its own goroutine, one
// per session, started by the Host right after CreateSession.
func (s *WorkerSession) ReadLoop() {
	defer func() {
		s.transitionTo(models.SessionDraining)
		s.doc.removeSession(s.meta.ID)
		s.transitionTo(models.SessionClosed)
	}()

	for {
		_, data, err := s.transport.ReadMessage()
		if err != nil {
			return
		}

		text := string(data)
		switch {
		case text == "disconnect" || text == "eof":
			return

		case strings.HasPrefix(text, "nextmessage:"):
			size, ok := parseNextMessageSize(text)
			if !ok {
				log.Printf("worker: malformed nextmessage frame %q", text)
				continue
			}
			_, payload, err := s.transport.ReadMessage()
			if err != nil {
				return
			}
			if len(payload) != size {
				log.Printf("worker: nextmessage size mismatch, got %d want %d", len(payload), size)
			}
			s.enqueue(payload)

		default:
			s.enqueue(data)
		}
	}
}

func (s *WorkerSession) enqueue(payload []byte) {
	isTile, key := tileCoalesceKey(payload)
	s.doc.queue.Put(queue.Item{
		Payload:   payload,
		IsTile:    isTile,
		TileKey:   key,
		SessionID: string(s.meta.ID),
	})
}

// parseNextMessageSize parses "nextmessage: size=1234".
func parseNextMessageSize(line string) (int, bool) {
	idx := strings.Index(line, "size=")
	if idx < 0 {
		return 0, false
	}
	rest := strings.Fields(line[idx+len("size="):])
	if len(rest) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, false
	}
	return n, true
}
