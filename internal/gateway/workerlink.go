package gateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"loolgw/internal/models"
)

// workerLink is the Gateway's view of one worker's internal WebSocket
// — the "WorkerSession-facing half" of spec.md §4.7. It relays frames
// between its bound ClientSession and the worker, snooping cacheable
// responses along the way.
type workerLink struct {
	conn      *websocket.Conn
	sessionID models.SessionID
	jailID    string
	pid       int

	mu   sync.Mutex
	peer *ClientSession
}

// parseWorkerAnnounce parses the worker's first frame: "child
// <jail-id> <session-id> <pid>" (spec.md §6).
func parseWorkerAnnounce(frame string, conn *websocket.Conn) (*workerLink, error) {
	fields := strings.Fields(frame)
	if len(fields) != 4 || fields[0] != "child" {
		return nil, fmt.Errorf("expected \"child <jailid> <sessionid> <pid>\", got %q", frame)
	}
	var pid int
	if _, err := fmt.Sscanf(fields[3], "%d", &pid); err != nil {
		return nil, fmt.Errorf("bad pid in announce frame: %w", err)
	}
	return &workerLink{
		conn:      conn,
		jailID:    fields[1],
		sessionID: models.SessionID(fields[2]),
		pid:       pid,
	}, nil
}

func (l *workerLink) bind(peer *ClientSession) {
	l.mu.Lock()
	l.peer = peer
	l.mu.Unlock()
}

func (l *workerLink) send(frame []byte) error {
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop relays every frame from the worker to the bound
// ClientSession, snooping invalidation/status/partpagerectangles
// frames into the session's TileCache first (spec.md §4.4: "snoop on
// the return path").
func (l *workerLink) readLoop() {
	defer l.onClosed()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}

		l.mu.Lock()
		peer := l.peer
		l.mu.Unlock()
		if peer == nil {
			continue // frame arrived before matchmaking bound a peer; drop it
		}

		peer.onWorkerFrame(data)
	}
}

func (l *workerLink) onClosed() {
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer != nil {
		peer.onPeerClosed()
	}
}
