package worker

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"loolgw/internal/config"
	"loolgw/internal/engine"
	"loolgw/internal/models"
)

// Host is the process-wide state of a worker: the inbound control
// pipe from the Broker, the set of open Documents, and everything
// needed to dial back to the Gateway for each new session (spec.md
// §4.5). There is exactly one Host per worker process.
type Host struct {
	cfg        *config.Config
	factory    engine.Factory
	jailID     models.JailId
	childID    models.ChildId
	pid        int
	clientPort int
	childRoot  string

	mu        sync.Mutex
	documents map[string]*Document // keyed by public URI
}

func NewHost(cfg *config.Config, factory engine.Factory, jailID models.JailId, childID models.ChildId, pid, clientPort int, childRoot string) *Host {
	return &Host{
		cfg:        cfg,
		factory:    factory,
		jailID:     jailID,
		childID:    childID,
		pid:        pid,
		clientPort: clientPort,
		childRoot:  childRoot,
		documents:  make(map[string]*Document),
	}
}

// Run opens the inbound control pipe and blocks, dispatching messages
// until the pipe closes or ctx-equivalent shutdown happens via process
// signal (see signals.go). reply is called for every outgoing
// "<pid> ..." line, writing to the shared broker reply FIFO.
func (h *Host) Run(inboundPipePath string, reply func(line string) error) error {
	f, err := os.OpenFile(inboundPipePath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("worker: opening inbound pipe %s: %w", inboundPipePath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(scanCRLFLines)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		h.handleControlLine(line, reply)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("worker: reading inbound pipe: %w", err)
	}
	return nil
}

// scanCRLFLines is a bufio.SplitFunc for CRLF-terminated lines
// (spec.md §6's broker control pipe framing).
func scanCRLFLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := strings.Index(string(data), "\r\n"); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (h *Host) handleControlLine(line string, reply func(line string) error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "query":
		// fields[1] is always the literal word "url" (spec.md's wire
		// text is unparameterized, unlike "thread"'s session/url
		// arguments) — a worker hosts at most one document, so there's
		// nothing to key a lookup on.
		h.handleQuery(reply)

	case "thread":
		if len(fields) < 3 {
			return
		}
		h.handleThread(models.SessionID(fields[1]), fields[2], reply)

	default:
		log.Printf("worker: unrecognised control message %q", line)
	}
}

// handleQuery answers the Broker's idle-worker probe (LOOLKit.cpp's
// queryHandler). It sweeps discardable documents first, then reports
// whether this worker is free: "empty" if it hosts nothing, otherwise
// the URI of whatever single document it still holds — a worker never
// hosts more than one document, so there is no document to select by.
func (h *Host) handleQuery(reply func(line string) error) {
	h.mu.Lock()
	for uri, doc := range h.documents {
		if doc.CanDiscard() {
			doc.Close()
			delete(h.documents, uri)
		}
	}
	var hosted string
	for uri := range h.documents {
		hosted = uri
		break
	}
	empty := len(h.documents) == 0
	h.mu.Unlock()

	if empty {
		_ = reply(fmt.Sprintf("%d empty", h.pid))
		return
	}
	_ = reply(fmt.Sprintf("%d %s", h.pid, hosted))
}

func (h *Host) handleThread(sessionID models.SessionID, rawURL string, reply func(line string) error) {
	doc := h.findOrCreateDocument(rawURL)

	conn, _, err := websocket.DefaultDialer.Dial(h.internalWSURL(sessionID), nil)
	if err != nil {
		log.Printf("worker: dial gateway for session %s failed: %v", sessionID, err)
		_ = reply(fmt.Sprintf("%d bad", h.pid))
		return
	}

	first := fmt.Sprintf("child %s %s %d", h.jailID.String(), sessionID.String(), h.pid)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(first)); err != nil {
		log.Printf("worker: announce frame for session %s failed: %v", sessionID, err)
		_ = conn.Close()
		_ = reply(fmt.Sprintf("%d bad", h.pid))
		return
	}

	sess := doc.CreateSession(sessionID, conn)
	go sess.ReadLoop()

	_ = reply(fmt.Sprintf("%d ok", h.pid))
}

func (h *Host) internalWSURL(sessionID models.SessionID) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/loolws/child/%s", h.clientPort, sessionID.String())
}

func (h *Host) findOrCreateDocument(rawURL string) *Document {
	h.mu.Lock()
	defer h.mu.Unlock()

	if doc, ok := h.documents[rawURL]; ok {
		return doc
	}

	jailPath := h.docJailPath(rawURL)
	doc := NewDocument(rawURL, jailPath, h.childID, h.factory)
	h.documents[rawURL] = doc
	return doc
}

// docJailPath implements the jail layout from spec.md §6:
// <childroot>/<jail-id>/user/docs/<child-id>/<document-file>.
func (h *Host) docJailPath(rawURL string) string {
	name := filepath.Base(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = filepath.Base(u.Path)
	}
	return filepath.Join(h.childRoot, h.jailID.String(), "user", "docs", h.childID.String(), name)
}
