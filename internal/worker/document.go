// Package worker implements the process that runs inside the chroot
// jail and hosts one office document via the engine (spec.md §4.3,
// §4.5). Document is the per-URL unit: one engine handle, one
// MessageQueue, one consumer goroutine, and the set of WorkerSessions
// currently viewing it.
//
// The single-consumer-goroutine-per-Document shape is grounded on the
// teacher's embedding worker pool (internal/services/embedding.go in
// the original ai-kms source): a fixed number of goroutines drain a
// channel of jobs under a context that cancels on shutdown. Here the
// "pool" is exactly one goroutine per document, which is what gives
// the single-writer serialisation spec.md §5 requires.
package worker

import (
	"fmt"
	"log"
	"sync"

	"loolgw/internal/engine"
	"loolgw/internal/models"
	"loolgw/internal/queue"
)

// Document is one open office document inside a worker process.
type Document struct {
	meta    models.DocumentMeta
	childID models.ChildId
	factory engine.Factory

	mu        sync.Mutex
	engineDoc engine.Document
	sessions  map[models.SessionID]*WorkerSession

	queue        *queue.MessageQueue
	consumerDone chan struct{}
}

// NewDocument creates a Document for uri without loading the engine
// yet — the engine handle is created lazily on the first "load"
// command (spec.md §3 invariant).
func NewDocument(uri, jailPath string, childID models.ChildId, factory engine.Factory) *Document {
	d := &Document{
		meta:         models.NewDocumentMeta(uri, jailPath),
		childID:      childID,
		factory:      factory,
		sessions:     make(map[models.SessionID]*WorkerSession),
		queue:        queue.New(),
		consumerDone: make(chan struct{}),
	}
	go d.consumeLoop()
	return d
}

// URI returns the document's public URI.
func (d *Document) URI() string { return d.meta.URI }

// CreateSession registers a new WorkerSession against this document
// and returns it. The caller is responsible for starting its read
// loop.
func (d *Document) CreateSession(id models.SessionID, transport wsConn) *WorkerSession {
	sess := newWorkerSession(id, d, transport)

	d.mu.Lock()
	d.sessions[id] = sess
	d.mu.Unlock()

	return sess
}

// removeSession drops a session (called from the session's own
// ReadLoop on exit); if it was the last one and the document isn't
// dirty, the Host's next query sweep discards the Document entirely
// (spec.md §4.6/§9: canDiscard).
func (d *Document) removeSession(id models.SessionID) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

// HasConnections reports whether any session still views this
// document.
func (d *Document) HasConnections() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions) > 0
}

// CanDiscard implements spec.md §9's corrected canDiscard: no live
// connections AND not dirty. The source's TODO about a proper
// inactivity timeout is left unaddressed — no concrete timeout value
// is specified anywhere in spec.md or the original sources, so adding
// one here would be inventing behaviour rather than grounding it.
func (d *Document) CanDiscard() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions) == 0 && !d.meta.Dirty
}

// Close stops the consumer goroutine and releases the engine handle.
func (d *Document) Close() {
	d.queue.Close()
	<-d.consumerDone

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engineDoc != nil {
		d.engineDoc.Destroy()
		d.engineDoc = nil
	}
}

func (d *Document) consumeLoop() {
	defer close(d.consumerDone)
	for {
		item := d.queue.Get()
		if item.SessionID == "" && string(item.Payload) == "eof" {
			return
		}
		d.handleItem(item)
	}
}

func (d *Document) lookupSession(id string) *WorkerSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[models.SessionID(id)]
}

// fanoutCallback is the document-level engine callback: it is invoked
// by the engine, potentially while the consumer goroutine is inside an
// engine call, so it must never re-enter the queue (spec.md §5) — it
// sends directly on every session's transport.
func (d *Document) fanoutCallback(eventType, payload string) {
	frame := []byte(eventType + ": " + payload)

	d.mu.Lock()
	d.meta.Dirty = eventType == "invalidatetiles" || eventType == "invalidatecursor" || d.meta.Dirty
	sessions := make([]*WorkerSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		if err := s.Send(frame); err != nil {
			log.Printf("worker: failed to fan out %s to session %s: %v", eventType, s.meta.ID, err)
		}
	}
}

func (d *Document) ensureEngineDoc(opts map[string]string) (engine.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engineDoc != nil {
		return d.engineDoc, nil
	}

	doc, err := d.factory.LoadDocument(d.meta.JailPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", d.meta.URI, err)
	}
	doc.RegisterCallback(d.fanoutCallback)
	d.engineDoc = doc
	return doc, nil
}
