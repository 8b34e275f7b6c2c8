package worker

import (
	"strings"
	"sync"
	"testing"

	"loolgw/internal/config"
	"loolgw/internal/engine"
	"loolgw/internal/models"
)

// fakeReplies captures every line a test host writes back, mirroring
// the "<pid> ..." lines the real Host.Run sends over the broker reply
// FIFO (see cmd/worker/main.go's reply closure).
type fakeReplies struct {
	mu    sync.Mutex
	lines []string
}

func (r *fakeReplies) write(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func (r *fakeReplies) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return ""
	}
	return r.lines[len(r.lines)-1]
}

func newTestHost(pid int) *Host {
	return NewHost(&config.Config{}, engine.FakeFactory{}, models.JailId("jail"), models.NewChildId(pid), pid, 0, "/childroot")
}

// TestHandleQueryIgnoresSecondTokenValue pins the wire format a
// maintainer review caught regressing: "query" only ever arrives as
// the literal "query url" (spec.md lines 109/119/160), so handleQuery
// must not key any lookup off whatever value follows "query" — it
// reports the single document this worker hosts (if any), full stop.
func TestHandleQueryIgnoresSecondTokenValue(t *testing.T) {
	h := newTestHost(42)
	replies := &fakeReplies{}

	h.handleControlLine("query url", replies.write)
	if got := replies.last(); !strings.HasSuffix(got, "empty") {
		t.Fatalf("query on an empty host = %q, want suffix %q", got, "empty")
	}

	doc := h.findOrCreateDocument("file:///docs/hosted.odt")
	doc.meta.Dirty = true // keep CanDiscard false with zero live sessions

	// A literal "query url" line, and a differently-valued second
	// token, must both report the same hosted document — the value
	// after "query" is never consulted.
	h.handleControlLine("query url", replies.write)
	wantHosted := "42 file:///docs/hosted.odt"
	if got := replies.last(); got != wantHosted {
		t.Fatalf("query reply = %q, want %q", got, wantHosted)
	}

	h.handleControlLine("query file:///docs/some-other-doc.odt", replies.write)
	if got := replies.last(); got != wantHosted {
		t.Fatalf("query with a different second token = %q, want the same %q (second token must be ignored)", got, wantHosted)
	}
}

// TestHandleQuerySweepsDiscardableDocuments ensures the idle-probe path
// discards documents with no live sessions and no unsaved edits before
// replying, so a worker whose sole document was abandoned reports
// itself idle again instead of permanently reading as busy.
func TestHandleQuerySweepsDiscardableDocuments(t *testing.T) {
	h := newTestHost(7)
	replies := &fakeReplies{}

	doc := h.findOrCreateDocument("file:///docs/abandoned.odt")
	doc.meta.Dirty = false // no sessions, no unsaved edits: CanDiscard() is true

	h.handleControlLine("query url", replies.write)
	if got := replies.last(); !strings.HasSuffix(got, "empty") {
		t.Fatalf("query after sweeping the only document = %q, want suffix %q", got, "empty")
	}

	h.mu.Lock()
	_, stillTracked := h.documents["file:///docs/abandoned.odt"]
	h.mu.Unlock()
	if stillTracked {
		t.Fatalf("discardable document should have been removed from h.documents by the sweep")
	}
}
