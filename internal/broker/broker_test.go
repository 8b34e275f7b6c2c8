package broker

import (
	"os"
	"path/filepath"
	"testing"

	"loolgw/internal/config"
)

// TestHandleRequestRoutesExistingURLToSameWorker exercises spec.md
// §4.6's invariant: at most one worker hosts a given document URL at a
// time. A worker already tracked as hosting a URL must keep receiving
// that URL's requests rather than triggering the idle-search/spawn path.
func TestHandleRequestRoutesExistingURLToSameWorker(t *testing.T) {
	dir := t.TempDir()
	inbound := filepath.Join(dir, "worker.pipe")
	if err := os.WriteFile(inbound, nil, 0o600); err != nil {
		t.Fatalf("seeding inbound pipe file: %v", err)
	}

	cfg := &config.Config{PreforkWorkers: 0}
	b := New(cfg, filepath.Join(dir, "reply.pipe"))
	b.workers[1] = &workerHandle{pid: 1, inboundPath: inbound}
	b.byURL["file:///doc.odt"] = 1

	if err := b.HandleRequest("sess-1", "file:///doc.odt"); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if err := b.HandleRequest("sess-2", "file:///doc.odt"); err != nil {
		t.Fatalf("HandleRequest (second viewer): %v", err)
	}

	if pid := b.byURL["file:///doc.odt"]; pid != 1 {
		t.Fatalf("byURL[doc] = %d, want 1 (single worker per URL)", pid)
	}
	if len(b.workers) != 1 {
		t.Fatalf("HandleRequest for an already-hosted URL must not spawn a new worker; got %d workers", len(b.workers))
	}

	data, err := os.ReadFile(inbound)
	if err != nil {
		t.Fatalf("reading control lines written to worker: %v", err)
	}
	want := "thread sess-1 file:///doc.odt\r\nthread sess-2 file:///doc.odt\r\n"
	if string(data) != want {
		t.Fatalf("control lines = %q, want %q", data, want)
	}
}

// TestFindIdleWorkerSendsLiteralQueryLine pins down the wire format a
// maintainer review caught regressing: the "query" control message is
// the fixed literal text "query url" (spec.md lines 109/119/160), not
// "query <the-url-being-routed>". A worker only ever hosts one
// document, so there is nothing to look up by value.
func TestFindIdleWorkerSendsLiteralQueryLine(t *testing.T) {
	dir := t.TempDir()
	inbound := filepath.Join(dir, "worker.pipe")
	if err := os.WriteFile(inbound, nil, 0o600); err != nil {
		t.Fatalf("seeding inbound pipe file: %v", err)
	}
	replyPath := filepath.Join(dir, "reply.pipe")
	if err := os.WriteFile(replyPath, []byte("7 empty\n"), 0o600); err != nil {
		t.Fatalf("seeding reply file: %v", err)
	}

	cfg := &config.Config{PreforkWorkers: 0}
	b := New(cfg, replyPath)
	b.workers[7] = &workerHandle{pid: 7, inboundPath: inbound}

	pid, err := b.findIdleWorker("file:///unrelated-doc.odt")
	if err != nil {
		t.Fatalf("findIdleWorker: %v", err)
	}
	if pid != 7 {
		t.Fatalf("findIdleWorker pid = %d, want 7", pid)
	}

	data, err := os.ReadFile(inbound)
	if err != nil {
		t.Fatalf("reading control line written to worker: %v", err)
	}
	if string(data) != "query url\r\n" {
		t.Fatalf("control line = %q, want literal %q regardless of the URL being routed", data, "query url\r\n")
	}
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		line       string
		wantPid    int
		wantStatus string
	}{
		{"1234 ok", 1234, "ok"},
		{"1234 empty", 1234, "empty"},
		{"1234 bad", 1234, "bad"},
	}
	for _, c := range cases {
		pid, status := parseReply(c.line)
		if pid != c.wantPid || status != c.wantStatus {
			t.Fatalf("parseReply(%q) = (%d, %q), want (%d, %q)", c.line, pid, status, c.wantPid, c.wantStatus)
		}
	}
}

func TestParseReplyMalformed(t *testing.T) {
	pid, status := parseReply("not a reply")
	if pid != 0 || status != "" {
		t.Fatalf("expected zero values for malformed reply, got (%d, %q)", pid, status)
	}
}
