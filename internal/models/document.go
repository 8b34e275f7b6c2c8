package models

import "time"

// DocumentMeta is the pure-data half of spec.md §3's Document: the
// parts that are safe to copy, log, or persist to the session audit
// log. The live half — the engine handle and the set of connected
// WorkerSessions — is not representable as plain data and lives on
// worker.Document instead.
type DocumentMeta struct {
	URI         string    // public URI, as requested by the first client
	JailPath    string    // path relative to the jail root where the file lives
	CreatedAt   time.Time
	Dirty       bool // true between any observed modification and the next completed save
}

// NewDocumentMeta starts a document's lifecycle at first load.
func NewDocumentMeta(uri, jailPath string) DocumentMeta {
	return DocumentMeta{
		URI:       uri,
		JailPath:  jailPath,
		CreatedAt: time.Now(),
	}
}
