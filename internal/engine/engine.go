// Package engine declares the boundary to the office-document engine.
// Per spec.md §1 the engine itself — document-load, view-create,
// render-tile, callback-register — is an external collaborator and out
// of scope; this package defines only the primitives a Worker needs
// from it and ships a deterministic in-memory Fake implementing them,
// so the rest of the repository (worker.Document, worker.Session) has
// something concrete to drive and test against.
package engine

import "loolgw/internal/models"

// CallbackFunc receives an engine-initiated notification: an
// invalidation, a status change, a cursor move. eventType is one of
// the wire event names (spec.md §6), e.g. "invalidatetiles",
// "invalidatecursor", "status".
type CallbackFunc func(eventType string, payload string)

// Document is one opened office document: a single engine handle
// shared by every view (spec.md §3 invariant: at most one engine
// handle per models.Document).
type Document interface {
	// CreateView opens a new view onto the document. Engines that don't
	// support multi-view (LOK_VIEW_CALLBACK unset, spec.md §6) may
	// return the same View for every call.
	CreateView() (View, error)

	// RegisterCallback installs the document-level callback, which
	// fans out to every session on the document (spec.md §4.3).
	RegisterCallback(cb CallbackFunc)

	// Save triggers a save to the document's current URL.
	Save() error

	// SaveAs writes the document to targetURL and returns the URL the
	// engine actually wrote (spec.md §4.3's saveas handling).
	SaveAs(targetURL, format string) (string, error)

	Destroy()
}

// View is one client's view onto a Document. Commands that don't
// depend on view-local state (status, save) are also reachable through
// View for convenience, delegating to the owning Document.
type View interface {
	ID() int

	// RegisterCallback installs the per-view callback (spec.md §4.3):
	// delivered only to the session that owns this view.
	RegisterCallback(cb CallbackFunc)

	PostUnoCommand(command string, args map[string]string) error

	RenderTile(key models.TileKey) ([]byte, error)

	Status() (string, error)
	PartPageRectangles() (string, error)
	CommandValues(command string) (string, error)
	RenderFont(fontSpec string) ([]byte, error)

	SetTextSelection(kind string, x, y int) error
	ResetSelection() error
	GetTextSelection(mimetype string) (string, error)
	Paste(mimetype string, data []byte) error

	PostMouseEvent(args map[string]string) error
	PostKeyEvent(args map[string]string) error

	Destroy()
}

// Factory creates Documents. The worker holds exactly one per opened
// URL (spec.md §3).
type Factory interface {
	LoadDocument(jailPath string, opts map[string]string) (Document, error)
}
