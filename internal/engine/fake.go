package engine

import (
	"fmt"
	"strings"
	"sync"

	"loolgw/internal/models"
)

// FakeFactory is a deterministic in-memory stand-in for the real
// office-document engine. It implements just enough of the primitives
// in engine.go to drive the worker's command dispatch and exercise the
// testable properties in spec.md §8 (paste round-trip, tile
// invalidation, status line).
type FakeFactory struct{}

func (FakeFactory) LoadDocument(jailPath string, opts map[string]string) (Document, error) {
	return &FakeDocument{
		jailPath: jailPath,
		views:    make(map[int]*FakeView),
	}, nil
}

// FakeDocument holds the single shared text buffer every view edits.
// Real engines keep a much richer model; this one only needs to be
// consistent enough for the paste-round-trip and invalidation
// scenarios in spec.md §8.
type FakeDocument struct {
	mu       sync.Mutex
	jailPath string
	text     string
	nextView int
	views    map[int]*FakeView
	docCB    CallbackFunc
}

func (d *FakeDocument) CreateView() (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextView
	d.nextView++
	v := &FakeView{id: id, doc: d}
	d.views[id] = v
	return v, nil
}

func (d *FakeDocument) RegisterCallback(cb CallbackFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docCB = cb
}

func (d *FakeDocument) Save() error {
	return nil
}

func (d *FakeDocument) SaveAs(targetURL, format string) (string, error) {
	return targetURL, nil
}

func (d *FakeDocument) Destroy() {}

func (d *FakeDocument) fireInvalidation(part int, rect models.Rectangle) {
	if d.docCB == nil {
		return
	}
	line := fmt.Sprintf("part=%d x=%d y=%d width=%d height=%d", part, rect.X, rect.Y, rect.Width, rect.Height)
	d.docCB("invalidatetiles", line)
}

// FakeView tracks one session's selection cursor into the shared
// document buffer.
type FakeView struct {
	mu        sync.Mutex
	id        int
	doc       *FakeDocument
	viewCB    CallbackFunc
	selection string
	selecting bool
}

func (v *FakeView) ID() int { return v.id }

func (v *FakeView) RegisterCallback(cb CallbackFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.viewCB = cb
}

func (v *FakeView) PostUnoCommand(command string, args map[string]string) error {
	switch command {
	case ".uno:SelectAll":
		v.doc.mu.Lock()
		v.mu.Lock()
		v.selection = v.doc.text
		v.selecting = true
		v.mu.Unlock()
		v.doc.mu.Unlock()
		return nil

	case ".uno:Delete":
		v.doc.mu.Lock()
		v.mu.Lock()
		if v.selecting {
			v.doc.text = strings.Replace(v.doc.text, v.selection, "", 1)
			v.selection = ""
			v.selecting = false
		}
		v.mu.Unlock()
		v.doc.mu.Unlock()
		v.doc.fireInvalidation(0, models.InfiniteRect())
		return nil

	case ".uno:Save":
		return v.doc.Save()

	default:
		// Unknown uno commands are accepted and ignored by the fake —
		// a real engine would dispatch through its own command table.
		return nil
	}
}

func (v *FakeView) RenderTile(key models.TileKey) ([]byte, error) {
	// Deterministic placeholder "PNG": a tag identifying the tile so
	// tests and the cache round-trip can assert on it without a real
	// rendering pipeline.
	return []byte(fmt.Sprintf("FAKEPNG:%s", key.CacheName())), nil
}

func (v *FakeView) Status() (string, error) {
	v.doc.mu.Lock()
	defer v.doc.mu.Unlock()
	return "type=text parts=1 current=0 width=12240 height=15840", nil
}

func (v *FakeView) PartPageRectangles() (string, error) {
	return "0,0,12240,15840", nil
}

func (v *FakeView) CommandValues(command string) (string, error) {
	return fmt.Sprintf(`{"commandName":%q,"success":true}`, command), nil
}

func (v *FakeView) RenderFont(fontSpec string) ([]byte, error) {
	return []byte("FAKEFONT:" + fontSpec), nil
}

func (v *FakeView) SetTextSelection(kind string, x, y int) error {
	return nil
}

func (v *FakeView) ResetSelection() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selection = ""
	v.selecting = false
	return nil
}

func (v *FakeView) GetTextSelection(mimetype string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selection, nil
}

func (v *FakeView) Paste(mimetype string, data []byte) error {
	v.doc.mu.Lock()
	v.doc.text += string(data)
	v.doc.mu.Unlock()
	v.doc.fireInvalidation(0, models.InfiniteRect())
	return nil
}

func (v *FakeView) PostMouseEvent(args map[string]string) error { return nil }
func (v *FakeView) PostKeyEvent(args map[string]string) error   { return nil }

func (v *FakeView) Destroy() {
	v.doc.mu.Lock()
	delete(v.doc.views, v.id)
	v.doc.mu.Unlock()
}
