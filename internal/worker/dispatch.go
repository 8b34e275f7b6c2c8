package worker

import (
	"encoding/base64"
	"fmt"
	"log"
	"strconv"

	"loolgw/internal/models"
	"loolgw/internal/protocol"
	"loolgw/internal/queue"
)

// tileCoalesceKey reports whether payload is a plain "tile" request
// (not "tilecombine", which renders many tiles and is never coalesced)
// and, if so, its canonical coalescing key (spec.md §4.2).
func tileCoalesceKey(payload []byte) (bool, string) {
	msg := protocol.Tokenize(payload)
	if msg.Command != "tile" {
		return false, ""
	}
	key, ok := protocol.TileKeyFromMessage(msg)
	if !ok {
		return false, ""
	}
	return true, key.CacheName()
}

// handleItem dispatches one dequeued item against the engine. It runs
// exclusively on the Document's single consumer goroutine.
func (d *Document) handleItem(item queue.Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: recovered from panic handling a command for session %s: %v", item.SessionID, r)
		}
	}()

	sess := d.lookupSession(item.SessionID)
	if sess == nil {
		return // session torn down before its request was serviced
	}

	msg := protocol.Tokenize(item.Payload)
	if !protocol.IsKnown(msg.Command) {
		sendErr(sess, msg.Command, protocol.KindUnknown)
		return
	}
	if desc, ok := protocol.Registry[msg.Command]; ok {
		if err := desc.Validate(msg); err != nil {
			sendErr(sess, msg.Command, protocol.KindSyntax)
			return
		}
	}

	switch msg.Command {
	case "load":
		d.handleLoad(sess, msg)
	case "status":
		d.handleStatus(sess)
	case "tile":
		d.handleTile(sess, msg)
	case "tilecombine":
		d.handleTileCombine(sess, msg)
	case "partpagerectangles":
		d.handlePartPageRectangles(sess)
	case "commandvalues":
		d.handleCommandValues(sess, msg)
	case "renderfont":
		d.handleRenderFont(sess, msg)
	case "uno":
		d.handleUno(sess, msg)
	case "mouse":
		d.handleMouse(sess, msg)
	case "key":
		d.handleKey(sess, msg)
	case "paste":
		d.handlePaste(sess, msg)
	case "gettextselection":
		d.handleGetTextSelection(sess, msg)
	case "selecttext", "selectgraphic":
		d.handleSelectText(sess, msg)
	case "resetselection":
		d.handleResetSelection(sess)
	case "saveas":
		d.handleSaveAs(sess, msg)
	case "canceltiles":
		d.queue.CancelTiles(string(sess.meta.ID))
	case "getchildid":
		_ = sess.Send([]byte(fmt.Sprintf("getchildid: id=%s", d.childID.String())))
	case "disconnect":
		sess.transitionTo(models.SessionDraining)
	default:
		// Recognised by the registry but not (yet) engine-backed:
		// setclientpart, clientzoom, clientvisiblearea, downloadas,
		// insertfile, setpage, invalidatetiles, requestloksession are
		// accepted and silently dropped rather than rejected as unknown.
	}
}

func sendErr(sess *WorkerSession, cmd string, kind protocol.ErrorKind) {
	e := &protocol.Error{Cmd: cmd, Kind: kind}
	if err := sess.Send(e.Frame()); err != nil {
		log.Printf("worker: failed to send error frame: %v", err)
	}
}

func (d *Document) handleLoad(sess *WorkerSession, msg protocol.Message) {
	if sess.getView() != nil {
		sendErr(sess, "load", protocol.KindDocAlreadyLoaded)
		return
	}

	doc, err := d.ensureEngineDoc(msg.Args)
	if err != nil {
		log.Printf("worker: load failed for %s: %v", d.meta.URI, err)
		sendErr(sess, "load", protocol.KindInvalid)
		return
	}

	view, err := doc.CreateView()
	if err != nil {
		log.Printf("worker: CreateView failed for %s: %v", d.meta.URI, err)
		sendErr(sess, "load", protocol.KindInvalid)
		return
	}
	view.RegisterCallback(func(eventType, payload string) {
		_ = sess.Send([]byte(eventType + ": " + payload))
	})
	sess.setView(view)
	sess.transitionTo(models.SessionRunning)

	d.handleStatus(sess)
}

func (d *Document) handleStatus(sess *WorkerSession) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "status", protocol.KindNoDocLoaded)
		return
	}
	status, err := view.Status()
	if err != nil {
		log.Printf("worker: Status failed: %v", err)
		return
	}
	_ = sess.Send([]byte("status: " + status))
}

func (d *Document) handleTile(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "tile", protocol.KindNoDocLoaded)
		return
	}
	key, ok := protocol.TileKeyFromMessage(msg)
	if !ok {
		sendErr(sess, "tile", protocol.KindSyntax)
		return
	}
	png, err := view.RenderTile(key)
	if err != nil {
		log.Printf("worker: RenderTile failed: %v", err)
		return
	}
	header := fmt.Sprintf("tile: part=%d width=%d height=%d tileposx=%d tileposy=%d tilewidth=%d tileheight=%d\n",
		key.Part, key.RenderWidth, key.RenderHeight, key.TilePosX, key.TilePosY, key.TileWidth, key.TileHeight)
	_ = sess.Send(append([]byte(header), png...))
}

func (d *Document) handleTileCombine(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "tilecombine", protocol.KindNoDocLoaded)
		return
	}
	// tilecombine shares a single part/width/height/tilewidth/tileheight
	// but carries comma-separated tileposx/tileposy lists — one render
	// per position, sent back as individual "tile:" frames (spec.md
	// §6's simplification of the real protocol's multi-tile batching).
	part, _ := msg.GetInt("part")
	w, _ := msg.GetInt("width")
	h, _ := msg.GetInt("height")
	tw, _ := msg.GetInt("tilewidth")
	th, _ := msg.GetInt("tileheight")

	xs := splitCSVInts(msg.Args["tileposx"])
	ys := splitCSVInts(msg.Args["tileposy"])
	if len(xs) != len(ys) {
		sendErr(sess, "tilecombine", protocol.KindSyntax)
		return
	}

	for i := range xs {
		key := models.TileKey{Part: part, RenderWidth: w, RenderHeight: h, TilePosX: xs[i], TilePosY: ys[i], TileWidth: tw, TileHeight: th}
		png, err := view.RenderTile(key)
		if err != nil {
			log.Printf("worker: RenderTile (tilecombine) failed: %v", err)
			continue
		}
		header := fmt.Sprintf("tile: part=%d width=%d height=%d tileposx=%d tileposy=%d tilewidth=%d tileheight=%d\n",
			key.Part, key.RenderWidth, key.RenderHeight, key.TilePosX, key.TilePosY, key.TileWidth, key.TileHeight)
		_ = sess.Send(append([]byte(header), png...))
	}
}

func splitCSVInts(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if n, err := strconv.Atoi(s[start:i]); err == nil {
				out = append(out, n)
			}
			start = i + 1
		}
	}
	return out
}

func (d *Document) handlePartPageRectangles(sess *WorkerSession) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "partpagerectangles", protocol.KindNoDocLoaded)
		return
	}
	rects, err := view.PartPageRectangles()
	if err != nil {
		log.Printf("worker: PartPageRectangles failed: %v", err)
		return
	}
	_ = sess.Send([]byte("partpagerectangles: " + rects))
}

func (d *Document) handleCommandValues(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "commandvalues", protocol.KindNoDocLoaded)
		return
	}
	cmd := msg.Args["command"]
	values, err := view.CommandValues(cmd)
	if err != nil {
		log.Printf("worker: CommandValues failed: %v", err)
		return
	}
	_ = sess.Send([]byte(fmt.Sprintf("commandvalues: command=%s %s", cmd, values)))
}

func (d *Document) handleRenderFont(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "renderfont", protocol.KindNoDocLoaded)
		return
	}
	font := msg.Args["font"]
	png, err := view.RenderFont(font)
	if err != nil {
		log.Printf("worker: RenderFont failed: %v", err)
		return
	}
	header := fmt.Sprintf("renderfont: font=%s\n", font)
	_ = sess.Send(append([]byte(header), png...))
}

func (d *Document) handleUno(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "uno", protocol.KindNoDocLoaded)
		return
	}
	command := msg.Args["command"]
	if command == "" {
		sendErr(sess, "uno", protocol.KindSyntax)
		return
	}
	if err := view.PostUnoCommand(command, msg.Args); err != nil {
		log.Printf("worker: PostUnoCommand(%s) failed: %v", command, err)
		return
	}

	// .uno:Save clears the dirty flag, as handleSaveAs does for the
	// saveas path, and publishes documentSaved upward (spec.md §3/§4.3).
	if command == ".uno:Save" {
		d.mu.Lock()
		d.meta.Dirty = false
		d.mu.Unlock()
		_ = sess.Send([]byte("documentSaved:"))
	}
}

func (d *Document) handleMouse(sess *WorkerSession, msg protocol.Message) {
	if view := sess.getView(); view != nil {
		_ = view.PostMouseEvent(msg.Args)
	}
}

func (d *Document) handleKey(sess *WorkerSession, msg protocol.Message) {
	if view := sess.getView(); view != nil {
		_ = view.PostKeyEvent(msg.Args)
	}
}

func (d *Document) handlePaste(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "paste", protocol.KindNoDocLoaded)
		return
	}
	if err := view.Paste(msg.Args["mimetype"], msg.Body); err != nil {
		log.Printf("worker: Paste failed: %v", err)
	}
}

func (d *Document) handleGetTextSelection(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "gettextselection", protocol.KindNoDocLoaded)
		return
	}
	text, err := view.GetTextSelection(msg.Args["mimetype"])
	if err != nil {
		log.Printf("worker: GetTextSelection failed: %v", err)
		return
	}
	header := fmt.Sprintf("textselectioncontent: mimetype=%s\n", msg.Args["mimetype"])
	_ = sess.Send(append([]byte(header), []byte(text)...))
}

func (d *Document) handleSelectText(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, msg.Command, protocol.KindNoDocLoaded)
		return
	}
	x, _ := msg.GetInt("x")
	y, _ := msg.GetInt("y")
	_ = view.SetTextSelection(msg.Args["type"], x, y)
}

func (d *Document) handleResetSelection(sess *WorkerSession) {
	if view := sess.getView(); view != nil {
		_ = view.ResetSelection()
	}
}

func (d *Document) handleSaveAs(sess *WorkerSession, msg protocol.Message) {
	view := sess.getView()
	if view == nil {
		sendErr(sess, "saveas", protocol.KindNoDocLoaded)
		return
	}
	target := msg.Args["url"]
	format := msg.Args["format"]

	doc, err := d.ensureEngineDoc(nil)
	if err != nil {
		sendErr(sess, "saveas", protocol.KindInvalid)
		return
	}
	writtenTo, err := doc.SaveAs(target, format)
	if err != nil {
		log.Printf("worker: SaveAs failed: %v", err)
		sendErr(sess, "saveas", protocol.KindInvalid)
		return
	}

	d.mu.Lock()
	d.meta.Dirty = false
	d.mu.Unlock()

	publicURL := rewriteJailURL(writtenTo, d.meta.JailPath)
	_ = sess.Send([]byte("saveas: url=" + base64.StdEncoding.EncodeToString([]byte(publicURL))))
}
