package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"loolgw/internal/models"
	"loolgw/internal/protocol"
	"loolgw/internal/tilecache"
)

// cacheableCommandValues lists the only .uno: commands spec.md §4.4
// allows ClientSession to cache commandvalues responses for.
var cacheableCommandValues = map[string]bool{
	".uno:CharFontName": true,
	".uno:StyleApply":   true,
}

// ClientSession is the public-side twin of a WorkerSession (spec.md
// §4.4): it owns the browser WebSocket, enforces the one-load rule,
// intercepts cacheable reads through TileCache, and forwards anything
// else to its matched peer.
type ClientSession struct {
	meta models.SessionMeta
	gw   *Gateway
	conn *websocket.Conn

	mu          sync.Mutex
	state       models.SessionState
	loaded      bool
	cache       *tilecache.TileCache
	peer        *workerLink
	pendingCmd  string
	pendingFont string
	saveAsCh    chan string
}

func newClientSession(gw *Gateway, conn *websocket.Conn) *ClientSession {
	return &ClientSession{
		gw:       gw,
		conn:     conn,
		meta:     models.SessionMeta{ID: models.NewSessionID()},
		state:    models.SessionNew,
		saveAsCh: make(chan string, 1),
	}
}

func (s *ClientSession) run() {
	defer s.cleanup()

	if err := s.negotiateVersion(); err != nil {
		log.Printf("gateway: version negotiation failed for session %s: %v", s.meta.ID, err)
		return
	}
	_ = s.gw.auditRepo.Record(context.Background(), string(s.meta.ID), "", models.EventClientConnected, "")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleClientFrame(data)
	}
}

// negotiateVersion implements spec.md §4.4/§6: first frame must be
// "loolclient <major.minor>"; mismatched major version is fatal.
func (s *ClientSession) negotiateVersion() error {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 || fields[0] != "loolclient" {
		s.sendProtoErr("loolclient", protocol.KindBadVersion)
		_ = s.conn.Close()
		return fmt.Errorf("expected loolclient handshake, got %q", data)
	}

	clientMajor := majorOf(fields[1])
	serverMajor := majorOf(s.gw.cfg.ProtocolVersion)
	if clientMajor != serverMajor {
		s.sendProtoErr("loolclient", protocol.KindBadVersion)
		_ = s.conn.Close()
		return fmt.Errorf("protocol major mismatch: client=%s server=%s", fields[1], s.gw.cfg.ProtocolVersion)
	}

	return s.conn.WriteMessage(websocket.TextMessage, []byte("loolserver "+s.gw.cfg.ProtocolVersion))
}

func majorOf(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

func (s *ClientSession) handleClientFrame(data []byte) {
	msg := protocol.Tokenize(data)
	if msg.Command == "" {
		return
	}
	if !protocol.IsKnown(msg.Command) {
		s.sendProtoErr(msg.Command, protocol.KindUnknown)
		return
	}

	if msg.Command == "load" {
		s.handleLoad(msg)
		return
	}

	if msg.Command == "downloadas" {
		if !s.isLoaded() {
			s.sendProtoErr(msg.Command, protocol.KindNoDocLoaded)
			return
		}
		s.handleDownloadAs(msg)
		return
	}

	if !s.isLoaded() {
		s.sendProtoErr(msg.Command, protocol.KindNoDocLoaded)
		return
	}

	if s.tryCacheHit(msg) {
		return
	}

	peer := s.getPeer()
	if peer == nil {
		s.sendProtoErr(msg.Command, protocol.KindInvalid)
		return
	}

	s.trackPendingResponseKey(msg)
	if err := peer.send(data); err != nil {
		log.Printf("gateway: forwarding %q to worker failed: %v", msg.Command, err)
	}
}

func (s *ClientSession) handleLoad(msg protocol.Message) {
	if s.isLoaded() {
		s.sendProtoErr("load", protocol.KindDocAlreadyLoaded)
		return
	}

	documentURL, ok := msg.Get("url")
	if !ok {
		s.sendProtoErr("load", protocol.KindURIInvalid)
		return
	}

	cache, err := s.gw.docs.cacheFor(documentURL)
	if err != nil {
		log.Printf("gateway: opening tile cache for %s failed: %v", documentURL, err)
		s.sendProtoErr("load", protocol.KindInvalid)
		return
	}

	peer, err := awaitWorker(context.Background(), s.gw, s.meta.ID, documentURL)
	if err != nil {
		log.Printf("gateway: matchmaking failed for session %s: %v", s.meta.ID, err)
		s.sendProtoErr("load", protocol.KindInvalid)
		_ = s.conn.Close()
		return
	}

	peer.bind(s)
	s.mu.Lock()
	s.peer = peer
	s.cache = cache
	s.loaded = true
	s.meta.DocumentURI = documentURL
	s.mu.Unlock()

	_ = s.gw.auditRepo.Record(context.Background(), string(s.meta.ID), documentURL, models.EventWorkerBound, peer.jailID)
	_ = s.gw.auditRepo.Record(context.Background(), string(s.meta.ID), documentURL, models.EventDocumentOpened, "")

	forward := fmt.Sprintf("load url=%s jail=%s", documentURL, peer.jailID)
	if part, ok := msg.Get("part"); ok {
		forward += " part=" + part
	}
	if opts, ok := msg.Get("options"); ok {
		forward += " options=" + opts
	}
	if err := peer.send([]byte(forward)); err != nil {
		log.Printf("gateway: forwarding load to worker failed: %v", err)
	}
}

// handleDownloadAs drives the "downloadas" command: it asks the peer
// worker to save a throwaway copy in the requested format, then blocks
// on saveAsQueue (spec.md §5's "saveAsQueue.get while awaiting save-as
// completion") for the worker's saveas response before answering the
// client with the resulting URL.
func (s *ClientSession) handleDownloadAs(msg protocol.Message) {
	peer := s.getPeer()
	if peer == nil {
		s.sendProtoErr("downloadas", protocol.KindInvalid)
		return
	}

	format := msg.Args["format"]
	if format == "" {
		format = "pdf"
	}
	id := msg.Args["id"]
	if id == "" {
		id = s.meta.ID.String()
	}
	target := fmt.Sprintf("file:///tmp/lool-downloads/%s.%s", id, format)

	forward := fmt.Sprintf("saveas url=%s format=%s", target, format)
	if err := peer.send([]byte(forward)); err != nil {
		log.Printf("gateway: forwarding downloadas to worker failed: %v", err)
		s.sendProtoErr("downloadas", protocol.KindInvalid)
		return
	}

	url := s.getSaveAs()
	if url == "" {
		s.sendProtoErr("downloadas", protocol.KindInvalid)
		return
	}
	s.writeDirect(fmt.Sprintf("downloadas: jail=%s dl=%s id=%s", peer.jailID, url, id))
}

// tryCacheHit answers a cacheable request directly from TileCache when
// possible (spec.md §4.4). It reports whether the request was fully
// handled and nothing should be forwarded to the worker.
func (s *ClientSession) tryCacheHit(msg protocol.Message) bool {
	cache := s.getCache()
	if cache == nil {
		return false
	}

	switch msg.Command {
	case "status":
		if b := cache.GetTextFile("status"); b != nil {
			return s.writeDirect("status: " + string(b))
		}
	case "partpagerectangles":
		if b := cache.GetTextFile("partpagerectangles"); b != nil {
			return s.writeDirect("partpagerectangles: " + string(b))
		}
	case "commandvalues":
		cmd := msg.Args["command"]
		if cacheableCommandValues[cmd] {
			if b := cache.GetTextFile("commandvalues:" + cmd); b != nil {
				return s.writeDirect(fmt.Sprintf("commandvalues: command=%s %s", cmd, string(b)))
			}
		}
	case "renderfont":
		font := msg.Args["font"]
		if b := cache.LookupRendering(font, "font"); b != nil {
			header := "renderfont: font=" + font + "\n"
			return s.writeDirectBytes(append([]byte(header), b...))
		}
	case "tile":
		key, ok := protocol.TileKeyFromMessage(msg)
		if ok {
			if b := cache.LookupTile(key); b != nil {
				return s.writeDirectBytes(tileFrame(key, b))
			}
		}
	}
	return false
}

func tileFrame(key models.TileKey, png []byte) []byte {
	header := fmt.Sprintf("tile: part=%d width=%d height=%d tileposx=%d tileposy=%d tilewidth=%d tileheight=%d\n",
		key.Part, key.RenderWidth, key.RenderHeight, key.TilePosX, key.TilePosY, key.TileWidth, key.TileHeight)
	return append([]byte(header), png...)
}

func (s *ClientSession) writeDirect(text string) bool {
	return s.writeDirectBytes([]byte(text))
}

func (s *ClientSession) writeDirectBytes(frame []byte) bool {
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Printf("gateway: writing cached response failed: %v", err)
	}
	return true
}

// trackPendingResponseKey remembers which command-values / font
// request is in flight so the matching response can be cache-keyed
// when it arrives (spec.md §4.4); tile/tilecombine key themselves from
// their own response header and need no tracking here.
func (s *ClientSession) trackPendingResponseKey(msg protocol.Message) {
	switch msg.Command {
	case "commandvalues":
		s.mu.Lock()
		s.pendingCmd = msg.Args["command"]
		s.mu.Unlock()
	case "renderfont":
		s.mu.Lock()
		s.pendingFont = msg.Args["font"]
		s.mu.Unlock()
	}
}

// onWorkerFrame is called from the bound workerLink's read loop for
// every frame the worker sends: it snoops cacheable content into
// TileCache, then relays the frame to the browser unchanged.
func (s *ClientSession) onWorkerFrame(data []byte) {
	text := string(data)
	cache := s.getCache()

	switch {
	case cache == nil:
		// No cache yet (shouldn't happen once loaded, but be defensive).

	case strings.HasPrefix(text, "invalidatecursor:"):
		cache.SetEditing(true)

	case strings.HasPrefix(text, "invalidatetiles:"):
		cache.SetEditing(true)
		_ = cache.InvalidateTilesLine(firstLine(text))

	case strings.HasPrefix(text, "status:"):
		_ = cache.SaveTextFile("status", []byte(strings.TrimPrefix(firstLine(text), "status: ")))

	case strings.HasPrefix(text, "partpagerectangles:"):
		_ = cache.SaveTextFile("partpagerectangles", []byte(strings.TrimPrefix(firstLine(text), "partpagerectangles: ")))

	case strings.HasPrefix(text, "tile:"):
		if key, body, ok := parseTileFrame(data); ok {
			_ = cache.SaveTile(key, body)
		}

	case strings.HasPrefix(text, "commandvalues:"):
		s.mu.Lock()
		cmd := s.pendingCmd
		s.pendingCmd = ""
		s.mu.Unlock()
		if cacheableCommandValues[cmd] {
			_ = cache.SaveTextFile("commandvalues:"+cmd, []byte(strings.TrimPrefix(firstLine(text), fmt.Sprintf("commandvalues: command=%s ", cmd))))
		}

	case strings.HasPrefix(text, "renderfont:"):
		s.mu.Lock()
		font := s.pendingFont
		s.pendingFont = ""
		s.mu.Unlock()
		if idx := indexByte(data, '\n'); idx >= 0 && font != "" {
			_ = cache.SaveRendering(font, "font", data[idx+1:])
		}

	case strings.HasPrefix(text, "saveas:"):
		s.publishSaveAs(decodeSaveAsURL(firstLine(text)))

	case strings.HasPrefix(text, "documentSaved:"):
		cache.DocumentSaved()
		_ = s.gw.auditRepo.Record(context.Background(), string(s.meta.ID), s.meta.DocumentURI, models.EventDocumentSaved, "")
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("gateway: relaying worker frame to client failed: %v", err)
	}
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

func decodeSaveAsURL(line string) string {
	idx := strings.Index(line, "url=")
	if idx < 0 {
		return ""
	}
	encoded := line[idx+len("url="):]
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// parseTileFrame splits a "tile: part=... \n<png>" frame back into its
// key and payload.
func parseTileFrame(frame []byte) (models.TileKey, []byte, bool) {
	idx := indexByte(frame, '\n')
	if idx < 0 {
		return models.TileKey{}, nil, false
	}
	msg := protocol.Tokenize(frame[:idx])
	key, ok := protocol.TileKeyFromMessage(msg)
	if !ok {
		return models.TileKey{}, nil, false
	}
	return key, frame[idx+1:], true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// getSaveAs blocks until the peer publishes a saveas URL, or returns
// "" if the session is torn down first (spec.md §4.4).
func (s *ClientSession) getSaveAs() string {
	return <-s.saveAsCh
}

func (s *ClientSession) publishSaveAs(url string) {
	select {
	case s.saveAsCh <- url:
	default:
	}
}

func (s *ClientSession) onPeerClosed() {
	s.transitionTo(models.SessionDraining)
	s.publishSaveAs("")
}

func (s *ClientSession) cleanup() {
	s.transitionTo(models.SessionDraining)
	if s.isLoaded() {
		// Distinct from EventClientDisconnected below: this session had
		// a document open, and that view of it is what's ending here —
		// a session that disconnects before ever loading one only ever
		// gets the client-level event.
		_ = s.gw.auditRepo.Record(context.Background(), string(s.meta.ID), s.meta.DocumentURI, models.EventDocumentClosed, "")
	}
	_ = s.gw.auditRepo.Record(context.Background(), string(s.meta.ID), s.meta.DocumentURI, models.EventClientDisconnected, "")
	s.publishSaveAs("")
	s.transitionTo(models.SessionClosed)
}

func (s *ClientSession) transitionTo(next models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CanTransitionTo(next) {
		s.state = next
	}
}

func (s *ClientSession) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *ClientSession) getCache() *tilecache.TileCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

func (s *ClientSession) getPeer() *workerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *ClientSession) sendProtoErr(cmd string, kind protocol.ErrorKind) {
	e := &protocol.Error{Cmd: cmd, Kind: kind}
	if err := s.conn.WriteMessage(websocket.TextMessage, e.Frame()); err != nil {
		log.Printf("gateway: sending error frame failed: %v", err)
	}
	if e.Fatal() {
		_ = s.conn.Close()
	}
}
