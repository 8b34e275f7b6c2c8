// Package gateway implements the public-facing half of the system
// (spec.md §4.4/§4.7): it accepts browser WebSocket connections,
// spawns a ClientSession for each, matchmakes that session against a
// worker through the Broker, and relays frames between the two while
// intercepting cacheable reads through TileCache.
//
// The router/upgrader shape is grounded on the teacher's deleted
// collaboration.SessionManager and its gorilla/mux router
// (internal/api/router.go in the original ai-kms source): one mux
// route per concern, an http.Server wrapping it, graceful Shutdown on
// SIGTERM.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"loolgw/internal/config"
	"loolgw/internal/middleware"
	"loolgw/internal/models"
	"loolgw/internal/repository"
)

// Gateway is the process-wide state of the public-facing binary: the
// document/TileCache registry, the matchmaking future table, and the
// broker pipe it writes "request" lines to.
type Gateway struct {
	cfg        *config.Config
	auditRepo  repository.SessionEventRepository
	docs       *documentRegistry
	matcher    *matchRegistry
	brokerFIFO string

	publicUpgrader   websocket.Upgrader
	internalUpgrader websocket.Upgrader
}

func New(cfg *config.Config, auditRepo repository.SessionEventRepository) *Gateway {
	if auditRepo == nil {
		auditRepo = repository.NoopSessionEventRepository{}
	}
	return &Gateway{
		cfg:        cfg,
		auditRepo:  auditRepo,
		docs:       newDocumentRegistry(cfg.TileCacheRoot),
		matcher:    newMatchRegistry(),
		brokerFIFO: cfg.BrokerFIFOPath,
		publicUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		internalUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// PublicRouter builds the mux serving browser-facing traffic.
func (g *Gateway) PublicRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.ErrorRecoveryMiddleware))
	r.Use(mux.MiddlewareFunc(middleware.TracingMiddleware))
	r.Use(mux.MiddlewareFunc(middleware.CORSMiddleware))
	r.HandleFunc("/lool/ws", g.handlePublicWS)
	r.HandleFunc("/healthz", g.handleHealthz)
	return r
}

// InternalRouter builds the mux serving loopback traffic from workers.
// No CORS here: the only callers are worker processes dialing back
// over loopback, never a browser.
func (g *Gateway) InternalRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.ErrorRecoveryMiddleware))
	r.Use(mux.MiddlewareFunc(middleware.TracingMiddleware))
	r.HandleFunc("/loolws/child/{sessionID}", g.handleInternalWS)
	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (g *Gateway) handlePublicWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.publicUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: public upgrade failed: %v", err)
		return
	}
	sess := newClientSession(g, conn)
	go sess.run()
}

func (g *Gateway) handleInternalWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := models.SessionID(vars["sessionID"])

	conn, err := g.internalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: internal upgrade failed: %v", err)
		return
	}

	_, first, err := conn.ReadMessage()
	if err != nil {
		log.Printf("gateway: failed reading worker announce frame: %v", err)
		_ = conn.Close()
		return
	}

	link, err := parseWorkerAnnounce(string(first), conn)
	if err != nil || link.sessionID != sessionID {
		log.Printf("gateway: malformed worker announce frame %q: %v", first, err)
		_ = conn.Close()
		return
	}

	go link.readLoop()
	g.matcher.deliver(sessionID, link)
}

// RunPublic serves the public listener until ctx is cancelled.
func (g *Gateway) RunPublic(ctx context.Context) error {
	return runHTTPServer(ctx, g.cfg.GatewayPublicAddr, g.PublicRouter())
}

// RunInternal serves the loopback listener until ctx is cancelled.
func (g *Gateway) RunInternal(ctx context.Context) error {
	return runHTTPServer(ctx, g.cfg.GatewayInternalAddr, g.InternalRouter())
}

func runHTTPServer(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("gateway: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// requestWorker writes "request <session-id> <url>" to the broker's
// well-known FIFO (spec.md §4.7/§6).
func (g *Gateway) requestWorker(sessionID models.SessionID, url string) error {
	f, err := os.OpenFile(g.brokerFIFO, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("gateway: opening broker fifo: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(fmt.Sprintf("request %s %s\r\n", sessionID, url))
	return err
}
