package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"loolgw/internal/middleware"
	"loolgw/internal/models"
)

// matchRegistry replaces the source's blocking condition-variable
// AvailableChildSessions design (spec.md §9) with a future per pending
// session id: awaitWorker writes the request and blocks on a channel
// that deliver() completes once the worker's internal socket arrives.
type matchRegistry struct {
	mu      sync.Mutex
	pending map[models.SessionID]chan *workerLink
}

func newMatchRegistry() *matchRegistry {
	return &matchRegistry{pending: make(map[models.SessionID]chan *workerLink)}
}

func (m *matchRegistry) register(id models.SessionID) chan *workerLink {
	ch := make(chan *workerLink, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()
	return ch
}

func (m *matchRegistry) unregister(id models.SessionID) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// deliver completes the future for id, if anyone is still waiting.
func (m *matchRegistry) deliver(id models.SessionID, link *workerLink) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		// Nobody is waiting any more (timed out already); close rather
		// than leak the socket.
		_ = link.conn.Close()
		return
	}
	ch <- link
}

// awaitWorker performs the matchmaking retry loop from spec.md §4.7:
// up to cfg.MatchmakingRetries attempts, each writing "request" to the
// broker then waiting cfg.MatchmakingTimeout for the worker half to
// arrive.
func awaitWorker(ctx context.Context, g *Gateway, sessionID models.SessionID, url string) (*workerLink, error) {
	ctx, span := middleware.StartSpan(ctx, "gateway.awaitWorker",
		attribute.String("session.id", sessionID.String()),
		attribute.String("document.url", url),
	)
	defer span.End()

	cfg := g.cfg
	retries := cfg.MatchmakingRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		ch := g.matcher.register(sessionID)

		if err := g.requestWorker(sessionID, url); err != nil {
			g.matcher.unregister(sessionID)
			lastErr = err
			continue
		}

		select {
		case link := <-ch:
			return link, nil
		case <-time.After(cfg.MatchmakingTimeout):
			g.matcher.unregister(sessionID)
			lastErr = fmt.Errorf("matchmaking timed out on attempt %d/%d", attempt+1, retries)
		case <-ctx.Done():
			g.matcher.unregister(sessionID)
			middleware.AddSpanError(ctx, ctx.Err())
			return nil, ctx.Err()
		}
	}
	middleware.AddSpanError(ctx, lastErr)
	return nil, fmt.Errorf("gateway: matchmaking failed for session %s: %w", sessionID, lastErr)
}
