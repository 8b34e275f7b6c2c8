package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loolgw/internal/config"
	"loolgw/internal/db"
	"loolgw/internal/gateway"
	"loolgw/internal/repository"
	"loolgw/internal/telemetry"
)

// The gateway runs two listeners off the same *gateway.Gateway: the
// public one browsers connect to, and the internal loopback one
// workers dial back into. Both are shut down together on SIGINT/SIGTERM.
func main() {
	log.Println("starting gateway...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	jaegerShutdown, err := telemetry.InitJaeger("lool-gateway", cfg.JaegerEndpoint, cfg.JaegerSampleRatio)
	if err != nil {
		log.Printf("failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("failed to shutdown Jaeger: %v", err)
		}
	}()

	auditRepo := repository.SessionEventRepository(repository.NoopSessionEventRepository{})
	if cfg.DBHost != "" {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Printf("audit database unavailable, running without one: %v", err)
		} else {
			defer database.Close()
			auditRepo = repository.NewSessionEventRepository(database.DB)
		}
	}

	gw := gateway.New(cfg, auditRepo)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 2)
	go func() { errCh <- gw.RunPublic(ctx) }()
	go func() { errCh <- gw.RunInternal(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	pending := 2
	select {
	case <-quit:
		log.Println("shutdown signal received")
	case err := <-errCh:
		pending--
		log.Printf("listener failed: %v", err)
	}

	cancel()
	for ; pending > 0; pending-- {
		if err := <-errCh; err != nil {
			log.Printf("listener shutdown error: %v", err)
		}
	}

	log.Println("gateway shutdown complete")
}
