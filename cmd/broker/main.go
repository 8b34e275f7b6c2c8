package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"loolgw/internal/broker"
	"loolgw/internal/config"
	"loolgw/internal/telemetry"
)

// The broker owns two well-known FIFOs: BrokerFIFOPath, which the
// gateway writes "request <session-id> <url>" lines to, and a reply
// FIFO workers write "<pid> ok|bad|empty|<url>" lines to. Both are
// created here before Start so the first worker spawn never races
// against a missing pipe.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("broker: failed to load config: %v", err)
	}

	jaegerShutdown, err := telemetry.InitJaeger("lool-broker", cfg.JaegerEndpoint, cfg.JaegerSampleRatio)
	if err != nil {
		log.Printf("broker: failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("broker: failed to shutdown Jaeger: %v", err)
		}
	}()

	if err := ensureFIFO(cfg.BrokerFIFOPath); err != nil {
		log.Fatalf("broker: creating request fifo: %v", err)
	}
	replyPath := cfg.BrokerFIFOPath + ".reply"
	if err := ensureFIFO(replyPath); err != nil {
		log.Fatalf("broker: creating reply fifo: %v", err)
	}

	b := broker.New(cfg, replyPath)
	if err := b.Start(); err != nil {
		log.Fatalf("broker: failed to start worker pool: %v", err)
	}
	log.Printf("broker: pool of %d workers started", cfg.PreforkWorkers)

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-term
		log.Println("broker: shutdown signal received")
		os.Exit(0)
	}()

	if err := serveRequests(cfg.BrokerFIFOPath, b); err != nil {
		log.Fatalf("broker: request loop exited: %v", err)
	}
}

// serveRequests blocks reading "request <session-id> <url>" lines from
// the gateway's well-known FIFO and routes each through the Broker.
// Opening for read blocks until a writer appears, then the FIFO stays
// open across writers until closed from this end.
func serveRequests(path string, b *broker.Broker) error {
	for {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			handleRequestLine(scanner.Text(), b)
		}
		f.Close()
		// A writer closing its end sends EOF; reopen and keep serving
		// the next gateway connection.
	}
}

func handleRequestLine(line string, b *broker.Broker) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "request" {
		if line != "" {
			log.Printf("broker: malformed request line %q", line)
		}
		return
	}
	if err := b.HandleRequest(fields[1], fields[2]); err != nil {
		log.Printf("broker: handling request for session %s: %v", fields[1], err)
	}
}

func ensureFIFO(path string) error {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}
