package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"time"

	"loolgw/internal/config"
	"loolgw/internal/engine"
	"loolgw/internal/jail"
	"loolgw/internal/models"
	"loolgw/internal/telemetry"
	"loolgw/internal/worker"
)

// Flags mirror the CLI the Broker spawns every worker with (spec.md
// §6): --losubpath points at the engine install to mirror into the
// jail, --jailid is the pre-allocated jail identifier, --pipe is this
// worker's own inbound control FIFO, --clientport is the gateway's
// loopback port for the internal WebSocket dial-back.
func main() {
	losubpath := flag.String("losubpath", "", "engine install directory to mirror into the jail")
	jailIDFlag := flag.String("jailid", "", "pre-allocated jail identifier")
	pipePath := flag.String("pipe", "", "inbound control FIFO path")
	clientPort := flag.Int("clientport", 0, "gateway internal listener port")
	flag.Parse()

	if *jailIDFlag == "" || *pipePath == "" || *clientPort == 0 {
		log.Fatal("worker: --jailid, --pipe and --clientport are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("worker: failed to load config: %v", err)
	}
	if *losubpath != "" {
		cfg.LOTemplatePath = *losubpath
	}

	// Jaeger must be initialized before the chroot below: its exporter
	// needs DNS/cert access from outside the jail to reach the
	// collector, and every span from here on just gets batched to an
	// already-open connection.
	jaegerShutdown, err := telemetry.InitJaeger("lool-worker", cfg.JaegerEndpoint, cfg.JaegerSampleRatio)
	if err != nil {
		log.Printf("worker: failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("worker: failed to shutdown Jaeger: %v", err)
		}
	}()

	pid := os.Getpid()
	jailID := models.JailId(*jailIDFlag)
	childID := models.NewChildId(pid)

	root, err := jail.Build(cfg.ChildRoot, jailID, childID, cfg.LOTemplatePath, cfg.SysTemplatePath)
	if err != nil {
		log.Fatalf("worker: failed to build jail: %v", err)
	}

	// Enter must run before the signal and control-loop goroutines
	// start — InstallSignalHandlers and Host.Run both spawn goroutines,
	// so the jail is entered before either is called.
	if err := root.Enter(unprivilegedUID(), unprivilegedGID()); err != nil {
		log.Fatalf("worker: failed to enter jail: %v", err)
	}

	host := worker.NewHost(cfg, engine.FakeFactory{}, jailID, childID, pid, *clientPort, cfg.ChildRoot)

	worker.InstallSignalHandlers(func() {
		os.Exit(0)
	})

	// The broker creates "<request-fifo>.reply" once at startup (see
	// cmd/broker/main.go) and every worker it spawns shares the same
	// config, so the reply path is derived rather than passed as a flag.
	replyPath := cfg.BrokerFIFOPath + ".reply"
	reply := func(line string) error {
		f, err := os.OpenFile(replyPath, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			return err
		}
		return w.Flush()
	}

	log.Printf("worker: jail=%s child=%s pid=%d ready", jailID, childID, pid)
	if err := host.Run(*pipePath, reply); err != nil {
		log.Fatalf("worker: control loop exited: %v", err)
	}
}

// unprivilegedUID/GID pick a fixed non-root identity for the jailed
// process. The original ties these to a "lool" system user created at
// install time; without an install-time account to look up, the fixed
// uid/gid 65534 (the conventional nobody/nogroup id) is used instead.
func unprivilegedUID() int { return 65534 }
func unprivilegedGID() int { return 65534 }
