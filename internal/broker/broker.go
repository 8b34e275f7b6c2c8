// Package broker implements the pre-forked pool of jailed worker
// processes described in spec.md §4.6: it tracks which worker hosts
// which document URL, routes matchmaking requests from the Gateway to
// the right worker (or an idle one, or a freshly forked one), and
// harvests workers that exit.
//
// The pool-lifecycle shape (fixed-size pool, spawn-on-demand up to a
// minimum, SIGCHLD-driven harvest-and-respawn) is grounded on the
// teacher's embedding worker pool (internal/services/embedding.go in
// the original ai-kms source: `workers []*embeddingWorker`, `wg
// sync.WaitGroup`, `Start`/`Shutdown`); the process-spawn mechanics
// (os/exec + SysProcAttr{Setsid: true} to detach each worker into its
// own session) are grounded on other_examples/enachb-wingthing__wing.go,
// the only example in the pack that forks a detached child process.
package broker

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"loolgw/internal/config"
)

// workerHandle is what the Broker tracks about one pre-forked worker.
type workerHandle struct {
	pid         int
	cmd         *exec.Cmd
	inboundPath string // the worker's own control pipe, Broker writes here
}

// Broker owns the pool of workers and the routing table from document
// URL to worker pid (spec.md §4.6 invariant: at most one worker per
// URL at any time).
type Broker struct {
	cfg *config.Config

	mu        sync.Mutex
	workers   map[int]*workerHandle // pid -> handle
	byURL     map[string]int        // url -> pid

	replyPath string // shared FIFO workers write "<pid> ..." replies to
}

func New(cfg *config.Config, replyPath string) *Broker {
	return &Broker{
		cfg:       cfg,
		workers:   make(map[int]*workerHandle),
		byURL:     make(map[string]int),
		replyPath: replyPath,
	}
}

// Start pre-forks cfg.PreforkWorkers workers and installs a SIGCHLD
// handler that harvests exits and refills the pool back to its
// minimum (spec.md §4.6 step 3).
func (b *Broker) Start() error {
	for i := 0; i < b.cfg.PreforkWorkers; i++ {
		if _, err := b.spawnWorker(); err != nil {
			return fmt.Errorf("broker: initial spawn %d/%d: %w", i+1, b.cfg.PreforkWorkers, err)
		}
	}

	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, syscall.SIGCHLD)
	go func() {
		for range sigchld {
			b.harvestExited()
		}
	}()

	return nil
}

func (b *Broker) spawnWorker() (int, error) {
	jailID, childID, pipePath, err := newWorkerIdentity(b.cfg)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(b.cfg.WorkerBinary,
		"--losubpath", b.cfg.LOTemplatePath,
		"--jailid", jailID,
		"--pipe", pipePath,
		"--clientport", fmt.Sprintf("%d", b.cfg.GatewayInternalPort),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("broker: starting worker: %w", err)
	}

	b.mu.Lock()
	b.workers[cmd.Process.Pid] = &workerHandle{pid: cmd.Process.Pid, cmd: cmd, inboundPath: pipePath}
	b.mu.Unlock()

	log.Printf("broker: spawned worker pid=%d jailid=%s childid=%s", cmd.Process.Pid, jailID, childID)
	return cmd.Process.Pid, nil
}

func (b *Broker) harvestExited() {
	b.mu.Lock()
	var exited []int
	for pid, h := range b.workers {
		var status syscall.WaitStatus
		wpid, err := syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
		if err != nil || wpid == 0 {
			continue
		}
		exited = append(exited, pid)
		for url, p := range b.byURL {
			if p == pid {
				delete(b.byURL, url)
			}
		}
		_ = h
		delete(b.workers, pid)
	}
	deficit := b.cfg.PreforkWorkers - len(b.workers)
	b.mu.Unlock()

	for _, pid := range exited {
		log.Printf("broker: harvested exited worker pid=%d", pid)
	}
	for i := 0; i < deficit; i++ {
		if _, err := b.spawnWorker(); err != nil {
			log.Printf("broker: respawn after harvest failed: %v", err)
		}
	}
}

// HandleRequest implements spec.md §4.6's routing for a Gateway
// "request <session-id> <url>" message: find the worker already
// hosting url, or an idle one, or fork a new one, then forward
// "thread <session-id> <url>" to it.
func (b *Broker) HandleRequest(sessionID, url string) error {
	b.mu.Lock()
	pid, hosting := b.byURL[url]
	b.mu.Unlock()

	if !hosting {
		idlePid, err := b.findIdleWorker(url)
		if err != nil {
			return err
		}
		pid = idlePid
	}

	b.mu.Lock()
	h, ok := b.workers[pid]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("broker: worker pid=%d vanished before routing", pid)
	}

	if err := writeControlLine(h.inboundPath, fmt.Sprintf("thread %s %s", sessionID, url)); err != nil {
		return fmt.Errorf("broker: writing thread message to pid=%d: %w", pid, err)
	}

	b.mu.Lock()
	b.byURL[url] = pid
	b.mu.Unlock()
	return nil
}

// findIdleWorker queries every tracked worker with "query url" until
// one reports "empty", forking a fresh worker if none are idle
// (spec.md §4.6 step 2).
func (b *Broker) findIdleWorker(url string) (int, error) {
	b.mu.Lock()
	pids := make([]int, 0, len(b.workers))
	for pid := range b.workers {
		pids = append(pids, pid)
	}
	b.mu.Unlock()

	for _, pid := range pids {
		b.mu.Lock()
		h := b.workers[pid]
		b.mu.Unlock()
		if h == nil {
			continue
		}
		// The wire text is the fixed literal "query url" (spec.md lines
		// 109/119/160) — unlike "thread", it carries no URL argument,
		// since a worker hosts at most one document and has nothing to
		// look up. The value of url here only decides whether this
		// helper had to be called at all (see HandleRequest).
		if err := writeControlLine(h.inboundPath, "query url"); err != nil {
			continue
		}
		reply, err := readNextReply(b.replyPath)
		if err != nil {
			continue
		}
		if replyPid, status := parseReply(reply); replyPid == pid && status == "empty" {
			return pid, nil
		}
	}

	return b.spawnWorker()
}

func parseReply(line string) (pid int, status string) {
	var p int
	var s string
	if _, err := fmt.Sscanf(line, "%d %s", &p, &s); err != nil {
		return 0, ""
	}
	return p, s
}

func writeControlLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\r\n")
	return err
}

func readNextReply(path string) (string, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return "", fmt.Errorf("broker: no reply available on %s", path)
}
