package worker

import (
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"
)

// InstallSignalHandlers wires up the worker's startup signal behaviour
// (spec.md §4.5 step 1 / §6): SIGTERM drains gracefully via onTerm,
// SIGSEGV/SIGBUS install a debugger trap only when LOOL_DEBUG=1 is
// set, and SLEEPFORDEBUGGER=<seconds> pauses before the handlers are
// installed so a debugger can attach.
func InstallSignalHandlers(onTerm func()) {
	if s := os.Getenv("SLEEPFORDEBUGGER"); s != "" {
		if secs, err := time.ParseDuration(s + "s"); err == nil {
			log.Printf("worker: SLEEPFORDEBUGGER set, sleeping %s", secs)
			time.Sleep(secs)
		}
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM)
	go func() {
		<-term
		log.Print("worker: SIGTERM received, shutting down")
		onTerm()
	}()

	if os.Getenv("LOOL_DEBUG") == "1" {
		crash := make(chan os.Signal, 1)
		signal.Notify(crash, syscall.SIGSEGV, syscall.SIGBUS)
		go func() {
			sig := <-crash
			log.Printf("worker: caught %s, dumping stack (LOOL_DEBUG=1)", sig)
			debug.PrintStack()
			os.Exit(1)
		}()
	}
}
