package broker

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"loolgw/internal/config"
	"loolgw/internal/models"
)

// newWorkerIdentity allocates a fresh JailId/ChildId pair for a
// about-to-be-forked worker and creates the FIFO the Broker will use
// to send it control messages (spec.md §4.5 step 2).
func newWorkerIdentity(cfg *config.Config) (jailID, childID, pipePath string, err error) {
	jid := models.NewJailId()
	cid := models.NewChildId(0) // pid isn't known until after Start; the worker reports its real pid on first reply

	pipeDir := filepath.Join(cfg.ChildRoot, "pipes")
	if err := os.MkdirAll(pipeDir, 0o750); err != nil {
		return "", "", "", fmt.Errorf("broker: creating pipe dir %s: %w", pipeDir, err)
	}

	pipePath = filepath.Join(pipeDir, jid.String()+".fifo")
	if err := ensureFIFO(pipePath); err != nil {
		return "", "", "", fmt.Errorf("broker: creating control pipe %s: %w", pipePath, err)
	}

	return jid.String(), cid.String(), pipePath, nil
}

func ensureFIFO(path string) error {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}
