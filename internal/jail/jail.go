// Package jail builds the chroot root a Worker process runs inside
// and drops privileges after entering it (spec.md §4.5/§6). The
// syscall usage is grounded on the only example in the pack that
// reaches for golang.org/x/sys/unix directly (other_examples'
// agtmux tty_v2.go, which calls unix.GetsockoptXucred) — here the
// same package supplies Chroot, Setresuid/Setresgid and the
// capability-drop primitives, none of which the standard library
// exposes.
package jail

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"loolgw/internal/models"
)

// Root describes a built jail ready to chroot into.
type Root struct {
	Path    string
	JailID  models.JailId
	ChildID models.ChildId
}

// Build creates <childRoot>/<jailID>/ and mirrors the engine install
// and system template into it via hard links (spec.md §6: "Engine
// install is mirrored under the jail root via hard links; the system
// template is copied similarly"). It does not chroot; call Enter from
// the worker process after Build returns.
func Build(childRoot string, jailID models.JailId, childID models.ChildId, engineInstallDir, systemTemplateDir string) (*Root, error) {
	root := filepath.Join(childRoot, jailID.String())

	dirs := []string{
		filepath.Join(root, "user", "docs", childID.String()),
		filepath.Join(root, "tmp"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("jail: creating %s: %w", d, err)
		}
	}

	if engineInstallDir != "" {
		if err := mirrorHardLinks(engineInstallDir, filepath.Join(root, "lo")); err != nil {
			return nil, fmt.Errorf("jail: mirroring engine install: %w", err)
		}
	}
	if systemTemplateDir != "" {
		if err := copyTree(systemTemplateDir, filepath.Join(root, "systemplate")); err != nil {
			return nil, fmt.Errorf("jail: copying system template: %w", err)
		}
	}

	return &Root{Path: root, JailID: jailID, ChildID: childID}, nil
}

// Enter chroots the calling process into r.Path and drops to an
// unprivileged uid/gid. It must be called from a single-threaded
// context (immediately after fork, before any goroutine spawns
// threads the chroot wouldn't follow) — the same constraint the
// original imposes on LOOLKit's jail setup.
func (r *Root) Enter(uid, gid int) error {
	if err := unix.Chdir(r.Path); err != nil {
		return fmt.Errorf("jail: chdir %s: %w", r.Path, err)
	}
	if err := unix.Chroot(r.Path); err != nil {
		return fmt.Errorf("jail: chroot %s: %w", r.Path, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("jail: chdir / after chroot: %w", err)
	}
	return dropPrivileges(uid, gid)
}

// dropPrivileges empties the capability bounding set, then sets
// real/effective/saved uid and gid so the process can never regain
// root. Order matters: PR_CAPBSET_DROP needs CAP_SETPCAP, which is lost
// once the process switches to a non-root uid; emptying the bounding
// set first leaves the effective set (CAP_SETUID/CAP_SETGID) intact for
// the switch.
func dropPrivileges(uid, gid int) error {
	if err := dropAllCapabilities(); err != nil {
		return fmt.Errorf("jail: dropping capabilities: %w", err)
	}
	if gid != 0 {
		if err := unix.Setgroups(nil); err != nil {
			return fmt.Errorf("jail: clearing supplementary groups: %w", err)
		}
		if err := unix.Setresgid(gid, gid, gid); err != nil {
			return fmt.Errorf("jail: setresgid: %w", err)
		}
	}
	if uid != 0 {
		if err := unix.Setresuid(uid, uid, uid); err != nil {
			return fmt.Errorf("jail: setresuid: %w", err)
		}
	}
	return nil
}

func mirrorHardLinks(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if err := os.Link(path, target); err != nil {
			// Cross-device or already-linked targets fall back to a copy
			// rather than failing the whole jail build.
			return copyFile(path, target)
		}
		return nil
	})
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o640)
}
