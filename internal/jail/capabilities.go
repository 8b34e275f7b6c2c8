package jail

import "golang.org/x/sys/unix"

// lastCapability is CAP_CHECKPOINT_RESTORE (40) on the kernels the
// worker targets; dropping through here covers every bit a modern
// capability set defines without needing CAP_LAST_CAP from procfs.
const lastCapability = 40

// dropAllCapabilities removes every capability from the bounding set
// so that even a successful exploit inside the engine cannot regain
// privilege. dropPrivileges calls it before the uid/gid drop, while
// the process still holds CAP_SETPCAP.
func dropAllCapabilities() error {
	for cap := 0; cap <= lastCapability; cap++ {
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(cap), 0, 0, 0); err != nil {
			if err == unix.EINVAL {
				continue // kernel doesn't know this bit; nothing to drop
			}
			return err
		}
	}
	return nil
}
