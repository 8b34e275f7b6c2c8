package models

import (
	"strconv"

	"github.com/google/uuid"
)

// JailId is the per-worker-host random identifier used as the chroot
// directory name. It is generated once when a worker starts and is
// never disclosed to clients (spec.md §3).
type JailId string

// NewJailId generates a fresh JailId.
func NewJailId() JailId {
	return JailId(uuid.NewString())
}

func (j JailId) String() string { return string(j) }

// ChildId identifies a document within a worker for save-as URL
// rewriting; the worker's own process id is sufficient (spec.md §3).
type ChildId string

// NewChildId derives a ChildId from the hosting worker's pid, with a
// short random prefix so ids don't collide across worker restarts that
// reuse the same pid.
func NewChildId(pid int) ChildId {
	return ChildId(uuid.NewString()[:8] + "-" + strconv.Itoa(pid))
}

func (c ChildId) String() string { return string(c) }
