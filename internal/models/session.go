package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// SessionID is an opaque session identifier. It is a KSUID so it sorts
// by creation time and hashes cheaply (spec.md §3 notes a numeric
// suffix is enough for fast hashing — KSUID's trailing random bytes
// serve the same purpose without hand-rolling one).
type SessionID string

// NewSessionID generates a fresh session id.
func NewSessionID() SessionID {
	return SessionID(ksuid.New().String())
}

func (s SessionID) String() string { return string(s) }

// SessionState is the one-way state machine a WorkerSession moves
// through (spec.md §4.3). ClientSession uses the same states for
// symmetry even though the spec only names them for the worker half.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionBound
	SessionRunning
	SessionDraining
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "NEW"
	case SessionBound:
		return "BOUND"
	case SessionRunning:
		return "RUNNING"
	case SessionDraining:
		return "DRAINING"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo enforces the one-way ordering from spec.md §4.3:
// NEW -> BOUND -> RUNNING -> DRAINING -> CLOSED. Any forward jump is
// allowed (e.g. NEW -> DRAINING on an early disconnect); no backward
// transition ever is.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	return next >= s
}

// SessionMeta is the data shared by both halves of a session pair.
// ClientSession and WorkerSession each embed one. The peer link does
// not go through SessionID lookup: on the gateway, a ClientSession and
// its workerLink hold direct pointers to each other.
type SessionMeta struct {
	ID           SessionID
	DocumentURI  string
	ConnectedAt  time.Time
	LastActiveAt time.Time
}

func NewSessionMeta(documentURI string) SessionMeta {
	now := time.Now()
	return SessionMeta{
		ID:           NewSessionID(),
		DocumentURI:  documentURI,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}

// CursorPosition mirrors an engine-reported cursor/selection
// invalidation for a given part.
type CursorPosition struct {
	Part int
	Rect Rectangle
}
