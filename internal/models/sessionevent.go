package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// SessionEventKind enumerates the lifecycle events recorded in the
// audit log. This is an append-only trail of *who connected to what,
// when* — never document content (spec.md §1 Non-goals still exclude
// durable document storage).
type SessionEventKind string

const (
	EventClientConnected    SessionEventKind = "client_connected"
	EventClientDisconnected SessionEventKind = "client_disconnected"
	EventWorkerBound        SessionEventKind = "worker_bound"
	EventDocumentOpened     SessionEventKind = "document_opened"
	EventDocumentClosed     SessionEventKind = "document_closed"
	EventDocumentSaved      SessionEventKind = "document_saved"
)

// SessionEvent is a single audit row, modelled after the teacher's
// append-only YjsUpdate table (internal/repository/yjs_repo.go in the
// original ai-kms source): KSUID primary key, indexed by document and
// time, immutable once written.
type SessionEvent struct {
	ID         string           `gorm:"type:varchar(27);primaryKey"`
	SessionID  string           `gorm:"type:varchar(27);not null;index:idx_session_time"`
	DocumentID string           `gorm:"type:text;not null;index:idx_doc_time"`
	Kind       SessionEventKind `gorm:"type:varchar(32);not null"`
	Detail     string           `gorm:"type:text"`
	CreatedAt  time.Time        `gorm:"index:idx_doc_time"`
}

func (e *SessionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = ksuid.New().String()
	}
	return nil
}

func (SessionEvent) TableName() string {
	return "session_events"
}
