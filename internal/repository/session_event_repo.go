package repository

import (
	"context"
	"fmt"

	"loolgw/internal/models"

	"gorm.io/gorm"
)

// SessionEventRepository is the consumer-driven interface the gateway
// depends on (teacher's internal/api/interfaces.go pattern:
// the consumer package declares exactly the methods it calls).
type SessionEventRepository interface {
	Record(ctx context.Context, sessionID, documentID string, kind models.SessionEventKind, detail string) error
	RecentForDocument(ctx context.Context, documentID string, limit int) ([]*models.SessionEvent, error)
}

// SessionEventRepositoryImpl persists events with GORM, mirroring the
// teacher's YjsRepositoryImpl.StoreUpdate/GetAllUpdates shape.
type SessionEventRepositoryImpl struct {
	db *gorm.DB
}

func NewSessionEventRepository(db *gorm.DB) *SessionEventRepositoryImpl {
	return &SessionEventRepositoryImpl{db: db}
}

func (r *SessionEventRepositoryImpl) Record(ctx context.Context, sessionID, documentID string, kind models.SessionEventKind, detail string) error {
	event := &models.SessionEvent{
		SessionID:  sessionID,
		DocumentID: documentID,
		Kind:       kind,
		Detail:     detail,
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

func (r *SessionEventRepositoryImpl) RecentForDocument(ctx context.Context, documentID string, limit int) ([]*models.SessionEvent, error) {
	var events []*models.SessionEvent
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	return events, nil
}

// NoopSessionEventRepository is used when the audit database cannot be
// opened; every call succeeds and records nothing. This keeps the
// gateway free of nil checks at every call site.
type NoopSessionEventRepository struct{}

func (NoopSessionEventRepository) Record(context.Context, string, string, models.SessionEventKind, string) error {
	return nil
}

func (NoopSessionEventRepository) RecentForDocument(context.Context, string, int) ([]*models.SessionEvent, error) {
	return nil, nil
}
