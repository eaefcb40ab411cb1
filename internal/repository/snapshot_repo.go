package repository

import (
	"context"
	"errors"
	"fmt"

	"collab-relay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
SNAPSHOT PERSISTENCE

Used when the relay owns document storage instead of the backend service.
It satisfies the same content contract as the backend client, so the
persistence coordinator does not know which one it talks to.

Query patterns:
- LoadContent: primary-key read of the latest snapshot
- SaveContent: upsert, replacing the previous snapshot
- Delete: drop a document's snapshot
*/

// SnapshotRepositoryImpl handles document snapshot storage
type SnapshotRepositoryImpl struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepositoryImpl {
	return &SnapshotRepositoryImpl{db: db}
}

// LoadContent returns the stored state, or nil when the document has none.
// The token is accepted for contract parity and not checked here: the
// relay admits connections against the backend before it ever loads.
func (r *SnapshotRepositoryImpl) LoadContent(ctx context.Context, documentID, _ string) ([]byte, error) {
	var snapshot models.DocumentSnapshot

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		First(&snapshot).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // Nothing saved yet
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return snapshot.State, nil
}

// SaveContent upserts the full state of a document
func (r *SnapshotRepositoryImpl) SaveContent(ctx context.Context, documentID, _ string, state []byte) error {
	snapshot := &models.DocumentSnapshot{
		DocumentID: documentID,
		State:      state,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"id", "state", "size", "updated_at"}),
		}).
		Create(snapshot).Error

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// Delete removes a document's snapshot
func (r *SnapshotRepositoryImpl) Delete(ctx context.Context, documentID string) error {
	result := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&models.DocumentSnapshot{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete snapshot: %w", result.Error)
	}

	return nil
}
