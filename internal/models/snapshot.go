package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
DOCUMENT SNAPSHOTS

When the relay owns storage (CONTENT_STORE=postgres) it keeps one row per
document holding the full encoded CRDT state. Every debounced save replaces
the row, so loading is a single primary-key read.

Flow:
  Clients edit → relay merges into the in-memory doc → debounce window
  elapses → full state encoded → upsert document_snapshots row
*/

// DocumentSnapshot stores the latest full CRDT state of a document
type DocumentSnapshot struct {
	DocumentID string    `gorm:"type:varchar(255);primaryKey" json:"document_id"`
	ID         string    `gorm:"type:char(27);not null" json:"id"` // KSUID of the latest write
	State      []byte    `gorm:"type:bytea;not null" json:"-"`
	Size       int       `gorm:"not null" json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BeforeSave stamps every write with a fresh KSUID
func (s *DocumentSnapshot) BeforeSave(tx *gorm.DB) error {
	s.ID = ksuid.New().String()
	s.Size = len(s.State)
	return nil
}

// TableName override
func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}
