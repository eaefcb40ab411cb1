package collaboration

import (
	"context"

	"collab-relay/internal/models"
)

// ContentStore persists the full encoded CRDT state of a document.
// Implemented by the backend HTTP client and by the Postgres snapshot
// repository.
type ContentStore interface {
	LoadContent(ctx context.Context, documentID, token string) ([]byte, error)
	SaveContent(ctx context.Context, documentID, token string, state []byte) error
}

// AccessValidator decides who may open a socket
type AccessValidator interface {
	ValidateDocumentAccess(ctx context.Context, token, documentID string) (*models.DocumentAccess, error)
	ValidateUserToken(ctx context.Context, token string) (*models.UserIdentity, error)
}
