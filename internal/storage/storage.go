package storage

import (
	"context"
	"errors"

	"github.com/hongminglow/hostel-portal/internal/models"
)

// ErrNotFound indicates no credentials are persisted.
var ErrNotFound = errors.New("credentials not found")

// CredentialStore persists the token pair of the signed-in student so a
// restart can restore the session. Save replaces both tokens together.
type CredentialStore interface {
	Load(ctx context.Context) (models.Credentials, error)
	Save(ctx context.Context, creds models.Credentials) error
	Clear(ctx context.Context) error
}
