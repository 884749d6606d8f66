// Package memory is an in-process credential store, used when no database is
// configured and in tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/storage"
)

var _ storage.CredentialStore = (*Store)(nil)

// Store keeps credentials in memory.
type Store struct {
	mu    sync.RWMutex
	creds models.Credentials
	set   bool
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Load returns the saved credentials or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context) (models.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return models.Credentials{}, storage.ErrNotFound
	}
	return s.creds, nil
}

// Save replaces the stored pair.
func (s *Store) Save(ctx context.Context, creds models.Credentials) error {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return errors.New("refusing to save a partial token pair")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.set = true
	return nil
}

// Clear forgets the stored pair. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = models.Credentials{}
	s.set = false
	return nil
}
