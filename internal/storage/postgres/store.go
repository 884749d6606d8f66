package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/storage"
)

// Ensure Store satisfies the storage.CredentialStore interface at compile time.
var _ storage.CredentialStore = (*Store)(nil)

// Store persists one credential row per key in Postgres.
type Store struct {
	db  *sql.DB
	key string
	now func() time.Time
}

// Open connects to databaseURL through the pgx driver and verifies the
// connection. Run Migrate before using the store.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// New wraps db. key selects the credential row, so several portals may share
// one database.
func New(db *sql.DB, key string) *Store {
	if key == "" {
		key = "default"
	}
	return &Store{db: db, key: key, now: time.Now}
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load fetches the stored token pair.
func (s *Store) Load(ctx context.Context) (models.Credentials, error) {
	const query = `
	SELECT access_token, refresh_token
	FROM portal_credentials
	WHERE credential_key = $1;
	`
	var creds models.Credentials
	err := s.db.QueryRowContext(ctx, query, s.key).Scan(&creds.AccessToken, &creds.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Credentials{}, storage.ErrNotFound
		}
		return models.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

// Save upserts both tokens in a single statement.
func (s *Store) Save(ctx context.Context, creds models.Credentials) error {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return errors.New("refusing to save a partial token pair")
	}
	const query = `
	INSERT INTO portal_credentials (credential_key, access_token, refresh_token, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (credential_key) DO UPDATE
	SET access_token = EXCLUDED.access_token,
		refresh_token = EXCLUDED.refresh_token,
		updated_at = EXCLUDED.updated_at;
	`
	if _, err := s.db.ExecContext(ctx, query, s.key, creds.AccessToken, creds.RefreshToken, s.now().UTC()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Clear deletes the row. Clearing an absent row is not an error.
func (s *Store) Clear(ctx context.Context) error {
	const query = `DELETE FROM portal_credentials WHERE credential_key = $1;`
	if _, err := s.db.ExecContext(ctx, query, s.key); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
