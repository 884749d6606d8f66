// Package session owns the authentication lifecycle of the portal user:
// sign-in, token refresh, forced first-login password change and logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hongminglow/hostel-portal/internal/auth"
	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/storage"
	"github.com/hongminglow/hostel-portal/internal/validate"
)

const defaultRefreshSkew = 30 * time.Second

// Authenticator is the subset of the hostel API the session needs.
type Authenticator interface {
	Login(ctx context.Context, identifier, secret string) (models.Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	FetchProfile(ctx context.Context, token string) (models.Profile, error)
	UpdateProfile(ctx context.Context, token string, upd models.ProfileUpdate) (models.Profile, error)
	ChangePassword(ctx context.Context, token, oldSecret, newSecret string) error
}

// Recorder observes session state transitions.
type Recorder interface {
	RecordSessionTransition(from, to models.AuthStatus)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionTransition(models.AuthStatus, models.AuthStatus) {}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshSkew refreshes access tokens this long before they expire.
func WithRefreshSkew(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.skew = d
		}
	}
}

// WithRecorder reports transitions to rec.
func WithRecorder(rec Recorder) Option {
	return func(m *Manager) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// Manager is the session state machine. It is safe for concurrent use; at
// most one sign-in and one refresh are in flight at any time, and responses
// that arrive after a logout are discarded.
type Manager struct {
	api     Authenticator
	store   storage.CredentialStore
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time
	skew    time.Duration
	refresh singleflight.Group

	mu      sync.Mutex
	state   models.Session
	ident   auth.Identity
	profile *models.Profile
	// seq is bumped by every sign-in and logout. A remote response is
	// applied only if seq is unchanged since its request was issued.
	seq uint64
}

// Grant is a bearer token bound to the sign-in that issued it. Pass it back
// to HandleError with the outcome of the call it authorised.
type Grant struct {
	Token string
	seq   uint64
}

// NewManager returns a Manager in the Anonymous state.
func NewManager(api Authenticator, store storage.CredentialStore, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		api:     api,
		store:   store,
		logger:  logger,
		metrics: nopRecorder{},
		now:     time.Now,
		skew:    defaultRefreshSkew,
		state:   models.Session{Status: models.AuthAnonymous},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore loads persisted credentials and resumes the session they describe.
// Unreadable credentials are erased and a MalformedTokenError is returned.
func (m *Manager) Restore(ctx context.Context) error {
	creds, err := m.store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := auth.DecodeIdentity(creds.AccessToken)
	if err == nil && creds.RefreshToken == "" {
		err = domain.MalformedTokenError{Err: errors.New("persisted refresh token is missing")}
	}
	if err != nil {
		m.clearStoreLocked(ctx)
		m.resetLocked()
		return err
	}
	m.seq++
	m.applyIdentityLocked(ident, creds)
	m.transitionLocked(models.AuthAuthenticated)
	m.logger.Info("session restored", slog.String("subject_id", ident.SubjectID))
	return nil
}

// SubmitCredentials signs in. The form is validated before any remote call.
// A second call while one is in flight is rejected with a StateError.
func (m *Manager) SubmitCredentials(ctx context.Context, identifier, secret string) (models.Session, error) {
	if err := validate.Struct(validate.Login{Identifier: identifier, Secret: secret}); err != nil {
		return m.Snapshot(), err
	}

	m.mu.Lock()
	switch m.state.Status {
	case models.AuthAuthenticating:
		m.mu.Unlock()
		return m.Snapshot(), domain.StateError{Op: "submitCredentials", State: string(models.AuthAuthenticating), Msg: "sign-in already in progress"}
	case models.AuthAuthenticated:
		m.mu.Unlock()
		return m.Snapshot(), domain.StateError{Op: "submitCredentials", State: string(models.AuthAuthenticated), Msg: "already signed in; sign out first"}
	}
	m.seq++
	seq := m.seq
	m.state = models.Session{Status: m.state.Status}
	m.transitionLocked(models.AuthAuthenticating)
	m.mu.Unlock()

	creds, err := m.api.Login(ctx, identifier, secret)
	var ident auth.Identity
	if err == nil {
		ident, err = auth.DecodeIdentity(creds.AccessToken)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq != seq {
		m.logger.Info("discarding stale sign-in response")
		return m.state, domain.StateError{Op: "submitCredentials", State: string(m.state.Status), Msg: "sign-in was cancelled"}
	}
	if err != nil {
		if domain.IsMalformedToken(err) {
			m.clearStoreLocked(ctx)
		}
		m.state = models.Session{Status: m.state.Status, Error: err.Error()}
		m.transitionLocked(models.AuthFailed)
		return m.state, err
	}

	m.applyIdentityLocked(ident, creds)
	m.transitionLocked(models.AuthAuthenticated)
	m.persistLocked(ctx, creds)
	return m.state, nil
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one remote call, which is detached from any single caller's
// cancellation. A caller whose ctx ends first gets ctx.Err() and the session
// is left alone; any failure of the remote call itself ends the session.
func (m *Manager) Refresh(ctx context.Context) (models.Session, error) {
	ch := m.refresh.DoChan("refresh", func() (any, error) {
		return nil, m.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return m.Snapshot(), res.Err
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Authenticated() || m.state.RefreshToken == "" {
		m.mu.Unlock()
		return domain.SessionExpiredError{Msg: "not signed in"}
	}
	seq := m.seq
	refreshToken := m.state.RefreshToken
	m.mu.Unlock()

	access, err := m.api.Refresh(ctx, refreshToken)
	var ident auth.Identity
	if err == nil {
		ident, err = auth.DecodeIdentity(access)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq != seq {
		return domain.SessionExpiredError{Msg: "session ended during refresh"}
	}
	if err != nil {
		m.logger.Warn("token refresh failed, signing out", slog.String("error", err.Error()))
		m.logoutLocked(ctx)
		return domain.SessionExpiredError{Msg: "session expired", Err: err}
	}

	m.state.AccessToken = access
	m.ident = ident
	m.persistLocked(ctx, models.Credentials{AccessToken: access, RefreshToken: m.state.RefreshToken})
	m.logger.Info("access token refreshed", slog.String("subject_id", m.state.SubjectID))
	return nil
}

// AccessToken returns a bearer token for a protected call, refreshing it
// first when it is within the refresh skew of its expiry.
func (m *Manager) AccessToken(ctx context.Context) (Grant, error) {
	m.mu.Lock()
	if !m.state.Authenticated() {
		m.mu.Unlock()
		return Grant{}, domain.SessionExpiredError{Msg: "not signed in"}
	}
	g := Grant{Token: m.state.AccessToken, seq: m.seq}
	stale := m.ident.Expired(m.now(), m.skew)
	m.mu.Unlock()
	if !stale {
		return g, nil
	}

	if _, err := m.Refresh(ctx); err != nil {
		return Grant{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Authenticated() || m.seq != g.seq {
		return Grant{}, domain.SessionExpiredError{Msg: "not signed in"}
	}
	return Grant{Token: m.state.AccessToken, seq: m.seq}, nil
}

// HandleError ends the session when err says the server no longer accepts
// the token in g. A rejection of a token from an earlier sign-in leaves the
// current session alone and is reported as a StateError. Other errors are
// returned unchanged.
func (m *Manager) HandleError(ctx context.Context, g Grant, err error) error {
	if !domain.IsSessionExpired(err) {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq != g.seq {
		m.logger.Info("discarding rejection of a token from an ended session")
		return domain.StateError{Op: "request", State: string(m.state.Status), Msg: "session changed while the request was in flight"}
	}
	if m.state.Status != models.AuthAnonymous {
		m.logger.Info("server rejected the session, signing out")
		m.logoutLocked(ctx)
	}
	return err
}

// Logout resets the session from any state and erases persisted credentials.
// In-flight responses issued before the logout are discarded on arrival.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logoutLocked(ctx)
}

func (m *Manager) logoutLocked(ctx context.Context) error {
	m.seq++
	m.resetLocked()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("clear persisted credentials", slog.String("error", err.Error()))
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// CompleteFirstLoginChange lifts the first-login gate without
// re-authenticating.
func (m *Manager) CompleteFirstLoginChange() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeFirstLoginLocked(m.seq)
}

func (m *Manager) completeFirstLoginLocked(seq uint64) error {
	if !m.state.Authenticated() || m.seq != seq {
		return domain.StateError{Op: "completeFirstLoginChange", State: string(m.state.Status)}
	}
	m.state.IsFirstLogin = false
	return nil
}

// ChangePassword validates the form, rotates the password remotely and lifts
// the first-login gate.
func (m *Manager) ChangePassword(ctx context.Context, form validate.PasswordChange) error {
	if err := validate.Struct(form); err != nil {
		return err
	}
	g, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}
	if err := m.api.ChangePassword(ctx, g.Token, form.OldPassword, form.NewPassword); err != nil {
		return m.HandleError(ctx, g, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("password changed", slog.String("subject_id", m.state.SubjectID))
	return m.completeFirstLoginLocked(g.seq)
}

// Profile returns the cached profile, if one was loaded for this session.
func (m *Manager) Profile() (models.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return models.Profile{}, false
	}
	return *m.profile, true
}

// LoadProfile fetches the profile and caches it for the current session.
func (m *Manager) LoadProfile(ctx context.Context) (models.Profile, error) {
	g, err := m.AccessToken(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	profile, err := m.api.FetchProfile(ctx, g.Token)
	if err != nil {
		return models.Profile{}, m.HandleError(ctx, g, err)
	}
	m.cacheProfile(g.seq, profile)
	return profile, nil
}

// UpdateProfile validates and sends the editable fields.
func (m *Manager) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (models.Profile, error) {
	if upd.Empty() {
		return models.Profile{}, domain.ValidationError{Msg: "no fields to update"}
	}
	if err := validate.Struct(upd); err != nil {
		return models.Profile{}, err
	}
	g, err := m.AccessToken(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	profile, err := m.api.UpdateProfile(ctx, g.Token, upd)
	if err != nil {
		return models.Profile{}, m.HandleError(ctx, g, err)
	}
	m.cacheProfile(g.seq, profile)
	return profile, nil
}

func (m *Manager) cacheProfile(seq uint64, profile models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq != seq || !m.state.Authenticated() {
		return
	}
	m.profile = &profile
}

func (m *Manager) applyIdentityLocked(ident auth.Identity, creds models.Credentials) {
	m.state = models.Session{
		SubjectID:    ident.SubjectID,
		DisplayName:  ident.DisplayName,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		IsFirstLogin: ident.IsFirstLogin,
		Status:       m.state.Status,
	}
	m.ident = ident
	m.profile = nil
}

func (m *Manager) resetLocked() {
	m.state = models.Session{Status: m.state.Status}
	m.ident = auth.Identity{}
	m.profile = nil
	m.transitionLocked(models.AuthAnonymous)
}

// persistLocked writes creds to the store. A failure keeps the session in
// memory and is surfaced through PersistError on the snapshot.
func (m *Manager) persistLocked(ctx context.Context, creds models.Credentials) {
	if err := m.store.Save(ctx, creds); err != nil {
		m.logger.Error("persist credentials", slog.String("error", err.Error()))
		m.state.PersistError = err.Error()
		return
	}
	m.state.PersistError = ""
}

func (m *Manager) clearStoreLocked(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("clear persisted credentials", slog.String("error", err.Error()))
	}
}

func (m *Manager) transitionLocked(to models.AuthStatus) {
	from := m.state.Status
	m.state.Status = to
	if from == to {
		return
	}
	m.metrics.RecordSessionTransition(from, to)
	m.logger.Info("session state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}
