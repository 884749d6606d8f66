package models

// AuthStatus is the state of the session lifecycle.
type AuthStatus string

const (
	AuthAnonymous      AuthStatus = "anonymous"
	AuthAuthenticating AuthStatus = "authenticating"
	AuthAuthenticated  AuthStatus = "authenticated"
	AuthFailed         AuthStatus = "failed"
)

// Session captures the authenticated identity of the portal user.
// AccessToken is non-empty iff Status is AuthAuthenticated.
type Session struct {
	SubjectID    string     `json:"subject_id"`
	DisplayName  string     `json:"display_name"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	IsFirstLogin bool       `json:"is_first_login"`
	Status       AuthStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	// PersistError is set while the token pair held in memory could not be
	// written to the credential store; the session will not survive a
	// restart.
	PersistError string `json:"persist_error,omitempty"`
}

// Authenticated reports whether the session carries a usable access token.
func (s Session) Authenticated() bool {
	return s.Status == AuthAuthenticated && s.AccessToken != ""
}

// Credentials is the persisted token pair. Both fields are written and
// erased together.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no token pair is held.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}
