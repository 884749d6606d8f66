package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hongminglow/hostel-portal/internal/domain"
)

// Claims is the payload the hostel API signs into its access tokens.
type Claims struct {
	UserID       subjectID `json:"user_id"`
	Username     string    `json:"username"`
	Name         string    `json:"name,omitempty"`
	IsFirstLogin bool      `json:"is_first_login"`
	jwt.RegisteredClaims
}

// Identity is what the portal learns about the subject from a bearer token.
type Identity struct {
	SubjectID    string
	DisplayName  string
	IsFirstLogin bool
	ExpiresAt    time.Time
}

// Expired reports whether the token is past, or within skew of, its expiry.
// Tokens without an exp claim never expire client-side.
func (i Identity) Expired(now time.Time, skew time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(i.ExpiresAt)
}

var parser = jwt.NewParser()

// DecodeIdentity reads the identity from a bearer token's payload. The
// signature is not checked: only the issuing server holds the key, and every
// call presenting the token is verified there.
func DecodeIdentity(token string) (Identity, error) {
	if token == "" {
		return Identity{}, domain.MalformedTokenError{Err: errors.New("empty token")}
	}
	var claims Claims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Identity{}, domain.MalformedTokenError{Err: err}
	}

	subject := claims.UserID.String()
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return Identity{}, domain.MalformedTokenError{Err: errors.New("token carries no subject")}
	}

	display := claims.Username
	if claims.Name != "" {
		display = claims.Name
	}

	id := Identity{
		SubjectID:    subject,
		DisplayName:  display,
		IsFirstLogin: claims.IsFirstLogin,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// subjectID accepts user ids encoded as JSON numbers or strings.
type subjectID string

func (n *subjectID) UnmarshalJSON(b []byte) error {
	raw := string(b)
	if raw == "null" {
		*n = ""
		return nil
	}
	if len(raw) >= 2 && raw[0] == '"' {
		unq, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		*n = subjectID(unq)
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*n = subjectID(raw)
	return nil
}

func (n subjectID) String() string { return string(n) }
