// Package requestid carries a correlation id from the portal's inbound
// request to the outbound hostel API calls it triggers.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header used in both directions.
const Header = "X-Request-ID"

type ctxKey struct{}

// New returns a fresh random id.
func New() string {
	return uuid.NewString()
}

// With stores id in ctx.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the id stored in ctx, or "".
func From(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure returns the id stored in ctx, generating and storing one if absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := From(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return With(ctx, id), id
}
