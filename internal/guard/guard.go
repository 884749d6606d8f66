// Package guard decides which portal views the current session may open.
package guard

import "github.com/hongminglow/hostel-portal/internal/models"

// View is a navigable portal view.
type View string

const (
	ViewLogin          View = "login"
	ViewDashboard      View = "dashboard"
	ViewProfile        View = "profile"
	ViewRooms          View = "rooms"
	ViewChangePassword View = "change-password"
)

// Redirect targets for denied navigation.
const (
	LoginPath          = "/login"
	ChangePasswordPath = "/change-password"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonPasswordRotation Reason = "password_change_required"
)

// Decision is the outcome of a navigation check.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Redirect string
}

// Protected reports whether view requires a signed-in session.
func (v View) Protected() bool {
	return v != ViewLogin
}

// CanEnter allows protected views only for authenticated sessions, and while
// the first-login gate is up only the password-change view.
func CanEnter(view View, s models.Session) Decision {
	if !view.Protected() {
		return Decision{Allowed: true}
	}
	if !s.Authenticated() {
		return Decision{Reason: ReasonUnauthenticated, Redirect: LoginPath}
	}
	if s.IsFirstLogin && view != ViewChangePassword {
		return Decision{Reason: ReasonPasswordRotation, Redirect: ChangePasswordPath}
	}
	return Decision{Allowed: true}
}
