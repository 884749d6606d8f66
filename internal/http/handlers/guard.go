package handlers

import (
	"net/http"

	"github.com/hongminglow/hostel-portal/internal/guard"
	"github.com/hongminglow/hostel-portal/internal/http/respond"
)

// require admits a request only when the session may enter view. Denials
// carry the view the browser should navigate to instead.
func (h *Handler) require(view guard.View) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := guard.CanEnter(view, h.session.Snapshot())
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			data := map[string]string{"reason": string(d.Reason), "redirect": d.Redirect}
			switch d.Reason {
			case guard.ReasonPasswordRotation:
				respond.Problem(w, http.StatusForbidden, "password change required", "Choose a new password to continue.", data)
			default:
				respond.Problem(w, http.StatusUnauthorized, "not signed in", "Sign in to continue.", data)
			}
		})
	}
}
