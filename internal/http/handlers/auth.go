package handlers

import (
	"net/http"

	"github.com/hongminglow/hostel-portal/internal/guard"
	"github.com/hongminglow/hostel-portal/internal/http/respond"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/validate"
)

// sessionView is the session as returned to the browser. Tokens never leave
// the portal.
type sessionView struct {
	models.Session
	Next string `json:"next,omitempty"`
}

func viewOf(s models.Session) sessionView {
	out := sessionView{Session: s}
	switch {
	case !s.Authenticated():
	case s.IsFirstLogin:
		out.Next = guard.ChangePasswordPath
	default:
		out.Next = "/" + string(guard.ViewDashboard)
	}
	return out
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, "session", viewOf(h.session.Snapshot()))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req validate.Login
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, err := h.session.SubmitCredentials(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	// A new sign-in never inherits a booking from an earlier session.
	h.booking.Reset()
	if _, err := h.session.LoadProfile(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "profile prefetch failed", "error", err)
	}
	respond.JSON(w, http.StatusOK, "login successful", viewOf(s))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.booking.Reset()
	if err := h.session.Logout(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "logged out", viewOf(h.session.Snapshot()))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s, err := h.session.Refresh(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "session refreshed", viewOf(s))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req validate.PasswordChange
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.session.ChangePassword(r.Context(), req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "password changed", viewOf(h.session.Snapshot()))
}
