// Package handlers exposes the session and booking workflow to the
// student's browser as a small JSON API.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/hostel-portal/internal/gateway"
	"github.com/hongminglow/hostel-portal/internal/guard"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/session"
	"github.com/hongminglow/hostel-portal/internal/validate"
)

// SessionService is the session state machine as seen by the portal.
type SessionService interface {
	Snapshot() models.Session
	SubmitCredentials(ctx context.Context, identifier, secret string) (models.Session, error)
	Refresh(ctx context.Context) (models.Session, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, form validate.PasswordChange) error
	Profile() (models.Profile, bool)
	LoadProfile(ctx context.Context) (models.Profile, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (models.Profile, error)
	AccessToken(ctx context.Context) (session.Grant, error)
	HandleError(ctx context.Context, g session.Grant, err error) error
}

// CatalogAPI lists rooms and payments from the hostel API.
type CatalogAPI interface {
	ListRooms(ctx context.Context, token string, filter models.RoomFilter) ([]models.Room, error)
	ListPayments(ctx context.Context, token string) ([]models.Payment, error)
}

// BookingService drives the live booking transaction.
type BookingService interface {
	Current() (models.BookingTransaction, bool)
	SelectRoom(room models.Room, profile models.Profile) (models.BookingTransaction, error)
	RequestOTP(ctx context.Context) (models.BookingTransaction, error)
	VerifyOTP(ctx context.Context, code string) (models.BookingTransaction, error)
	SubmitPayment(ctx context.Context, transactionReference string) (models.BookingTransaction, error)
	ConfirmResubmission() (models.BookingTransaction, error)
	Cancel() error
	Acknowledge() error
	Reset()
}

var _ CatalogAPI = (*gateway.Client)(nil)

// Handler serves the portal endpoints for one student session.
type Handler struct {
	session SessionService
	catalog CatalogAPI
	booking BookingService
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs the handler.
func New(sess SessionService, catalog CatalogAPI, booking BookingService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		session: sess,
		catalog: catalog,
		booking: booking,
		logger:  logger,
		now:     time.Now,
	}
}

// Register attaches the portal routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.handleSession)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)
		r.Post("/refresh", h.handleRefresh)
		r.With(h.require(guard.ViewChangePassword)).Post("/password", h.handleChangePassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(guard.ViewProfile))
		r.Get("/profile", h.handleGetProfile)
		r.Patch("/profile", h.handleUpdateProfile)
	})

	r.With(h.require(guard.ViewDashboard)).Get("/payments", h.handlePayments)

	r.Group(func(r chi.Router) {
		r.Use(h.require(guard.ViewRooms))
		r.Get("/rooms", h.handleRooms)
		r.Route("/booking", func(r chi.Router) {
			r.Get("/", h.handleGetBooking)
			r.Post("/", h.handleSelectRoom)
			r.Delete("/", h.handleCancelBooking)
			r.Post("/otp", h.handleRequestOTP)
			r.Post("/otp/verify", h.handleVerifyOTP)
			r.Post("/payment", h.handleSubmitPayment)
			r.Post("/acknowledge", h.handleAcknowledge)
			r.Get("/receipt", h.handleReceipt)
		})
	})
}
