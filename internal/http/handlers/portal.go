package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/http/respond"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/validate"
)

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.session.LoadProfile(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "profile", profile)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd models.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	profile, err := h.session.UpdateProfile(r.Context(), upd)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "profile updated", profile)
}

func (h *Handler) handleRooms(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profile(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	filter, err := roomFilter(r, profile.Gender)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rooms, err := h.listRooms(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "rooms", rooms)
}

func (h *Handler) handlePayments(w http.ResponseWriter, r *http.Request) {
	g, err := h.session.AccessToken(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	payments, err := h.catalog.ListPayments(r.Context(), g.Token)
	if err != nil {
		h.writeDomainError(w, r, h.session.HandleError(r.Context(), g, err))
		return
	}
	respond.JSON(w, http.StatusOK, "payments", payments)
}

// profile returns the cached profile, fetching it once per session.
func (h *Handler) profile(ctx context.Context) (models.Profile, error) {
	if p, ok := h.session.Profile(); ok {
		return p, nil
	}
	return h.session.LoadProfile(ctx)
}

func (h *Handler) listRooms(ctx context.Context, filter models.RoomFilter) ([]models.Room, error) {
	g, err := h.session.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	rooms, err := h.catalog.ListRooms(ctx, g.Token, filter)
	if err != nil {
		return nil, h.session.HandleError(ctx, g, err)
	}
	return rooms, nil
}

// roomFilter reads menu and capacity from the query. Gender always comes
// from the profile.
func roomFilter(r *http.Request, gender string) (models.RoomFilter, error) {
	q := r.URL.Query()
	filter := models.RoomFilter{Gender: gender, Menu: strings.TrimSpace(q.Get("menu"))}
	if raw := strings.TrimSpace(q.Get("capacity")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return models.RoomFilter{}, domain.ValidationError{Field: "capacity", Msg: "must be a number"}
		}
		filter.Capacity = n
	}
	if err := validate.Struct(filter); err != nil {
		return models.RoomFilter{}, err
	}
	return filter, nil
}
