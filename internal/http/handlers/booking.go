package handlers

import (
	"net/http"
	"strconv"

	"github.com/hongminglow/hostel-portal/internal/booking"
	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/http/respond"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/receipt"
	"github.com/hongminglow/hostel-portal/internal/validate"
)

type bookingView struct {
	Transaction *models.BookingTransaction `json:"transaction"`
	DisplayStep int                        `json:"display_step"`
}

func viewOfBooking(tx models.BookingTransaction, ok bool) bookingView {
	if !ok {
		return bookingView{}
	}
	return bookingView{Transaction: &tx, DisplayStep: booking.DisplayStep(tx.Step)}
}

type selectRoomRequest struct {
	RoomID int64 `json:"room_id" validate:"required,gt=0"`
}

type submitPaymentRequest struct {
	TransactionReference string `json:"transaction_id"`
	ConfirmResubmit      bool   `json:"confirm_resubmit"`
}

func (h *Handler) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, "booking", viewOfBooking(h.booking.Current()))
}

// handleSelectRoom re-reads the profile and the room listing so the checks
// run against current seat counts rather than what the browser last saw.
func (h *Handler) handleSelectRoom(w http.ResponseWriter, r *http.Request) {
	var req selectRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	profile, err := h.session.LoadProfile(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rooms, err := h.listRooms(r.Context(), models.RoomFilter{Gender: profile.Gender})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var room *models.Room
	for i := range rooms {
		if rooms[i].ID == req.RoomID {
			room = &rooms[i]
			break
		}
	}
	if room == nil {
		h.writeDomainError(w, r, domain.NotFoundError{Resource: "room " + strconv.FormatInt(req.RoomID, 10)})
		return
	}
	tx, err := h.booking.SelectRoom(*room, profile)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "room selected", viewOfBooking(tx, true))
}

func (h *Handler) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	tx, err := h.booking.RequestOTP(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "OTP sent to your registered email", viewOfBooking(tx, true))
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req validate.OTP
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	tx, err := h.booking.VerifyOTP(r.Context(), req.Code)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "OTP verified", viewOfBooking(tx, true))
}

func (h *Handler) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req submitPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.ConfirmResubmit {
		if cur, ok := h.booking.Current(); ok && cur.ResubmitNeedsConfirmation {
			if _, err := h.booking.ConfirmResubmission(); err != nil {
				h.writeDomainError(w, r, err)
				return
			}
		}
	}
	tx, err := h.booking.SubmitPayment(r.Context(), req.TransactionReference)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "payment submitted for review", viewOfBooking(tx, true))
}

func (h *Handler) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.booking.Cancel(); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "booking cancelled", viewOfBooking(h.booking.Current()))
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.booking.Acknowledge(); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, "booking closed", viewOfBooking(h.booking.Current()))
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	tx, ok := h.booking.Current()
	if !ok || tx.Step != models.StepConfirmed {
		step := "none"
		if ok {
			step = string(tx.Step)
		}
		h.writeDomainError(w, r, domain.StateError{Op: "receipt", State: step, Msg: "no submitted payment to print"})
		return
	}
	profile, _ := h.session.Profile()
	name := profile.Name
	if name == "" {
		name = h.session.Snapshot().DisplayName
	}
	pdf, filename, err := receipt.Build(receipt.Data{
		Transaction: tx,
		StudentName: name,
		Email:       profile.Email,
		GeneratedAt: h.now(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
