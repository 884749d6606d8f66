package dto

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/hongminglow/hostel-portal/internal/models"
)

// Decimal accepts amounts encoded either as JSON numbers or as strings.
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*d = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*d = Decimal(f)
	return nil
}

type ProfileResponse struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	Gender            string `json:"gender"`
	PhoneNumber       string `json:"phone_number"`
	ParentPhoneNumber string `json:"parent_phone_number"`
	Room              *int64 `json:"room"`
	PaymentStatus     string `json:"payment_status"`
}

// Model converts the wire profile into the domain profile.
func (p ProfileResponse) Model() models.Profile {
	out := models.Profile{
		ID:                p.ID,
		Name:              p.Name,
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		Email:             p.Email,
		Gender:            p.Gender,
		PhoneNumber:       p.PhoneNumber,
		ParentPhoneNumber: p.ParentPhoneNumber,
		PaymentStatus:     models.PaymentStatus(p.PaymentStatus),
	}
	if p.Room != nil {
		out.Room = &models.RoomRef{ID: *p.Room}
	}
	if out.PaymentStatus == "" {
		out.PaymentStatus = models.PaymentNone
	}
	return out
}

type RoomResponse struct {
	ID             int64              `json:"id"`
	Category       string             `json:"category"`
	Location       string             `json:"location"`
	Menu           string             `json:"menu"`
	PaxPerRoom     int                `json:"pax_per_room"`
	AvailableSeats int                `json:"available_seats"`
	Price          Decimal            `json:"price"`
	Gender         string             `json:"gender"`
	Photos         []models.RoomPhoto `json:"photos"`
}

func (r RoomResponse) Model() models.Room {
	return models.Room{
		ID:             r.ID,
		Category:       r.Category,
		Location:       r.Location,
		Menu:           r.Menu,
		PaxPerRoom:     r.PaxPerRoom,
		AvailableSeats: r.AvailableSeats,
		Price:          float64(r.Price),
		Gender:         r.Gender,
		Photos:         r.Photos,
	}
}

type VerifyOtpRequest struct {
	OTP string `json:"otp"`
}

type PaymentRequest struct {
	RoomID        int64  `json:"room_id"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

type PaymentResponse struct {
	Detail    string `json:"detail"`
	PaymentID int64  `json:"payment_id"`
}

type PaymentRecord struct {
	ID            int64     `json:"id"`
	Room          *int64    `json:"room"`
	Amount        Decimal   `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func (p PaymentRecord) Model() models.Payment {
	out := models.Payment{
		ID:                   p.ID,
		Amount:               float64(p.Amount),
		TransactionReference: p.TransactionID,
		Status:               models.PaymentStatus(p.Status),
		CreatedAt:            p.CreatedAt,
	}
	if p.Room != nil {
		out.RoomID = *p.Room
	}
	return out
}

// compile-time check that Decimal satisfies json.Unmarshaler.
var _ json.Unmarshaler = (*Decimal)(nil)
