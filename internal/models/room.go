package models

import "time"

// Menu options offered by hostel messes.
const (
	MenuVeg    = "Veg"
	MenuNonVeg = "Non Veg"
)

// RoomPhoto is a picture attached to a room category.
type RoomPhoto struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
	IsPrimary   bool   `json:"is_primary"`
}

// Room is a snapshot of a room category taken at listing time. AvailableSeats
// is only authoritative when fetched; the server revalidates on payment.
type Room struct {
	ID             int64       `json:"id"`
	Category       string      `json:"category"`
	Location       string      `json:"location"`
	Menu           string      `json:"menu"`
	PaxPerRoom     int         `json:"pax_per_room"`
	AvailableSeats int         `json:"available_seats"`
	Price          float64     `json:"price"`
	Gender         string      `json:"gender"`
	Photos         []RoomPhoto `json:"photos"`
}

// RoomFilter narrows a room listing. Gender is always sent; Menu and
// Capacity are optional.
type RoomFilter struct {
	Gender   string `json:"gender" validate:"required,oneof=Male Female"`
	Menu     string `json:"menu,omitempty" validate:"omitempty,oneof='Veg' 'Non Veg'"`
	Capacity int    `json:"capacity,omitempty" validate:"gte=0,lte=12"`
}

// Payment is a submitted payment record for the current student.
type Payment struct {
	ID                   int64         `json:"id"`
	RoomID               int64         `json:"room_id,omitempty"`
	Amount               float64       `json:"amount"`
	TransactionReference string        `json:"transaction_reference,omitempty"`
	Status               PaymentStatus `json:"status"`
	CreatedAt            time.Time     `json:"created_at"`
}
