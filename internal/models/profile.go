package models

// Gender values used by profiles and rooms.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
)

// PaymentStatus tracks the admin-reviewed state of a student's booking payment.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "No Request"
	PaymentPending   PaymentStatus = "Pending"
	PaymentConfirmed PaymentStatus = "Confirmed"
	PaymentRejected  PaymentStatus = "Failed"
)

// RoomRef points at the room currently assigned to a student.
type RoomRef struct {
	ID int64 `json:"id"`
}

// Profile is the authenticated student's record as served by the hostel API.
type Profile struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	FirstName         string        `json:"first_name,omitempty"`
	LastName          string        `json:"last_name,omitempty"`
	Email             string        `json:"email"`
	Gender            string        `json:"gender"`
	PhoneNumber       string        `json:"phone_number,omitempty"`
	ParentPhoneNumber string        `json:"parent_phone_number,omitempty"`
	Room              *RoomRef      `json:"room,omitempty"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
}

// HasRoom reports whether a room is already assigned (pending or confirmed).
func (p Profile) HasRoom() bool {
	return p.Room != nil
}

// ProfileUpdate lists the fields a student may edit. Nil fields are left
// untouched by the server.
type ProfileUpdate struct {
	FirstName         *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName          *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	PhoneNumber       *string `json:"phone_number,omitempty" validate:"omitempty,numeric,min=7,max=15"`
	ParentPhoneNumber *string `json:"parent_phone_number,omitempty" validate:"omitempty,numeric,min=7,max=15"`
}

// Empty reports whether the update carries no field.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.PhoneNumber == nil && u.ParentPhoneNumber == nil
}
