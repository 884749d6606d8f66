package models

import "time"

// BookingStep is a state of the booking transaction.
type BookingStep string

const (
	StepRoomDetails      BookingStep = "room_details"
	StepOtpPending       BookingStep = "otp_pending"
	StepOtpVerified      BookingStep = "otp_verified"
	StepPaymentSubmitted BookingStep = "payment_submitted"
	StepConfirmed        BookingStep = "confirmed"
)

// Rank orders steps for forward-only checks.
func (s BookingStep) Rank() int {
	switch s {
	case StepRoomDetails:
		return 0
	case StepOtpPending:
		return 1
	case StepOtpVerified:
		return 2
	case StepPaymentSubmitted:
		return 3
	case StepConfirmed:
		return 4
	default:
		return -1
	}
}

// BookingTransaction is the client-owned state of one room booking attempt.
type BookingTransaction struct {
	ID                        string        `json:"id"`
	Room                      Room          `json:"room"`
	Step                      BookingStep   `json:"step"`
	PaymentAmount             int64         `json:"payment_amount"`
	OtpChallengeActive        bool          `json:"otp_challenge_active"`
	TransactionReference      string        `json:"transaction_reference,omitempty"`
	PaymentID                 int64         `json:"payment_id,omitempty"`
	ResubmitNeedsConfirmation bool          `json:"resubmit_needs_confirmation"`
	History                   []BookingStep `json:"history"`
	StartedAt                 time.Time     `json:"started_at"`
	SubmittedAt               time.Time     `json:"submitted_at,omitempty"`
}
