package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/models/dto"
)

// IdempotencyHeader carries the per-transaction key on payment submission.
const IdempotencyHeader = "Idempotency-Key"

// PaymentSubmission is the evidence of an out-of-band payment for one room.
type PaymentSubmission struct {
	RoomID               int64
	Amount               int64
	TransactionReference string
	IdempotencyKey       string
}

// PaymentReceipt is the server's acknowledgement of a submission.
type PaymentReceipt struct {
	PaymentID int64
	Detail    string
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, identifier, secret string) (models.Credentials, error) {
	var out dto.TokenPair
	err := c.do(ctx, call{
		op:     OpLogin,
		method: http.MethodPost,
		path:   "token/",
		body:   dto.LoginRequest{Username: identifier, Password: secret},
		out:    &out,
	})
	if err != nil {
		return models.Credentials{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return models.Credentials{}, domain.MalformedTokenError{Err: errors.New("login response is missing a token")}
	}
	return models.Credentials{AccessToken: out.Access, RefreshToken: out.Refresh}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out dto.RefreshResponse
	err := c.do(ctx, call{
		op:     OpRefresh,
		method: http.MethodPost,
		path:   "token/refresh/",
		body:   dto.RefreshRequest{Refresh: refreshToken},
		out:    &out,
	})
	if err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", domain.SessionExpiredError{Msg: "refresh response is missing an access token"}
	}
	return out.Access, nil
}

// FetchProfile returns the profile of the token's subject.
func (c *Client) FetchProfile(ctx context.Context, token string) (models.Profile, error) {
	var out dto.ProfileResponse
	err := c.do(ctx, call{
		op:     OpFetchProfile,
		method: http.MethodGet,
		path:   "students/my_profile/",
		bearer: true,
		token:  token,
		out:    &out,
	})
	if err != nil {
		return models.Profile{}, err
	}
	return out.Model(), nil
}

// UpdateProfile patches the editable profile fields.
func (c *Client) UpdateProfile(ctx context.Context, token string, upd models.ProfileUpdate) (models.Profile, error) {
	var out dto.ProfileResponse
	err := c.do(ctx, call{
		op:     OpUpdateProfile,
		method: http.MethodPatch,
		path:   "students/me/",
		bearer: true,
		token:  token,
		body:   upd,
		out:    &out,
	})
	if err != nil {
		return models.Profile{}, err
	}
	return out.Model(), nil
}

// ChangePassword rotates the subject's password.
func (c *Client) ChangePassword(ctx context.Context, token, oldSecret, newSecret string) error {
	return c.do(ctx, call{
		op:     OpChangePassword,
		method: http.MethodPost,
		path:   "students/change_password/",
		bearer: true,
		token:  token,
		body:   dto.ChangePasswordRequest{OldPassword: oldSecret, NewPassword: newSecret},
	})
}

// ListRooms returns the rooms matching filter.
func (c *Client) ListRooms(ctx context.Context, token string, filter models.RoomFilter) ([]models.Room, error) {
	q := url.Values{}
	q.Set("gender", filter.Gender)
	if filter.Menu != "" {
		q.Set("menu", filter.Menu)
	}
	if filter.Capacity > 0 {
		q.Set("capacity", strconv.Itoa(filter.Capacity))
	}

	var out []dto.RoomResponse
	err := c.do(ctx, call{
		op:     OpListRooms,
		method: http.MethodGet,
		path:   "rooms/",
		query:  q,
		bearer: true,
		token:  token,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	rooms := make([]models.Room, 0, len(out))
	for _, r := range out {
		rooms = append(rooms, r.Model())
	}
	return rooms, nil
}

// ListPayments returns the subject's payment history.
func (c *Client) ListPayments(ctx context.Context, token string) ([]models.Payment, error) {
	var out []dto.PaymentRecord
	err := c.do(ctx, call{
		op:     OpListPayments,
		method: http.MethodGet,
		path:   "payments/",
		bearer: true,
		token:  token,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	payments := make([]models.Payment, 0, len(out))
	for _, p := range out {
		payments = append(payments, p.Model())
	}
	return payments, nil
}

// RequestOTP asks the server to mail a one-time code. The target address is
// resolved server-side from the token's subject.
func (c *Client) RequestOTP(ctx context.Context, token string) error {
	return c.do(ctx, call{
		op:     OpRequestOTP,
		method: http.MethodPost,
		path:   "student/request-otp/",
		bearer: true,
		token:  token,
	})
}

// VerifyOTP checks a one-time code.
func (c *Client) VerifyOTP(ctx context.Context, token, code string) error {
	return c.do(ctx, call{
		op:     OpVerifyOTP,
		method: http.MethodPost,
		path:   "student/verify-otp/",
		bearer: true,
		token:  token,
		body:   dto.VerifyOtpRequest{OTP: code},
	})
}

// SubmitPayment records payment evidence for a room. The call is not safe to
// repeat blindly: a TransportError with Ambiguous set means the server may
// already hold the submission.
func (c *Client) SubmitPayment(ctx context.Context, token string, p PaymentSubmission) (PaymentReceipt, error) {
	var out dto.PaymentResponse
	headers := map[string]string{}
	if p.IdempotencyKey != "" {
		headers[IdempotencyHeader] = p.IdempotencyKey
	}
	err := c.do(ctx, call{
		op:     OpSubmitPayment,
		method: http.MethodPost,
		path:   "student/make-payment/",
		bearer: true,
		token:  token,
		body: dto.PaymentRequest{
			RoomID:        p.RoomID,
			Amount:        p.Amount,
			TransactionID: p.TransactionReference,
		},
		out:       &out,
		headers:   headers,
		ambiguous: true,
	})
	if err != nil {
		return PaymentReceipt{}, err
	}
	return PaymentReceipt{PaymentID: out.PaymentID, Detail: c.clean(out.Detail)}, nil
}
