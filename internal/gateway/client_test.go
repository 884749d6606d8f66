package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/gateway/gatewaytest"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/requestid"
)

type recordedCall struct {
	op      string
	outcome string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordCall(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{op: op, outcome: outcome})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) (*Client, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	c, err := NewClient(Config{BaseURL: baseURL, Timeout: timeout}, nil, discardLogger(), rec)
	require.NoError(t, err)
	return c, rec
}

func signIn(t *testing.T, c *Client, email string) models.Credentials {
	t.Helper()
	creds, err := c.Login(context.Background(), email, gatewaytest.DefaultPassword)
	require.NoError(t, err)
	return creds
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "ftp://example.com"}, nil, nil, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "http://example.com/api"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/", c.baseURL.Path)
	assert.Equal(t, defaultTimeout, c.timeout)
}

func TestLogin(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("asha@example.edu", "Asha Rao", models.GenderFemale)

	c, rec := newTestClient(t, api.BaseURL(), time.Second)

	t.Run("success", func(t *testing.T) {
		creds := signIn(t, c, "asha@example.edu")
		assert.NotEmpty(t, creds.AccessToken)
		assert.NotEmpty(t, creds.RefreshToken)
		assert.NotEmpty(t, api.LastHeader("token/", requestid.Header))
		assert.Empty(t, api.LastHeader("token/", "Authorization"))
	})

	t.Run("bad credentials", func(t *testing.T) {
		_, err := c.Login(context.Background(), "asha@example.edu", "wrong-password")
		var authErr domain.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Contains(t, authErr.Msg, "No active account")
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.calls, 2)
	assert.Equal(t, recordedCall{op: OpLogin, outcome: "ok"}, rec.calls[0])
	assert.Equal(t, recordedCall{op: OpLogin, outcome: "authentication"}, rec.calls[1])
}

func TestRequestIDIsPropagated(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("asha@example.edu", "Asha Rao", models.GenderFemale)

	c, _ := newTestClient(t, api.BaseURL(), time.Second)
	ctx := requestid.With(context.Background(), "req-123")
	_, err := c.Login(ctx, "asha@example.edu", gatewaytest.DefaultPassword)
	require.NoError(t, err)
	assert.Equal(t, "req-123", api.LastHeader("token/", requestid.Header))
}

func TestBearerCalls(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("asha@example.edu", "Asha Rao", models.GenderFemale)

	c, _ := newTestClient(t, api.BaseURL(), time.Second)
	creds := signIn(t, c, "asha@example.edu")

	t.Run("attaches the token", func(t *testing.T) {
		profile, err := c.FetchProfile(context.Background(), creds.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "Asha Rao", profile.Name)
		assert.Equal(t, models.PaymentNone, profile.PaymentStatus)
		assert.False(t, profile.HasRoom())
		assert.Equal(t, "Bearer "+creds.AccessToken, api.LastHeader("students/my_profile/", "Authorization"))
	})

	t.Run("missing token never leaves the process", func(t *testing.T) {
		before := api.Calls("students/my_profile/")
		_, err := c.FetchProfile(context.Background(), "")
		assert.True(t, domain.IsSessionExpired(err))
		assert.Equal(t, before, api.Calls("students/my_profile/"))
	})

	t.Run("expired token is a session expiry", func(t *testing.T) {
		expired := api.IssueAccessToken(api.Student("asha@example.edu"), -time.Minute)
		_, err := c.FetchProfile(context.Background(), expired)
		assert.True(t, domain.IsSessionExpired(err))
	})
}

func TestRefresh(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("asha@example.edu", "Asha Rao", models.GenderFemale)

	c, _ := newTestClient(t, api.BaseURL(), time.Second)
	creds := signIn(t, c, "asha@example.edu")

	access, err := c.Refresh(context.Background(), creds.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, access)

	_, err = c.Refresh(context.Background(), creds.AccessToken)
	assert.True(t, domain.IsSessionExpired(err))
}

func TestListRoomsSendsFilter(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("ravi@example.edu", "Ravi Kumar", models.GenderMale)
	api.AddRoom("AC Double", "BH1", models.MenuVeg, 2, 3, "10000.00")
	api.AddRoom("Non-AC Six", "BH2", models.MenuNonVeg, 6, 5, "10000.00")
	api.AddRoom("AC Double", "GH2", models.MenuVeg, 2, 1, "12000.00")
	api.AddRoom("Full", "BH1", models.MenuVeg, 2, 0, "9000.00")

	c, _ := newTestClient(t, api.BaseURL(), time.Second)
	creds := signIn(t, c, "ravi@example.edu")

	rooms, err := c.ListRooms(context.Background(), creds.AccessToken, models.RoomFilter{Gender: models.GenderMale})
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	rooms, err = c.ListRooms(context.Background(), creds.AccessToken, models.RoomFilter{Gender: models.GenderMale, Menu: models.MenuVeg, Capacity: 2})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "AC Double", rooms[0].Category)
	assert.Equal(t, 10000.0, rooms[0].Price)
	assert.Equal(t, 3, rooms[0].AvailableSeats)
	assert.Len(t, rooms[0].Photos, 1)
}

func TestVerifyOTP(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("asha@example.edu", "Asha Rao", models.GenderFemale)

	c, _ := newTestClient(t, api.BaseURL(), time.Second)
	creds := signIn(t, c, "asha@example.edu")
	ctx := context.Background()

	require.NoError(t, c.RequestOTP(ctx, creds.AccessToken))
	code := api.LastOTP("asha@example.edu")
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	err := c.VerifyOTP(ctx, creds.AccessToken, wrong)
	var codeErr domain.InvalidCodeError
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "Invalid OTP", codeErr.Msg)

	require.NoError(t, c.VerifyOTP(ctx, creds.AccessToken, code))
}

func TestSubmitPayment(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("ravi@example.edu", "Ravi Kumar", models.GenderMale)
	room := api.AddRoom("AC Double", "BH1", models.MenuVeg, 2, 3, "10000.00")
	full := api.AddRoom("AC Single", "BH1", models.MenuVeg, 1, 0, "10000.00")

	c, _ := newTestClient(t, api.BaseURL(), time.Second)
	creds := signIn(t, c, "ravi@example.edu")
	ctx := context.Background()

	t.Run("idempotency key dedupes a resubmission", func(t *testing.T) {
		sub := PaymentSubmission{RoomID: room.ID, Amount: 18000, TransactionReference: "UTR-1", IdempotencyKey: "key-1"}
		first, err := c.SubmitPayment(ctx, creds.AccessToken, sub)
		require.NoError(t, err)
		assert.NotZero(t, first.PaymentID)
		assert.Equal(t, "key-1", api.LastHeader("student/make-payment/", IdempotencyHeader))

		second, err := c.SubmitPayment(ctx, creds.AccessToken, sub)
		require.NoError(t, err)
		assert.Equal(t, first.PaymentID, second.PaymentID)
		assert.Equal(t, 2, api.Seats(room.ID))

		payments, err := c.ListPayments(ctx, creds.AccessToken)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, models.PaymentPending, payments[0].Status)
		assert.Equal(t, "UTR-1", payments[0].TransactionReference)
	})

	t.Run("no seats is a conflict", func(t *testing.T) {
		_, err := c.SubmitPayment(ctx, creds.AccessToken, PaymentSubmission{RoomID: full.ID, Amount: 1, TransactionReference: "UTR-2"})
		var conflict domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "room", conflict.Resource)
	})

	t.Run("409 is a conflict", func(t *testing.T) {
		api.FailNext("student/make-payment/", http.StatusConflict, "seat taken")
		_, err := c.SubmitPayment(ctx, creds.AccessToken, PaymentSubmission{RoomID: room.ID, TransactionReference: "UTR-3"})
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("server error is ambiguous", func(t *testing.T) {
		api.FailNext("student/make-payment/", http.StatusBadGateway, "upstream")
		_, err := c.SubmitPayment(ctx, creds.AccessToken, PaymentSubmission{RoomID: room.ID, TransactionReference: "UTR-4"})
		var te domain.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadGateway, te.Status)
		assert.True(t, te.Ambiguous)
	})
}

func TestTimeout(t *testing.T) {
	api := gatewaytest.NewServer()
	defer api.Close()
	api.AddStudent("ravi@example.edu", "Ravi Kumar", models.GenderMale)

	c, rec := newTestClient(t, api.BaseURL(), 50*time.Millisecond)
	creds := signIn(t, c, "ravi@example.edu")

	api.DelayNext("student/make-payment/", time.Second)
	_, err := c.SubmitPayment(context.Background(), creds.AccessToken, PaymentSubmission{RoomID: 1, TransactionReference: "UTR"})
	var te domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.True(t, te.Ambiguous)

	api.DelayNext("students/my_profile/", time.Second)
	_, err = c.FetchProfile(context.Background(), creds.AccessToken)
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.False(t, te.Ambiguous)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "timeout", rec.calls[len(rec.calls)-1].outcome)
}

func TestUnreachableServerIsNotAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/api/"
	srv.Close()

	c, _ := newTestClient(t, base, time.Second)
	_, err := c.SubmitPayment(context.Background(), "token", PaymentSubmission{RoomID: 1, TransactionReference: "UTR"})
	var te domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Ambiguous)
	assert.False(t, te.Timeout)
}

func TestFieldErrorsAreSortedAndSanitized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"phone_number":["<b>Enter</b> a valid number."],"email":["Enter a valid email."]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, time.Second)
	phone := "abc"
	_, err := c.UpdateProfile(context.Background(), "token", models.ProfileUpdate{PhoneNumber: &phone})

	var errs domain.ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
	assert.Equal(t, "email", errs[0].Field)
	assert.Equal(t, "phone_number", errs[1].Field)
	assert.Equal(t, "Enter a valid number.", errs[1].Msg)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{"forbidden", http.StatusForbidden, nil, func(t *testing.T, err error) {
			assert.True(t, domain.IsAuthentication(err))
		}},
		{"not found", http.StatusNotFound, nil, func(t *testing.T, err error) {
			var nf domain.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, "profile", nf.Resource)
		}},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}, func(t *testing.T, err error) {
			var rl domain.RateLimitError
			require.ErrorAs(t, err, &rl)
			assert.Equal(t, 30*time.Second, rl.RetryAfter)
		}},
		{"unavailable", http.StatusServiceUnavailable, nil, func(t *testing.T, err error) {
			var te domain.TransportError
			require.ErrorAs(t, err, &te)
			assert.False(t, te.Ambiguous)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"detail":"nope"}`)
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv.URL, time.Second)
			_, err := c.FetchProfile(context.Background(), "token")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access": ""}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, time.Second)
	_, err := c.Login(context.Background(), "a@b.c", "secret")
	assert.True(t, domain.IsMalformedToken(err))
	assert.False(t, errors.Is(err, context.Canceled))
}
