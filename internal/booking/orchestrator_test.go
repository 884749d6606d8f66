package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/gateway"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/session"
)

type fakeAPI struct {
	mu         sync.Mutex
	calls      map[string]int
	requestErr []error
	verifyErr  []error
	submitErr  []error
	submitted  []gateway.PaymentSubmission
	gate       chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: make(map[string]int)}
}

func (f *fakeAPI) enter(op string, queue *[]error) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gate
	var err error
	if len(*queue) > 0 {
		err = (*queue)[0]
		*queue = (*queue)[1:]
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) RequestOTP(ctx context.Context, token string) error {
	return f.enter("requestOtp", &f.requestErr)
}

func (f *fakeAPI) VerifyOTP(ctx context.Context, token, code string) error {
	if err := f.enter("verifyOtp", &f.verifyErr); err != nil {
		return err
	}
	if code != "123456" {
		return domain.InvalidCodeError{Msg: "Invalid OTP"}
	}
	return nil
}

func (f *fakeAPI) SubmitPayment(ctx context.Context, token string, p gateway.PaymentSubmission) (gateway.PaymentReceipt, error) {
	if err := f.enter("submitPayment", &f.submitErr); err != nil {
		return gateway.PaymentReceipt{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, p)
	return gateway.PaymentReceipt{PaymentID: 42, Detail: "Payment submitted successfully."}, nil
}

type fakeSession struct {
	mu       sync.Mutex
	tokenErr error
	loads    int
	handled  []error
}

func (s *fakeSession) AccessToken(ctx context.Context) (session.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return session.Grant{}, s.tokenErr
	}
	return session.Grant{Token: "token"}, nil
}

func (s *fakeSession) LoadProfile(ctx context.Context) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return models.Profile{PaymentStatus: models.PaymentPending}, nil
}

func (s *fakeSession) HandleError(ctx context.Context, g session.Grant, err error) error {
	if err != nil {
		s.mu.Lock()
		s.handled = append(s.handled, err)
		s.mu.Unlock()
	}
	return err
}

func (s *fakeSession) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

var (
	acDouble = models.Room{ID: 7, Category: "AC Double", Location: "BH1", PaxPerRoom: 2, AvailableSeats: 3, Gender: models.GenderMale}
	student  = models.Profile{ID: 1, Name: "Ravi Kumar", Email: "ravi@example.edu", Gender: models.GenderMale, PaymentStatus: models.PaymentNone}
)

func newTestOrchestrator(t *testing.T, delay time.Duration) (*Orchestrator, *fakeAPI, *fakeSession) {
	t.Helper()
	api := newFakeAPI()
	sess := &fakeSession{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(api, sess, Config{BaseFee: DefaultBaseFee, ProfileRefreshDelay: delay}, logger, nil)
	t.Cleanup(o.Close)
	return o, api, sess
}

// advanceTo drives a fresh transaction up to step.
func advanceTo(t *testing.T, o *Orchestrator, step models.BookingStep) {
	t.Helper()
	ctx := context.Background()
	_, err := o.SelectRoom(acDouble, student)
	require.NoError(t, err)
	if step == models.StepRoomDetails {
		return
	}
	_, err = o.RequestOTP(ctx)
	require.NoError(t, err)
	if step == models.StepOtpPending {
		return
	}
	_, err = o.VerifyOTP(ctx, "123456")
	require.NoError(t, err)
}

func assertMonotonic(t *testing.T, history []models.BookingStep) {
	t.Helper()
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if cur == prev {
			assert.Equal(t, models.StepOtpPending, cur, "only OTP resends may repeat a step: %v", history)
			continue
		}
		assert.Greater(t, cur.Rank(), prev.Rank(), "history went backwards: %v", history)
	}
}

func TestAdvanceNeverMovesBackwards(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 0)
	tx := &models.BookingTransaction{
		ID:      "b-1",
		Step:    models.StepOtpVerified,
		History: []models.BookingStep{models.StepRoomDetails, models.StepOtpPending, models.StepOtpVerified},
	}

	o.advance(tx, models.StepOtpPending)
	assert.Equal(t, models.StepOtpVerified, tx.Step)
	assert.Len(t, tx.History, 3)

	o.advance(tx, models.StepPaymentSubmitted)
	assert.Equal(t, models.StepPaymentSubmitted, tx.Step)
	assertMonotonic(t, tx.History)

	resend := &models.BookingTransaction{ID: "b-2", Step: models.StepOtpPending, History: []models.BookingStep{models.StepRoomDetails, models.StepOtpPending}}
	o.advance(resend, models.StepOtpPending)
	assert.Equal(t, models.StepOtpPending, resend.Step)
	assert.Len(t, resend.History, 3)
}

func TestHappyPath(t *testing.T) {
	o, api, sess := newTestOrchestrator(t, 0)
	ctx := context.Background()

	tx, err := o.SelectRoom(acDouble, student)
	require.NoError(t, err)
	assert.Equal(t, models.StepRoomDetails, tx.Step)
	assert.Equal(t, int64(18000), tx.PaymentAmount)
	assert.NotEmpty(t, tx.ID)

	tx, err = o.RequestOTP(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StepOtpPending, tx.Step)
	assert.True(t, tx.OtpChallengeActive)

	tx, err = o.VerifyOTP(ctx, " 123456 ")
	require.NoError(t, err)
	assert.Equal(t, models.StepOtpVerified, tx.Step)
	assert.False(t, tx.OtpChallengeActive)

	tx, err = o.SubmitPayment(ctx, "UTR-998877")
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, tx.Step)
	assert.Equal(t, int64(42), tx.PaymentID)
	assert.Equal(t, "UTR-998877", tx.TransactionReference)
	assert.False(t, tx.SubmittedAt.IsZero())
	assert.Equal(t, []models.BookingStep{
		models.StepRoomDetails,
		models.StepOtpPending,
		models.StepOtpVerified,
		models.StepPaymentSubmitted,
		models.StepConfirmed,
	}, tx.History)

	require.Len(t, api.submitted, 1)
	assert.Equal(t, gateway.PaymentSubmission{
		RoomID:               acDouble.ID,
		Amount:               18000,
		TransactionReference: "UTR-998877",
		IdempotencyKey:       tx.ID,
	}, api.submitted[0])

	o.Wait()
	assert.Equal(t, 1, sess.loadCount())

	require.NoError(t, o.Acknowledge())
	_, ok := o.Current()
	assert.False(t, ok)
}

func TestSelectRoomPreconditions(t *testing.T) {
	t.Run("no seats", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, 0)
		full := acDouble
		full.AvailableSeats = 0
		_, err := o.SelectRoom(full, student)
		assert.True(t, domain.IsConflict(err))
		_, ok := o.Current()
		assert.False(t, ok)
	})

	t.Run("student already has a room", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, 0)
		housed := student
		housed.Room = &models.RoomRef{ID: 3}
		_, err := o.SelectRoom(acDouble, housed)
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("room for another gender", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, 0)
		other := acDouble
		other.Gender = models.GenderFemale
		_, err := o.SelectRoom(other, student)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("one live transaction", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, 0)
		first, err := o.SelectRoom(acDouble, student)
		require.NoError(t, err)
		_, err = o.SelectRoom(acDouble, student)
		assert.True(t, domain.IsState(err))
		cur, ok := o.Current()
		require.True(t, ok)
		assert.Equal(t, first.ID, cur.ID)
	})
}

func TestSubmitPaymentOutsideOtpVerified(t *testing.T) {
	for _, step := range []models.BookingStep{models.StepRoomDetails, models.StepOtpPending} {
		t.Run(string(step), func(t *testing.T) {
			o, api, _ := newTestOrchestrator(t, 0)
			advanceTo(t, o, step)

			_, err := o.SubmitPayment(context.Background(), "UTR-1")
			var stateErr domain.StateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, string(step), stateErr.State)
			assert.Zero(t, api.count("submitPayment"))

			cur, _ := o.Current()
			assert.Equal(t, step, cur.Step)
		})
	}

	t.Run("no transaction", func(t *testing.T) {
		o, api, _ := newTestOrchestrator(t, 0)
		_, err := o.SubmitPayment(context.Background(), "UTR-1")
		assert.True(t, domain.IsState(err))
		assert.Zero(t, api.count("submitPayment"))
	})
}

func TestVerifyFailureAllowsResend(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()
	advanceTo(t, o, models.StepOtpPending)

	tx, err := o.VerifyOTP(ctx, "000000")
	assert.True(t, domain.IsInvalidCode(err))
	assert.Equal(t, models.StepOtpPending, tx.Step)
	assert.True(t, tx.OtpChallengeActive)

	tx, err = o.RequestOTP(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StepOtpPending, tx.Step)
	assert.Equal(t, 2, api.count("requestOtp"))
	assert.Equal(t, int64(18000), tx.PaymentAmount)
	assert.Equal(t, acDouble.ID, tx.Room.ID)

	tx, err = o.VerifyOTP(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, models.StepOtpVerified, tx.Step)
	assertMonotonic(t, tx.History)
	assert.Equal(t, []models.BookingStep{
		models.StepRoomDetails,
		models.StepOtpPending,
		models.StepOtpPending,
		models.StepOtpVerified,
	}, tx.History)
}

func TestVerifyValidatesCode(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepOtpPending)

	_, err := o.VerifyOTP(context.Background(), "   ")
	assert.True(t, domain.IsValidation(err))
	assert.Zero(t, api.count("verifyOtp"))

	// The step lock is released after a validation failure.
	tx, err := o.VerifyOTP(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, models.StepOtpVerified, tx.Step)
}

func TestVerifyOnlyFromOtpPending(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepRoomDetails)
	_, err := o.VerifyOTP(context.Background(), "123456")
	assert.True(t, domain.IsState(err))
	assert.Zero(t, api.count("verifyOtp"))
}

func TestRequestOTPFailureKeepsStep(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	api.requestErr = []error{domain.RateLimitError{RetryAfter: time.Minute}}
	advanceTo(t, o, models.StepRoomDetails)

	tx, err := o.RequestOTP(context.Background())
	assert.True(t, domain.IsRateLimit(err))
	assert.Equal(t, models.StepRoomDetails, tx.Step)
	assert.False(t, tx.OtpChallengeActive)

	tx, err = o.RequestOTP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepOtpPending, tx.Step)
}

func TestAmbiguousPaymentNeedsConfirmation(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()
	advanceTo(t, o, models.StepOtpVerified)
	api.submitErr = []error{domain.TransportError{Op: "submitPayment", Timeout: true, Ambiguous: true}}

	tx, err := o.SubmitPayment(ctx, "UTR-1")
	assert.True(t, domain.IsTransport(err))
	assert.Equal(t, models.StepOtpVerified, tx.Step)
	assert.True(t, tx.ResubmitNeedsConfirmation)

	_, err = o.SubmitPayment(ctx, "UTR-1")
	assert.True(t, domain.IsState(err))
	assert.Equal(t, 1, api.count("submitPayment"))

	tx, err = o.ConfirmResubmission()
	require.NoError(t, err)
	assert.False(t, tx.ResubmitNeedsConfirmation)

	tx, err = o.SubmitPayment(ctx, "UTR-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, tx.Step)
	require.Len(t, api.submitted, 1)
	assert.Equal(t, tx.ID, api.submitted[0].IdempotencyKey)
}

func TestUnambiguousPaymentFailureAllowsResubmit(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()
	advanceTo(t, o, models.StepOtpVerified)
	api.submitErr = []error{domain.ValidationError{Field: "transaction_id", Msg: "already used"}}

	tx, err := o.SubmitPayment(ctx, "UTR-1")
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, models.StepOtpVerified, tx.Step)
	assert.False(t, tx.ResubmitNeedsConfirmation)

	tx, err = o.SubmitPayment(ctx, "UTR-2")
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, tx.Step)
}

func TestSubmitPaymentValidatesReference(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepOtpVerified)
	_, err := o.SubmitPayment(context.Background(), "")
	assert.True(t, domain.IsValidation(err))
	assert.Zero(t, api.count("submitPayment"))
}

func TestConfirmResubmissionWithoutAmbiguity(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepOtpVerified)
	_, err := o.ConfirmResubmission()
	assert.True(t, domain.IsState(err))
}

func TestCancelDiscardsInFlightResponse(t *testing.T) {
	o, api, _ := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepRoomDetails)
	api.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := o.RequestOTP(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return api.count("requestOtp") == 1 }, time.Second, 5*time.Millisecond)

	_, err := o.RequestOTP(context.Background())
	assert.True(t, domain.IsState(err), "a second step must not overlap the first")

	require.NoError(t, o.Cancel())
	close(api.gate)

	assert.True(t, domain.IsState(<-done))
	_, ok := o.Current()
	assert.False(t, ok)

	// A new transaction starts clean.
	api.gate = nil
	tx, err := o.SelectRoom(acDouble, student)
	require.NoError(t, err)
	assert.Equal(t, models.StepRoomDetails, tx.Step)
}

func TestCancelAndAcknowledgeRules(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 0)
	require.NoError(t, o.Cancel())

	advanceTo(t, o, models.StepOtpVerified)
	assert.True(t, domain.IsState(o.Acknowledge()))

	_, err := o.SubmitPayment(context.Background(), "UTR-1")
	require.NoError(t, err)
	assert.True(t, domain.IsState(o.Cancel()))
	require.NoError(t, o.Acknowledge())
	assert.True(t, domain.IsState(o.Acknowledge()))
}

func TestResetDropsConfirmedTransaction(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepOtpVerified)
	_, err := o.SubmitPayment(context.Background(), "UTR-1")
	require.NoError(t, err)

	o.Reset()
	_, ok := o.Current()
	assert.False(t, ok)
}

func TestExpiredSessionStopsStep(t *testing.T) {
	o, api, sess := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepRoomDetails)
	sess.tokenErr = domain.SessionExpiredError{}

	tx, err := o.RequestOTP(context.Background())
	assert.True(t, domain.IsSessionExpired(err))
	assert.Equal(t, models.StepRoomDetails, tx.Step)
	assert.Zero(t, api.count("requestOtp"))
}

func TestRemoteErrorsReachTheSession(t *testing.T) {
	o, api, sess := newTestOrchestrator(t, 0)
	advanceTo(t, o, models.StepRoomDetails)
	expired := domain.SessionExpiredError{Msg: "token rejected"}
	api.requestErr = []error{expired}

	_, err := o.RequestOTP(context.Background())
	assert.True(t, errors.Is(err, expired))
	require.Len(t, sess.handled, 1)
	assert.Equal(t, expired, sess.handled[0])
}

func TestCloseAbandonsPendingRefresh(t *testing.T) {
	o, _, sess := newTestOrchestrator(t, time.Hour)
	advanceTo(t, o, models.StepOtpVerified)
	_, err := o.SubmitPayment(context.Background(), "UTR-1")
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	assert.Zero(t, sess.loadCount())
}

func TestDisplayStep(t *testing.T) {
	assert.Equal(t, 0, DisplayStep(models.StepRoomDetails))
	assert.Equal(t, 1, DisplayStep(models.StepOtpPending))
	assert.Equal(t, 2, DisplayStep(models.StepOtpVerified))
	assert.Equal(t, 3, DisplayStep(models.StepPaymentSubmitted))
	assert.Equal(t, 3, DisplayStep(models.StepConfirmed))
}
