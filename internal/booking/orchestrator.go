// Package booking runs the room booking transaction: room selection, OTP
// re-verification, payment evidence submission and confirmation.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/gateway"
	"github.com/hongminglow/hostel-portal/internal/models"
	"github.com/hongminglow/hostel-portal/internal/session"
	"github.com/hongminglow/hostel-portal/internal/validate"
)

// API is the subset of the hostel API used by the booking steps.
type API interface {
	RequestOTP(ctx context.Context, token string) error
	VerifyOTP(ctx context.Context, token, code string) error
	SubmitPayment(ctx context.Context, token string, p gateway.PaymentSubmission) (gateway.PaymentReceipt, error)
}

// Session supplies the authenticated identity to the booking steps.
type Session interface {
	AccessToken(ctx context.Context) (session.Grant, error)
	LoadProfile(ctx context.Context) (models.Profile, error)
	HandleError(ctx context.Context, g session.Grant, err error) error
}

// Recorder observes booking step transitions and lifecycle events.
type Recorder interface {
	RecordBookingStep(step models.BookingStep)
	RecordBookingEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBookingStep(models.BookingStep) {}
func (nopRecorder) RecordBookingEvent(string)            {}

// Config tunes the orchestrator.
type Config struct {
	BaseFee             int64
	ProfileRefreshDelay time.Duration
}

// Orchestrator holds at most one live booking transaction. Steps run one at
// a time; a response that arrives after the transaction was cancelled is
// discarded.
type Orchestrator struct {
	api     API
	session Session
	logger  *slog.Logger
	metrics Recorder
	cfg     Config
	now     func() time.Time

	mu   sync.Mutex
	tx   *models.BookingTransaction
	busy bool
	gen  uint64

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewOrchestrator builds an orchestrator. A nil recorder disables metrics.
func NewOrchestrator(api API, session Session, cfg Config, logger *slog.Logger, rec Recorder) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if cfg.BaseFee <= 0 {
		cfg.BaseFee = DefaultBaseFee
	}
	if cfg.ProfileRefreshDelay < 0 {
		cfg.ProfileRefreshDelay = 0
	}
	return &Orchestrator{
		api:     api,
		session: session,
		logger:  logger,
		metrics: rec,
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Current returns a copy of the live transaction.
func (o *Orchestrator) Current() (models.BookingTransaction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tx == nil {
		return models.BookingTransaction{}, false
	}
	return cloneTx(o.tx), true
}

// SelectRoom starts a transaction for room on behalf of the student
// described by profile.
func (o *Orchestrator) SelectRoom(room models.Room, profile models.Profile) (models.BookingTransaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tx != nil {
		return models.BookingTransaction{}, domain.StateError{Op: "selectRoom", State: string(o.tx.Step), Msg: "a booking is already in progress"}
	}
	if room.AvailableSeats <= 0 {
		o.metrics.RecordBookingEvent("rejected")
		return models.BookingTransaction{}, domain.ConflictError{Resource: "room", Msg: "no seats available"}
	}
	if profile.HasRoom() {
		o.metrics.RecordBookingEvent("rejected")
		return models.BookingTransaction{}, domain.ConflictError{Resource: "room", Msg: "you already have a room assignment"}
	}
	if profile.Gender != "" && room.Gender != "" && !strings.EqualFold(profile.Gender, room.Gender) {
		o.metrics.RecordBookingEvent("rejected")
		return models.BookingTransaction{}, domain.ValidationError{Field: "room", Msg: "room is reserved for " + room.Gender + " students"}
	}

	o.gen++
	o.tx = &models.BookingTransaction{
		ID:            uuid.NewString(),
		Room:          room,
		Step:          models.StepRoomDetails,
		PaymentAmount: PaymentAmount(room, o.cfg.BaseFee),
		History:       []models.BookingStep{models.StepRoomDetails},
		StartedAt:     o.now().UTC(),
	}
	o.metrics.RecordBookingEvent("selected")
	o.metrics.RecordBookingStep(models.StepRoomDetails)
	o.logger.Info("booking started",
		slog.String("booking_id", o.tx.ID),
		slog.Int64("room_id", room.ID),
		slog.Int64("amount", o.tx.PaymentAmount),
	)
	return cloneTx(o.tx), nil
}

// RequestOTP sends, or resends, the one-time code to the student's own
// address; the server resolves it from the token.
func (o *Orchestrator) RequestOTP(ctx context.Context) (models.BookingTransaction, error) {
	_, gen, err := o.begin("requestOtp", models.StepRoomDetails, models.StepOtpPending)
	if err != nil {
		return models.BookingTransaction{}, err
	}

	err = o.remote(ctx, func(token string) error {
		return o.api.RequestOTP(ctx, token)
	})
	return o.finish(gen, "requestOtp", err, func(tx *models.BookingTransaction) {
		o.advance(tx, models.StepOtpPending)
		tx.OtpChallengeActive = true
	})
}

// VerifyOTP checks code. On failure the transaction stays in OtpPending so
// the student can retry or resend.
func (o *Orchestrator) VerifyOTP(ctx context.Context, code string) (models.BookingTransaction, error) {
	_, gen, err := o.begin("verifyOtp", models.StepOtpPending)
	if err != nil {
		return models.BookingTransaction{}, err
	}
	if err := validate.Struct(validate.OTP{Code: strings.TrimSpace(code)}); err != nil {
		return o.finish(gen, "verifyOtp", err, nil)
	}

	err = o.remote(ctx, func(token string) error {
		return o.api.VerifyOTP(ctx, token, strings.TrimSpace(code))
	})
	return o.finish(gen, "verifyOtp", err, func(tx *models.BookingTransaction) {
		o.advance(tx, models.StepOtpVerified)
		tx.OtpChallengeActive = false
	})
}

// SubmitPayment submits the payment evidence. Every attempt of one
// transaction carries the same idempotency key. When a failed attempt may
// still have reached the server, further attempts are refused until
// ConfirmResubmission is called.
func (o *Orchestrator) SubmitPayment(ctx context.Context, transactionReference string) (models.BookingTransaction, error) {
	tx, gen, err := o.begin("submitPayment", models.StepOtpVerified)
	if err != nil {
		return models.BookingTransaction{}, err
	}
	if tx.ResubmitNeedsConfirmation {
		return o.finish(gen, "submitPayment", domain.StateError{
			Op:    "submitPayment",
			State: string(tx.Step),
			Msg:   "the previous submission may have been received; confirm before resubmitting",
		}, nil)
	}
	ref := strings.TrimSpace(transactionReference)
	if err := validate.Struct(validate.PaymentEvidence{TransactionReference: ref}); err != nil {
		return o.finish(gen, "submitPayment", err, nil)
	}

	var receipt gateway.PaymentReceipt
	err = o.remote(ctx, func(token string) error {
		var err error
		receipt, err = o.api.SubmitPayment(ctx, token, gateway.PaymentSubmission{
			RoomID:               tx.Room.ID,
			Amount:               tx.PaymentAmount,
			TransactionReference: ref,
			IdempotencyKey:       tx.ID,
		})
		return err
	})

	var te domain.TransportError
	if err != nil && errors.As(err, &te) && te.Ambiguous {
		o.mu.Lock()
		if o.gen == gen && o.tx != nil {
			o.tx.ResubmitNeedsConfirmation = true
			o.tx.TransactionReference = ref
		}
		o.mu.Unlock()
		o.logger.Warn("payment outcome unknown", slog.String("booking_id", tx.ID))
	}

	out, err := o.finish(gen, "submitPayment", err, func(tx *models.BookingTransaction) {
		o.advance(tx, models.StepPaymentSubmitted)
		o.advance(tx, models.StepConfirmed)
		tx.TransactionReference = ref
		tx.PaymentID = receipt.PaymentID
		tx.SubmittedAt = o.now().UTC()
		tx.ResubmitNeedsConfirmation = false
	})
	if err == nil {
		o.scheduleProfileRefresh()
	}
	return out, err
}

// ConfirmResubmission allows one more submission after an ambiguous failure.
func (o *Orchestrator) ConfirmResubmission() (models.BookingTransaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tx == nil || o.tx.Step != models.StepOtpVerified || !o.tx.ResubmitNeedsConfirmation {
		return models.BookingTransaction{}, domain.StateError{Op: "confirmResubmission", State: o.stateLocked(), Msg: "nothing to confirm"}
	}
	o.tx.ResubmitNeedsConfirmation = false
	return cloneTx(o.tx), nil
}

// Cancel drops a transaction that has not reached Confirmed. It issues no
// remote call; responses to calls already in flight are discarded. Cancelling
// when nothing is in progress is a no-op.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tx == nil {
		return nil
	}
	if o.tx.Step == models.StepConfirmed {
		return domain.StateError{Op: "cancel", State: string(o.tx.Step), Msg: "payment already submitted; acknowledge instead"}
	}
	o.logger.Info("booking cancelled", slog.String("booking_id", o.tx.ID), slog.String("step", string(o.tx.Step)))
	o.dropLocked("cancelled")
	return nil
}

// Acknowledge closes a Confirmed transaction.
func (o *Orchestrator) Acknowledge() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tx == nil || o.tx.Step != models.StepConfirmed {
		return domain.StateError{Op: "acknowledge", State: o.stateLocked()}
	}
	o.dropLocked("acknowledged")
	return nil
}

// Reset drops any transaction regardless of its step. It is used when the
// session ends.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tx != nil {
		o.dropLocked("reset")
	}
}

// Wait blocks until scheduled profile refreshes have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close abandons pending profile refreshes and waits for them to exit.
func (o *Orchestrator) Close() {
	o.once.Do(func() { close(o.stop) })
	o.wg.Wait()
}

func (o *Orchestrator) begin(op string, allowed ...models.BookingStep) (models.BookingTransaction, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tx == nil {
		return models.BookingTransaction{}, 0, domain.StateError{Op: op, State: o.stateLocked(), Msg: "no booking in progress"}
	}
	if o.busy {
		return models.BookingTransaction{}, 0, domain.StateError{Op: op, State: string(o.tx.Step), Msg: "another step is still running"}
	}
	if !slices.Contains(allowed, o.tx.Step) {
		return models.BookingTransaction{}, 0, domain.StateError{Op: op, State: string(o.tx.Step)}
	}
	o.busy = true
	return cloneTx(o.tx), o.gen, nil
}

// finish releases the step lock and, when err is nil, applies the success
// transition. Results for a dropped transaction are discarded.
func (o *Orchestrator) finish(gen uint64, op string, err error, apply func(*models.BookingTransaction)) (models.BookingTransaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen || o.tx == nil {
		o.logger.Info("discarding response for a dropped booking", slog.String("op", op))
		return models.BookingTransaction{}, domain.StateError{Op: op, State: o.stateLocked(), Msg: "booking was cancelled"}
	}
	o.busy = false
	if err != nil {
		o.logger.Warn("booking step failed",
			slog.String("op", op),
			slog.String("booking_id", o.tx.ID),
			slog.String("step", string(o.tx.Step)),
			slog.String("error", err.Error()),
		)
		return cloneTx(o.tx), err
	}
	if apply != nil {
		apply(o.tx)
	}
	return cloneTx(o.tx), nil
}

func (o *Orchestrator) remote(ctx context.Context, fn func(token string) error) error {
	g, err := o.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	return o.session.HandleError(ctx, g, fn(g.Token))
}

// advance moves tx forward to step. Steps never go backwards; re-entering
// the current step is allowed for OTP resends.
func (o *Orchestrator) advance(tx *models.BookingTransaction, step models.BookingStep) {
	if step.Rank() < tx.Step.Rank() {
		o.logger.Error("refusing to move booking backwards",
			slog.String("booking_id", tx.ID),
			slog.String("from", string(tx.Step)),
			slog.String("to", string(step)),
		)
		return
	}
	tx.Step = step
	tx.History = append(tx.History, step)
	o.metrics.RecordBookingStep(step)
	o.logger.Info("booking step advanced", slog.String("booking_id", tx.ID), slog.String("step", string(step)))
}

func (o *Orchestrator) dropLocked(event string) {
	o.tx = nil
	o.busy = false
	o.gen++
	o.metrics.RecordBookingEvent(event)
}

func (o *Orchestrator) stateLocked() string {
	if o.tx == nil {
		return "none"
	}
	return string(o.tx.Step)
}

// scheduleProfileRefresh re-fetches the profile once the server has had time
// to record the submission. Confirmation is admin-reviewed, so the refreshed
// status is normally Pending.
func (o *Orchestrator) scheduleProfileRefresh() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(o.cfg.ProfileRefreshDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-o.stop:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		profile, err := o.session.LoadProfile(ctx)
		if err != nil {
			o.logger.Warn("profile refresh after payment failed", slog.String("error", err.Error()))
			return
		}
		o.logger.Info("profile refreshed after payment", slog.String("payment_status", string(profile.PaymentStatus)))
	}()
}

func cloneTx(tx *models.BookingTransaction) models.BookingTransaction {
	out := *tx
	out.History = slices.Clone(tx.History)
	return out
}

// DisplayStep maps a booking step onto the four-step indicator shown to the
// student: room details, verify, pay, done.
func DisplayStep(step models.BookingStep) int {
	switch step {
	case models.StepRoomDetails:
		return 0
	case models.StepOtpPending:
		return 1
	case models.StepOtpVerified:
		return 2
	case models.StepPaymentSubmitted, models.StepConfirmed:
		return 3
	default:
		return 0
	}
}
