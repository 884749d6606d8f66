// Package gateway is the HTTP transport to the remote hostel API. It exposes
// one fallible call per remote operation, attaches the bearer token it is
// handed, and maps failures onto the domain error taxonomy. It never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/requestid"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
	userAgent       = "hostel-portal/1.0"
)

// Operation names, used in errors, logs and metrics.
const (
	OpLogin          = "login"
	OpRefresh        = "refresh"
	OpFetchProfile   = "fetchProfile"
	OpUpdateProfile  = "updateProfile"
	OpChangePassword = "changePassword"
	OpListRooms      = "listRooms"
	OpListPayments   = "listPayments"
	OpRequestOTP     = "requestOtp"
	OpVerifyOTP      = "verifyOtp"
	OpSubmitPayment  = "submitPayment"
)

// Recorder receives one observation per remote call.
type Recorder interface {
	RecordCall(op, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordCall(string, string, time.Duration) {}

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the hostel API.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    Recorder
	baseURL    *url.URL
	timeout    time.Duration
	sanitizer  *bluemonday.Policy
}

// NewClient builds a client for cfg.BaseURL. A nil recorder disables metrics.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger, rec Recorder) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway base url must be http(s), got %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    rec,
		baseURL:    base,
		timeout:    timeout,
		sanitizer:  bluemonday.StrictPolicy(),
	}, nil
}

type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	bearer  bool
	token   string
	body    any
	out     any
	headers map[string]string
	// ambiguous marks calls whose effect may have landed when the response
	// is lost.
	ambiguous bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	ctx, _ = requestid.Ensure(ctx)
	start := time.Now()
	err := c.roundTrip(ctx, cl)
	c.metrics.RecordCall(cl.op, outcome(err), time.Since(start))
	if err != nil {
		c.logger.Warn("hostel api call failed",
			slog.String("op", cl.op),
			slog.String("request_id", requestid.From(ctx)),
			slog.String("error", err.Error()),
		)
		return err
	}
	c.logger.Debug("hostel api call succeeded",
		slog.String("op", cl.op),
		slog.String("request_id", requestid.From(ctx)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, cl call) error {
	if cl.bearer && cl.token == "" {
		return domain.SessionExpiredError{Msg: "not signed in"}
	}

	ref := &url.URL{Path: cl.path}
	if len(cl.query) > 0 {
		ref.RawQuery = cl.query.Encode()
	}
	target := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", cl.op, err)
		}
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, cl.method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(requestid.Header, requestid.From(ctx))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.bearer {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}
	for k, v := range cl.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailure(cl, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportFailure(cl, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.classify(cl, resp, raw)
	}
	if cl.out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, cl.out); err != nil {
		return domain.TransportError{Op: cl.op, Status: resp.StatusCode, Ambiguous: cl.ambiguous, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func transportFailure(cl call, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return domain.TransportError{
		Op:        cl.op,
		Timeout:   timeout,
		Ambiguous: cl.ambiguous && !dialFailure(err),
		Err:       err,
	}
}

// dialFailure reports errors raised before any byte reached the server.
func dialFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func (c *Client) classify(cl call, resp *http.Response, raw []byte) error {
	detail, fieldErrs := c.parseErrorBody(raw)
	status := resp.StatusCode

	switch {
	case status == http.StatusUnauthorized:
		if cl.op == OpLogin {
			return domain.AuthenticationError{Msg: orDefault(detail, "invalid credentials")}
		}
		return domain.SessionExpiredError{Msg: orDefault(detail, "session expired")}
	case status == http.StatusForbidden:
		if cl.op == OpRefresh {
			return domain.SessionExpiredError{Msg: orDefault(detail, "refresh token rejected")}
		}
		return domain.AuthenticationError{Msg: orDefault(detail, "not allowed")}
	case status == http.StatusNotFound:
		return domain.NotFoundError{Resource: resourceOf(cl.op)}
	case status == http.StatusConflict:
		return domain.ConflictError{Resource: resourceOf(cl.op), Msg: detail}
	case status == http.StatusTooManyRequests:
		return domain.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After")), Msg: detail}
	case status >= 500:
		return domain.TransportError{Op: cl.op, Status: status, Ambiguous: cl.ambiguous}
	}

	// Remaining 4xx: each operation reads the server's rejection differently.
	switch cl.op {
	case OpLogin:
		return domain.AuthenticationError{Msg: orDefault(detail, "invalid credentials")}
	case OpRefresh:
		return domain.SessionExpiredError{Msg: orDefault(detail, "refresh token rejected")}
	case OpVerifyOTP:
		return domain.InvalidCodeError{Msg: detail}
	case OpSubmitPayment:
		if len(fieldErrs) == 0 && seatConflict(detail) {
			return domain.ConflictError{Resource: "room", Msg: detail}
		}
	}
	if len(fieldErrs) > 0 {
		return fieldErrs
	}
	return domain.ValidationError{Msg: orDefault(detail, fmt.Sprintf("request rejected with status %d", status))}
}

// parseErrorBody understands both {"detail": "..."} and per-field
// {"field": ["msg", ...]} bodies. Server text is stripped of markup.
func (c *Client) parseErrorBody(raw []byte) (string, domain.ValidationErrors) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", nil
	}
	var detail string
	if msg, ok := generic["detail"]; ok {
		_ = json.Unmarshal(msg, &detail)
		return c.clean(detail), nil
	}
	var fieldErrs domain.ValidationErrors
	for field, msg := range generic {
		var list []string
		if err := json.Unmarshal(msg, &list); err != nil || len(list) == 0 {
			continue
		}
		fieldErrs = append(fieldErrs, domain.ValidationError{Field: field, Msg: c.clean(list[0])})
	}
	sort.Slice(fieldErrs, func(i, j int) bool { return fieldErrs[i].Field < fieldErrs[j].Field })
	return "", fieldErrs
}

func (c *Client) clean(s string) string {
	return strings.TrimSpace(c.sanitizer.Sanitize(s))
}

func seatConflict(detail string) bool {
	d := strings.ToLower(detail)
	return strings.Contains(d, "no available seats") || strings.Contains(d, "already have")
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func resourceOf(op string) string {
	switch op {
	case OpFetchProfile, OpUpdateProfile:
		return "profile"
	case OpListRooms:
		return "rooms"
	case OpListPayments:
		return "payments"
	case OpSubmitPayment:
		return "room"
	case OpRequestOTP, OpVerifyOTP:
		return "otp"
	default:
		return op
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsAuthentication(err):
		return "authentication"
	case domain.IsSessionExpired(err):
		return "session_expired"
	case domain.IsValidation(err):
		return "validation"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsRateLimit(err):
		return "rate_limited"
	case domain.IsInvalidCode(err):
		return "invalid_code"
	case domain.IsMalformedToken(err):
		return "malformed_token"
	case domain.IsTransport(err):
		var te domain.TransportError
		if errors.As(err, &te) && te.Timeout {
			return "timeout"
		}
		return "transport"
	default:
		return "error"
	}
}
