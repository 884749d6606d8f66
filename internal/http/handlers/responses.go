package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/guard"
	"github.com/hongminglow/hostel-portal/internal/http/respond"
	"github.com/hongminglow/hostel-portal/internal/requestid"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ValidationError{Msg: "invalid JSON payload", Err: err}
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes. SessionExpired is
// checked first because it may wrap a transport failure.
func statusFor(err error) int {
	var transport domain.TransportError
	switch {
	case domain.IsSessionExpired(err), domain.IsMalformedToken(err), domain.IsAuthentication(err):
		return http.StatusUnauthorized
	case domain.IsValidation(err), domain.IsInvalidCode(err):
		return http.StatusUnprocessableEntity
	case domain.IsConflict(err), domain.IsState(err):
		return http.StatusConflict
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsRateLimit(err):
		return http.StatusTooManyRequests
	case errors.As(err, &transport):
		if transport.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err with the shared envelope. Field errors, the
// login redirect and the ambiguity of a failed payment travel in data.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	data := map[string]any{}

	var (
		fields    domain.ValidationErrors
		field     domain.ValidationError
		limited   domain.RateLimitError
		transport domain.TransportError
	)
	switch {
	case errors.As(err, &fields):
		data["fields"] = fields.Fields()
	case errors.As(err, &field) && field.Field != "":
		data["fields"] = map[string]string{field.Field: field.Msg}
	}
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())))
	}
	if status == http.StatusUnauthorized && !domain.IsAuthentication(err) {
		// The session is gone; the browser starts over at the login view.
		h.booking.Reset()
		data["redirect"] = guard.LoginPath
	}
	if errors.As(err, &transport) && transport.Ambiguous {
		data["ambiguous"] = true
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestid.From(r.Context())),
			slog.Any("error", err),
		)
		message = "internal error"
	}
	if len(data) == 0 {
		data = nil
	}
	respond.Problem(w, status, message, domain.ActionFor(err), data)
}
