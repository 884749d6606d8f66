package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hongminglow/hostel-portal/internal/requestid"
)

// StatusRecorder receives the status code of every served request.
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Logging emits one structured access log line per request. The level is
// warn for 4xx and error for 5xx responses. rec may be nil.
func Logging(logger *slog.Logger, rec StatusRecorder) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)
			level := slog.LevelInfo
			switch {
			case sr.statusCode >= 500:
				level = slog.LevelError
			case sr.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sr.statusCode),
				slog.Float64("duration_ms", durationMs),
				slog.String("request_id", requestid.From(r.Context())),
			)
			if rec != nil {
				rec.RecordHTTPStatus(sr.statusCode)
			}
		})
	}
}
