package middleware

import (
	"net/http"
	"strings"

	"github.com/hongminglow/hostel-portal/internal/requestid"
)

const maxRequestIDLen = 128

// RequestID makes sure every request carries a correlation id. An id sent by
// the caller is reused when it looks sane; otherwise a fresh one is minted.
// The id is echoed on the response and travels on to the hostel API.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestid.Header))
		if id == "" || len(id) > maxRequestIDLen || strings.ContainsAny(id, "\r\n") {
			id = requestid.New()
		}
		w.Header().Set(requestid.Header, id)
		next.ServeHTTP(w, r.WithContext(requestid.With(r.Context(), id)))
	})
}
