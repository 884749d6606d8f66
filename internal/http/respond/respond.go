// Package respond writes the portal's JSON envelope.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope wraps every JSON response of the portal.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a success response.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Error writes an error response without details.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Code: status, Message: message})
}

// Problem writes an error response with a user-facing action hint and
// optional details such as field errors or a redirect target.
func Problem(w http.ResponseWriter, status int, message, action string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Action: action, Data: data})
}

func write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("respond: encode payload failed", slog.Any("error", err))
	}
}
