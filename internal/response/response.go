// Package response writes the JSON envelope every API endpoint answers with.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Meta       any    `json:"meta,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Path       string `json:"path,omitempty"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response",
			"error", err,
			"path", r.URL.Path)
	}
}

// OK writes a successful envelope. meta may be nil.
func OK(w http.ResponseWriter, r *http.Request, data, meta any) {
	JSON(w, r, http.StatusOK, Envelope{Success: true, Data: data, Meta: meta})
}

// Fail writes an unsuccessful envelope. detail, when not empty, is
// reported as the error field.
func Fail(w http.ResponseWriter, r *http.Request, status int, message, detail string) {
	JSON(w, r, status, Envelope{Message: message, Error: detail})
}
