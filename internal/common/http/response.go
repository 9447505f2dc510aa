package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"x-auto-post-tool/internal/common/errors"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error errors.PublicError `json:"error"`
}

// WriteJSON writes v as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err in its public form, never leaking internal detail.
func WriteError(w http.ResponseWriter, err error) {
	pub := errors.Public(err)
	if pub.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(pub.RetryAfter))
	}
	WriteJSON(w, pub.Status, ErrorResponse{Error: pub})
}
