package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is an HTTP-mapped error returned by api.Handler functions.
type Error struct {
	Status  int
	Message string
}

// Error implements error.
func (e *Error) Error() string { return e.Message }

// Errorf builds an *Error with a formatted message.
func Errorf(status int, format string, args ...any) error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an error as {"error": "..."}. Errors that are not
// *Error map to 500.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apiErr, ok := err.(*Error); ok {
		status = apiErr.Status
	}
	_ = WriteJSON(w, status, map[string]string{"error": err.Error()})
}
