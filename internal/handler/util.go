// Package handler provides HTTP handlers for the development server.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/healthbridge/chat-client/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{
		"detail": detail,
	})
}

// writeServiceError maps a service error to an HTTP response.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "unauthorized access to this chat")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
