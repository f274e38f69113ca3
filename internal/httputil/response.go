// Package httputil holds the JSON response helpers shared by the admin
// handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/banshee-data/hitmerge/internal/reco"
)

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps a lookup or processing error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, reco.ErrNotFound), errors.Is(err, reco.ErrMissingCollection):
		return http.StatusNotFound
	case errors.Is(err, reco.ErrDegenerateGeometry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error with the status from StatusFor.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSONError(w, StatusFor(err), err.Error())
}

// MethodNotAllowed writes a 405 JSON error.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 JSON error.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}
