// Package api provides the HTTP handlers of the coach API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/exercise"
	"github.com/ayusman/repcoach/internal/session"
	"github.com/ayusman/repcoach/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Errorf("write response: %s", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeErr maps err to a status code and writes it.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("api: %s", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var srcErr *session.FrameSourceError
	switch {
	case errors.Is(err, exercise.ErrUnsupportedExercise),
		errors.Is(err, store.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, app.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &srcErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
