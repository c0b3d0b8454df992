package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/exercise"
	"github.com/ayusman/repcoach/internal/session"
	"github.com/ayusman/repcoach/internal/store"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unsupported exercise", fmt.Errorf("lookup: %w", exercise.ErrUnsupportedExercise), http.StatusBadRequest},
		{"invalid session", store.ErrInvalidSession, http.StatusBadRequest},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"live session not found", fmt.Errorf("%w: abc", app.ErrSessionNotFound), http.StatusNotFound},
		{"shutting down", app.ErrShuttingDown, http.StatusServiceUnavailable},
		{"frame source", &session.FrameSourceError{Op: "read", Frame: 3, Err: io.ErrUnexpectedEOF}, http.StatusUnprocessableEntity},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
