package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/exercise"
)

// DefaultMaxUpload caps video uploads when no limit is configured.
const DefaultMaxUpload = 200 << 20

// SessionHandler runs live and uploaded-video sessions.
type SessionHandler struct {
	coach     *app.Coach
	maxUpload int64
	uploadDir string
}

// NewSessionHandler creates a SessionHandler. Uploads are spooled to
// uploadDir, or the system temp dir when it is empty.
func NewSessionHandler(coach *app.Coach, maxUpload int64, uploadDir string) *SessionHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &SessionHandler{coach: coach, maxUpload: maxUpload, uploadDir: uploadDir}
}

type startRequest struct {
	Exercise  string `json:"exercise"`
	UserEmail string `json:"user_email"`
	Save      string `json:"save"`
}

func (r startRequest) options() (app.StartOptions, error) {
	mode, err := app.ParseSaveMode(r.Save)
	if err != nil {
		return app.StartOptions{}, err
	}
	return app.StartOptions{Exercise: r.Exercise, UserEmail: r.UserEmail, Save: mode}, nil
}

// HandleExercises handles GET /api/exercises.
func (h *SessionHandler) HandleExercises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exercises": h.coach.Exercises(),
	})
}

// HandleListLive handles GET /api/sessions/live.
func (h *SessionHandler) HandleListLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.coach.Live(),
	})
}

// HandleStartLive handles POST /api/sessions/live.
func (h *SessionHandler) HandleStartLive(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.coach.StartLive(opts)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// HandleStopLive handles DELETE /api/sessions/live/{id}.
func (h *SessionHandler) HandleStopLive(w http.ResponseWriter, r *http.Request) {
	out, err := h.coach.StopLive(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleLast handles GET /api/sessions/last.
func (h *SessionHandler) HandleLast(w http.ResponseWriter, r *http.Request) {
	out, ok := h.coach.LastOutcome()
	if !ok {
		writeError(w, http.StatusNotFound, "No finished session")
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleAnalyzeVideo handles POST /api/sessions/video. The request is a
// multipart form with the clip in the "video" field and the exercise,
// user_email and save fields. The response carries the outcome even when
// the video could not be read to the end.
func (h *SessionHandler) HandleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := startRequest{
		Exercise:  r.FormValue("exercise"),
		UserEmail: r.FormValue("user_email"),
		Save:      r.FormValue("save"),
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := exercise.Parse(opts.Exercise); err != nil {
		writeErr(w, err)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Video file is required")
		return
	}
	defer file.Close()

	path, err := h.spool(file, filepath.Ext(header.Filename))
	if err != nil {
		writeErr(w, err)
		return
	}
	defer os.Remove(path)

	out, err := h.coach.AnalyzeVideo(r.Context(), path, opts)
	if err != nil {
		if out.Result.ID == "" {
			writeErr(w, err)
			return
		}
		writeJSON(w, statusFor(err), out)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// spool copies an upload to a temporary file, because the decoder reads
// videos by path.
func (h *SessionHandler) spool(src io.Reader, ext string) (string, error) {
	tmp, err := os.CreateTemp(h.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close upload file: %w", err)
	}

	log.WithField("path", tmp.Name()).Debug("video upload spooled")
	return tmp.Name(), nil
}
