package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/store"
)

// DefaultHistoryLimit is the page size of GET /api/history.
const DefaultHistoryLimit = 50

// HistoryHandler serves the per-user exercise history.
type HistoryHandler struct {
	coach *app.Coach
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(coach *app.Coach) *HistoryHandler {
	return &HistoryHandler{coach: coach}
}

type createHistoryRequest struct {
	UserEmail string `json:"user_email"`
	Exercise  string `json:"exercise"`
	Count     int    `json:"count"`
	Date      string `json:"session_date"`
}

// store returns the history store or writes 503 when there is none.
func (h *HistoryHandler) store(w http.ResponseWriter) (*store.Store, bool) {
	s := h.coach.Store()
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not available")
		return nil, false
	}
	return s, true
}

// HandleList handles GET /api/history?user=...&limit=...
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w)
	if !ok {
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}

	sessions, err := s.Sessions().ListByUser(user, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// HandleSummary handles GET /api/history/summary?user=...
func (h *HistoryHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w)
	if !ok {
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	summary, err := s.Sessions().Summary(user)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days": summary,
	})
}

// HandleCreate handles POST /api/history, a manually entered session.
func (h *HistoryHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.store(w); !ok {
		return
	}

	var req createHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	entry := &store.Session{
		UserEmail: req.UserEmail,
		Exercise:  req.Exercise,
		Count:     req.Count,
		Date:      req.Date,
	}
	if err := h.coach.Record(entry); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// HandleDelete handles DELETE /api/history/{id}.
func (h *HistoryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w)
	if !ok {
		return
	}

	if err := s.Sessions().Delete(mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
