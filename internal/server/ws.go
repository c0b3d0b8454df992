package server

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/repcoach/internal/app"
	"github.com/ayusman/repcoach/internal/metrics"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// progressMessage is the JSON form of one update on the websocket feed.
type progressMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Exercise  string `json:"exercise,omitempty"`
	Frame     int64  `json:"frame,omitempty"`
	Count     int    `json:"count"`
	Delta     int    `json:"delta,omitempty"`
	Phase     string `json:"phase,omitempty"`
	// Angle is omitted for skipped frames.
	Angle   *float64     `json:"angle,omitempty"`
	Skipped string       `json:"skipped,omitempty"`
	Outcome *app.Outcome `json:"outcome,omitempty"`
}

func newProgressMessage(u app.Update) progressMessage {
	msg := progressMessage{Type: u.Type, SessionID: u.SessionID}
	if u.Type == app.UpdateFinished && u.Outcome != nil {
		msg.Exercise = string(u.Outcome.Result.Exercise)
		msg.Count = u.Outcome.Result.Count
		msg.Outcome = u.Outcome
		return msg
	}

	p := u.Progress
	msg.Exercise = string(p.Exercise)
	msg.Frame = p.Frame
	msg.Count = p.Count
	msg.Delta = p.Delta
	msg.Phase = p.Phase.String()
	msg.Skipped = p.Skipped
	if !math.IsNaN(p.Angle) {
		angle := math.Round(p.Angle*10) / 10
		msg.Angle = &angle
	}
	return msg
}

// ProgressHandler streams live session progress via WebSocket. The optional
// "session" query parameter limits the feed to one session.
type ProgressHandler struct {
	progress *app.Broadcaster
	metrics  *metrics.Manager

	quit     chan struct{}
	quitOnce sync.Once
}

// NewProgressHandler creates a new ProgressHandler over the coach's feed.
func NewProgressHandler(progress *app.Broadcaster, m *metrics.Manager) *ProgressHandler {
	return &ProgressHandler{
		progress: progress,
		metrics:  m,
		quit:     make(chan struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.metrics.WSClients(1)
	defer h.metrics.WSClients(-1)

	updates, cancel := h.progress.Subscribe(r.URL.Query().Get("session"))
	defer cancel()

	// Keep reading so that close frames from the client are noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-h.quit:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newProgressMessage(u)); err != nil {
				log.Debugf("websocket write: %v", err)
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *ProgressHandler) Close() {
	h.quitOnce.Do(func() { close(h.quit) })
}
