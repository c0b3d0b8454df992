package server

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/repcoach/internal/capture"
)

// StreamHandler serves an MJPEG camera preview so the user can check their
// framing before a live session. The camera belongs to live sessions, so
// the preview refuses to start while one is running.
type StreamHandler struct {
	open   func() capture.Source
	busy   func() bool
	period time.Duration
	active atomic.Bool

	quit      chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler creates a StreamHandler. fps <= 0 uses capture.DefaultFPS.
func NewStreamHandler(open func() capture.Source, fps int, busy func() bool) *StreamHandler {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return &StreamHandler{
		open:   open,
		busy:   busy,
		period: time.Second / time.Duration(fps),
		quit:   make(chan struct{}),
	}
}

// Close ends running previews and refuses new ones.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// ServeHTTP streams MJPEG frames to the client until it disconnects, a live
// session needs the camera or the handler is closed.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.quit:
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.busy() || !h.active.CompareAndSwap(false, true) {
		http.Error(w, "Camera is in use", http.StatusConflict)
		return
	}
	defer h.active.Store(false)

	src := h.open()
	if err := src.Open(); err != nil {
		http.Error(w, fmt.Sprintf("Camera unavailable: %v", err), http.StatusServiceUnavailable)
		return
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warnf("preview: close camera: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.quit:
			return
		case <-ticker.C:
		}

		if h.busy() {
			return
		}

		frame, err := src.ReadFrame()
		if err != nil {
			log.Debugf("preview: read frame: %v", err)
			return
		}
		if frame == nil {
			continue
		}
		if frame.Empty() {
			frame.Close()
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
		frame.Close()
		if err != nil {
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		w.Write(buf.GetBytes())
		fmt.Fprintf(w, "\r\n")
		buf.Close()

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
