// Package main provides a result hook that appends completed sessions to a CSV file.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ayusman/repcoach/internal/plugin"
)

// Config is the hook configuration from the manifest or request.
type Config struct {
	Path string `json:"path"`
}

var header = []string{
	"id", "exercise", "count", "frames", "skipped",
	"started_at", "ended_at", "user_email", "source", "cancelled", "saved",
}

func main() {
	var req plugin.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(fmt.Errorf("failed to decode request: %w", err))
		return
	}

	if req.Event != plugin.EventSessionCompleted {
		writeResponse(fmt.Errorf("unsupported event: %s", req.Event))
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeResponse(fmt.Errorf("invalid config: %w", err))
			return
		}
	}

	writeResponse(appendRow(cfg.path(), req.Session))
}

func (c Config) path() string {
	if c.Path != "" {
		return c.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "repcoach-history.csv"
	}
	return filepath.Join(home, ".repcoach", "history.csv")
}

// appendRow writes one session, adding the header to a new file.
func appendRow(path string, s plugin.SessionInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(header); err != nil {
			return err
		}
	}

	err = w.Write([]string{
		s.ID,
		s.Exercise,
		strconv.Itoa(s.Count),
		strconv.FormatInt(s.Frames, 10),
		strconv.FormatInt(s.Skipped, 10),
		s.StartedAt.Format(time.RFC3339),
		s.EndedAt.Format(time.RFC3339),
		s.UserEmail,
		s.Source,
		strconv.FormatBool(s.Cancelled),
		strconv.FormatBool(s.Saved),
	})
	if err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}

// writeResponse writes a success response, or an error response when err is set.
func writeResponse(err error) {
	resp := plugin.Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
