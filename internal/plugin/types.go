// Package plugin runs result hooks: external executables notified when a
// session starts or finishes.
package plugin

import (
	"encoding/json"
	"time"
)

// Events a hook can subscribe to.
const (
	EventSessionStarted   = "session.started"
	EventSessionCompleted = "session.completed"
)

// Manifest describes a hook's metadata and the events it handles.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Events       []string        `json:"events"`
	Config       json.RawMessage `json:"config,omitempty"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// SessionInfo is the session summary handed to hooks.
type SessionInfo struct {
	ID           string    `json:"id"`
	UserEmail    string    `json:"user_email,omitempty"`
	Exercise     string    `json:"exercise"`
	ExerciseName string    `json:"exercise_name"`
	Source       string    `json:"source"`
	Count        int       `json:"count"`
	Frames       int64     `json:"frames"`
	Skipped      int64     `json:"skipped"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	Cancelled    bool      `json:"cancelled"`
	Saved        bool      `json:"saved"`
}

// Request is written as JSON to the hook's stdin.
type Request struct {
	Event   string          `json:"event"`
	Session SessionInfo     `json:"session"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Response is read as JSON from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered hook with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the hook subscribed to event.
func (p *Plugin) Handles(event string) bool {
	for _, e := range p.Manifest.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
