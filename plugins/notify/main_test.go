package main

import (
	"testing"

	"github.com/ayusman/repcoach/internal/plugin"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name      string
		req       plugin.Request
		wantTitle string
		wantBody  string
		wantErr   bool
	}{
		{
			name:      "started",
			req:       plugin.Request{Event: plugin.EventSessionStarted, Session: plugin.SessionInfo{ExerciseName: "Squat"}},
			wantTitle: "repcoach",
			wantBody:  "Squat session started",
		},
		{
			name:      "completed single rep",
			req:       plugin.Request{Event: plugin.EventSessionCompleted, Session: plugin.SessionInfo{Exercise: "push_up", Count: 1}},
			wantTitle: "Session complete",
			wantBody:  "push_up: 1 rep",
		},
		{
			name:      "completed and saved",
			req:       plugin.Request{Event: plugin.EventSessionCompleted, Session: plugin.SessionInfo{ExerciseName: "Shoulder Press", Count: 8, Saved: true}},
			wantTitle: "Session complete",
			wantBody:  "Shoulder Press: 8 reps (saved)",
		},
		{
			name:    "unknown event",
			req:     plugin.Request{Event: "session.paused"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body, err := message(tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("message() error = %v, wantErr %v", err, tt.wantErr)
			}
			if title != tt.wantTitle || body != tt.wantBody {
				t.Errorf("message() = %q, %q; want %q, %q", title, body, tt.wantTitle, tt.wantBody)
			}
		})
	}
}
