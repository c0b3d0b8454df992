// Package main provides a result hook that shows desktop notifications.
// It uses AppleScript on macOS and notify-send elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/ayusman/repcoach/internal/plugin"
)

func main() {
	var req plugin.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	title, body, err := message(req)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}

	if err := notify(title, body); err != nil {
		writeErrorResponse(fmt.Sprintf("notification failed: %v", err))
		return
	}

	writeSuccessResponse()
}

// message builds the notification text for an event.
func message(req plugin.Request) (string, string, error) {
	name := req.Session.ExerciseName
	if name == "" {
		name = req.Session.Exercise
	}

	switch req.Event {
	case plugin.EventSessionStarted:
		return "repcoach", fmt.Sprintf("%s session started", name), nil
	case plugin.EventSessionCompleted:
		reps := "reps"
		if req.Session.Count == 1 {
			reps = "rep"
		}
		body := fmt.Sprintf("%s: %d %s", name, req.Session.Count, reps)
		if req.Session.Saved {
			body += " (saved)"
		}
		return "Session complete", body, nil
	default:
		return "", "", fmt.Errorf("unknown event: %s", req.Event)
	}
}

func notify(title, body string) error {
	if runtime.GOOS == "darwin" {
		return runAppleScript(fmt.Sprintf(`display notification %q with title %q`, body, title))
	}
	return run("notify-send", title, body)
}

// runAppleScript executes an AppleScript command and returns any error.
func runAppleScript(script string) error {
	return run("osascript", "-e", script)
}

func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(plugin.Response{
		Success: false,
		Error:   errMsg,
	})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(plugin.Response{Success: true})
}
