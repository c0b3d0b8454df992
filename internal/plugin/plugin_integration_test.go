package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// These tests run the hooks under plugins/ once they have been built with
// `go build -o plugins/<name>/<name> ./plugins/<name>`.

func TestPlugin_CSVLog_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pluginDir := findPluginDir("csv-log")
	if pluginDir == "" {
		t.Skip("csv-log plugin not built")
	}

	mgr := NewManager(filepath.Dir(pluginDir))
	if err := mgr.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	plug, err := mgr.Get("csv-log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	out := filepath.Join(t.TempDir(), "history.csv")
	req := &Request{
		Event: EventSessionCompleted,
		Session: SessionInfo{
			ID:        "it-1",
			Exercise:  "squat",
			Count:     15,
			StartedAt: time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC),
			EndedAt:   time.Date(2026, 1, 2, 8, 5, 0, 0, time.UTC),
		},
		Config: []byte(`{"path":"` + out + `"}`),
	}

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plug, req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !resp.Success {
		t.Fatalf("csv-log failed: %s", resp.Error)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("csv file not written: %v", err)
	}
	if !strings.Contains(string(data), "it-1,squat,15") {
		t.Errorf("unexpected csv content:\n%s", data)
	}
}

func TestPlugin_Notify_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pluginDir := findPluginDir("notify")
	if pluginDir == "" {
		t.Skip("notify plugin not built")
	}

	mgr := NewManager(filepath.Dir(pluginDir))
	if err := mgr.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	plug, err := mgr.Get("notify")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// An event the hook does not know is rejected without touching the desktop.
	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plug, &Request{Event: "session.paused"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Success {
		t.Error("expected failure for an unknown event")
	}
}

func findPluginDir(name string) string {
	candidates := []string{
		filepath.Join("../../plugins", name),
		filepath.Join("../../../plugins", name),
	}

	for _, dir := range candidates {
		manifest := filepath.Join(dir, "plugin.json")
		if _, err := os.Stat(manifest); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir
		}
	}
	return ""
}
