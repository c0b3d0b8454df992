// Package tray provides the system tray menu of the coach.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/repcoach/internal/exercise"
)

// Tray represents the system tray application. One live session runs at a
// time from the tray.
type Tray struct {
	exercises []exercise.Profile

	onStart func(id exercise.ID) error
	onStop  func()
	onOpen  func()
	onQuit  func()
	running exercise.ID
	mu      sync.RWMutex

	// Menu items stored for later updates
	menuStart []*systray.MenuItem
	menuStop  *systray.MenuItem
	menuLast  *systray.MenuItem
}

// New creates a new Tray offering one start item per exercise.
func New(exercises []exercise.Profile) *Tray {
	return &Tray{exercises: exercises}
}

// OnStart sets the callback run when an exercise is picked. A returned error
// leaves the tray idle.
func (t *Tray) OnStart(fn func(id exercise.ID) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStart = fn
}

// OnStop sets the callback run when the running session is stopped.
func (t *Tray) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// OnOpen sets the callback run when the dashboard menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("RepCoach")
	systray.SetTooltip("RepCoach exercise counter")

	t.mu.Lock()
	for _, p := range t.exercises {
		t.menuStart = append(t.menuStart, systray.AddMenuItem("Start "+p.Name, "Count "+p.Name+" reps with the camera"))
	}
	t.menuStop = systray.AddMenuItem("Stop", "Stop the running session")
	t.menuStop.Disable()
	systray.AddSeparator()

	t.menuLast = systray.AddMenuItem("Last: none", "Last finished session")
	t.menuLast.Disable()
	systray.AddSeparator()
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit RepCoach")

	for i, item := range t.menuStart {
		go func(id exercise.ID, item *systray.MenuItem) {
			for range item.ClickedCh {
				t.handleStart(id)
			}
		}(t.exercises[i].ID, item)
	}

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuStop.ClickedCh:
				t.handleStop()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleStart starts a session for id unless one is already running.
func (t *Tray) handleStart(id exercise.ID) {
	t.mu.Lock()
	if t.running != "" {
		t.mu.Unlock()
		return
	}
	callback := t.onStart
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(id); err != nil {
			t.SetLast("error: " + err.Error())
			return
		}
	}
	t.setRunning(id)
}

// handleStop handles the stop menu item click.
func (t *Tray) handleStop() {
	t.mu.RLock()
	running := t.running != ""
	callback := t.onStop
	t.mu.RUnlock()

	if !running {
		return
	}
	if callback != nil {
		callback()
	}
	t.setRunning("")
}

// handleOpen handles the dashboard menu item click.
func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

func (t *Tray) setRunning(id exercise.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = id
	for _, item := range t.menuStart {
		if id == "" {
			item.Enable()
		} else {
			item.Disable()
		}
	}
	if t.menuStop == nil {
		return
	}
	if id == "" {
		t.menuStop.SetTitle("Stop")
		t.menuStop.Disable()
	} else {
		t.menuStop.SetTitle("Stop " + t.name(id))
		t.menuStop.Enable()
	}
}

func (t *Tray) name(id exercise.ID) string {
	for _, p := range t.exercises {
		if p.ID == id {
			return p.Name
		}
	}
	return string(id)
}

// SessionEnded marks the tray idle and shows the final count.
func (t *Tray) SessionEnded(id exercise.ID, count int) {
	t.setRunning("")
	t.SetLast(fmt.Sprintf("%s, %d reps", t.name(id), count))
}

// SetLast updates the last session display in the menu.
func (t *Tray) SetLast(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLast != nil {
		if text == "" {
			t.menuLast.SetTitle("Last: none")
		} else {
			t.menuLast.SetTitle("Last: " + text)
		}
	}
}

// Running returns the exercise of the running session, or "" when idle.
func (t *Tray) Running() exercise.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Quit closes the tray and makes Run return.
func Quit() {
	systray.Quit()
}
