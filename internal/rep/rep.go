// Package rep implements the repetition state machine: a two-phase hysteresis
// counter over a joint angle.
//
// A repetition is one full cycle of reaching the down position
// (angle <= Down) and then the up position (angle >= Up). The gap between
// the two thresholds absorbs detector jitter around a single crossing point.
// There is no temporal smoothing: a crossing held for a single frame counts.
package rep

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when thresholds do not form a hysteresis band.
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Phase is the position of the state machine within one repetition.
type Phase int

const (
	// WaitingDown is the initial phase: the subject has not reached the down position.
	WaitingDown Phase = iota
	// WaitingUp means the subject reached down and must extend to finish the rep.
	WaitingUp
)

func (p Phase) String() string {
	switch p {
	case WaitingDown:
		return "waiting_down"
	case WaitingUp:
		return "waiting_up"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Thresholds are the angles, in degrees, bounding the hysteresis band.
type Thresholds struct {
	Down float64 `json:"down_threshold"`
	Up   float64 `json:"up_threshold"`
}

// Validate checks 0 <= Down < Up <= 180.
func (t Thresholds) Validate() error {
	if t.Down < 0 || t.Up > 180 {
		return fmt.Errorf("%w: down=%.1f up=%.1f outside [0,180]", ErrInvalidThresholds, t.Down, t.Up)
	}
	if t.Down >= t.Up {
		return fmt.Errorf("%w: down=%.1f must be below up=%.1f", ErrInvalidThresholds, t.Down, t.Up)
	}
	return nil
}

// State is everything the machine remembers between frames.
type State struct {
	Phase      Phase      `json:"phase"`
	Count      int        `json:"count"`
	Thresholds Thresholds `json:"thresholds"`
}

// NewState returns the initial state for the given thresholds.
func NewState(t Thresholds) State {
	return State{Phase: WaitingDown, Thresholds: t}
}

// Transition applies one angle sample to s and returns the next state.
// It depends only on s and angle. NaN angles leave the state unchanged.
func Transition(s State, angle float64) State {
	switch s.Phase {
	case WaitingDown:
		if angle <= s.Thresholds.Down {
			s.Phase = WaitingUp
		}
	case WaitingUp:
		if angle >= s.Thresholds.Up {
			s.Count++
			s.Phase = WaitingDown
		}
	}
	return s
}

// Event reports the effect of one observed sample.
type Event struct {
	Delta int   `json:"delta"`
	Phase Phase `json:"phase"`
	Count int   `json:"count"`
}

// Counter owns a State for the lifetime of one session.
// It is not safe for concurrent use.
type Counter struct {
	state State
}

// NewCounter returns a Counter in WaitingDown with a zero count.
func NewCounter(t Thresholds) (*Counter, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Counter{state: NewState(t)}, nil
}

// Observe feeds one angle sample to the machine.
func (c *Counter) Observe(angle float64) Event {
	next := Transition(c.state, angle)
	delta := next.Count - c.state.Count
	c.state = next
	return Event{Delta: delta, Phase: next.Phase, Count: next.Count}
}

// State returns a copy of the current state.
func (c *Counter) State() State {
	return c.state
}

// Count returns the number of completed repetitions.
func (c *Counter) Count() int {
	return c.state.Count
}

// Phase returns the current phase.
func (c *Counter) Phase() Phase {
	return c.state.Phase
}
