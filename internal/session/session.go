// Package session drives one exercise session: it pulls frames from a source,
// runs them through detection, angle extraction and the rep counter, and
// returns the final result.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"

	"github.com/ayusman/repcoach/internal/angle"
	"github.com/ayusman/repcoach/internal/capture"
	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/exercise"
	"github.com/ayusman/repcoach/internal/metrics"
	"github.com/ayusman/repcoach/internal/rep"
)

// ErrAlreadyRun is returned when Run is called a second time on a Controller.
var ErrAlreadyRun = errors.New("session already run")

// EndReason tells why a session stopped pulling frames.
type EndReason string

const (
	EndExhausted   EndReason = "exhausted"
	EndStopped     EndReason = "stopped"
	EndCancelled   EndReason = "cancelled"
	EndSourceError EndReason = "source_error"
)

// FrameSourceError reports a source that could not be opened or read.
type FrameSourceError struct {
	Op    string
	Frame int64
	Err   error
}

func (e *FrameSourceError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("frame source open: %v", e.Err)
	}
	return fmt.Sprintf("frame source %s at frame %d: %v", e.Op, e.Frame, e.Err)
}

func (e *FrameSourceError) Unwrap() error {
	return e.Err
}

// Progress is published to the observer after every frame.
type Progress struct {
	SessionID string      `json:"session_id"`
	Exercise  exercise.ID `json:"exercise"`
	Frame     int64       `json:"frame"`
	Count     int         `json:"count"`
	Delta     int         `json:"delta"`
	Phase     rep.Phase   `json:"phase"`
	// Angle is NaN when the frame was skipped.
	Angle   float64 `json:"-"`
	Skipped string  `json:"skipped,omitempty"`
}

// Observer receives live progress. It runs on the session goroutine and
// must not block.
type Observer func(Progress)

// Result is the outcome of one session.
type Result struct {
	ID              string           `json:"id"`
	Exercise        exercise.ID      `json:"exercise"`
	ExerciseName    string           `json:"exercise_name"`
	Count           int              `json:"final_count"`
	FramesRead      int64            `json:"frames_read"`
	FramesProcessed int64            `json:"frames_processed"`
	FramesSkipped   int64            `json:"frames_skipped"`
	SkipReasons     map[string]int64 `json:"skip_reasons,omitempty"`
	OverBudget      int64            `json:"over_budget"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	End             EndReason        `json:"end"`
	Cancelled       bool             `json:"cancelled"`
}

// Duration returns how long the session ran.
func (r Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Config configures a Controller.
type Config struct {
	// ID is generated when empty.
	ID       string
	Profile  exercise.Profile
	Detector detector.Detector
	// MinConfidence is the landmark visibility threshold. Zero uses
	// detector.DefaultConfig.
	MinConfidence float64
	// FPS paces unbounded sources and sets the per-frame budget. Zero uses
	// capture.DefaultFPS.
	FPS int
	// MotionThreshold enables the still-frame gate on unbounded sources when
	// positive. It is the changed-pixel percentage that counts as movement.
	MotionThreshold float64
	Observer        Observer
	Metrics         *metrics.Manager
	Logger          log.FieldLogger
}

// Controller runs a single session. Create one per session.
type Controller struct {
	cfg     Config
	id      string
	counter *rep.Counter
	adapter *detector.Adapter
	log     log.FieldLogger
	budget  time.Duration

	// resting is set while the last sample sat at or above the up threshold
	// with no rep in progress. Only then may the motion gate skip frames.
	resting bool

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New validates cfg and builds a Controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("session profile: %w", err)
	}
	if cfg.Detector == nil {
		return nil, errors.New("session: no detector")
	}

	counter, err := rep.NewCounter(cfg.Profile.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("session profile %s: %w", cfg.Profile.ID, err)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = detector.DefaultConfig().MinConfidence
	}
	if cfg.FPS <= 0 {
		cfg.FPS = capture.DefaultFPS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Controller{
		cfg:     cfg,
		id:      cfg.ID,
		counter: counter,
		adapter: detector.NewAdapter(cfg.MinConfidence),
		log: logger.WithFields(log.Fields{
			"session":  cfg.ID,
			"exercise": cfg.Profile.ID,
		}),
		budget: time.Second / time.Duration(cfg.FPS),
		stopCh: make(chan struct{}),
	}, nil
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Profile returns the exercise profile the session counts.
func (c *Controller) Profile() exercise.Profile {
	return c.cfg.Profile
}

// Stop asks Run to return after the current frame. It may be called from any
// goroutine, any number of times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Run opens src, processes it until it ends, Stop is called or ctx is done,
// and closes src exactly once before returning.
//
// Ending by Stop or ctx is not an error: the partial result comes back with
// Cancelled set. A source that fails to open or read returns the partial
// result along with a *FrameSourceError.
func (c *Controller) Run(ctx context.Context, src capture.Source) (res Result, err error) {
	if !c.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}

	res = Result{
		ID:           c.id,
		Exercise:     c.cfg.Profile.ID,
		ExerciseName: c.cfg.Profile.Name,
		SkipReasons:  make(map[string]int64),
		StartedAt:    time.Now(),
	}

	defer func() {
		if cerr := src.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close frame source: %w", cerr))
		}
		res.Count = c.counter.Count()
		res.EndedAt = time.Now()
		res.Cancelled = res.End == EndStopped || res.End == EndCancelled

		c.log.WithFields(log.Fields{
			"count":    res.Count,
			"frames":   res.FramesRead,
			"skipped":  res.FramesSkipped,
			"end":      res.End,
			"duration": res.Duration().Round(time.Millisecond),
		}).Info("session finished")
	}()

	if oerr := src.Open(); oerr != nil {
		res.End = EndSourceError
		return res, &FrameSourceError{Op: "open", Err: oerr}
	}

	bounded := src.Bounded()
	c.log.WithField("bounded", bounded).Info("session started")

	var gate *capture.MotionGate
	if !bounded && c.cfg.MotionThreshold > 0 {
		gate = capture.NewMotionGate(c.cfg.MotionThreshold)
		defer gate.Close()
	}

	// Unbounded sources are paced; bounded ones are read as fast as they decode.
	var tick <-chan time.Time
	if !bounded {
		ticker := time.NewTicker(c.budget)
		defer ticker.Stop()
		tick = ticker.C
	}

	clock := newFrameClock(src, res.StartedAt)

	for index := int64(0); ; index++ {
		if end, done := c.checkStop(ctx, tick); done {
			res.End = end
			return res, nil
		}

		frame, rerr := src.ReadFrame()
		if errors.Is(rerr, io.EOF) {
			res.End = EndExhausted
			return res, nil
		}
		if rerr != nil {
			res.End = EndSourceError
			return res, &FrameSourceError{Op: "read", Frame: index, Err: rerr}
		}

		res.FramesRead++
		ref := detector.FrameRef{Index: index, Timestamp: clock.at(index)}
		progress := c.step(frame, ref, gate)

		if progress.Skipped != "" {
			res.FramesSkipped++
			res.SkipReasons[progress.Skipped]++
		} else {
			res.FramesProcessed++
		}
		if progress.overBudget {
			res.OverBudget++
		}

		if c.cfg.Observer != nil {
			c.cfg.Observer(progress.Progress)
		}
	}
}

// checkStop reports whether the session should end before the next frame.
// With a ticker it also waits for the next tick.
func (c *Controller) checkStop(ctx context.Context, tick <-chan time.Time) (EndReason, bool) {
	select {
	case <-c.stopCh:
		return EndStopped, true
	case <-ctx.Done():
		return EndCancelled, true
	default:
	}

	if tick == nil {
		return "", false
	}

	select {
	case <-c.stopCh:
		return EndStopped, true
	case <-ctx.Done():
		return EndCancelled, true
	case <-tick:
		return "", false
	}
}

type stepResult struct {
	Progress
	overBudget bool
}

// step runs one frame through the pipeline. It owns frame and closes it.
func (c *Controller) step(frame *gocv.Mat, ref detector.FrameRef, gate *capture.MotionGate) stepResult {
	started := time.Now()
	if frame != nil {
		defer frame.Close()
	}

	out := stepResult{Progress: Progress{
		SessionID: c.id,
		Exercise:  c.cfg.Profile.ID,
		Frame:     ref.Index,
		Angle:     math.NaN(),
	}}

	out.Skipped = c.process(frame, ref, gate, &out.Progress)
	if out.Skipped != "" {
		c.cfg.Metrics.FrameSkipped(out.Skipped)
	}

	out.Count = c.counter.Count()
	out.Phase = c.counter.Phase()

	elapsed := time.Since(started)
	if out.Skipped == "" {
		c.cfg.Metrics.FrameProcessed(string(c.cfg.Profile.ID), elapsed.Seconds())
	}
	if elapsed > c.budget {
		out.overBudget = true
		c.cfg.Metrics.OverBudget()
		c.log.WithFields(log.Fields{
			"frame":   ref.Index,
			"elapsed": elapsed,
			"budget":  c.budget,
		}).Debug("frame over budget")
	}

	return out
}

// process returns the skip reason, or "" when the sample reached the counter.
func (c *Controller) process(frame *gocv.Mat, ref detector.FrameRef, gate *capture.MotionGate, p *Progress) string {
	if frame != nil && frame.Empty() {
		return metrics.SkipEmptyFrame
	}

	if skip := c.gateStill(frame, gate); skip {
		return metrics.SkipStill
	}

	// Any frame that does not reach the counter ends the resting stretch.
	c.resting = false

	poses, err := c.cfg.Detector.Detect(frame)
	if err != nil {
		c.log.WithError(err).WithField("frame", ref.Index).Warn("pose detection failed")
		return metrics.SkipDetectorError
	}

	rec, err := c.adapter.Adapt(poses, ref, c.cfg.Profile.RequiredSets()...)
	if err != nil {
		return metrics.SkipNoDetection
	}

	sample, err := angle.Extract(rec, c.cfg.Profile)
	if err != nil {
		c.log.WithError(err).WithField("frame", ref.Index).Trace("angle unavailable")
		return metrics.SkipNoAngle
	}

	p.Angle = sample.Value()
	ev := c.counter.Observe(p.Angle)
	c.resting = ev.Phase == rep.WaitingDown && p.Angle >= c.cfg.Profile.Thresholds.Up
	p.Delta = ev.Delta
	if ev.Delta > 0 {
		c.cfg.Metrics.RepCompleted(string(c.cfg.Profile.ID))
		c.log.WithFields(log.Fields{
			"count": ev.Count,
			"frame": ref.Index,
			"side":  sample.Side,
		}).Debug("rep completed")
	}
	return ""
}

// gateStill reports whether frame may be dropped as still. The gate only
// applies while the subject rests at the top with no rep in progress: from
// there a rep needs a descent of at least the hysteresis band, which shows up
// as motion against the baseline. Anywhere else the gate is reset so that its
// next baseline is a frame the counter has seen.
func (c *Controller) gateStill(frame *gocv.Mat, gate *capture.MotionGate) bool {
	if gate == nil || frame == nil {
		return false
	}
	if !c.resting {
		gate.Reset()
		return false
	}
	open, _ := gate.Open(frame)
	return !open
}

// frameClock timestamps frames: from the container frame rate for files that
// report one, from the wall clock otherwise.
type frameClock struct {
	fps   float64
	start time.Time
}

func newFrameClock(src capture.Source, start time.Time) frameClock {
	clock := frameClock{start: start}
	if r, ok := src.(interface{ FPS() float64 }); ok && src.Bounded() {
		clock.fps = r.FPS()
	}
	return clock
}

func (f frameClock) at(index int64) time.Duration {
	if f.fps > 0 {
		return time.Duration(float64(index) / f.fps * float64(time.Second))
	}
	return time.Since(f.start)
}
