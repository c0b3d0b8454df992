// Package app provides the coach: it runs live and recorded exercise
// sessions, keeps the history store and notifies result hooks.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/ayusman/repcoach/internal/capture"
	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/exercise"
	"github.com/ayusman/repcoach/internal/metrics"
	"github.com/ayusman/repcoach/internal/plugin"
	"github.com/ayusman/repcoach/internal/session"
	"github.com/ayusman/repcoach/internal/store"
)

var (
	// ErrSessionNotFound is returned for an unknown live session id.
	ErrSessionNotFound = errors.New("live session not found")
	// ErrShuttingDown is returned when a session is started during shutdown.
	ErrShuttingDown = errors.New("coach is shutting down")
)

// keepEndedOutcomes is how many finished live sessions StopLive still answers for.
const keepEndedOutcomes = 32

// SaveMode decides whether a finished session goes to the history store.
type SaveMode string

const (
	// SaveAuto stores sessions with at least one rep.
	SaveAuto   SaveMode = "auto"
	SaveAlways SaveMode = "always"
	SaveNever  SaveMode = "never"
)

// ParseSaveMode accepts "", auto, always and never.
func ParseSaveMode(s string) (SaveMode, error) {
	switch SaveMode(s) {
	case "", SaveAuto:
		return SaveAuto, nil
	case SaveAlways, SaveNever:
		return SaveMode(s), nil
	}
	return "", fmt.Errorf("unknown save mode %q", s)
}

// DetectorFactory creates a detector for one session.
type DetectorFactory func() (detector.Detector, error)

// Config holds configuration options for the coach.
type Config struct {
	Store       *store.Store
	Registry    *exercise.Registry
	Metrics     *metrics.Manager
	Hooks       *plugin.Dispatcher
	NewDetector DetectorFactory
	// OpenCamera returns the live source. Defaults to camera CameraID.
	OpenCamera func() capture.Source
	// OpenVideo returns the source for a recorded file. Defaults to capture.NewVideoFile.
	OpenVideo       func(path string) capture.Source
	CameraID        int
	LiveFPS         int
	MinConfidence   float64
	MotionThreshold float64
	// DefaultUser owns sessions started without a user email.
	DefaultUser string
}

// StartOptions describe a session to run.
type StartOptions struct {
	Exercise  string
	UserEmail string
	Save      SaveMode
}

// Outcome is a finished session and what happened to it afterwards.
type Outcome struct {
	Result session.Result `json:"result"`
	Source store.Source   `json:"source"`
	// Saved is the history entry, nil when the session was not stored.
	Saved *store.Session `json:"saved,omitempty"`
	Error string         `json:"error,omitempty"`
}

// LiveInfo describes a running live session.
type LiveInfo struct {
	ID        string      `json:"id"`
	Exercise  exercise.ID `json:"exercise"`
	UserEmail string      `json:"user_email,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

type liveSession struct {
	info    LiveInfo
	ctrl    *session.Controller
	done    chan struct{}
	outcome Outcome
}

// Coach orchestrates sessions. Every session gets its own controller,
// detector and frame source.
type Coach struct {
	config   Config
	progress *Broadcaster
	log      log.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	live     map[string]*liveSession
	ended    map[string]Outcome
	endedIDs []string
	last     *Outcome
	closing  bool
	sessions sync.WaitGroup
	hooks    sync.WaitGroup
}

// New creates a Coach. Registry defaults to the built-in exercises and a
// missing detector factory is an error.
func New(config Config) (*Coach, error) {
	if config.NewDetector == nil {
		return nil, errors.New("app: no detector factory")
	}
	if config.Registry == nil {
		config.Registry = exercise.NewRegistry()
	}
	if config.OpenCamera == nil {
		cameraID, fps := config.CameraID, config.LiveFPS
		config.OpenCamera = func() capture.Source {
			cam := capture.NewCamera(cameraID)
			cam.SetFPS(fps)
			return cam
		}
	}
	if config.OpenVideo == nil {
		config.OpenVideo = func(path string) capture.Source {
			return capture.NewVideoFile(path)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coach{
		config:   config,
		progress: NewBroadcaster(0),
		log:      log.WithField("component", "coach"),
		ctx:      ctx,
		cancel:   cancel,
		live:     make(map[string]*liveSession),
		ended:    make(map[string]Outcome),
	}, nil
}

// OpenCamera returns a new, unopened source for the camera live sessions use.
func (c *Coach) OpenCamera() capture.Source {
	return c.config.OpenCamera()
}

// Exercises returns the exercise table in effect.
func (c *Coach) Exercises() []exercise.Profile {
	return c.config.Registry.List()
}

// Progress returns the live progress feed.
func (c *Coach) Progress() *Broadcaster {
	return c.progress
}

// Store returns the history store, which may be nil.
func (c *Coach) Store() *store.Store {
	return c.config.Store
}

// newController resolves the exercise and builds a controller with a fresh
// detector. Unknown exercises fail here, before any frame is read.
// The caller closes the returned detector once the session has run.
func (c *Coach) newController(opts StartOptions) (*session.Controller, detector.Detector, error) {
	profile, err := c.config.Registry.Lookup(opts.Exercise)
	if err != nil {
		return nil, nil, err
	}

	det, err := c.config.NewDetector()
	if err != nil {
		return nil, nil, fmt.Errorf("create detector: %w", err)
	}

	ctrl, err := session.New(session.Config{
		Profile:         profile,
		Detector:        det,
		MinConfidence:   c.config.MinConfidence,
		FPS:             c.config.LiveFPS,
		MotionThreshold: c.config.MotionThreshold,
		Metrics:         c.config.Metrics,
		Logger:          c.log,
		Observer: func(p session.Progress) {
			c.progress.Publish(Update{Type: UpdateProgress, SessionID: p.SessionID, Progress: p})
		},
	})
	if err != nil {
		det.Close()
		return nil, nil, err
	}
	return ctrl, det, nil
}

// StartLive starts a camera session in the background and returns its id.
func (c *Coach) StartLive(opts StartOptions) (LiveInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return LiveInfo{}, ErrShuttingDown
	}

	ctrl, det, err := c.newController(opts)
	if err != nil {
		return LiveInfo{}, err
	}

	ls := &liveSession{
		info: LiveInfo{
			ID:        ctrl.ID(),
			Exercise:  ctrl.Profile().ID,
			UserEmail: opts.UserEmail,
			StartedAt: time.Now(),
		},
		ctrl: ctrl,
		done: make(chan struct{}),
	}
	c.live[ls.info.ID] = ls
	c.config.Metrics.LiveSessions(1)
	c.rememberExercise(ls.info.Exercise)

	src := c.config.OpenCamera()
	c.sessions.Add(1)
	go func() {
		defer c.sessions.Done()
		defer close(ls.done)
		defer c.config.Metrics.LiveSessions(-1)

		res, runErr := ctrl.Run(c.ctx, src)
		c.closeDetector(det)
		ls.outcome = c.finish(res, runErr, opts, store.SourceLive)

		c.mu.Lock()
		delete(c.live, ls.info.ID)
		c.keepEnded(ls.info.ID, ls.outcome)
		c.mu.Unlock()
	}()

	c.notify(plugin.EventSessionStarted, hookInfo(ls.info, opts))
	c.log.WithFields(log.Fields{"session": ls.info.ID, "exercise": ls.info.Exercise}).Info("live session started")
	return ls.info, nil
}

// StopLive stops a live session and waits for its outcome. A session that
// already ended on its own returns its outcome as long as it is among the
// last keepEndedOutcomes live sessions.
func (c *Coach) StopLive(id string) (Outcome, error) {
	c.mu.Lock()
	ls, ok := c.live[id]
	out, ended := c.ended[id]
	c.mu.Unlock()
	if ended {
		return out, nil
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	ls.ctrl.Stop()
	<-ls.done
	return ls.outcome, nil
}

// keepEnded records the outcome of a finished live session, dropping the
// oldest beyond keepEndedOutcomes. c.mu must be held.
func (c *Coach) keepEnded(id string, out Outcome) {
	c.ended[id] = out
	c.endedIDs = append(c.endedIDs, id)
	if len(c.endedIDs) > keepEndedOutcomes {
		delete(c.ended, c.endedIDs[0])
		c.endedIDs = c.endedIDs[1:]
	}
}

// Live lists running live sessions, oldest first.
func (c *Coach) Live() []LiveInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]LiveInfo, 0, len(c.live))
	for _, ls := range c.live {
		list = append(list, ls.info)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// AnalyzeVideo counts the reps in a recorded video and waits for the result.
// Source errors still return the partial outcome.
func (c *Coach) AnalyzeVideo(ctx context.Context, path string, opts StartOptions) (Outcome, error) {
	return c.Analyze(ctx, c.config.OpenVideo(path), opts)
}

// Analyze runs a session over any source in the calling goroutine.
func (c *Coach) Analyze(ctx context.Context, src capture.Source, opts StartOptions) (Outcome, error) {
	ctrl, det, err := c.newController(opts)
	if err != nil {
		return Outcome{}, err
	}
	c.rememberExercise(ctrl.Profile().ID)

	source := store.SourceVideo
	if !src.Bounded() {
		source = store.SourceLive
	}

	res, runErr := ctrl.Run(ctx, src)
	c.closeDetector(det)
	return c.finish(res, runErr, opts, source), runErr
}

func (c *Coach) closeDetector(det detector.Detector) {
	if err := det.Close(); err != nil {
		c.log.WithError(err).Warn("failed to close detector")
	}
}

// finish saves the result, publishes it and notifies hooks.
func (c *Coach) finish(res session.Result, runErr error, opts StartOptions, source store.Source) Outcome {
	out := Outcome{Result: res, Source: source}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	saved, err := c.save(res, opts, source)
	if err != nil {
		c.log.WithError(err).WithField("session", res.ID).Error("failed to save session")
		out.Error = multierr.Append(runErr, err).Error()
	}
	out.Saved = saved

	outcome := "completed"
	switch {
	case runErr != nil:
		outcome = "failed"
	case res.Cancelled:
		outcome = "stopped"
	}
	c.config.Metrics.SessionFinished(string(source), outcome)

	c.mu.Lock()
	last := out
	c.last = &last
	c.mu.Unlock()

	c.progress.Publish(Update{Type: UpdateFinished, SessionID: res.ID, Outcome: &last})

	info := plugin.SessionInfo{
		ID:           res.ID,
		UserEmail:    c.userFor(opts),
		Exercise:     string(res.Exercise),
		ExerciseName: res.ExerciseName,
		Source:       string(source),
		Count:        res.Count,
		Frames:       res.FramesRead,
		Skipped:      res.FramesSkipped,
		StartedAt:    res.StartedAt,
		EndedAt:      res.EndedAt,
		Cancelled:    res.Cancelled,
		Saved:        saved != nil,
	}
	c.notify(plugin.EventSessionCompleted, info)

	return out
}

// save stores res according to the save mode. Zero-rep sessions are only
// kept with SaveAlways.
func (c *Coach) save(res session.Result, opts StartOptions, source store.Source) (*store.Session, error) {
	mode := opts.Save
	if mode == "" {
		mode = SaveAuto
	}
	if c.config.Store == nil || mode == SaveNever || (mode == SaveAuto && res.Count == 0) {
		return nil, nil
	}

	user := c.userFor(opts)
	if user == "" {
		c.log.WithField("session", res.ID).Warn("no user for session, not saving")
		return nil, nil
	}

	entry := &store.Session{
		ID:            res.ID,
		UserEmail:     user,
		Exercise:      string(res.Exercise),
		Count:         res.Count,
		Frames:        res.FramesRead,
		SkippedFrames: res.FramesSkipped,
		Source:        source,
		Duration:      res.Duration(),
		CreatedAt:     res.EndedAt,
	}
	if err := c.config.Store.Sessions().Create(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Record adds a manual history entry.
func (c *Coach) Record(entry *store.Session) error {
	if c.config.Store == nil {
		return errors.New("app: no store configured")
	}
	id, err := exercise.Parse(entry.Exercise)
	if err != nil {
		return err
	}
	entry.Exercise = string(id)
	entry.Source = store.SourceManual
	if entry.UserEmail == "" {
		entry.UserEmail = c.userFor(StartOptions{})
	}
	return c.config.Store.Sessions().Create(entry)
}

// LastOutcome returns the most recently finished session.
func (c *Coach) LastOutcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Outcome{}, false
	}
	return *c.last, true
}

// LastExercise returns the exercise most recently started, falling back to push_up.
func (c *Coach) LastExercise() exercise.ID {
	if c.config.Store != nil {
		v, err := c.config.Store.Settings().GetOr(store.SettingLastExercise, string(exercise.PushUp))
		if err == nil {
			if id, err := exercise.Parse(v); err == nil {
				return id
			}
		}
	}
	return exercise.PushUp
}

func (c *Coach) rememberExercise(id exercise.ID) {
	if c.config.Store == nil {
		return
	}
	if err := c.config.Store.Settings().Set(store.SettingLastExercise, string(id)); err != nil {
		c.log.WithError(err).Warn("failed to remember exercise")
	}
}

func (c *Coach) userFor(opts StartOptions) string {
	if opts.UserEmail != "" {
		return opts.UserEmail
	}
	if c.config.DefaultUser != "" {
		return c.config.DefaultUser
	}
	if c.config.Store != nil {
		if v, err := c.config.Store.Settings().Get(store.SettingDefaultUser); err == nil {
			return v
		}
	}
	return ""
}

// notify runs the hooks for event in the background.
func (c *Coach) notify(event string, info plugin.SessionInfo) {
	if c.config.Hooks == nil {
		return
	}

	c.hooks.Add(1)
	go func() {
		defer c.hooks.Done()
		// Hook failures are logged and counted by the dispatcher.
		_ = c.config.Hooks.Notify(context.Background(), &plugin.Request{Event: event, Session: info})
	}()
}

func hookInfo(info LiveInfo, opts StartOptions) plugin.SessionInfo {
	return plugin.SessionInfo{
		ID:        info.ID,
		UserEmail: opts.UserEmail,
		Exercise:  string(info.Exercise),
		Source:    string(store.SourceLive),
		StartedAt: info.StartedAt,
	}
}

// Shutdown stops every live session, waits for them and for running hooks,
// or returns ctx's error when ctx ends first.
func (c *Coach) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	for _, ls := range c.live {
		ls.ctrl.Stop()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.sessions.Wait()
		c.hooks.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}
