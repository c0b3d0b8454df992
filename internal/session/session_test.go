package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gocv.io/x/gocv"

	"github.com/ayusman/repcoach/internal/capture"
	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/exercise"
	"github.com/ayusman/repcoach/internal/metrics"
	"github.com/ayusman/repcoach/internal/rep"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource yields nil frames; the scripted detector decides what each
// frame contains.
type fakeSource struct {
	mu       sync.Mutex
	frames   int
	bounded  bool
	failAt   int
	openErr  error
	closeErr error
	open     bool
	read     int
	opens    int
	closes   int
}

func boundedSource(frames int) *fakeSource {
	return &fakeSource{frames: frames, bounded: true, failAt: -1}
}

func liveSource() *fakeSource {
	return &fakeSource{failAt: -1}
}

func (s *fakeSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.open = false
	return s.closeErr
}

func (s *fakeSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, capture.ErrSourceNotOpen
	}
	if s.failAt >= 0 && s.read == s.failAt {
		return nil, errors.New("usb disconnected")
	}
	if s.bounded && s.read >= s.frames {
		return nil, io.EOF
	}
	s.read++
	return nil, nil
}

func (s *fakeSource) Bounded() bool { return s.bounded }

func (s *fakeSource) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func pushUp(t *testing.T, down, up float64) exercise.Profile {
	t.Helper()
	p, err := exercise.NewRegistry().Lookup("push_up")
	require.NoError(t, err)
	p.Thresholds = rep.Thresholds{Down: down, Up: up}
	return p
}

// script queues one detector result per elbow angle. NaN queues a frame
// without a detection.
func script(trace ...float64) *detector.MockDetector {
	d := detector.NewMockDetector()
	for _, a := range trace {
		if math.IsNaN(a) {
			d.Enqueue(nil)
			continue
		}
		d.Enqueue([]detector.Pose{detector.PoseWithAngles(a, 175)})
	}
	return d
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Logger == nil {
		logger, _ := logtest.NewNullLogger()
		cfg.Logger = logger
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func reference(trace []float64, th rep.Thresholds) int {
	down, count := false, 0
	for _, a := range trace {
		if math.IsNaN(a) {
			continue
		}
		if !down && a <= th.Down {
			down = true
		} else if down && a >= th.Up {
			count++
			down = false
		}
	}
	return count
}

func TestRun_BoundaryTraces(t *testing.T) {
	tests := []struct {
		name  string
		trace []float64
		want  int
	}{
		{"reaches down", []float64{180, 90, 30, 90, 180}, 1},
		{"never reaches down", []float64{180, 90, 45, 90, 180}, 0},
		{"two reps", []float64{170, 35, 165, 20, 175}, 2},
		{"ends mid rep", []float64{170, 35, 165, 20, 100}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := boundedSource(len(tt.trace))
			c := newController(t, Config{
				Profile:  pushUp(t, 40, 160),
				Detector: script(tt.trace...),
			})

			res, err := c.Run(context.Background(), src)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Count)
			assert.Equal(t, int64(len(tt.trace)), res.FramesRead)
			assert.Equal(t, int64(len(tt.trace)), res.FramesProcessed)
			assert.Equal(t, EndExhausted, res.End)
			assert.False(t, res.Cancelled)
			assert.Equal(t, 1, src.Closes())
		})
	}
}

func TestRun_EmptySource(t *testing.T) {
	src := boundedSource(0)
	d := detector.NewMockDetector()
	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: d})

	res, err := c.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Count)
	assert.Zero(t, res.FramesRead)
	assert.Equal(t, EndExhausted, res.End)
	assert.Equal(t, exercise.PushUp, res.Exercise)
	assert.Equal(t, "Push Up", res.ExerciseName)
	assert.NotEmpty(t, res.ID)
	assert.Zero(t, d.Calls())
	assert.Equal(t, 1, src.Closes())
}

func TestRun_MatchesReferenceCounter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	th := rep.Thresholds{Down: 90, Up: 160}

	for i := 0; i < 25; i++ {
		trace := make([]float64, 20+rng.Intn(60))
		for j := range trace {
			// Half-degree offsets keep samples off the integer thresholds.
			trace[j] = float64(5+rng.Intn(170)) + 0.5
		}

		c := newController(t, Config{Profile: pushUp(t, th.Down, th.Up), Detector: script(trace...)})
		res, err := c.Run(context.Background(), boundedSource(len(trace)))
		require.NoError(t, err)
		assert.Equal(t, reference(trace, th), res.Count, "trace %v", trace)
	}
}

func TestRun_SkippedFramesAreNeutral(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	th := rep.Thresholds{Down: 90, Up: 160}

	for i := 0; i < 20; i++ {
		clean := make([]float64, 30)
		for j := range clean {
			clean[j] = float64(10+rng.Intn(165)) + 0.5
		}

		var noisy []float64
		gaps := 0
		for _, a := range clean {
			for rng.Intn(3) == 0 {
				noisy = append(noisy, math.NaN())
				gaps++
			}
			noisy = append(noisy, a)
		}

		cleanRes, err := newController(t, Config{Profile: pushUp(t, th.Down, th.Up), Detector: script(clean...)}).
			Run(context.Background(), boundedSource(len(clean)))
		require.NoError(t, err)

		noisyRes, err := newController(t, Config{Profile: pushUp(t, th.Down, th.Up), Detector: script(noisy...)}).
			Run(context.Background(), boundedSource(len(noisy)))
		require.NoError(t, err)

		assert.Equal(t, cleanRes.Count, noisyRes.Count)
		assert.Equal(t, int64(gaps), noisyRes.FramesSkipped)
		assert.Equal(t, int64(gaps), noisyRes.SkipReasons[metrics.SkipNoDetection])
		assert.Equal(t, noisyRes.FramesRead, noisyRes.FramesProcessed+noisyRes.FramesSkipped)
	}
}

func TestRun_HysteresisBand(t *testing.T) {
	trace := make([]float64, 40)
	for i := range trace {
		if i%2 == 0 {
			trace[i] = 91
		} else {
			trace[i] = 159
		}
	}

	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: script(trace...)})
	res, err := c.Run(context.Background(), boundedSource(len(trace)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestRun_LowConfidenceSkipped(t *testing.T) {
	d := detector.NewMockDetector()
	weak := detector.PoseWithAngles(30, 175)
	for _, j := range detector.AllJoints() {
		weak = detector.WithVisibility(weak, 0.2, j)
	}
	d.Enqueue(
		[]detector.Pose{detector.PoseWithAngles(170, 175)},
		[]detector.Pose{weak},
		[]detector.Pose{detector.PoseWithAngles(170, 175)},
	)

	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: d})
	res, err := c.Run(context.Background(), boundedSource(3))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Count, "the weak down frame must not arm the counter")
	assert.Equal(t, int64(1), res.SkipReasons[metrics.SkipNoDetection])
}

func TestRun_StopFromObserver(t *testing.T) {
	trace := []float64{170, 60, 170, 60, 170, 60, 170}
	src := liveSource()
	d := script(trace...)
	d.SetPoses([]detector.Pose{detector.StandingPose()})

	var c *Controller
	c = newController(t, Config{
		Profile:  pushUp(t, 90, 160),
		Detector: d,
		FPS:      1000,
		Observer: func(p Progress) {
			if p.Count == 2 {
				c.Stop()
			}
		},
	})

	res, err := c.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, int64(5), res.FramesRead)
	assert.Equal(t, EndStopped, res.End)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, src.Closes())
}

func TestRun_ContextCancel(t *testing.T) {
	src := liveSource()
	d := script(170, 60, 170)
	d.SetPoses([]detector.Pose{detector.PoseWithAngles(60, 175)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := 0
	c := newController(t, Config{
		Profile:  pushUp(t, 90, 160),
		Detector: d,
		FPS:      1000,
		Observer: func(Progress) {
			frames++
			if frames == 10 {
				cancel()
			}
		},
	})

	res, err := c.Run(ctx, src)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count, "the rep in progress is not counted")
	assert.Equal(t, int64(10), res.FramesRead)
	assert.Equal(t, EndCancelled, res.End)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, src.Closes())
}

func TestRun_StopFromAnotherGoroutine(t *testing.T) {
	src := liveSource()
	d := detector.NewMockDetector()
	d.SetPoses([]detector.Pose{detector.StandingPose()})

	seen := make(chan struct{}, 1)
	c := newController(t, Config{
		Profile:  pushUp(t, 90, 160),
		Detector: d,
		FPS:      200,
		Observer: func(Progress) {
			select {
			case seen <- struct{}{}:
			default:
			}
		},
	})

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.Run(context.Background(), src)
		done <- outcome{res, err}
	}()

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("session never processed a frame")
	}

	c.Stop()
	c.Stop()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, EndStopped, out.res.End)
		assert.Positive(t, out.res.FramesRead)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, 1, src.Closes())
}

func TestRun_StopBeforeRun(t *testing.T) {
	src := liveSource()
	d := detector.NewMockDetector()
	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: d})

	c.Stop()
	res, err := c.Run(context.Background(), src)
	require.NoError(t, err)

	assert.Zero(t, res.FramesRead)
	assert.Zero(t, d.Calls())
	assert.Equal(t, 1, src.Closes())
}

func TestRun_ReadErrorKeepsPartialCount(t *testing.T) {
	trace := []float64{170, 40, 170, 40}
	src := boundedSource(len(trace))
	src.failAt = 3

	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: script(trace...)})
	res, err := c.Run(context.Background(), src)

	var srcErr *FrameSourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "read", srcErr.Op)
	assert.Equal(t, int64(3), srcErr.Frame)
	assert.Contains(t, err.Error(), "usb disconnected")

	assert.Equal(t, 1, res.Count)
	assert.Equal(t, EndSourceError, res.End)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 1, src.Closes())
}

func TestRun_OpenError(t *testing.T) {
	src := boundedSource(3)
	src.openErr = errors.New("no such device")
	d := detector.NewMockDetector()

	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: d})
	res, err := c.Run(context.Background(), src)

	var srcErr *FrameSourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "open", srcErr.Op)
	assert.Zero(t, res.FramesRead)
	assert.Zero(t, d.Calls())
	assert.Equal(t, 1, src.Closes())
}

func TestRun_CloseErrorIsReported(t *testing.T) {
	src := boundedSource(3)
	src.closeErr = errors.New("release failed")

	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: script(170, 60, 170)})
	res, err := c.Run(context.Background(), src)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "release failed")
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, EndExhausted, res.End)
}

func TestRun_DetectorErrorsAreSkipped(t *testing.T) {
	d := detector.NewMockDetector()
	d.SetError(errors.New("pose service crashed"))

	logger, hook := logtest.NewNullLogger()
	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: d, Logger: logger})

	res, err := c.Run(context.Background(), boundedSource(4))
	require.NoError(t, err)

	assert.Equal(t, int64(4), res.FramesSkipped)
	assert.Equal(t, int64(4), res.SkipReasons[metrics.SkipDetectorError])

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warnings++
			assert.Equal(t, c.ID(), e.Data["session"])
		}
	}
	assert.Equal(t, 4, warnings)
	assert.Equal(t, "session finished", hook.LastEntry().Message)
}

func TestRun_Observer(t *testing.T) {
	trace := []float64{170, math.NaN(), 60, 170}
	var got []Progress

	c := newController(t, Config{
		Profile:  pushUp(t, 90, 160),
		Detector: script(trace...),
		Observer: func(p Progress) { got = append(got, p) },
	})
	_, err := c.Run(context.Background(), boundedSource(len(trace)))
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, metrics.SkipNoDetection, got[1].Skipped)
	assert.True(t, math.IsNaN(got[1].Angle))
	assert.InDelta(t, 60, got[2].Angle, 1e-6)
	assert.Equal(t, rep.WaitingUp, got[2].Phase)
	assert.Equal(t, 1, got[3].Delta)
	assert.Equal(t, 1, got[3].Count)

	for i := range got {
		assert.Equal(t, int64(i), got[i].Frame)
		assert.Equal(t, c.ID(), got[i].SessionID)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i].Count, got[i-1].Count)
		}
	}
}

func TestRun_Metrics(t *testing.T) {
	m := metrics.NewTestManager()
	trace := []float64{170, 60, math.NaN(), 170}

	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: script(trace...), Metrics: m})
	_, err := c.Run(context.Background(), boundedSource(len(trace)))
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.CounterFrames.WithLabelValues("push_up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterSkippedFrames.WithLabelValues(metrics.SkipNoDetection)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterReps.WithLabelValues("push_up")))
}

func TestRun_Twice(t *testing.T) {
	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: detector.NewMockDetector()})

	_, err := c.Run(context.Background(), boundedSource(0))
	require.NoError(t, err)

	src := boundedSource(0)
	_, err = c.Run(context.Background(), src)
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Zero(t, src.Closes(), "a rejected run never touches the source")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Detector: detector.NewMockDetector()})
	assert.Error(t, err, "empty profile")

	_, err = New(Config{Profile: pushUp(t, 90, 160)})
	assert.Error(t, err, "no detector")

	_, err = New(Config{Profile: pushUp(t, 160, 90), Detector: detector.NewMockDetector()})
	assert.ErrorIs(t, err, rep.ErrInvalidThresholds)

	c, err := New(Config{ID: "fixed", Profile: pushUp(t, 90, 160), Detector: detector.NewMockDetector()})
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.ID())
	assert.Equal(t, time.Second/time.Duration(capture.DefaultFPS), c.budget)
}

func TestFrameSourceError(t *testing.T) {
	base := io.ErrUnexpectedEOF
	err := error(&FrameSourceError{Op: "read", Frame: 12, Err: base})

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "frame source read at frame 12: unexpected EOF", err.Error())
}

func TestResult_JSON(t *testing.T) {
	c := newController(t, Config{Profile: pushUp(t, 90, 160), Detector: script(170, 60, 170)})
	res, err := c.Run(context.Background(), boundedSource(3))
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "Push Up", fields["exercise_name"])
	assert.Equal(t, float64(1), fields["final_count"])
	assert.NotContains(t, fields, "count")
}
