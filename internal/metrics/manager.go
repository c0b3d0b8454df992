// Package metrics holds the Prometheus collectors of the coach.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame skip reasons.
const (
	SkipNoDetection   = "no_detection"
	SkipNoAngle       = "no_angle"
	SkipDetectorError = "detector_error"
	SkipStill         = "still"
	SkipEmptyFrame    = "empty_frame"
)

type Manager struct {
	// counters
	CounterRequests       *prometheus.CounterVec
	CounterFrames         *prometheus.CounterVec
	CounterSkippedFrames  *prometheus.CounterVec
	CounterReps           *prometheus.CounterVec
	CounterOverBudget     prometheus.Counter
	CounterSessions       *prometheus.CounterVec
	CounterHookExecutions *prometheus.CounterVec

	// gauges
	GaugeLiveSessions prometheus.Gauge
	GaugeWSClients    prometheus.Gauge

	// histograms
	HistFrameDuration   prometheus.Histogram
	HistRequestDuration prometheus.Histogram
}

func NewTestManager() *Manager {
	return NewManager("repcoach", "test", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("repcoach", "test", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming API requests",
	}, []string{"method", "status"})
	counterFrames := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_processed",
		Help:      "Frames that produced an angle sample",
	}, []string{"exercise"})
	counterSkipped := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_skipped",
		Help:      "Frames skipped, by reason",
	}, []string{"reason"})
	counterReps := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reps",
		Help:      "Completed repetitions",
	}, []string{"exercise"})
	counterOverBudget := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "frames_over_budget",
		Help:      "Frames whose processing took longer than the frame interval",
	})
	counterSessions := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sessions",
		Help:      "Finished sessions, by source and outcome",
	}, []string{"source", "outcome"})
	counterHooks := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "hook_executions",
		Help:      "Result hook executions, by hook and status",
	}, []string{"hook", "status"})

	gaugeLive := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "live_sessions",
		Help:      "Live sessions currently running",
	})
	gaugeWS := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "progress_clients",
		Help:      "Connected live progress websocket clients",
	})

	histFrameDuration := factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.02, 0.033,
				0.05, 0.066, 0.1, 0.2, 0.5, 1,
			},
			Name: "frame_duration_seconds",
			Help: "Time spent detecting and counting a single frame",
		},
	)
	histReqDuration := factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets: []float64{
				0.0001, 0.001, 0.01, 0.1, 1, 10, 60, 300,
			},
			Name: "request_duration_seconds",
			Help: "Total duration of API requests in seconds",
		},
	)

	return &Manager{
		CounterRequests:       counterRequests,
		CounterFrames:         counterFrames,
		CounterSkippedFrames:  counterSkipped,
		CounterReps:           counterReps,
		CounterOverBudget:     counterOverBudget,
		CounterSessions:       counterSessions,
		CounterHookExecutions: counterHooks,
		GaugeLiveSessions:     gaugeLive,
		GaugeWSClients:        gaugeWS,
		HistFrameDuration:     histFrameDuration,
		HistRequestDuration:   histReqDuration,
	}
}

// The helpers below accept a nil Manager so that callers without metrics
// need no checks of their own.

func (m *Manager) FrameProcessed(exercise string, seconds float64) {
	if m == nil {
		return
	}
	m.CounterFrames.WithLabelValues(exercise).Inc()
	m.HistFrameDuration.Observe(seconds)
}

func (m *Manager) FrameSkipped(reason string) {
	if m == nil {
		return
	}
	m.CounterSkippedFrames.WithLabelValues(reason).Inc()
}

func (m *Manager) RepCompleted(exercise string) {
	if m == nil {
		return
	}
	m.CounterReps.WithLabelValues(exercise).Inc()
}

func (m *Manager) OverBudget() {
	if m == nil {
		return
	}
	m.CounterOverBudget.Inc()
}

func (m *Manager) SessionFinished(source, outcome string) {
	if m == nil {
		return
	}
	m.CounterSessions.WithLabelValues(source, outcome).Inc()
}

func (m *Manager) HookExecuted(hook, status string) {
	if m == nil {
		return
	}
	m.CounterHookExecutions.WithLabelValues(hook, status).Inc()
}

func (m *Manager) LiveSessions(delta float64) {
	if m == nil {
		return
	}
	m.GaugeLiveSessions.Add(delta)
}

func (m *Manager) WSClients(delta float64) {
	if m == nil {
		return
	}
	m.GaugeWSClients.Add(delta)
}
