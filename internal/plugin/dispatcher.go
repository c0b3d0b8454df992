package plugin

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/ayusman/repcoach/internal/metrics"
)

// Dispatcher delivers events to every subscribed hook.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	metrics  *metrics.Manager
	log      log.FieldLogger
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(manager *Manager, executor *Executor, m *metrics.Manager) *Dispatcher {
	return &Dispatcher{
		manager:  manager,
		executor: executor,
		metrics:  m,
		log:      log.WithField("component", "hooks"),
	}
}

// Notify runs the subscribers of req.Event one after another. A failing
// hook does not stop the others; all failures come back combined.
func (d *Dispatcher) Notify(ctx context.Context, req *Request) error {
	var errs error

	for _, p := range d.manager.Subscribers(req.Event) {
		logger := d.log.WithFields(log.Fields{
			"hook":    p.Manifest.Name,
			"event":   req.Event,
			"session": req.Session.ID,
		})

		resp, err := d.executor.Execute(ctx, p, req)
		switch {
		case err != nil:
			err = fmt.Errorf("hook %s: %w", p.Manifest.Name, err)
		case !resp.Success:
			err = fmt.Errorf("hook %s: %s", p.Manifest.Name, resp.Error)
		}

		if err != nil {
			d.metrics.HookExecuted(p.Manifest.Name, "failed")
			logger.WithError(err).Warn("hook failed")
			errs = multierr.Append(errs, err)
			continue
		}

		d.metrics.HookExecuted(p.Manifest.Name, "ok")
		logger.Debug("hook done")
	}

	return errs
}
