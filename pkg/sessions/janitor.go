package sessions

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultCleanupSchedule runs cleanup every five minutes
const DefaultCleanupSchedule = "*/5 * * * *"

// Janitor periodically deactivates stale sessions
type Janitor struct {
	registry *Registry
	cron     *cron.Cron
	logger   logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewJanitor schedules registry cleanup. schedule is a standard five-field cron spec.
func NewJanitor(registry *Registry, schedule string, logger logrus.FieldLogger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Janitor{
		registry: registry,
		cron:     cron.New(),
		logger:   logger.WithField("component", "session-janitor"),
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := j.cron.AddFunc(schedule, j.RunOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return j, nil
}

// RunOnce performs a single cleanup pass
func (j *Janitor) RunOnce() {
	affected := j.registry.CleanupInactive(j.ctx)
	j.logger.WithField("deactivated", affected).Debug("cleanup pass complete")
}

// Start begins running on schedule
func (j *Janitor) Start() {
	j.logger.Info("starting session janitor")
	j.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish or ctx to expire
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.cancel()
		return nil
	case <-ctx.Done():
		j.cancel()
		return ctx.Err()
	}
}
