package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/idsite/pkg/observability"
)

// DefaultPurgeSchedule runs the purge once a minute.
const DefaultPurgeSchedule = "@every 1m"

// Purger periodically deletes expired nonces from a SQLStore.
type Purger struct {
	cron    *cron.Cron
	store   *SQLStore
	logger  *observability.Logger
	timeout time.Duration
}

// StartPurger schedules store.Purge on a cron schedule and starts the scheduler.
func StartPurger(store *SQLStore, schedule string, logger *observability.Logger) (*Purger, error) {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	p := &Purger{
		cron:    cron.New(),
		store:   store,
		logger:  logger.WithField("component", "nonce_purger"),
		timeout: 30 * time.Second,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	p.cron.Start()
	p.logger.Infof("Nonce purge scheduled: %s", schedule)
	return p, nil
}

func (p *Purger) run() {
	defer observability.RecoverPanic(p.logger, "nonce purge")

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	n, err := p.store.Purge(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Nonce purge failed")
		return
	}
	if n > 0 {
		p.logger.WithField("purged", n).Debug("Purged expired nonces")
	}
}

// Stop halts the scheduler and waits for a running purge, or for ctx to end.
func (p *Purger) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
