// Package sweeper periodically deletes expired refresh credentials.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"taxpilot.io/internal/obs"
)

// Expirer deletes refresh credentials that expired at or before the cutoff.
type Expirer interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper runs Expirer on a cron schedule such as "@every 1h".
type Sweeper struct {
	store   Expirer
	cron    *cron.Cron
	log     logrus.FieldLogger
	now     func() time.Time
	timeout time.Duration
}

// New schedules the sweep. It does not start until Run.
func New(store Expirer, schedule string, log logrus.FieldLogger) (*Sweeper, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Sweeper{
		store:   store,
		cron:    cron.New(),
		log:     log,
		now:     time.Now,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep deletes expired credentials once.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		s.log.WithError(err).Error("refresh token sweep failed")
		return 0, err
	}
	obs.RecordSwept(n)
	if n > 0 {
		s.log.WithField("deleted", n).Info("expired refresh tokens removed")
	}
	return n, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
