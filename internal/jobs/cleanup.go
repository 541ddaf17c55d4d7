// Package jobs runs periodic maintenance against the memory store.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cleaner removes expired records. storage.RecordStore and
// *service.Service both satisfy it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Run describes one completed sweep.
type Run struct {
	At      time.Time
	Removed int
	Err     error
}

// CleanupScheduler sweeps expired memory items on a cron schedule.
type CleanupScheduler struct {
	cleaner  Cleaner
	spec     string
	schedule cron.Schedule
	log      logrus.FieldLogger
	timeout  time.Duration

	scheduler gocron.Scheduler

	mu   sync.Mutex
	last Run
}

// NewCleanupScheduler validates spec (standard five-field cron, UTC) and
// registers the sweep. Nothing runs until Start.
func NewCleanupScheduler(cleaner Cleaner, spec string, opts ...Option) (*CleanupScheduler, error) {
	schedule, err := parseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("jobs: invalid cleanup schedule %q: %w", spec, err)
	}

	o := newOptions(opts)
	s := &CleanupScheduler{
		cleaner:  cleaner,
		spec:     spec,
		schedule: schedule,
		log:      o.log,
		timeout:  o.timeout,
	}

	scheduler, err := newCronScheduler(cleanupJobName, spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunNow(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler
	return s, nil
}

// Start begins running the sweep on schedule.
func (s *CleanupScheduler) Start() {
	s.scheduler.Start()
	s.log.WithFields(logrus.Fields{
		"schedule": s.spec,
		"next":     s.NextRun(time.Now()),
	}).Info("jobs: cleanup scheduled")
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *CleanupScheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// RunNow performs one sweep synchronously.
func (s *CleanupScheduler) RunNow(ctx context.Context) (int, error) {
	removed, err := s.cleaner.CleanupExpired(ctx)

	s.mu.Lock()
	s.last = Run{At: time.Now().UTC(), Removed: removed, Err: err}
	s.mu.Unlock()

	entry := s.log.WithField("removed", removed)
	if err != nil {
		entry.WithError(err).Warn("jobs: cleanup failed")
	} else {
		entry.Info("jobs: cleanup complete")
	}
	return removed, err
}

// LastRun returns the most recent sweep; ok is false before the first one.
func (s *CleanupScheduler) LastRun() (run Run, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.last.At.IsZero()
}

// NextRun returns the first scheduled time after t.
func (s *CleanupScheduler) NextRun(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}
