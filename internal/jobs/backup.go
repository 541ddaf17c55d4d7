package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/backup"
)

// Snapshotter takes one database snapshot. *backup.Manager satisfies it.
type Snapshotter interface {
	BackupNow(ctx context.Context) (backup.Result, error)
}

// BackupRun describes one completed snapshot attempt.
type BackupRun struct {
	At     time.Time
	Result backup.Result
	Err    error
}

// BackupScheduler snapshots the database on a cron schedule.
type BackupScheduler struct {
	snapshotter Snapshotter
	spec        string
	schedule    cron.Schedule
	log         logrus.FieldLogger
	timeout     time.Duration

	scheduler gocron.Scheduler

	mu   sync.Mutex
	last BackupRun
}

// NewBackupScheduler validates spec and registers the snapshot job.
// Nothing runs until Start.
func NewBackupScheduler(snapshotter Snapshotter, spec string, opts ...Option) (*BackupScheduler, error) {
	schedule, err := parseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("jobs: invalid backup schedule %q: %w", spec, err)
	}

	o := newOptions(opts)
	s := &BackupScheduler{
		snapshotter: snapshotter,
		spec:        spec,
		schedule:    schedule,
		log:         o.log,
		timeout:     o.timeout,
	}

	scheduler, err := newCronScheduler(backupJobName, spec, func() {
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

// Start begins taking snapshots on schedule.
func (s *BackupScheduler) Start() {
	s.scheduler.Start()
	s.log.WithFields(logrus.Fields{
		"schedule": s.spec,
		"next":     s.NextRun(time.Now()),
	}).Info("jobs: backup scheduled")
}

// Stop shuts the scheduler down, waiting for a running snapshot to finish.
func (s *BackupScheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// RunNow takes one snapshot synchronously.
func (s *BackupScheduler) RunNow(ctx context.Context) (backup.Result, error) {
	res, err := s.snapshotter.BackupNow(ctx)

	s.mu.Lock()
	s.last = BackupRun{At: time.Now().UTC(), Result: res, Err: err}
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("jobs: backup failed")
	}
	return res, err
}

// LastRun returns the most recent attempt; ok is false before the first one.
func (s *BackupScheduler) LastRun() (run BackupRun, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, !s.last.At.IsZero()
}

// NextRun returns the first scheduled time after t.
func (s *BackupScheduler) NextRun(t time.Time) time.Time {
	return s.schedule.Next(t.UTC())
}
