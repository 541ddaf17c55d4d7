package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	cleanupJobName = "cleanup-expired"
	backupJobName  = "backup-snapshot"
)

// Option configures a scheduler.
type Option func(*options)

type options struct {
	log     logrus.FieldLogger
	timeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger(), timeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the scheduler logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithTimeout bounds a single run. The default is five minutes.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// parseSchedule accepts standard five-field cron and @-descriptors.
func parseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(spec)
}

// newCronScheduler returns a UTC scheduler holding one singleton job.
// Overlapping runs are skipped rather than queued.
func newCronScheduler(name, spec string, task func()) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("jobs: failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.CronJob(spec, false),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("jobs: failed to create %s job: %w", name, err)
	}
	return scheduler, nil
}
