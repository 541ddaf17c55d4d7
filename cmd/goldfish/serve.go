package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/goldfish/internal/jobs"
	"github.com/scrypster/goldfish/internal/remotesync"
	"github.com/scrypster/goldfish/internal/service"
	"github.com/scrypster/goldfish/internal/storage/file"
	"github.com/scrypster/goldfish/internal/watch"
)

func newServeCmd(a *app) *cobra.Command {
	var sweepOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background services until interrupted",
		Long: `Run the background services until SIGINT or SIGTERM:

  - the store watcher (file backend) keeps relationships current when other
    processes write records
  - the expiry sweep runs on cleanup.schedule
  - database snapshots run on backup.schedule when backup.enabled is set
  - the sync client pushes saved records when sync.enabled is set`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				opts   []service.Option
				syncer *remotesync.Client
			)
			if a.cfg.Sync.Enabled {
				syncer = remotesync.New(a.cfg.Sync, remotesync.WithLogger(a.log))
				opts = append(opts, service.WithSyncer(syncer))
			}

			svc, err := service.Open(ctx, a.cfg, a.log, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if fs, ok := svc.Store().(*file.Store); ok {
				w := watch.New(fs, svc.Index(), watch.WithLogger(a.log))
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
			}

			if a.cfg.Cleanup.Enabled {
				sched, err := jobs.NewCleanupScheduler(svc, a.cfg.Cleanup.Schedule, jobs.WithLogger(a.log))
				if err != nil {
					return err
				}
				if sweepOnStart {
					_, _ = sched.RunNow(ctx)
				}
				sched.Start()
				defer func() { _ = sched.Stop() }()
			}

			if a.cfg.Backup.Enabled {
				m, err := a.backups()
				if err != nil {
					return err
				}
				sched, err := jobs.NewBackupScheduler(m, a.cfg.Backup.Schedule, jobs.WithLogger(a.log))
				if err != nil {
					return err
				}
				sched.Start()
				defer func() { _ = sched.Stop() }()
			}

			var wg sync.WaitGroup
			if syncer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = syncer.Run(ctx)
				}()
			}

			a.log.WithField("workspace", a.currentWorkspace()).Info("goldfish: serving")
			<-ctx.Done()
			wg.Wait()
			a.log.Info("goldfish: stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&sweepOnStart, "sweep", false, "Run the expiry sweep once at startup")
	return cmd
}
