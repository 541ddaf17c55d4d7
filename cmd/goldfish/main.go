// cmd/goldfish is the command-line front end to the goldfish memory store:
// it searches and inspects workspaces and runs the background services
// (store watcher, expiry sweep, database backups, remote sync).
//
// All logging goes to stderr; command output goes to stdout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scrypster/goldfish/internal/backup"
	"github.com/scrypster/goldfish/internal/config"
	"github.com/scrypster/goldfish/internal/service"
	"github.com/scrypster/goldfish/internal/workspace"
)

// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
var Version = "0.0.0-dev"

// app holds what every subcommand needs once the root command has run.
type app struct {
	configPath string
	workspace  string
	verbose    bool

	cfg *config.Config
	log *logrus.Logger
}

// open builds the service from the loaded configuration.
func (a *app) open(ctx context.Context) (*service.Service, error) {
	return service.Open(ctx, a.cfg, a.log)
}

// backups returns the snapshot manager for the sqlite database.
func (a *app) backups() (*backup.Manager, error) {
	if a.cfg.Storage.Backend != config.BackendSQLite {
		return nil, fmt.Errorf("backups need the sqlite backend, configured backend is %q", a.cfg.Storage.Backend)
	}
	return backup.New(backup.Config{
		DBPath:    a.cfg.Storage.SQLitePath,
		Dir:       a.cfg.Backup.Dir,
		Verify:    a.cfg.Backup.Verify,
		Retention: a.cfg.Backup.Retention,
	}, backup.WithLogger(a.log))
}

// currentWorkspace resolves --workspace against the working directory.
func (a *app) currentWorkspace() string {
	cwd, _ := os.Getwd()
	return workspace.Resolve(a.workspace, cwd)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "goldfish",
		Short: "Persistent memory for AI coding agents",
		Long: `goldfish stores checkpoints, notes, plans, TODO lists and decision
records per workspace, and finds them again with escalating fuzzy search.

Config: --config <file.yaml>, overridden by GOLDFISH_* environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.verbose {
				cfg.Log.Level = "debug"
			}
			logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, logger
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("GOLDFISH_CONFIG"), "Path to a YAML config file")
	root.PersistentFlags().StringVarP(&a.workspace, "workspace", "w", "", "Workspace name or path (default: current directory)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newNoteCmd(a),
		newSearchCmd(a),
		newWorkspacesCmd(a),
		newRelationsCmd(a),
		newCleanupCmd(a),
		newBackupCmd(a),
		newServeCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
