package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the sqlite database",
		Long: `Snapshot the sqlite database into backup.dir with VACUUM INTO, then
prune old snapshots by the retention policy (hourly, daily, weekly and
monthly tiers). Only the sqlite backend is supported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.backups()
			if err != nil {
				return err
			}
			res, err := m.BackupNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, pruned %d)\n", res.Path, res.Size, res.Pruned)
			return nil
		},
	}
	cmd.AddCommand(newBackupListCmd(a), newBackupRestoreCmd(a))
	return cmd
}

func newBackupListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.backups()
			if err != nil {
				return err
			}
			snapshots, err := m.List()
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no backups")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TAKEN\tSIZE\tPATH")
			for _, s := range snapshots {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Timestamp.UTC().Format("2006-01-02 15:04:05"), s.Size, s.Path)
			}
			return tw.Flush()
		},
	}
}

func newBackupRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Replace the database with a snapshot",
		Long: `Replace the sqlite database with a snapshot. Stop any running
"goldfish serve" first. The current database is kept until the restored
copy passes an integrity check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.backups()
			if err != nil {
				return err
			}
			if err := m.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", args[0])
			return nil
		},
	}
}
