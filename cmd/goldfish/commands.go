package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/scrypster/goldfish/internal/search"
	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/pkg/types"
)

const summaryWidth = 72

func newNoteCmd(a *app) *cobra.Command {
	var (
		kind string
		tags []string
		ttl  int
	)
	cmd := &cobra.Command{
		Use:   "note <text>",
		Short: "Store a memory item in the current workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := types.Kind(kind)
			if !types.IsMemoryKind(k) {
				return fmt.Errorf("--kind must be one of %v", types.MemoryKinds)
			}
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			item := &types.MemoryItem{
				Workspace: a.currentWorkspace(),
				Kind:      k,
				Content:   types.TextContent(strings.Join(args, " ")),
				Tags:      tags,
				TTLHours:  ttl,
			}
			if err := svc.Save(cmd.Context(), item); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", item.ID, item.Workspace, item.Kind)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(types.KindGeneral), "Memory kind: checkpoint, todo-note, general or context")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag (repeatable)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Hours until the item expires (0 keeps it)")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		opts   search.Options
		kinds  []string
		mode   string
		scope  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long: `Search memories in the current workspace (or all with --scope all).

Mode auto runs strict, then normal, then fuzzy matching until enough results
are found. --since accepts today, yesterday, 24h, 3d, 2w, 2026-04-01 or an
RFC 3339 timestamp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			opts.Query = strings.Join(args, " ")
			opts.Mode = search.Mode(mode)
			opts.Scope = search.Scope(scope)
			opts.Workspace = a.currentWorkspace()
			for _, k := range kinds {
				opts.Kinds = append(opts.Kinds, types.Kind(k))
			}
			results, err := svc.Search(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			return writeResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(search.ModeAuto), "Match mode: strict, normal, fuzzy or auto")
	cmd.Flags().StringVarP(&scope, "scope", "s", string(search.ScopeCurrent), "Workspace scope: current or all")
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Restrict to kind (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.Tags, "tag", "t", nil, "Require tag (repeatable)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "Only records created at or after this point")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func writeResults(w io.Writer, results []search.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tMODE\tWORKSPACE\tKIND\tID\tSUMMARY")
	for _, r := range results {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\t%s\t%s\n",
			r.Score, r.Mode, r.Workspace, r.Kind, r.Entity.EntityID(), summarize(r.Entity))
	}
	return tw.Flush()
}

// summarize returns the first line of e's searchable text, truncated.
func summarize(e types.Entity) string {
	s := storage.DocumentOf(e).Body
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if utf8.RuneCountInString(s) > summaryWidth {
		s = string([]rune(s)[:summaryWidth-1]) + "…"
	}
	return s
}

func newWorkspacesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces that hold records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			current := a.currentWorkspace()
			names, err := svc.Workspaces(cmd.Context(), current)
			if err != nil {
				return err
			}
			for _, name := range names {
				marker := " "
				if name == current {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func newRelationsCmd(a *app) *cobra.Command {
	var (
		rebuild bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "relations [plan-id]",
		Short: "Show how plans link to TODO lists and checkpoints",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			ws := a.currentWorkspace()
			if rebuild {
				if err := svc.RebuildRelationships(cmd.Context(), ws); err != nil {
					return err
				}
			}

			var records []types.RelationshipRecord
			if len(args) == 1 {
				rec, err := svc.Relationship(cmd.Context(), ws, args[0])
				if err != nil {
					return err
				}
				records = []types.RelationshipRecord{rec}
			} else if records, err = svc.Relationships(cmd.Context(), ws); err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return writeRelations(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Recompute from the store first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func writeRelations(w io.Writer, records []types.RelationshipRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no plans")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tSTATUS\tDONE\tTODOS\tCHECKPOINTS\tTITLE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d%% (%d/%d)\t%d\t%d\t%s\n",
			r.PlanID, r.PlanStatus, r.CompletionPercentage, r.DoneItems, r.TotalItems,
			len(r.LinkedTodoIDs), len(r.LinkedCheckpointIDs), r.PlanTitle)
	}
	return tw.Flush()
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete memory items whose TTL has elapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			removed, err := svc.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired item(s)\n", removed)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
