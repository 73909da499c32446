package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"renderpipe/internal/history"
	"renderpipe/internal/pipeline"
)

type historyRow struct {
	JobID        string  `json:"job_id"`
	Project      string  `json:"project"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at"`
	Seconds      float64 `json:"duration_seconds"`
	OutputPath   string  `json:"output_path"`
	OutputSize   int64   `json:"output_size"`
	FailedStage  string  `json:"failed_stage,omitempty"`
	ErrorMessage string  `json:"error,omitempty"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statusFilters []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded render jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			statuses := make([]history.Status, 0, len(statusFilters))
			for _, value := range statusFilters {
				status, ok := history.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}
			records, err := store.List(cmd.Context(), limit, statuses...)
			if err != nil {
				return err
			}

			if asJSON {
				rows := make([]historyRow, 0, len(records))
				for _, r := range records {
					rows = append(rows, historyRow{
						JobID:        r.JobID,
						Project:      r.ProjectName,
						Status:       string(r.Status),
						StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
						Seconds:      r.Duration().Seconds(),
						OutputPath:   r.OutputPath,
						OutputSize:   r.OutputSize,
						FailedStage:  r.FailedStage,
						ErrorMessage: r.ErrorMessage,
					})
				}
				return writeJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No render jobs recorded")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					r.JobID,
					r.ProjectName,
					describeStatus(r),
					humanize.Time(r.StartedAt),
					formatDuration(r.Duration()),
					formatSize(r.OutputSize),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Project", "Status", "Started", "Took", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows (0 for all)")
	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Filter by status (running, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print rows as JSON")
	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one render job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.historyStore()
			if err != nil {
				return err
			}
			record, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			rows := [][]string{
				{"Job", record.JobID},
				{"Project", record.ProjectName},
				{"Status", describeStatus(record)},
				{"Output", record.OutputPath},
				{"Size", formatSize(record.OutputSize)},
				{"Started", record.StartedAt.Local().Format(time.DateTime)},
				{"Took", formatDuration(record.Duration())},
			}
			if record.ErrorMessage != "" {
				rows = append(rows, []string{"Error", record.ErrorMessage})
			}
			for _, name := range orderedStages(record.StageDurations) {
				rows = append(rows, []string{pipeline.StageLabel(name), formatDuration(record.StageDurations[name])})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func describeStatus(r *history.Record) string {
	if r.Status == history.StatusFailed && r.FailedStage != "" {
		return fmt.Sprintf("failed (%s)", r.FailedStage)
	}
	return string(r.Status)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatSize(size int64) string {
	if size <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(size))
}

// orderedStages lists the default stages first, then any others by name.
func orderedStages(durations map[string]time.Duration) []string {
	known := []string{
		pipeline.StageValidation,
		pipeline.StagePreprocessing,
		pipeline.StageComposition,
		pipeline.StageEncoding,
		pipeline.StageFinalization,
	}
	var names []string
	for _, name := range known {
		if _, ok := durations[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range durations {
		if !slices.Contains(known, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

