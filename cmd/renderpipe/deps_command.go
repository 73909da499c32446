package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"renderpipe/internal/deps"
	"renderpipe/internal/pipeline"
	"renderpipe/internal/preflight"
	"renderpipe/internal/project"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries and environment readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			statuses := deps.CheckBinaries(deps.RequirementsFor(cfg))
			for _, status := range statuses {
				kind := statusOK
				message := status.Command
				if !status.Available {
					kind = statusError
					if status.Optional {
						kind = statusWarn
					}
					message = status.Detail
				}
				fmt.Fprintln(out, renderStatusLine(status.Name, kind, message, colorize))
			}

			fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			opts, err := ctx.pipelineOptions(false)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderSectionHeader("Stages", colorize))
			healthy := true
			for _, health := range pipeline.New(&project.Schema{}, nil, opts, "").HealthCheck(cmd.Context()) {
				kind := statusOK
				if !health.Ready {
					kind = statusError
					healthy = false
				}
				fmt.Fprintln(out, renderStatusLine(pipeline.StageLabel(health.Name), kind, health.Detail, colorize))
			}

			missing := deps.FirstMissing(statuses)
			if missing == nil && !healthy {
				missing = errors.New("one or more stages are not ready")
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return errors.Join(missing, fmt.Errorf("%d preflight check(s) failed", len(failed)))
			}
			return missing
		},
	}
}
