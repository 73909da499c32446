package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"renderpipe/internal/config"
	"renderpipe/internal/logging"
	"renderpipe/internal/pipeline"
	"renderpipe/internal/project"
	"renderpipe/internal/services"
)

type renderResult struct {
	JobID          string             `json:"job_id"`
	Status         string             `json:"status"`
	OutputPath     string             `json:"output_path,omitempty"`
	OutputSize     int64              `json:"output_size,omitempty"`
	PublishedURL   string             `json:"published_url,omitempty"`
	StageDurations map[string]float64 `json:"stage_seconds,omitempty"`
	FailedStage    string             `json:"failed_stage,omitempty"`
	ErrorKind      string             `json:"error_kind,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var output string
	var jobID string
	var asJSON bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "render <project.json>",
		Short: "Render a project to a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p, err := loadProject(args[0])
			if err != nil {
				return err
			}
			opts, err := ctx.pipelineOptions(true)
			if err != nil {
				return err
			}
			target, err := resolveOutputPath(cfg, output, args[0], p.Settings.Export.Format)
			if err != nil {
				return err
			}

			trackers := pipeline.MultiTracker{pipeline.NewLogTracker(opts.Logger)}
			if !quiet && !asJSON {
				trackers = append(trackers, newProgressPrinter(cmd.ErrOrStderr()))
			}
			pl := pipeline.New(p, trackers, opts, target)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, runErr := pl.Execute(runCtx, jobID)

			if asJSON {
				if err := writeJSON(cmd, buildRenderResult(pl, runErr)); err != nil {
					return err
				}
				return runErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), pl.ExecutionSummary())
			if url := pl.Context().GetString(pipeline.KeyPublishedURL); url != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Published: %s\n", url)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <output_dir>/<project>.<format>)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job identifier (generated when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var output string
	var at float64
	var width, height, quality int

	cmd := &cobra.Command{
		Use:   "preview <project.json>",
		Short: "Render a single JPEG frame of the timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(args[0])
			if err != nil {
				return err
			}
			opts, err := ctx.pipelineOptions(false)
			if err != nil {
				return err
			}
			req := pipeline.PreviewRequest{
				Timestamp:  at,
				Resolution: project.Resolution{Width: width, Height: height},
				Quality:    quality,
			}
			data, err := pipeline.RenderPreview(cmd.Context(), p, req, opts)
			if err != nil {
				return err
			}
			target := strings.TrimSpace(output)
			if target == "" {
				target = fmt.Sprintf("%s-%dms.jpg", projectStem(args[0]), int64(at*1000))
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return services.IO("preview", "write frame", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote preview at %.3fs (%s) to %s\n", at, humanize.IBytes(uint64(len(data))), target)
			return nil
		},
	}

	cmd.Flags().Float64Var(&at, "at", 0, "Timeline position in seconds")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination JPEG (default <project>-<ms>ms.jpg)")
	cmd.Flags().IntVar(&width, "width", 0, "Frame width (default project resolution)")
	cmd.Flags().IntVar(&height, "height", 0, "Frame height (default project resolution)")
	cmd.Flags().IntVar(&quality, "quality", 75, "JPEG quality 1-100")
	return cmd
}

func newSegmentCommand(ctx *commandContext) *cobra.Command {
	var output string
	var start, end float64

	cmd := &cobra.Command{
		Use:   "segment <project.json>",
		Short: "Render the timeline window [start, end) to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(args[0])
			if err != nil {
				return err
			}
			opts, err := ctx.pipelineOptions(false)
			if err != nil {
				return err
			}
			if strings.TrimSpace(output) == "" {
				return services.Validation("segment", "--output is required")
			}
			target, err := config.ExpandPath(output)
			if err != nil {
				return err
			}
			path, err := pipeline.RenderSegment(cmd.Context(), p, pipeline.SegmentRequest{
				Start:      start,
				End:        end,
				OutputPath: target,
			}, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote segment [%.3fs, %.3fs) to %s\n", start, end, path)
			return nil
		},
	}

	cmd.Flags().Float64Var(&start, "start", 0, "Window start in seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "Window end in seconds")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file")
	return cmd
}

func loadProject(path string) (*project.Schema, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	p, err := project.Load(expanded)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "cli", "load project", expanded, err)
	}
	return p, nil
}

func projectStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// resolveOutputPath places a missing or relative output under the configured
// output directory.
func resolveOutputPath(cfg *config.Config, output, projectPath, format string) (string, error) {
	target := strings.TrimSpace(output)
	if target == "" {
		ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
		if ext == "" {
			ext = project.DefaultFormat
		}
		target = projectStem(projectPath) + "." + ext
		if cfg != nil && cfg.Paths.OutputDir != "" {
			target = filepath.Join(cfg.Paths.OutputDir, target)
		}
	}
	return config.ExpandPath(target)
}

func buildRenderResult(pl *pipeline.RenderPipeline, err error) renderResult {
	stats := pl.Statistics()
	result := renderResult{
		JobID:        stats.JobID,
		Status:       string(stats.Status),
		OutputPath:   stats.OutputPath,
		OutputSize:   stats.OutputSize,
		PublishedURL: pl.Context().GetString(pipeline.KeyPublishedURL),
		FailedStage:  stats.FailedStage,
	}
	if len(stats.StageDurations) > 0 {
		result.StageDurations = make(map[string]float64, len(stats.StageDurations))
		for name, d := range stats.StageDurations {
			result.StageDurations[name] = d.Seconds()
		}
	}
	if err != nil {
		result.ErrorKind = services.Kind(err)
		result.Error = err.Error()
	}
	return result
}

// progressPrinter writes one line per stage change or 10% step.
type progressPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	sampler *logging.ProgressSampler
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, sampler: logging.NewProgressSampler(10)}
}

func (p *progressPrinter) Report(event pipeline.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sampler.ShouldLog(event.Percent, event.Stage) {
		return
	}
	line := fmt.Sprintf("%-16s %5.1f%%", pipeline.StageLabel(event.Stage), event.Percent)
	if msg := strings.TrimSpace(event.Message); msg != "" {
		line += "  " + msg
	}
	fmt.Fprintln(p.out, line)
}

