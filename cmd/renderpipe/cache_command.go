package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"renderpipe/internal/rendercache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Render cache settings and source probing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			settings := rendercache.SettingsFromConfig(cfg)
			rows := [][]string{
				{"Previews", strconv.Itoa(settings.MaxPreviews), ttlLabel(settings.PreviewTTL.Seconds())},
				{"Metadata", strconv.Itoa(settings.MaxMetadata), ttlLabel(settings.MetadataTTL.Seconds())},
				{"Renders", strconv.Itoa(settings.MaxRenders), ttlLabel(settings.RenderTTL.Seconds())},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Table", "Capacity", "TTL"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
			fmt.Fprintf(out, "Memory ceiling: %s\n", humanize.IBytes(uint64(settings.MaxMemoryMB)*1024*1024))
			return nil
		},
	}
	cacheCmd.AddCommand(newCacheProbeCommand(ctx))
	return cacheCmd
}

func newCacheProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <project.json>",
		Short: "Probe every file source of a project through the metadata cache",
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
			var rows [][]string
			for _, source := range p.FileSources() {
				meta, ok := opts.Cache.GetMetadata(source)
				if !ok {
					meta, err = opts.Probe(cmd.Context(), source)
					if err != nil {
						return err
					}
					opts.Cache.StoreMetadata(source, meta)
				}
				resolution := "-"
				if meta.Width > 0 && meta.Height > 0 {
					resolution = fmt.Sprintf("%dx%d", meta.Width, meta.Height)
				}
				rows = append(rows, []string{
					source,
					strconv.FormatFloat(meta.Duration, 'f', 3, 64) + "s",
					resolution,
					codecLabel(meta.VideoCodec, meta.AudioCodec),
					formatSize(meta.SizeBytes),
				})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "Project has no file sources")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Duration", "Resolution", "Codecs", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "Cache memory: %s\n", opts.Cache.MemoryUsage())
			return nil
		},
	}
}

func ttlLabel(seconds float64) string {
	if seconds <= 0 {
		return "never"
	}
	return strconv.FormatFloat(seconds, 'f', 0, 64) + "s"
}

func codecLabel(video, audio string) string {
	switch {
	case video != "" && audio != "":
		return video + "/" + audio
	case video != "":
		return video
	case audio != "":
		return audio
	default:
		return "-"
	}
}
