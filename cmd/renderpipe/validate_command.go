package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"renderpipe/internal/ffmpeg"
	"renderpipe/internal/services"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project.json>",
		Short: "Check a project file without rendering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			clips := 0
			for _, track := range p.Tracks {
				clips += len(track.Clips)
			}
			export := p.Settings.Export
			rows := [][]string{
				{"Name", p.Metadata.Name},
				{"Duration", strconv.FormatFloat(p.Duration(), 'f', 3, 64) + "s"},
				{"Tracks", fmt.Sprintf("%d (%d enabled)", len(p.Tracks), len(p.EnabledTracks()))},
				{"Clips", strconv.Itoa(clips)},
				{"Resolution", fmt.Sprintf("%dx%d @ %g fps", p.Settings.Resolution.Width, p.Settings.Resolution.Height, p.Settings.FrameRate)},
				{"Export", fmt.Sprintf("%s / %s / %s", export.Format, export.VideoCodec, export.AudioCodec)},
				{"Fingerprint", shortHash(p.Fingerprint())},
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

			var problems []error
			if err := p.Validate(); err != nil {
				problems = append(problems, err)
			}
			for _, effect := range p.Effects {
				if !ffmpeg.SupportedEffect(effect.Type) {
					problems = append(problems, fmt.Errorf("effect %q on clip %s is not supported", effect.Type, effect.ClipID))
				}
			}
			for _, transition := range p.Transitions {
				if !ffmpeg.SupportedTransition(transition.Type) {
					problems = append(problems, fmt.Errorf("transition %q between %s and %s is not supported", transition.Type, transition.FromClipID, transition.ToClipID))
				}
			}
			for _, source := range p.FileSources() {
				if _, err := os.Stat(source); err != nil {
					problems = append(problems, fmt.Errorf("source %s does not exist", source))
				}
			}
			if len(problems) == 0 {
				fmt.Fprintln(out, renderStatusLine("Project", statusOK, "valid", colorize))
				return nil
			}
			for _, problem := range problems {
				fmt.Fprintln(out, renderStatusLine("Project", statusError, problem.Error(), colorize))
			}
			return services.Validation("cli", errors.Join(problems...).Error())
		},
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
