package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"renderpipe/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume render jobs from the AMQP queue in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return worker.Serve(runCtx, cfg, ctx.cliLogger(), worker.DialBroker)
		},
	}
}
