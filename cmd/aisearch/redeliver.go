package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haowjy/meridian-aisearch-go"
)

var redeliverMax int

var redeliverCmd = &cobra.Command{
	Use:   "redeliver",
	Short: "Retry dead-lettered records against the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		if cfg.DeadLetters.Kind != "redis" {
			return fmt.Errorf("redeliver needs a shared dead-letter queue, got kind %q", cfg.DeadLetters.Kind)
		}

		var cl closers
		defer cl.Close()

		store, _, err := buildStore(cfg, &cl)
		if err != nil {
			return err
		}
		dlq, err := buildDeadLetters(cfg, &cl)
		if err != nil {
			return err
		}

		report, err := aisearch.Redeliver(cmd.Context(), dlq, store, redeliverMax)
		remaining, lenErr := dlq.Len(cmd.Context())
		if lenErr != nil {
			remaining = -1
		}

		logger.Info().
			Int("attempted", report.Attempted).
			Int("delivered", report.Delivered).
			Int("requeued", report.Requeued).
			Int("remaining", remaining).
			Msg("redelivery finished")

		fmt.Printf("delivered %d of %d, %d remaining\n", report.Delivered, report.Attempted, remaining)
		return err
	},
}

func init() {
	redeliverCmd.Flags().IntVar(&redeliverMax, "max", 0, "stop after this many records (0 = until empty)")
}
