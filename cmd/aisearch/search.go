package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haowjy/meridian-aisearch-go"
)

var (
	searchUser    string
	searchPersist bool
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Run one search against the configured upstream and reveal the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		var cl closers
		defer cl.Close()

		upstream, err := buildUpstream(cfg)
		if err != nil {
			return err
		}

		store := aisearch.RecordStore(discardStore)
		var dlq aisearch.DeadLetterQueue
		if searchPersist {
			if store, _, err = buildStore(cfg, &cl); err != nil {
				return err
			}
			if dlq, err = buildDeadLetters(cfg, &cl); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		term := newTerminal(os.Stdout, cfg.Typewriter.Delay)
		acc := buildAccumulator(cfg, store, dlq, logger)
		pipeline := aisearch.NewPipeline(acc,
			aisearch.WithPipelineLogger(logger),
			aisearch.WithFinishTimeout(cfg.Pipeline.FinishTimeout),
			aisearch.WithObserver(term.observe),
		)

		term.println(headerStyle.Render("=== " + upstream.Name().String() + " ==="))
		out, runErr := pipeline.Run(ctx, upstream, &aisearch.Query{
			Query: strings.Join(args, " "),
			User:  searchUser,
		})
		term.wait(30 * time.Second)
		term.summary(out, runErr)
		return runErr
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchUser, "user", "u", "cli", "user identifier sent upstream")
	searchCmd.Flags().BoolVar(&searchPersist, "persist", false, "store the record with the configured store")
}
