package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/haowjy/meridian-aisearch-go"
)

var (
	replayDelay   time.Duration
	replayPersist bool
)

// fileUpstream serves a recorded event stream.
type fileUpstream struct {
	path string
}

func (f fileUpstream) Name() aisearch.UpstreamID {
	return aisearch.UpstreamID("file")
}

func (f fileUpstream) Open(_ context.Context, _ *aisearch.Query) (io.ReadCloser, error) {
	if f.path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(f.path)
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay a recorded event stream (\"-\" for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		var cl closers
		defer cl.Close()

		store := aisearch.RecordStore(discardStore)
		var dlq aisearch.DeadLetterQueue
		if replayPersist {
			if store, _, err = buildStore(cfg, &cl); err != nil {
				return err
			}
			if dlq, err = buildDeadLetters(cfg, &cl); err != nil {
				return err
			}
		}

		delay := cfg.Typewriter.Delay
		if cmd.Flags().Changed("delay") {
			delay = replayDelay
		}

		term := newTerminal(os.Stdout, delay)
		acc := buildAccumulator(cfg, store, dlq, logger)
		pipeline := aisearch.NewPipeline(acc,
			aisearch.WithPipelineLogger(logger),
			aisearch.WithObserver(term.observe),
		)

		term.println(headerStyle.Render("=== replay " + filepath.Base(args[0]) + " ==="))
		out, runErr := pipeline.Run(cmd.Context(), fileUpstream{path: args[0]}, &aisearch.Query{
			Query: "replay of " + args[0],
			User:  "replay",
		})
		term.wait(time.Minute)
		term.summary(out, runErr)
		return runErr
	},
}

func init() {
	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "typewriter delay per character (overrides config)")
	replayCmd.Flags().BoolVar(&replayPersist, "persist", false, "store the record with the configured store")
}
