package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haowjy/meridian-aisearch-go"
	"github.com/haowjy/meridian-aisearch-go/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
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
		store, intake, err := buildStore(cfg, &cl)
		if err != nil {
			return err
		}
		dlq, err := buildDeadLetters(cfg, &cl)
		if err != nil {
			return err
		}

		acc := buildAccumulator(cfg, store, dlq, logger)
		pipeline := aisearch.NewPipeline(acc,
			aisearch.WithPipelineLogger(logger),
			aisearch.WithFinishTimeout(cfg.Pipeline.FinishTimeout),
		)

		var records server.RecordIntake
		if intake != nil {
			records = intake
		}
		h := server.NewHandler(pipeline, upstream, records, server.WithLogger(logger))
		srv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: server.Instrument(server.NewServer(h)),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", cfg.Server.Addr).Str("upstream", upstream.Name().String()).Msg("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
		if err := h.Close(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("searches did not stop in time")
		}
		if n, err := acc.FlushAll(shutdownCtx, cfg.Pipeline.FlushConcurrency); err != nil {
			logger.Error().Err(err).Int("stored", n).Msg("flush on shutdown")
		}
		return nil
	},
}
