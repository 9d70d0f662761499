package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/haowjy/meridian-aisearch-go/config"
	"github.com/haowjy/meridian-aisearch-go/internal/logx"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "aisearch",
	Short:         "Streaming AI search ingestion",
	Long:          `Consumes workflow API event streams, rebuilds answers and progress, and persists a record per conversation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file overriding the built-in defaults")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")

	rootCmd.AddCommand(serveCmd, searchCmd, replayCmd, redeliverCmd)
}

// setup loads .env and configuration and builds the logger.
func setup() (*config.Config, zerolog.Logger, error) {
	config.LoadEnv()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logx.New(logx.Options{Production: cfg.IsProduction(), Level: cfg.LogLevel})
	return cfg, logger, nil
}
