package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/conf"
)

var version = "dev"

type rootOptions struct {
	envFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chatflow",
		Short:         "Debounced chat batching with a model-driven reply pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "environment file to load")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServeCmd(opts), newMCPCmd(opts), newSendCmd(opts))
	return cmd
}

// load reads the configuration and builds the process logger
func (o *rootOptions) load() (*conf.Config, *zap.Logger, error) {
	cfg, err := conf.LoadFromEnv(o.envFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(o.verbose || cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	if cfg.PromptsPath != "" {
		logger.Info("prompts loaded", zap.String("path", cfg.PromptsPath))
	}
	return cfg, logger, nil
}

// newLogger builds a production logger writing to stderr
func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}
