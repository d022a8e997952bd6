package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
	"github.com/DevRickLin/feishu-chatflow/internal/data"
	"github.com/DevRickLin/feishu-chatflow/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve chatflow administration tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := data.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}

			var delivery repo.DeliveryRepo
			if d, err := newDelivery(cfg, logger); err != nil {
				logger.Warn("send tool disabled", zap.Error(err))
			} else {
				delivery = d
			}

			repos := data.NewRepositories(db, delivery, logger)
			defer repos.Close()

			return mcp.NewServer(repos.Message, repos.Completion, repos.Delivery, version, logger).Run(ctx)
		},
	}
}
