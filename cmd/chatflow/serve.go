package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DevRickLin/feishu-chatflow/internal/api"
	"github.com/DevRickLin/feishu-chatflow/internal/biz"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
	"github.com/DevRickLin/feishu-chatflow/internal/conf"
	"github.com/DevRickLin/feishu-chatflow/internal/data"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/feishu"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/llm"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/websearch"
	"github.com/DevRickLin/feishu-chatflow/internal/queue"
	"github.com/DevRickLin/feishu-chatflow/internal/server"
	"github.com/DevRickLin/feishu-chatflow/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and Feishu ingress with the batch and reply schedulers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *conf.Config, logger *zap.Logger) error {
	db, err := data.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	logger.Info("store opened", zap.String("driver", cfg.Database.Driver))

	var feishuClient *feishu.Client
	if cfg.FeishuEnabled() {
		feishuClient = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)
	}

	var delivery repo.DeliveryRepo
	if cfg.Delivery.Mode == conf.DeliveryFeishu {
		delivery = data.NewFeishuDelivery(feishuClient)
	} else if delivery, err = newDelivery(cfg, logger); err != nil {
		return err
	}

	repos := data.NewRepositories(db, delivery, logger)
	defer repos.Close()

	model := llm.NewClient(llm.Config{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Timeout: cfg.Model.Timeout,
	}, logger)

	var search repo.SearchRepo
	if cfg.Search.APIKey != "" {
		search = websearch.NewClient(websearch.Config{APIKey: cfg.Search.APIKey, URL: cfg.Search.URL}, logger)
	} else {
		logger.Info("web search disabled, no API key")
	}

	// queues
	inbound := queue.NewInbound()
	outbound := queue.NewOutbound()

	ucs := biz.NewUsecases(biz.Repos{
		Message:    repos.Message,
		Completion: repos.Completion,
		Attachment: repos.Attachment,
		Delivery:   repos.Delivery,
		Model:      model,
		Search:     search,
		Batches:    inbound,
		Replies:    outbound,
	}, biz.Config{
		Prompts:  cfg.ToPromptConfig(),
		Chatflow: cfg.ToChatflowConfig(),
		Intake:   cfg.ToIntakeConfig(),
	}, logger)

	// schedulers
	inboundCfg := service.SchedulerConfig{
		PollInterval: cfg.Queue.PollInterval,
		Workers:      cfg.Queue.Workers,
		SessionTTL:   cfg.Queue.SessionTTL,
	}
	outboundCfg := inboundCfg
	outboundCfg.RunTimeout = cfg.Queue.DeliveryTimeout

	inboundSched := service.NewInboundScheduler(inbound, ucs.Chatflow, inboundCfg, logger)
	outboundSched := service.NewOutboundScheduler(outbound, ucs.Reply, outboundCfg, logger)
	// schedulers outlive the signal and are stopped after ingress
	schedCtx := context.WithoutCancel(ctx)
	inboundSched.Start(schedCtx)
	outboundSched.Start(schedCtx)

	// ingress
	apiServer := api.NewServer(ucs.Intake, inbound, outbound, cfg.Server.Addr, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Start)

	var feishuServer *server.FeishuServer
	if feishuClient != nil {
		feishuServer = server.NewFeishuServer(feishuClient, ucs.Intake, api.DefaultBotName, logger)
		g.Go(func() error {
			return feishuServer.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if feishuServer != nil {
			feishuServer.Stop()
		}
		return apiServer.Stop(shutdownCtx)
	})

	err = g.Wait()

	inboundSched.Stop()
	outboundSched.Stop()

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
