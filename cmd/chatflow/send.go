package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
	"github.com/DevRickLin/feishu-chatflow/internal/conf"
	"github.com/DevRickLin/feishu-chatflow/internal/data"
	"github.com/DevRickLin/feishu-chatflow/internal/infra/feishu"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <session_id> <message>",
		Short: "Deliver one message to a session through the configured delivery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			delivery, err := newDelivery(cfg, logger)
			if err != nil {
				return err
			}
			if err := delivery.Deliver(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
			return nil
		},
	}
}

// newDelivery builds the delivery selected by DELIVERY_MODE
func newDelivery(cfg *conf.Config, logger *zap.Logger) (repo.DeliveryRepo, error) {
	switch cfg.Delivery.Mode {
	case conf.DeliveryFeishu:
		if !cfg.FeishuEnabled() {
			return nil, fmt.Errorf("feishu delivery needs FEISHU_APP_ID and FEISHU_APP_SECRET")
		}
		return data.NewFeishuDelivery(feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)), nil
	case conf.DeliveryCallback:
		if cfg.Delivery.CallbackURL == "" {
			return nil, fmt.Errorf("callback delivery needs CHAT_CALLBACK_URL")
		}
		return data.NewCallbackDelivery(cfg.Delivery.CallbackURL,
			&http.Client{Timeout: cfg.Queue.DeliveryTimeout}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported delivery mode %q", cfg.Delivery.Mode)
	}
}
