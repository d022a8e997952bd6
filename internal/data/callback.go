package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// callbackDelivery posts replies to the chat gateway's callback endpoint
type callbackDelivery struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewCallbackDelivery creates a callback delivery repository.
// A nil client uses a 30 second timeout client.
func NewCallbackDelivery(callbackURL string, client *http.Client, logger *zap.Logger) repo.DeliveryRepo {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &callbackDelivery{url: callbackURL, http: client, logger: logger.Named("callback")}
}

// Deliver posts session_id and msg as query parameters
func (r *callbackDelivery) Deliver(ctx context.Context, sessionKey, text string) error {
	u, err := url.Parse(r.url)
	if err != nil {
		return fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionKey)
	q.Set("msg", text)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("callback: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	r.logger.Debug("callback response",
		zap.String("session", sessionKey),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", body))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
