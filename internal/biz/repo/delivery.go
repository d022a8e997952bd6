package repo

import "context"

// DeliveryRepo sends a reply text to the upstream messaging platform.
// Failures are reported to the caller and never retried by the core.
type DeliveryRepo interface {
	Deliver(ctx context.Context, sessionKey, text string) error
}
