// Package notify delivers buyer-facing notifications.
package notify

import (
	"context"
	"log/slog"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
)

// LogNotifier implements core.Notifier by writing structured log records.
// It is the default when no mail transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier. logger may be nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// OrderPaid announces a settled order with its delivery link.
func (n *LogNotifier) OrderPaid(ctx context.Context, order *core.Order, deliveryURL string) error {
	n.logger.InfoContext(ctx, "order paid",
		"order_id", order.ID,
		"human_id", order.HumanID,
		"email", order.Email,
		"total", order.Total.StringFixed(2),
		"currency", order.Currency,
		"delivery_url", deliveryURL,
	)
	return nil
}

// OrderStatusChanged announces any other status change.
func (n *LogNotifier) OrderStatusChanged(ctx context.Context, order *core.Order, from core.OrderStatus) error {
	n.logger.InfoContext(ctx, "order status changed",
		"order_id", order.ID,
		"human_id", order.HumanID,
		"email", order.Email,
		"from", from,
		"to", order.Status,
	)
	return nil
}
