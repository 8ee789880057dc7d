// Package fulfillment produces the content a buyer receives for a paid order.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kazsia/rainyday-new-sub001/internal/core"
	"github.com/kazsia/rainyday-new-sub001/internal/storage"
)

// StockStore allocates pre-loaded stock to orders.
// Implementations: storage.Store
type StockStore interface {
	AssignStock(ctx context.Context, order *core.Order) ([]core.Asset, error)
}

// StockAttacher implements core.DeliveryAttacher by assigning stock items to
// each line item. Repeated calls return the same assets.
type StockAttacher struct {
	store  StockStore
	logger *slog.Logger
}

// NewStockAttacher creates an attacher over store.
func NewStockAttacher(store StockStore, logger *slog.Logger) *StockAttacher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockAttacher{store: store, logger: logger}
}

// AttachDelivery allocates content for order. On a stock shortfall the
// partial allocation is kept and returned alongside the error, and the order
// is left for an administrator to retrigger once stock is loaded.
func (a *StockAttacher) AttachDelivery(ctx context.Context, order *core.Order) ([]core.Asset, error) {
	assets, err := a.store.AssignStock(ctx, order)
	switch {
	case errors.Is(err, storage.ErrInsufficientStock):
		a.logger.Warn("stock shortfall", "order_id", order.ID, "allocated", len(assets), "error", err)
		return assets, err
	case err != nil:
		return nil, fmt.Errorf("failed to assign stock for order %s: %w", order.ID, err)
	}
	a.logger.Info("delivery attached", "order_id", order.ID, "assets", len(assets))
	return assets, nil
}
