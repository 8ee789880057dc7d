package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPollDeadline means the order was still open when the watch deadline passed.
var ErrPollDeadline = errors.New("payment watch deadline reached")

// Poller runs at most one background watch per order.
type Poller struct {
	rec      *Reconciler
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watches map[string]*watch
	wg      sync.WaitGroup
}

type watch struct {
	cancel context.CancelFunc
}

// NewPoller creates a poller that reconciles every interval.
func NewPoller(rec *Reconciler, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{rec: rec, interval: interval, logger: logger, watches: make(map[string]*watch)}
}

// Watch polls the order until it stops being pollable, the deadline passes
// or ctx is cancelled. A zero deadline means no deadline.
func (p *Poller) Watch(ctx context.Context, orderID string, deadline time.Time) error {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrPollDeadline
			}
			return ctx.Err()
		case <-ticker.C:
		}

		order, err := p.rec.Poll(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("payment poll failed", "order_id", orderID, "error", err)
			continue
		}
		if !Pollable(order) {
			p.logger.Debug("payment watch finished", "order_id", orderID, "status", order.Status)
			return nil
		}
	}
}

// Start launches a background watch. It returns false if one is already
// running for the order.
func (p *Poller) Start(orderID string, deadline time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watches[orderID]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel}
	p.watches[orderID] = w
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.release(orderID, w)
		if err := p.Watch(ctx, orderID, deadline); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Info("payment watch ended", "order_id", orderID, "reason", err)
		}
	}()
	return true
}

// release removes w unless a newer watch replaced it.
func (p *Poller) release(orderID string, w *watch) {
	w.cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watches[orderID] == w {
		delete(p.watches, orderID)
	}
}

// Stop cancels the watch for orderID, if any.
func (p *Poller) Stop(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.watches[orderID]; ok {
		w.cancel()
		delete(p.watches, orderID)
	}
}

// Active returns the number of running watches.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

// StopAll cancels every watch and waits for them to exit.
func (p *Poller) StopAll() {
	p.mu.Lock()
	for id, w := range p.watches {
		w.cancel()
		delete(p.watches, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
