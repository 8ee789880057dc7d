package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kazsia/rainyday-new-sub001/internal/admin"
	"github.com/kazsia/rainyday-new-sub001/internal/audit"
	"github.com/kazsia/rainyday-new-sub001/internal/config"
	"github.com/kazsia/rainyday-new-sub001/internal/delivery"
	"github.com/kazsia/rainyday-new-sub001/internal/fulfillment"
	"github.com/kazsia/rainyday-new-sub001/internal/gateway"
	"github.com/kazsia/rainyday-new-sub001/internal/guard"
	"github.com/kazsia/rainyday-new-sub001/internal/notify"
	"github.com/kazsia/rainyday-new-sub001/internal/orders"
	"github.com/kazsia/rainyday-new-sub001/internal/storage"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *storage.Store
	recorder *audit.Recorder
	signer   *delivery.Signer
	orders   *orders.Service
	admin    *admin.Gateway

	// Set by withGateway.
	client     *gateway.Client
	reconciler *gateway.Reconciler
	poller     *gateway.Poller

	// Set by withDelivery.
	guard    *guard.Guard
	delivery *delivery.Service
}

// newApp opens the store and wires the order lifecycle.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	signer, err := delivery.NewSigner(cfg.Delivery.TokenSecret, cfg.Delivery.TokenTTL)
	if err != nil {
		store.Close()
		return nil, err
	}

	recorder := audit.NewRecorder(store, logger)
	svc := orders.NewServiceWithDeps(orders.Deps{
		Store:       store,
		Attacher:    fulfillment.NewStockAttacher(store, logger),
		Tokens:      signer,
		Notifier:    notify.NewLogNotifier(logger),
		Logger:      logger,
		DeliveryURL: cfg.Delivery.PublicURL,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		recorder: recorder,
		signer:   signer,
		orders:   svc,
		admin: admin.NewGatewayWithDeps(admin.Deps{
			Customers: store,
			Identity:  store,
			Orders:    svc,
			Audit:     recorder,
			Logger:    logger,
		}),
	}, nil
}

// withGateway wires the settlement provider, reconciler and poller.
func (a *app) withGateway() error {
	g := a.cfg.Gateway
	client, err := gateway.NewClient(gateway.Config{
		BaseURL:         g.BaseURL,
		MerchantKey:     g.MerchantKey,
		CallbackURL:     g.CallbackURL,
		ReturnURL:       g.ReturnURL,
		RequestTimeout:  g.RequestTimeout,
		InvoiceLifetime: g.InvoiceLifetime,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	verifier, err := gateway.NewWebhookVerifier(g.WebhookKey(), g.SignatureHeader)
	if err != nil {
		return fmt.Errorf("webhook verifier: %w", err)
	}

	a.orders.SetLookup(client)
	a.client = client
	a.reconciler = gateway.NewReconciler(gateway.ReconcilerDeps{
		Orders: a.orders,
		Resolver: gateway.NewAddressResolver(client, gateway.ResolverConfig{
			InquiryAttempts: g.InquiryAttempts,
			InquiryDelay:    g.InquiryDelay,
		}, a.logger),
		Lookup:   client,
		Stale:    a.store,
		Journal:  a.store,
		Verifier: verifier,
		Security: a.recorder,
		Logger:   a.logger,
	})
	a.poller = gateway.NewPoller(a.reconciler, g.PollInterval, a.logger)
	return nil
}

// withDelivery wires the guard and the delivery gate.
func (a *app) withDelivery() {
	gc := a.cfg.Guard
	limiter := guard.NewLimiter(guard.Policy{Limit: gc.DeliveryLimit, Window: gc.DeliveryWindow})
	a.guard = guard.New(limiter, guard.NewBotFilter(gc.BotSignatures, gc.BlockEmptyUserAgent))
	a.delivery = delivery.NewServiceWithDeps(delivery.Deps{
		Signer:   a.signer,
		Guard:    a.guard,
		Orders:   a.orders,
		Uses:     a.store,
		Access:   a.store,
		Assets:   a.store,
		Security: a.recorder,
		Logger:   a.logger,
	})
}

// resumeWatches restarts background polling for payments left open by a
// previous process.
func (a *app) resumeWatches(ctx context.Context) (int, error) {
	open, err := a.store.ListOpenPayments(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	started := 0
	for _, p := range open {
		if p.TrackID == "" {
			continue
		}
		deadline := p.ExpiresAt
		if deadline.IsZero() {
			deadline = now.Add(a.cfg.Gateway.InvoiceLifetime)
		}
		if deadline.Before(now) {
			continue
		}
		if a.poller.Start(p.OrderID, deadline) {
			started++
		}
	}
	return started, nil
}

func (a *app) Close() error {
	var errs []error
	if a.poller != nil {
		a.poller.StopAll()
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// cliActor attributes administrative commands run from the shell.
func cliActor(adminID string) admin.Actor {
	return admin.Actor{AdminID: adminID, IP: "cli"}
}
