package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kazsia/rainyday-new-sub001/internal/metrics"
	"github.com/kazsia/rainyday-new-sub001/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the storefront HTTP server",
	Long: `Start the storefront HTTP server.

Besides the API, serve resumes polling for payments left open by a previous
run, expires stale invoices and sweeps idle rate-limit buckets.

Examples:
  storefront serve
  storefront serve --addr :9090
  STOREFRONT_GATEWAY_MERCHANT_KEY=... storefront serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withGateway(); err != nil {
		return err
	}
	a.withDelivery()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server, err := web.NewServer(web.Deps{
		Orders:    a.orders,
		Payments:  a.reconciler,
		Watcher:   a.poller,
		Delivery:  a.delivery,
		Admin:     a.admin,
		Directory: a.store,
		Records:   a.store,
		Health:    a.store,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    logger,
	}, web.Options{
		TrustedProxies:     cfg.Server.TrustedProxies,
		WatchWindow:        cfg.Gateway.InvoiceLifetime,
		DefaultPayCurrency: cfg.Gateway.DefaultCurrency,
		DefaultNetwork:     cfg.Gateway.DefaultNetwork,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resumed, err := a.resumeWatches(ctx)
	if err != nil {
		logger.Warn("failed to resume payment watches", "error", err)
	} else if resumed > 0 {
		logger.Info("resumed payment watches", "count", resumed)
	}
	go a.maintain(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront listening", "addr", cfg.Server.Addr, "version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.poller.StopAll()
	return nil
}

// maintain runs the periodic stale-invoice sweep and rate-limit cleanup
// until ctx is done.
func (a *app) maintain(ctx context.Context) {
	sweep := time.NewTicker(a.cfg.Gateway.SweepInterval)
	defer sweep.Stop()
	idle := time.NewTicker(a.cfg.Guard.SweepIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if _, err := a.reconciler.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("stale payment sweep failed", "error", err)
			}
		case <-idle.C:
			if n := a.guard.Limiter().Sweep(a.cfg.Guard.SweepIdle); n > 0 {
				a.logger.Debug("swept idle rate-limit buckets", "count", n)
			}
		}
	}
}
