// Package app walks the gateway through its lifecycle: starting (config,
// store client, connectivity check), running (scanner feeding the ingestion
// pipeline, read-side HTTP, periodic flush), stopping (scanner off, drain,
// final flush), stopped.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"beaconrelay/gateway/internal/config"
	"beaconrelay/gateway/internal/ingest"
	"beaconrelay/gateway/internal/readside"
	"beaconrelay/gateway/internal/remotestore"
	"beaconrelay/gateway/internal/retry"
	"beaconrelay/gateway/internal/scanner"
	"beaconrelay/gateway/internal/sink"

	"github.com/grandcat/zeroconf"
)

const (
	initTimeout     = 10 * time.Second
	drainTimeout    = 5 * time.Second
	flushTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// App wires together the gateway services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	sink    *sink.Sink
	adapter *ingest.Adapter
	source  *scanner.Source
	mdns    *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all services and blocks until the context is cancelled or a
// fatal error occurs. A non-nil return means the process should exit non-zero.
func (a *App) Run(ctx context.Context) error {
	origin := a.cfg.Origin()

	store, err := remotestore.Open(a.cfg.StoreEndpoint, a.cfg.StoreTable, a.cfg.StoreRegion, a.cfg.StoreToken)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	if closer, ok := store.(*remotestore.SQLiteClient); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				a.logger.Error("close local store", "error", cerr)
			}
		}()
	}

	a.sink = sink.New(store, origin, a.logger, sink.Options{
		BufferCapacity: a.cfg.BufferCapacity,
		Retry: retry.Policy{
			MaxAttempts: a.cfg.RetryMaxAttempts,
			BaseDelay:   a.cfg.RetryBaseDelay,
		},
	})

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := a.sink.Initialize(initCtx); err != nil {
		return fmt.Errorf("storage initialization: %w", err)
	}

	a.adapter = ingest.New(a.sink, a.cfg.RateLimitInterval, a.logger)

	a.source = scanner.New(scanner.Config{
		BrokerURL: a.cfg.BrokerURL,
		Interval:  a.cfg.ScanInterval,
		Window:    a.cfg.ScanWindow,
	}, a.logger)
	a.source.SetHandler(a.adapter.HandleAdvertisement)
	if err := a.source.Start(); err != nil {
		return err
	}

	status := readside.NewStatus(time.Now())
	readServer := readside.New(store, a.sink, status, origin, a.cfg.SummaryWindow, a.cfg.WebDir, a.logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: readServer.Routes(),
	}

	httpErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.cfg.MDNSEnabled {
		mdns, err := readside.AnnounceMDNS(a.cfg.HTTPPort, origin, a.logger)
		if err != nil {
			a.logger.Warn("mDNS announcement failed", "error", err)
		} else {
			a.mdns = mdns
		}
	}

	var flushCh <-chan time.Time
	if a.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(a.cfg.FlushInterval)
		defer ticker.Stop()
		flushCh = ticker.C
	}

	a.logger.Info("gateway running", "origin", origin.ID, "table", a.cfg.StoreTable)

	for {
		select {
		case <-ctx.Done():
			return a.shutdown(httpServer)
		case err := <-httpErrCh:
			a.source.Stop()
			a.stopMDNS()
			return err
		case <-flushCh:
			a.periodicFlush()
		}
	}
}

// periodicFlush replays the buffer so records drain as soon as the store
// recovers, not only at exit.
func (a *App) periodicFlush() {
	if a.sink.BufferLen() == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	res := a.sink.Flush(flushCtx)
	if res.Skipped {
		return
	}
	a.logger.Info("periodic flush", "success", res.Success, "failed", res.Failed)
}

// shutdown is the stopping state: scanner first so the flush workload is
// bounded, then drain in-flight writes, then a final flush. Flush failures are
// logged, not fatal; only an HTTP teardown error makes the exit non-zero.
func (a *App) shutdown(httpServer *http.Server) error {
	a.source.Stop()

	if !a.adapter.Drain(drainTimeout) {
		a.logger.Warn("in-flight writes still pending after drain timeout")
	}

	if a.sink.BufferLen() > 0 {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		res := a.sink.Flush(flushCtx)
		a.logger.Info("shutdown flush",
			"success", res.Success,
			"failed", res.Failed,
			"remaining", a.sink.BufferLen(),
			"dropped_total", a.sink.Dropped(),
		)
	}

	a.stopMDNS()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	a.logger.Info("http server stopped")
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}
	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}
