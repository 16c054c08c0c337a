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

	"github.com/DoyleJ11/classic-multiplayer/internal/config"
	"github.com/DoyleJ11/classic-multiplayer/internal/httpapi"
	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/DoyleJ11/classic-multiplayer/internal/registry"
	"github.com/DoyleJ11/classic-multiplayer/internal/ws"
	"github.com/DoyleJ11/classic-multiplayer/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Level, cfg.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelay(prom)

	reg := registry.New(ctx,
		registry.WithTTL(cfg.RoomTTL),
		registry.WithSweepInterval(cfg.SweepInterval),
		registry.WithLogger(log.Named("registry")),
		registry.WithMetrics(relayMetrics),
	)

	// Build the router with the registry injected
	handler := httpapi.SetupRoutes(reg, httpapi.Config{
		SignalingHost: cfg.SignalingHost(),
		ICEServers:    []string{cfg.ICEServer},
		Metrics:       promhttp.HandlerFor(prom, promhttp.HandlerOpts{Registry: prom}),
		Logger:        log.Named("http"),
		Relay: []ws.Option{
			ws.WithMetrics(relayMetrics),
			ws.WithRate(rate.Limit(cfg.RelayRate), int(2*cfg.RelayRate)+1),
		},
	})
	srv := &http.Server{Addr: cfg.Addr(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("signaling", cfg.SignalingHost()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Relay sockets are hijacked and never seen by Shutdown.
		reg.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
