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

	"github.com/DoyleJ11/classic-multiplayer/internal/client"
	"github.com/DoyleJ11/classic-multiplayer/internal/config"
	"github.com/DoyleJ11/classic-multiplayer/internal/host"
	"github.com/DoyleJ11/classic-multiplayer/internal/httpapi"
	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/DoyleJ11/classic-multiplayer/internal/peer"
	"github.com/DoyleJ11/classic-multiplayer/internal/rendezvous"
	"github.com/DoyleJ11/classic-multiplayer/internal/storage"
	"github.com/DoyleJ11/classic-multiplayer/internal/terrain"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"github.com/DoyleJ11/classic-multiplayer/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	heartbeatInterval = 30 * time.Second
	copyTimeout       = 5 * time.Minute
)

var generator = terrain.Hills{}

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
	cfg, err := config.LoadHost(os.Args[1:])
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

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	exists, err := store.Exists(ctx, cfg.File)
	if err != nil {
		return err
	}

	var w *world.World
	switch {
	case cfg.CopyFrom != "" && exists:
		return fmt.Errorf("world %q would be overwritten; delete it and try again", cfg.File)
	case cfg.CopyFrom != "":
		if w, err = copyWorld(ctx, cfg, log); err != nil {
			return fmt.Errorf("copying world: %w", err)
		}
		if err := store.Save(ctx, cfg.File, storage.Capture(w)); err != nil {
			return fmt.Errorf("saving copied world: %w", err)
		}
	case exists:
		snap, err := store.Load(ctx, cfg.File)
		if err != nil {
			return err
		}
		w = storage.Restore(snap, generator, world.WithLogger(log.Named("world")))
		log.Info("loaded world", zap.String("file", cfg.File), zap.Int("changes", w.NumChanges()))
	default:
		w = world.New(cfg.WorldSeed, cfg.WorldSize, generator, world.WithLogger(log.Named("world")))
		log.Info("created world", zap.String("file", cfg.File), zap.Int64("seed", w.Seed))
	}

	return serve(ctx, cfg, w, store, log)
}

func openStore(cfg config.Host, log *zap.Logger) (storage.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		s, err := storage.OpenSQLStore(cfg.DatabaseURL, log.Named("storage"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := storage.NewFileStore(cfg.Storage, log.Named("storage"))
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

// copyWorld joins the game behind cfg.CopyFrom as a player and downloads its
// world.
func copyWorld(ctx context.Context, cfg config.Host, log *zap.Logger) (*world.World, error) {
	ctx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()

	code, err := types.CodeFromURL(cfg.CopyFrom)
	if err != nil {
		return nil, err
	}
	sess, err := rendezvous.New(cfg.Server, rendezvous.WithLogger(log.Named("rendezvous")))
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx, code); err != nil {
		return nil, err
	}
	defer sess.Close()

	ice, err := sess.GetIceServers(ctx)
	if err != nil {
		return nil, err
	}
	c, err := client.Dial(ctx, sess, peer.WebRTC{Logger: log.Named("peer")}, ice,
		client.WithGenerator(generator),
		client.WithLogger(log.Named("client")),
	)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	go c.Listen(sess.Messages())

	log.Info("fetching world", zap.String("room", code))
	w, err := c.FetchWorld(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("copied world", zap.Int64("seed", w.Seed), zap.Int("changes", w.NumChanges()))
	return w, nil
}

func metricsRoutes(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", httpapi.Healthz)
	return r
}

func serve(ctx context.Context, cfg config.Host, w *world.World, store storage.Store, log *zap.Logger) error {
	sess, err := rendezvous.New(cfg.Server, rendezvous.WithLogger(log.Named("rendezvous")))
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx, rendezvous.HostName); err != nil {
		return err
	}
	defer sess.Close()

	ice, err := sess.GetIceServers(ctx)
	if err != nil {
		return err
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord := host.New(ctx, w, sess, peer.WebRTC{Logger: log.Named("peer")},
		host.WithHostName(cfg.HostName),
		host.WithPlayerLimit(cfg.PlayerLimit),
		host.WithICEServers(ice),
		host.WithTickInterval(cfg.TickInterval),
		host.WithStore(store, cfg.File, cfg.AutosaveInterval),
		host.WithLogger(log.Named("host")),
		host.WithMetrics(metrics.NewHost(prom)),
	)
	log.Info("hosting", zap.String("code", sess.Code()), zap.String("file", cfg.File))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.Listen(sess.Messages())
		return errors.New("relay connection lost")
	})
	g.Go(func() error {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if err := sess.Heartbeat(gctx); err != nil {
					log.Warn("heartbeat failed", zap.Error(err))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		coord.Close()
		_ = sess.Close()
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsRoutes(prom), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		// Interrupted; the relay closing under us is expected.
		return nil
	}
	return err
}
