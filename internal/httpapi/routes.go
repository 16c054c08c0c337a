package httpapi

import (
	"net/http"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/registry"
	"github.com/DoyleJ11/classic-multiplayer/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Config struct {
	// SignalingHost is the websocket base handed to clients, e.g.
	// ws://localhost:9876.
	SignalingHost string
	ICEServers    []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
	Relay   []ws.Option
}

func SetupRoutes(reg *registry.Registry, cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	api := &api{reg: reg, cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog(cfg.Logger))
	r.Use(cors)
	r.NotFound(unknownRoute)
	r.MethodNotAllowed(unknownRoute)

	r.Route("/game", func(r chi.Router) {
		r.Get("/multiplayer-enabled", api.multiplayerEnabled)
		r.Get("/", api.createGame)
		r.Get("/{id}", api.getGame)
		r.Options("/{id}/heartbeat", api.heartbeatInfo)
		r.Put("/{id}/heartbeat", api.heartbeat)
	})

	r.Get("/create-channel/{id}", api.createChannel)
	r.Get("/get-signaling-host/{id}/{name}", api.signalingHost)
	r.Get("/get-signaling-token/{id}/{name}", api.signalingToken)
	r.Get("/get-ice-candidates/{id}", api.iceCandidates)
	r.Get("/status", api.status)
	r.Get("/healthz", Healthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	relayOpts := append([]ws.Option{ws.WithLogger(cfg.Logger.Named("relay"))}, cfg.Relay...)
	r.Get("/v2/{id}/{name}", ws.Handler(reg, relayOpts...))
	return r
}

// Browsers load the game from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		next.ServeHTTP(w, r)
	})
}

func requestLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
