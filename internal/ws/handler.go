package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/DoyleJ11/classic-multiplayer/internal/registry"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	outboxSize   = 64
	readTimeout  = 30 * time.Second
	writeTimeout = 3 * time.Second
	readLimit    = 1 << 20

	DefaultRate  = 50
	DefaultBurst = 100
)

type config struct {
	logger  *zap.Logger
	metrics *metrics.Relay
	limit   rate.Limit
	burst   int
}

type Option func(*config)

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithMetrics(m *metrics.Relay) Option {
	return func(c *config) { c.metrics = m }
}

// WithRate limits how many signaling frames one socket may relay per second.
// Keepalive frames are not counted.
func WithRate(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.limit = limit
		c.burst = burst
	}
}

// member is the registry's handle on one relay socket.
type member struct {
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newMember() *member {
	return &member{out: make(chan []byte, outboxSize), closed: make(chan struct{})}
}

func (m *member) Send(frame []byte) bool {
	select {
	case m.out <- frame:
		return true
	default:
		return false
	}
}

func (m *member) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// Handler serves /v2/{id}/{name}: the socket of one named endpoint of a room.
func Handler(reg *registry.Registry, opts ...Option) http.HandlerFunc {
	cfg := config{logger: zap.NewNop(), limit: DefaultRate, burst: DefaultBurst}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.NewRelay(nil)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		roomID, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")
		if name == "" {
			http.Error(w, "invalid player id", http.StatusBadRequest)
			return
		}
		if _, err := reg.Get(r.Context(), roomID); err != nil {
			cfg.logger.Warn("attempted to connect to unknown game", zap.String("room", roomID))
			http.Error(w, "unknown game id "+roomID, http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Players load the game from other origins.
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		logger := cfg.logger.With(
			zap.String("conn", uuid.NewString()),
			zap.String("room", roomID),
			zap.String("member", name),
		)

		m := newMember()
		if err := reg.Join(r.Context(), roomID, name, m); err != nil {
			logger.Warn("refusing relay socket", zap.Error(err))
			conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
		logger.Debug("new connection")
		defer func() { _ = reg.Leave(context.WithoutCancel(r.Context()), roomID, name, m) }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case frame := <-m.out:
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err := conn.Write(ctx, websocket.MessageText, frame)
					cancel()
					if err != nil {
						logger.Debug("write failed", zap.Error(err))
						return
					}
				case <-m.closed:
					conn.Close(websocket.StatusGoingAway, "room closed")
					return
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		limiter := rate.NewLimiter(cfg.limit, cfg.burst)
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						logger.Debug("relay socket closed", zap.Error(err))
					}
				}
				return
			}

			if string(data) == types.PingFrame {
				_ = reg.Touch(r.Context(), roomID)
				continue
			}
			if !limiter.Allow() {
				logger.Warn("rate limit exceeded, dropping frame")
				cfg.metrics.Frames.WithLabelValues("rate_limited").Inc()
				continue
			}
			if err := reg.Route(r.Context(), roomID, data); err != nil {
				return
			}
		}
	}
}
