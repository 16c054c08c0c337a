// Package rendezvous implements one named endpoint of a relay room: it finds or
// creates the room, opens the relay socket and exchanges signaling envelopes
// with the other endpoints.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HostName is the endpoint name of the room owner.
const HostName = "host"

const (
	pingInterval = 800 * time.Millisecond
	writeTimeout = 3 * time.Second
	nameLength   = 8
	readLimit    = 1 << 20
)

var (
	ErrNotConnected        = errors.New("rendezvous session not connected")
	ErrMultiplayerDisabled = errors.New("server reported that multiplayer is offline")
	ErrRoomNotFound        = errors.New("room not found")
	ErrBadResponse         = errors.New("unexpected relay response")
)

type Session struct {
	server *url.URL
	client *http.Client
	clock  clock.Clock
	logger *zap.Logger
	ice    *lru.Cache[string, []string]

	mu        sync.Mutex
	connected bool
	code      string
	name      string
	conn      *websocket.Conn
	cancel    context.CancelFunc

	messages chan types.Envelope
	done     chan struct{}
}

type Option func(*Session)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New prepares a session against the relay at server. Nothing is dialed until
// Connect.
func New(server string, opts ...Option) (*Session, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	cache, err := lru.New[string, []string](16)
	if err != nil {
		return nil, err
	}
	s := &Session{
		server:   u,
		client:   http.DefaultClient,
		clock:    clock.New(),
		logger:   zap.NewNop(),
		ice:      cache,
		messages: make(chan types.Envelope, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect joins the room named by target, or creates a fresh room when target
// is HostName. It returns once the relay socket is open.
func (s *Session) Connect(ctx context.Context, target string) error {
	enabled, err := s.checkEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return ErrMultiplayerDisabled
	}

	name, roomID := HostName, ""
	if target != HostName {
		roomID = target
		if name, err = types.RandomString(nameLength); err != nil {
			return fmt.Errorf("generating endpoint name: %w", err)
		}
	}

	code, err := s.gameCode(ctx, roomID)
	if err != nil {
		return err
	}
	if name == HostName {
		if err := s.getJSON(ctx, "/create-channel/"+code, nil); err != nil {
			return fmt.Errorf("creating channel: %w", err)
		}
	}

	var token, host string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		token, err = s.value(gctx, "/get-signaling-token/"+code+"/"+name)
		return err
	})
	g.Go(func() (err error) {
		host, err = s.value(gctx, "/get-signaling-host/"+code+"/"+name)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, host+"/v2/"+token, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	conn.SetReadLimit(readLimit)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.code, s.name = code, name
	s.conn = conn
	s.cancel = cancel
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("relay socket open", zap.String("room", code), zap.String("name", name))
	go s.readLoop(runCtx, conn)
	go s.keepalive(runCtx, conn)
	return nil
}

// Send relays a signal to another endpoint of the room.
func (s *Session) Send(ctx context.Context, to, signal string) error {
	s.mu.Lock()
	connected, conn := s.connected, s.conn
	from := s.code + "/" + s.name
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(types.NewSignalEnvelope(from, to, signal))
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("sending signal to %s: %w", to, err)
	}
	return nil
}

// Messages delivers envelopes addressed to this endpoint. It is closed when
// the relay socket closes.
func (s *Session) Messages() <-chan types.Envelope { return s.messages }

// Done is closed once the relay socket has closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Heartbeat refreshes the room on the relay.
func (s *Session) Heartbeat(ctx context.Context) error {
	code := s.Code()
	if code == "" {
		return ErrNotConnected
	}
	return s.do(ctx, http.MethodPut, "/game/"+code+"/heartbeat", nil)
}

func (s *Session) Close() error {
	s.mu.Lock()
	conn, cancel := s.conn, s.cancel
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.logger.Debug("closing relay socket", zap.String("room", s.Code()))
	cancel()
	return conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.closed()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					s.logger.Warn("relay socket read failed", zap.Error(err))
				}
			}
			return
		}

		env, err := types.ParseEnvelope(data)
		if err != nil {
			s.logger.Warn("received invalid relay frame", zap.ByteString("frame", data), zap.Error(err))
			continue
		}
		if name := s.Name(); env.Meta.To != name {
			s.logger.Warn("received frame intended for someone else",
				zap.String("to", env.Meta.To), zap.String("name", name))
			continue
		}

		select {
		case s.messages <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := s.clock.Ticker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, []byte(types.PingFrame))
			cancel()
			if err != nil {
				s.logger.Debug("keepalive stopped", zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) closed() {
	s.mu.Lock()
	s.connected = false
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	close(s.messages)
	close(s.done)
	s.logger.Info("relay socket closed", zap.String("room", s.Code()))
}
