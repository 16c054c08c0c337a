// Package client joins a hosted game over a peer link and pulls a copy of the
// host's world through the chunked change transfer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/peer"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// NoResponseTimeout ends a transfer when the host stays silent after a
	// request. Hosts send nothing for an empty range.
	NoResponseTimeout = 500 * time.Millisecond
	ChunkSize         = 1000

	hostEndpoint      = "host"
	progressThreshold = 1_000_000
)

var (
	ErrClosed = errors.New("host link closed")
	ErrKicked = errors.New("kicked by host")

	// ErrBadWelcome means the host announced a world that can't be built.
	ErrBadWelcome = errors.New("invalid welcome from host")
)

type Signaler interface {
	Send(ctx context.Context, to, signal string) error
}

type Client struct {
	link   peer.Link
	gen    world.Generator
	clock  clock.Clock
	logger *zap.Logger

	welcomeOnce sync.Once
	welcomed    chan struct{}
	info        *types.Welcome

	changes chan *types.ChangedBlocks
	events  chan any

	kickOnce  sync.Once
	kicked    chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(*Client)

// WithGenerator sets the terrain generator used for the base grid; it must
// match the host's.
func WithGenerator(g world.Generator) Option {
	return func(c *Client) { c.gen = g }
}

func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Dial opens an initiator link towards the room's host. Signals go out
// through sig; answers must be fed back with Signal or Listen.
func Dial(ctx context.Context, sig Signaler, links peer.Factory, iceServers []string, opts ...Option) (*Client, error) {
	c := &Client{
		clock:    clock.New(),
		logger:   zap.NewNop(),
		welcomed: make(chan struct{}),
		changes:  make(chan *types.ChangedBlocks, 16),
		events:   make(chan any, 64),
		kicked:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	runCtx := context.WithoutCancel(ctx)
	link, err := links.NewLink(peer.Config{Initiator: true, ICEServers: iceServers}, peer.Handler{
		OnSignal: func(signal string) {
			if err := sig.Send(runCtx, hostEndpoint, signal); err != nil {
				c.logger.Warn("failed to relay signal to host", zap.Error(err))
			}
		},
		OnConnect: func() {
			if err := c.send(types.NewConnected()); err != nil {
				c.logger.Warn("announcing connection", zap.Error(err))
			}
		},
		OnData:  c.handle,
		OnClose: func() { c.closeOnce.Do(func() { close(c.closed) }) },
		OnError: func(err error) { c.logger.Error("error in client link", zap.Error(err)) },
	})
	if err != nil {
		return nil, fmt.Errorf("opening link to host: %w", err)
	}
	c.link = link
	return c, nil
}

// Signal feeds a signaling payload from the host into the link.
func (c *Client) Signal(payload string) error {
	return c.link.Signal(payload)
}

// Listen feeds relay envelopes into the link until msgs is closed.
func (c *Client) Listen(msgs <-chan types.Envelope) {
	for env := range msgs {
		if err := c.Signal(env.Payload.Signal); err != nil {
			c.logger.Warn("bad signal from host", zap.Error(err))
		}
	}
}

// Events carries host messages that are not part of the world transfer.
// Events are dropped when nobody reads them.
func (c *Client) Events() <-chan any { return c.events }

// Done is closed when the link to the host closes.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Welcome returns the host's welcome, or nil before it has arrived.
func (c *Client) Welcome() *types.Welcome {
	select {
	case <-c.welcomed:
		return c.info
	default:
		return nil
	}
}

func (c *Client) Close() error {
	return c.link.Close()
}

// Message posts a local chat line to the host.
func (c *Client) Message(text string) error {
	return c.send(types.NewChatPost(types.ChatMessage{
		Message:   "<host> " + text,
		Timestamp: c.clock.Now().UnixMilli(),
		Type:      types.ChatLocal,
	}))
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.link.Send(data)
}

func (c *Client) wasKicked() bool {
	select {
	case <-c.kicked:
		return true
	default:
		return false
	}
}

func (c *Client) handle(data []byte) {
	m, err := types.DecodeHost(data)
	if err != nil {
		c.logger.Warn("unsupported message from host", zap.Error(err))
		return
	}
	switch msg := m.(type) {
	case *types.Welcome:
		c.welcomeOnce.Do(func() {
			c.logger.Info("received welcome information",
				zap.Int64("seed", msg.WorldSeed), zap.Int("size", msg.WorldSize),
				zap.Int("changes", msg.NumberOfChangedBlocks))
			c.info = msg
			close(c.welcomed)
		})

	case *types.ChangedBlocks:
		select {
		case c.changes <- msg:
		default:
			c.logger.Warn("dropping unrequested block changes", zap.Int("from", msg.From))
		}

	case *types.Kicked:
		c.logger.Warn("host refused the connection")
		c.kickOnce.Do(func() { close(c.kicked) })

	default:
		select {
		case c.events <- msg:
		default:
		}
	}
}

// FetchWorld waits for the host's welcome and then copies its world chunk by
// chunk.
func (c *Client) FetchWorld(ctx context.Context) (*world.World, error) {
	select {
	case <-c.welcomed:
	case <-c.kicked:
		return nil, ErrKicked
	case <-c.closed:
		if c.wasKicked() {
			return nil, ErrKicked
		}
		return nil, fmt.Errorf("waiting for welcome: %w", ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for welcome: %w", ctx.Err())
	}
	info := c.info
	if info.WorldSize <= 0 || info.WorldSize > world.MaxSize {
		return nil, fmt.Errorf("%w: world size %d", ErrBadWelcome, info.WorldSize)
	}

	w := world.New(info.WorldSeed, info.WorldSize, c.gen, world.WithLogger(c.logger), world.WithClock(c.clock))
	if err := c.Message("Synchronizing"); err != nil {
		return nil, err
	}

	cursor := 0
	if err := c.send(types.NewRequestChanges(cursor)); err != nil {
		return nil, err
	}
	timer := c.clock.Timer(NoResponseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-c.closed:
			return nil, fmt.Errorf("synchronizing: %w", ErrClosed)

		case <-timer.C:
			// Silence after a request means there is nothing left to send.
			c.logger.Debug("no response from host, transfer complete", zap.Int("changes", w.NumChanges()))
			return w, c.Message("Synchronized")

		case msg := <-c.changes:
			if msg.From != cursor {
				c.logger.Warn("received out-of-order block changes",
					zap.Int("expected", cursor), zap.Int("got", msg.From))
				continue
			}
			timer.Stop()
			w.AddChanges(msg.Blocks)

			if len(msg.Blocks) < ChunkSize {
				return w, c.Message("Synchronized")
			}
			cursor += len(msg.Blocks)
			if total := info.NumberOfChangedBlocks; total >= progressThreshold {
				pct := math.Round(100 * float64(cursor) / float64(total))
				if err := c.Message(fmt.Sprintf("Synchronizing (%d%%)", int(pct))); err != nil {
					return nil, err
				}
			}
			if err := c.send(types.NewRequestChanges(cursor)); err != nil {
				return nil, err
			}
			timer.Reset(NoResponseTimeout)
		}
	}
}
