// Package host runs the session coordinator: it owns the authoritative world,
// accepts players that signal through the relay and keeps every connected
// player in sync with the world and with each other.
package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/DoyleJ11/classic-multiplayer/internal/peer"
	"github.com/DoyleJ11/classic-multiplayer/internal/storage"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultTickInterval = 50 * time.Millisecond
	DefaultPlayerLimit  = 10
	DefaultHostName     = "host"

	// ChunkSize is the largest number of changes sent in one changedBlocks.
	ChunkSize = 1000
)

var (
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrDuplicatePlayer = errors.New("signaling received from existing player")
	ErrInvalidSender   = errors.New("invalid signaling sender")
)

// Signaler delivers signaling payloads to other endpoints of the room.
type Signaler interface {
	Send(ctx context.Context, to, signal string) error
}

type Msg interface{ isHostMsg() }

// Signal is an inbound signaling payload from "<room>/<name>".
type Signal struct {
	From    string
	Payload string
}

type linkConnected struct{ p *player }

type linkData struct {
	p    *player
	data []byte
}

type linkClosed struct{ p *player }

type linkError struct {
	p   *player
	err error
}

type saveDone struct {
	modified time.Time
	err      error
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Signal) isHostMsg()        {}
func (linkConnected) isHostMsg() {}
func (linkData) isHostMsg()      {}
func (linkClosed) isHostMsg()    {}
func (linkError) isHostMsg()     {}
func (saveDone) isHostMsg()      {}
func (GetState) isHostMsg()      {}
func (Shutdown) isHostMsg()      {}

type PlayerView struct {
	ID        string
	Connected bool
	State     *types.PlayerState
}

type View struct {
	Players    []PlayerView
	NumChanges int
}

type Coordinator struct {
	inbox   chan Msg
	world   *world.World
	players map[string]*player

	signaler Signaler
	links    peer.Factory

	hostName     string
	playerLimit  int
	iceServers   []string
	tickInterval time.Duration

	store        storage.Store
	worldName    string
	saveInterval time.Duration
	saved        time.Time
	saving       bool
	saves        sync.WaitGroup

	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Host

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Coordinator)

func WithHostName(name string) Option {
	return func(c *Coordinator) { c.hostName = name }
}

func WithPlayerLimit(n int) Option {
	return func(c *Coordinator) { c.playerLimit = n }
}

func WithICEServers(urls []string) Option {
	return func(c *Coordinator) { c.iceServers = urls }
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.tickInterval = d }
}

// WithStore enables autosave of the world under name. A zero interval saves
// only on shutdown.
func WithStore(s storage.Store, name string, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.store = s
		c.worldName = name
		c.saveInterval = interval
	}
}

func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) { c.clock = cl }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *metrics.Host) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func New(parent context.Context, w *world.World, sig Signaler, links peer.Factory, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		inbox:        make(chan Msg, 256),
		world:        w,
		players:      make(map[string]*player),
		signaler:     sig,
		links:        links,
		hostName:     DefaultHostName,
		playerLimit:  DefaultPlayerLimit,
		tickInterval: DefaultTickInterval,
		clock:        clock.New(),
		logger:       zap.NewNop(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewHost(nil)
	}
	c.saved = w.LastModified()

	tick := c.clock.Ticker(c.tickInterval)
	var autosave *clock.Ticker
	if c.store != nil && c.saveInterval > 0 {
		autosave = c.clock.Ticker(c.saveInterval)
	}
	go c.loop(tick, autosave)
	return c
}

func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// Done is closed after the coordinator has stopped and saved its world.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) World() *world.World { return c.world }

// Listen feeds relay envelopes to the coordinator until msgs is closed.
func (c *Coordinator) Listen(msgs <-chan types.Envelope) {
	for env := range msgs {
		c.post(Signal{From: env.Meta.From, Payload: env.Payload.Signal})
	}
}

// State returns a snapshot of the players and the change count.
func (c *Coordinator) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case c.inbox <- GetState{Reply: reply}:
	case <-c.done:
		return View{}, context.Canceled
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return View{}, context.Canceled
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Close disconnects every player, saves the world and waits for the loop.
func (c *Coordinator) Close() {
	c.post(Shutdown{})
	<-c.done
}

// post delivers m unless the coordinator has stopped. Transport callbacks use
// it, so a message from one sender is handled in the order it arrived.
func (c *Coordinator) post(m Msg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) loop(tick, autosave *clock.Ticker) {
	defer close(c.done)
	defer tick.Stop()
	var saveC <-chan time.Time
	if autosave != nil {
		defer autosave.Stop()
		saveC = autosave.C
	}

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case <-tick.C:
			c.broadcastPlayers()

		case <-saveC:
			c.autosave()

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Signal:
				c.handleSignal(msg)

			case linkConnected:
				if c.current(msg.p, "connect") {
					msg.p.connected = true
					c.metrics.Players.Inc()
					c.logger.Info("player link open", zap.String("player", msg.p.id))
				}

			case linkData:
				if c.current(msg.p, "data") {
					c.handleData(msg.p, msg.data)
				}

			case linkError:
				if c.current(msg.p, "error") {
					c.logger.Error("error in link from player", zap.String("player", msg.p.id), zap.Error(msg.err))
					c.depart(msg.p)
				}

			case linkClosed:
				if c.current(msg.p, "close") {
					c.depart(msg.p)
				}

			case saveDone:
				c.saving = false
				if msg.err != nil {
					c.metrics.Saves.WithLabelValues("error").Inc()
					c.logger.Error("autosave failed", zap.Error(msg.err))
					break
				}
				c.metrics.Saves.WithLabelValues("ok").Inc()
				if msg.modified.After(c.saved) {
					c.saved = msg.modified
				}

			case GetState:
				msg.Reply <- c.view()

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

// current reports whether p is still the active player for its id. Events
// trailing a departure are expected and ignored; anything else means the
// player map and the transports disagree.
func (c *Coordinator) current(p *player, event string) bool {
	if c.players[p.id] == p {
		return true
	}
	if p.departed {
		c.logger.Debug("ignoring event for departed player", zap.String("player", p.id), zap.String("event", event))
		return false
	}
	c.logger.DPanic("event from unknown player", zap.String("player", p.id),
		zap.String("event", event), zap.Error(ErrUnknownPlayer))
	return false
}

func (c *Coordinator) view() View {
	v := View{NumChanges: c.world.NumChanges()}
	for _, id := range c.sortedIDs() {
		p := c.players[id]
		pv := PlayerView{ID: id, Connected: p.connected}
		if p.lastState != nil {
			s := *p.lastState
			pv.State = &s
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

func (c *Coordinator) shutdown() {
	for _, p := range c.players {
		c.remove(p)
	}
	c.saves.Wait()
	if c.store != nil && c.world.LastModified().After(c.saved) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 30*time.Second)
		defer cancel()
		if err := c.store.Save(ctx, c.worldName, storage.Capture(c.world)); err != nil {
			c.metrics.Saves.WithLabelValues("error").Inc()
			c.logger.Error("final save failed", zap.Error(err))
		} else {
			c.metrics.Saves.WithLabelValues("ok").Inc()
			c.logger.Info("world saved", zap.String("world", c.worldName))
		}
	}
	c.cancel()
}

// autosave writes the world in the background when it changed since the last
// save; at most one save runs at a time.
func (c *Coordinator) autosave() {
	modified := c.world.LastModified()
	if c.saving || !modified.After(c.saved) {
		return
	}
	c.saving = true
	snap := storage.Capture(c.world)
	c.saves.Add(1)
	go func() {
		err := c.store.Save(c.ctx, c.worldName, snap)
		c.saves.Done()
		c.post(saveDone{modified: modified, err: err})
	}()
}
