// Package registry keeps the relay's rooms: who is joined to which room and
// when each room was last seen alive. All state is owned by one actor loop.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultTTL           = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second

	roomPrefix  = "mcmp_"
	roomIDChars = 16
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrDuplicateMember = errors.New("member already joined")
	ErrClosed          = errors.New("registry closed")
)

// Handle is a member's outbound side. Send must not block; it reports false
// when the member cannot keep up.
type Handle interface {
	Send(frame []byte) bool
	Close()
}

type RoomInfo struct {
	ID        string `json:"code"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Members   int    `json:"-"`
}

type StatusEntry struct {
	Players   int   `json:"players"`
	UpdatedAt int64 `json:"updatedAt"`
}

type room struct {
	id        string
	createdAt int64
	updatedAt int64
	members   map[string]Handle
}

func (r *room) info() RoomInfo {
	return RoomInfo{ID: r.id, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt, Members: len(r.members)}
}

type Msg interface{ isRegistryMsg() }

type CreateRoom struct {
	Reply chan RoomResult
}

type GetRoom struct {
	ID    string
	Reply chan RoomResult
}

type Heartbeat struct {
	ID    string
	Reply chan error
}

type Join struct {
	Room, Member string
	Handle       Handle
	Reply        chan error
}

type Leave struct {
	Room, Member string
	Handle       Handle
}

type Touch struct{ Room string }

type Route struct {
	Room  string
	Frame []byte
}

type GetStatus struct {
	Reply chan map[string]StatusEntry
}

type Shutdown struct{}

func (CreateRoom) isRegistryMsg() {}
func (GetRoom) isRegistryMsg()    {}
func (Heartbeat) isRegistryMsg()  {}
func (Join) isRegistryMsg()       {}
func (Leave) isRegistryMsg()      {}
func (Touch) isRegistryMsg()      {}
func (Route) isRegistryMsg()      {}
func (GetStatus) isRegistryMsg()  {}
func (Shutdown) isRegistryMsg()   {}

type RoomResult struct {
	Info RoomInfo
	Err  error
}

type Registry struct {
	inbox chan Msg
	rooms map[string]*room

	ttl           time.Duration
	sweepInterval time.Duration
	clock         clock.Clock
	logger        *zap.Logger
	metrics       *metrics.Relay

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Registry)

func WithTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMetrics(m *metrics.Relay) Option {
	return func(r *Registry) { r.metrics = m }
}

func New(parent context.Context, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:         make(chan Msg, 64),
		rooms:         make(map[string]*room),
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		clock:         clock.New(),
		logger:        zap.NewNop(),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRelay(nil)
	}

	// The ticker must exist before New returns so that mock clocks see it.
	sweep := r.clock.Ticker(r.sweepInterval)
	go r.loop(sweep)
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the loop has closed every room and exited.
func (r *Registry) Done() <-chan struct{} { return r.done }

func (r *Registry) loop(sweep *clock.Ticker) {
	defer close(r.done)
	defer sweep.Stop()
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-sweep.C:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- r.create()

			case GetRoom:
				if rm := r.rooms[msg.ID]; rm != nil {
					msg.Reply <- RoomResult{Info: rm.info()}
					break
				}
				msg.Reply <- RoomResult{Err: ErrRoomNotFound}

			case Heartbeat:
				rm := r.rooms[msg.ID]
				if rm == nil {
					msg.Reply <- ErrRoomNotFound
					break
				}
				rm.updatedAt = r.now()
				r.logger.Debug("heartbeat", zap.String("room", msg.ID))
				msg.Reply <- nil

			case Join:
				msg.Reply <- r.join(msg)

			case Leave:
				rm := r.rooms[msg.Room]
				if rm == nil || rm.members[msg.Member] != msg.Handle {
					break
				}
				delete(rm.members, msg.Member)
				r.metrics.Members.Dec()

			case Touch:
				if rm := r.rooms[msg.Room]; rm != nil {
					rm.updatedAt = r.now()
				}

			case Route:
				r.route(msg)

			case GetStatus:
				msg.Reply <- r.status()

			case Shutdown:
				r.shutdown()
				r.cancel()
				return
			}
		}
	}
}

func (r *Registry) now() int64 { return r.clock.Now().UnixMilli() }

func (r *Registry) create() RoomResult {
	for {
		suffix, err := types.RandomString(roomIDChars)
		if err != nil {
			return RoomResult{Err: err}
		}
		id := roomPrefix + suffix
		if _, taken := r.rooms[id]; taken {
			r.logger.Warn("collision on room id, regenerating")
			continue
		}

		now := r.now()
		rm := &room{id: id, createdAt: now, updatedAt: now, members: make(map[string]Handle)}
		r.rooms[id] = rm
		r.metrics.Rooms.Inc()
		r.metrics.RoomsCreated.Inc()
		r.logger.Debug("room created", zap.String("room", id))
		return RoomResult{Info: rm.info()}
	}
}

// join refuses a second registration under a live member name; the first
// handle stays in place.
func (r *Registry) join(msg Join) error {
	rm := r.rooms[msg.Room]
	if rm == nil {
		return ErrRoomNotFound
	}
	if _, taken := rm.members[msg.Member]; taken {
		r.logger.Warn("attempted to overwrite member",
			zap.String("room", msg.Room), zap.String("member", msg.Member))
		return ErrDuplicateMember
	}
	rm.members[msg.Member] = msg.Handle
	r.metrics.Members.Inc()
	return nil
}

func (r *Registry) route(msg Route) {
	rm := r.rooms[msg.Room]
	if rm == nil {
		r.metrics.Frames.WithLabelValues("dropped").Inc()
		return
	}
	env, err := types.ParseEnvelope(msg.Frame)
	if err != nil {
		r.logger.Warn("failed to parse frame", zap.String("room", msg.Room), zap.Error(err))
		r.metrics.Frames.WithLabelValues("malformed").Inc()
		return
	}

	to := env.Meta.To
	h, ok := rm.members[to]
	if !ok {
		r.logger.Warn("no receiver for frame", zap.String("room", msg.Room), zap.String("to", to))
		r.metrics.Frames.WithLabelValues("dropped").Inc()
		return
	}
	if !h.Send(msg.Frame) {
		// Member is slow/full - drop them.
		r.logger.Warn("dropping slow member", zap.String("room", msg.Room), zap.String("member", to))
		h.Close()
		delete(rm.members, to)
		r.metrics.Members.Dec()
		r.metrics.Frames.WithLabelValues("dropped").Inc()
		return
	}
	r.metrics.Frames.WithLabelValues("routed").Inc()
}

func (r *Registry) sweep() {
	now := r.now()
	for id, rm := range r.rooms {
		if now-rm.updatedAt < r.ttl.Milliseconds() {
			continue
		}
		r.logger.Info("room expired", zap.String("room", id))
		r.closeRoom(rm)
		r.metrics.RoomsExpired.Inc()
	}
}

func (r *Registry) closeRoom(rm *room) {
	for member, h := range rm.members {
		h.Close()
		delete(rm.members, member)
		r.metrics.Members.Dec()
	}
	delete(r.rooms, rm.id)
	r.metrics.Rooms.Dec()
}

func (r *Registry) status() map[string]StatusEntry {
	out := make(map[string]StatusEntry, len(r.rooms))
	for id, rm := range r.rooms {
		out[statusPrefix(id)] = StatusEntry{Players: len(rm.members), UpdatedAt: rm.updatedAt}
	}
	return out
}

func statusPrefix(id string) string {
	const from, n = len(roomPrefix), 8
	if len(id) <= from {
		return id
	}
	return id[from:min(len(id), from+n)]
}

func (r *Registry) shutdown() {
	for _, rm := range r.rooms {
		r.closeRoom(rm)
	}
}
