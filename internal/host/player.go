package host

import (
	"encoding/json"
	"sort"

	"github.com/DoyleJ11/classic-multiplayer/internal/peer"
	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"go.uber.org/zap"
)

const outboxSize = 256

// player is the host's view of one remote. Only its writer goroutine sends on
// the link, and only the writer closes it.
type player struct {
	id        string
	link      peer.Link
	connected bool
	departed  bool
	lastState *types.PlayerState

	out chan []byte
}

func (c *Coordinator) newPlayer(id string) (*player, error) {
	p := &player{id: id, out: make(chan []byte, outboxSize)}
	link, err := c.links.NewLink(peer.Config{ICEServers: c.iceServers}, peer.Handler{
		OnSignal: func(signal string) {
			if err := c.signaler.Send(c.ctx, id, signal); err != nil {
				c.logger.Warn("failed to relay signal", zap.String("player", id), zap.Error(err))
			}
		},
		OnConnect: func() { c.post(linkConnected{p: p}) },
		OnData:    func(data []byte) { c.post(linkData{p: p, data: data}) },
		OnClose:   func() { c.post(linkClosed{p: p}) },
		OnError:   func(err error) { c.post(linkError{p: p, err: err}) },
	})
	if err != nil {
		p.departed = true
		return nil, err
	}
	p.link = link
	go p.writer(c.logger)
	return p, nil
}

func (p *player) writer(logger *zap.Logger) {
	for data := range p.out {
		if err := p.link.Send(data); err != nil {
			logger.Debug("send to player failed", zap.String("player", p.id), zap.Error(err))
		}
	}
	_ = p.link.Close()
}

// remove drops p from the session. Frames already queued are still flushed
// before the link closes.
func (c *Coordinator) remove(p *player) {
	if p.departed {
		return
	}
	p.departed = true
	delete(c.players, p.id)
	close(p.out)
	if p.connected {
		c.metrics.Players.Dec()
	}
}

// depart removes p and tells everyone left.
func (c *Coordinator) depart(p *player) {
	c.logger.Info("player left", zap.String("player", p.id))
	c.remove(p)
	c.broadcast(types.NewChatLog(types.ChatMessage{
		From:      p.id,
		Timestamp: c.clock.Now().UnixMilli(),
		Type:      types.ChatLeft,
	}))
}

func (c *Coordinator) sendTo(id string, msg any) {
	p, ok := c.players[id]
	if !ok {
		c.logger.DPanic("attempting to send message to unknown player",
			zap.String("player", id), zap.Error(ErrUnknownPlayer))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding message", zap.Error(err))
		return
	}
	c.enqueue(p, data)
}

func (c *Coordinator) enqueue(p *player, data []byte) {
	if !p.connected || p.departed {
		return
	}
	select {
	case p.out <- data:
	default:
		// Player is slow/full - drop them.
		c.logger.Warn("dropping slow player", zap.String("player", p.id))
		c.depart(p)
	}
}

func (c *Coordinator) broadcast(msg any, except ...string) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding broadcast", zap.Error(err))
		return
	}
	c.broadcastRaw(data, except...)
}

func (c *Coordinator) broadcastRaw(data []byte, except ...string) {
	skip := make(map[string]bool, len(except))
	for _, id := range except {
		skip[id] = true
	}
	for _, id := range c.sortedIDs() {
		p, ok := c.players[id]
		if !ok || skip[id] {
			continue
		}
		c.enqueue(p, data)
	}
}

func (c *Coordinator) sortedIDs() []string {
	ids := make([]string, 0, len(c.players))
	for id := range c.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// broadcastPlayers sends every player the latest state of each player that
// has reported one.
func (c *Coordinator) broadcastPlayers() {
	if len(c.players) == 0 {
		return
	}
	entries := make([]types.PlayerEntry, 0, len(c.players))
	for _, id := range c.sortedIDs() {
		p := c.players[id]
		if p.lastState == nil {
			continue
		}
		entries = append(entries, types.PlayerEntry{Name: p.lastState.Name, ID: id, State: *p.lastState})
	}
	c.broadcast(types.NewPlayers(entries))
}
