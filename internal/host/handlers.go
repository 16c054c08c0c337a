package host

import (
	"fmt"
	"math"

	"github.com/DoyleJ11/classic-multiplayer/internal/types"
	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"go.uber.org/zap"
)

func (c *Coordinator) handleSignal(msg Signal) {
	id, ok := types.SenderName(msg.From)
	if !ok {
		c.logger.Warn("dropping signal", zap.String("from", msg.From), zap.Error(ErrInvalidSender))
		return
	}
	if _, exists := c.players[id]; exists {
		c.logger.Warn("refusing signal", zap.String("player", id), zap.Error(ErrDuplicatePlayer))
		return
	}

	c.logger.Info("received signaling from new client", zap.String("player", id))
	p, err := c.newPlayer(id)
	if err != nil {
		c.logger.Error("creating link", zap.String("player", id), zap.Error(err))
		return
	}
	c.players[id] = p
	if err := p.link.Signal(msg.Payload); err != nil {
		c.logger.Warn("bad signal from new client", zap.String("player", id), zap.Error(err))
		c.remove(p)
	}
}

func (c *Coordinator) handleData(p *player, data []byte) {
	m, err := types.DecodeClient(data)
	if err != nil {
		c.logger.Warn("unsupported message", zap.String("player", p.id), zap.Error(err))
		return
	}

	switch msg := m.(type) {
	case *types.Connected:
		c.countMessage(types.TypeConnected)
		c.welcome(p)

	case *types.RequestChanges:
		c.countMessage(types.TypeRequestChanges)
		c.sendChanges(p, msg.From)

	case *types.PlayerStateUpdate:
		c.countMessage(types.TypePlayerState)
		s := msg.Data.State
		p.lastState = &s

	case *types.FireEvent:
		c.countMessage(types.TypeFireEvent)
		pos, block, ok := msg.Data.Edit()
		if !ok {
			c.rejectEdit(p, pos, msg.Data.ChosenBlock+1)
			break
		}
		// Peers see the edit before the world does; joiners sync from the world.
		c.broadcastRaw(data, p.id)
		c.apply(pos, block)

	case *types.SetBlockTypeAt:
		c.countMessage(types.TypeSetBlockTypeAt)
		block, ok := world.BlockFromID(msg.Data.BlockTypeID)
		if !ok {
			c.rejectEdit(p, msg.Data.Position, msg.Data.BlockTypeID)
			break
		}
		c.apply(msg.Data.Position, block)

	case *types.ChatPost:
		c.countMessage(types.TypeMessage)
		c.broadcast(types.NewChatLog(msg.Message))
	}
}

func (c *Coordinator) countMessage(t types.MessageType) {
	c.metrics.Messages.WithLabelValues(string(t)).Inc()
}

func (c *Coordinator) welcome(p *player) {
	others := 0
	for id, o := range c.players {
		if id != p.id && o.connected {
			others++
		}
	}
	if others >= c.playerLimit {
		c.logger.Info("game full, kicking player", zap.String("player", p.id), zap.Int("limit", c.playerLimit))
		c.sendTo(p.id, types.NewKicked())
		c.remove(p)
		return
	}

	c.logger.Info("client connected", zap.String("player", p.id))
	c.sendTo(p.id, types.NewWelcome(types.Welcome{
		HostName:              c.hostName,
		PlayerCount:           len(c.players),
		MaxPlayers:            c.playerLimit,
		WorldSeed:             c.world.Seed,
		WorldSize:             c.world.Size,
		NumberOfChangedBlocks: c.world.NumChanges(),
	}))
}

// sendChanges answers one chunk request. An empty range sends nothing; the
// client treats silence as the end of the transfer.
func (c *Coordinator) sendChanges(p *player, from int) {
	total := c.world.NumChanges()
	blocks := c.world.ChangesRange(from, from+ChunkSize)
	if from != total {
		c.logger.Debug("sending world", zap.String("player", p.id), zap.Int("from", from), zap.Int("total", total))
	}
	if len(blocks) == 0 {
		return
	}

	c.sendTo(p.id, types.NewChangedBlocks(blocks, from))
	c.metrics.Chunks.Inc()
	if total-from > ChunkSize {
		pct := math.Round(100 * float64(min(from+ChunkSize, total)) / float64(total))
		c.message(p.id, fmt.Sprintf("Synchronizing (%d%%)", int(pct)))
	}
}

// message sends a host notice to one player's chat.
func (c *Coordinator) message(id, text string) {
	c.sendTo(id, types.NewChatLog(types.ChatMessage{
		Message:   "<host>: " + text,
		Timestamp: c.clock.Now().UnixMilli(),
		Type:      types.ChatLocal,
	}))
}
