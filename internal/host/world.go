package host

import (
	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"go.uber.org/zap"
)

func (c *Coordinator) apply(pos world.Position, b world.Block) {
	if err := c.world.SetBlock(pos, b); err != nil {
		// Out-of-bounds edits stay in the change log; the world already logged it.
		c.logger.Debug("edit outside grid", zap.Error(err))
	}
	c.metrics.BlockEdits.Inc()
}

// rejectEdit drops an edit naming an unknown block type. Nothing is applied or
// relayed.
func (c *Coordinator) rejectEdit(p *player, pos world.Position, id int) {
	c.logger.Warn("ignoring edit with unknown block type",
		zap.String("player", p.id), zap.Ints("pos", pos[:]), zap.Int("block", id))
}
