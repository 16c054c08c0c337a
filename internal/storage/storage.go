// Package storage persists world snapshots: the generation parameters plus the
// change log needed to rebuild a world by replay.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/classic-multiplayer/internal/world"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("world not found")

// Header is the first record of every stored world.
type Header struct {
	Seed int64 `json:"seed"`
	Size int   `json:"size"`
}

type Snapshot struct {
	Header
	Changes []world.BlockChange
}

// Capture takes a snapshot of w.
func Capture(w *world.World) Snapshot {
	return Snapshot{
		Header:  Header{Seed: w.Seed, Size: w.Size},
		Changes: w.GetChanges(),
	}
}

// Restore rebuilds a world from s using gen for the base grid.
func Restore(s Snapshot, gen world.Generator, opts ...world.Option) *world.World {
	w := world.New(s.Seed, s.Size, gen, opts...)
	w.AddChanges(s.Changes)
	return w
}

type Store interface {
	Save(ctx context.Context, name string, s Snapshot) error
	Load(ctx context.Context, name string) (Snapshot, error)
	Exists(ctx context.Context, name string) (bool, error)
}

// decodeChanges parses change records, skipping the ones that do not decode.
func decodeChanges(records [][]byte, logger *zap.Logger) []world.BlockChange {
	out := make([]world.BlockChange, 0, len(records))
	for i, rec := range records {
		var c world.BlockChange
		if err := json.Unmarshal(rec, &c); err != nil {
			logger.Warn("skipping malformed change record", zap.Int("record", i+1), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

func decodeHeader(rec []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(rec, &h); err != nil {
		return Header{}, fmt.Errorf("decoding world header: %w", err)
	}
	if h.Size <= 0 {
		return Header{}, fmt.Errorf("decoding world header: invalid size %d", h.Size)
	}
	return h, nil
}
