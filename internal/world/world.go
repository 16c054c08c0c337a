package world

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/elliotchance/orderedmap/v2"
	"go.uber.org/zap"
)

var ErrOutOfBounds = errors.New("position out of bounds")

// MaxSize bounds the grid edge so a bad size can't allocate gigabytes.
const MaxSize = 512

// Position is an (x, y, z) voxel coordinate. It encodes as a JSON array.
type Position [3]int

func (p Position) X() int { return p[0] }
func (p Position) Y() int { return p[1] }
func (p Position) Z() int { return p[2] }

func (p Position) Add(dx, dy, dz int) Position {
	return Position{p[0] + dx, p[1] + dy, p[2] + dz}
}

// BlockChange is the wire form of a recorded edit. The host-local timestamp is
// deliberately not part of it.
type BlockChange struct {
	Position  Position `json:"p"`
	Placed    bool     `json:"add"`
	BlockType Block    `json:"bt"`
}

// Generator produces the base grid for a world. The returned slice must have
// exactly size^3 entries, indexed as (y*size+z)*size+x.
type Generator interface {
	Generate(seed int64, size int) ([]Block, error)
}

type record struct {
	change BlockChange
	stamp  int64
}

type World struct {
	Seed int64
	Size int

	mu      sync.Mutex
	tiles   []Block
	changes *orderedmap.OrderedMap[Position, record]

	// exported is rebuilt from changes whenever dirty is set.
	exported []BlockChange
	dirty    bool
	lastEdit time.Time

	clock  clock.Clock
	logger *zap.Logger
}

type Option func(*World)

func WithClock(c clock.Clock) Option {
	return func(w *World) { w.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *World) { w.logger = l }
}

// New generates a world. A failing or missing generator leaves the world with
// an all-empty grid, and a size outside [0, MaxSize] leaves it with no grid at
// all; either failure is logged rather than returned.
func New(seed int64, size int, gen Generator, opts ...Option) *World {
	w := &World{
		Seed:    seed,
		Size:    size,
		changes: orderedmap.NewOrderedMap[Position, record](),
		clock:   clock.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if size < 0 || size > MaxSize {
		w.logger.Error("world size out of range, using an empty world",
			zap.Int("size", size), zap.Int("max", MaxSize))
		w.Size = 0
	}

	w.logger.Debug("generating world", zap.Int64("seed", seed), zap.Int("size", w.Size))
	expected := w.Size * w.Size * w.Size
	if gen != nil {
		tiles, err := gen.Generate(seed, w.Size)
		switch {
		case err != nil:
			w.logger.Error("world generation failed", zap.Error(err))
		case len(tiles) != expected:
			w.logger.Error("generator returned wrong grid length",
				zap.Int("got", len(tiles)), zap.Int("want", expected))
		default:
			w.tiles = tiles
		}
	}
	if w.tiles == nil {
		w.tiles = make([]Block, expected)
	}
	w.logger.Debug("generated world", zap.Int("tiles", len(w.tiles)))
	return w
}

func (w *World) index(p Position) (int, bool) {
	x, y, z := p[0], p[1], p[2]
	if x < 0 || y < 0 || z < 0 || x >= w.Size || y >= w.Size || z >= w.Size {
		return 0, false
	}
	return (y*w.Size+z)*w.Size + x, true
}

func (w *World) upsert(c BlockChange) {
	now := w.clock.Now()
	w.changes.Set(c.Position, record{change: c, stamp: now.UnixMilli()})
	w.lastEdit = now
	w.dirty = true
}

// LastModified reports when the change log was last written, or the zero time
// for an untouched world.
func (w *World) LastModified() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastEdit
}

// SetBlock records the edit and writes it through to the grid. An
// out-of-bounds position returns ErrOutOfBounds, but the change is still kept
// in the log so no client-visible delta is lost.
func (w *World) SetBlock(p Position, b Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setBlock(p, b)
}

func (w *World) setBlock(p Position, b Block) error {
	w.upsert(BlockChange{Position: p, Placed: b != Empty, BlockType: b})

	var err error
	if idx, ok := w.index(p); ok {
		w.tiles[idx] = b
	} else {
		err = fmt.Errorf("set block at %v: %w", p, ErrOutOfBounds)
		w.logger.Warn("attempted to set block out of bounds",
			zap.Ints("pos", p[:]), zap.Int("size", w.Size))
	}

	if b == Sponge {
		w.absorbWater(p)
	}
	return err
}

// absorbWater clears water in the 5x5x5 cube around a sponge.
func (w *World) absorbWater(p Position) {
	for dx := -2; dx <= 2; dx++ {
		for dy := -2; dy <= 2; dy++ {
			for dz := -2; dz <= 2; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := p.Add(dx, dy, dz)
				idx, ok := w.index(n)
				if !ok || w.tiles[idx] != Water {
					continue
				}
				_ = w.setBlock(n, Empty)
			}
		}
	}
}

// GetBlock returns Empty and ErrOutOfBounds for positions outside the grid.
func (w *World) GetBlock(p Position) (Block, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, ok := w.index(p)
	if !ok {
		w.logger.Warn("block lookup out of bounds", zap.Ints("pos", p[:]), zap.Int("size", w.Size))
		return Empty, fmt.Errorf("get block at %v: %w", p, ErrOutOfBounds)
	}
	return w.tiles[idx], nil
}

// AddChanges ingests transferred or persisted history. Every entry is stamped
// with the current time and upserted; in-bounds entries are written through to
// the grid. Re-applying the same changes leaves the world unchanged.
func (w *World) AddChanges(changes []BlockChange) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range changes {
		c.Placed = c.BlockType != Empty
		w.upsert(c)
		if idx, ok := w.index(c.Position); ok {
			w.tiles[idx] = c.BlockType
		}
	}
}

// GetChanges returns the exported change sequence. The slice is shared with
// the world's cache and must not be modified.
func (w *World) GetChanges() []BlockChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.export()
}

// ChangesRange returns a copy of the exported sequence in [from, to), clamped
// to the available range.
func (w *World) ChangesRange(from, to int) []BlockChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	all := w.export()
	from = max(from, 0)
	to = min(to, len(all))
	if from >= to {
		return nil
	}
	out := make([]BlockChange, to-from)
	copy(out, all[from:to])
	return out
}

func (w *World) NumChanges() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes.Len()
}

func (w *World) export() []BlockChange {
	if !w.dirty && w.exported != nil {
		return w.exported
	}
	out := make([]BlockChange, 0, w.changes.Len())
	for el := w.changes.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.change)
	}
	w.exported = out
	w.dirty = false
	return out
}

// Tiles returns a copy of the grid.
func (w *World) Tiles() []Block {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Block, len(w.tiles))
	copy(out, w.tiles)
	return out
}
