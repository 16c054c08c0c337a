package world

import "go.uber.org/zap"

const (
	// MaxHeight caps flood fills to the playable vertical range regardless of
	// the grid size.
	MaxHeight    = 64
	maxFillSteps = 1_000_000
)

var neighbors = [6][3]int{
	{0, 1, 0},  // up
	{0, -1, 0}, // down
	{-1, 0, 0}, // left
	{1, 0, 0},  // right
	{0, 0, -1}, // in
	{0, 0, 1},  // out
}

// FloodFill rewrites every block reachable from origin through blocks in
// through to replacement, and returns how many blocks it rewrote. Fills stop
// quietly after maxFillSteps expansions.
func (w *World) FloodFill(origin Position, through []Block, replacement Block) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	allowed := make(map[Block]bool, len(through))
	for _, b := range through {
		allowed[b] = true
	}
	inBounds := func(p Position) bool {
		return p[0] >= 0 && p[0] < w.Size &&
			p[1] >= 0 && p[1] < MaxHeight &&
			p[2] >= 0 && p[2] < w.Size
	}

	seen := make(map[Position]struct{})
	queue := []Position{origin}
	steps, filled := 0, 0
	for len(queue) > 0 {
		if steps > maxFillSteps {
			w.logger.Warn("flood fill aborted", zap.Ints("origin", origin[:]), zap.Int("filled", filled))
			break
		}
		steps++

		cur := queue[0]
		queue = queue[1:]
		for _, d := range neighbors {
			n := cur.Add(d[0], d[1], d[2])
			if !inBounds(n) {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}

			idx, ok := w.index(n)
			if !ok || !allowed[w.tiles[idx]] {
				continue
			}
			_ = w.setBlock(n, replacement)
			filled++
			queue = append(queue, n)
		}
	}
	return filled
}
