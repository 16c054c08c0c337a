// Package terrain builds the base voxel grid for a world from its seed.
package terrain

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/DoyleJ11/classic-multiplayer/internal/world"
)

var ErrInvalidSize = errors.New("invalid world size")

const MaxSize = world.MaxSize

// Hills is a deterministic heightmap generator: bedrock floor, stone, a dirt
// band, a grass cap, and water filling everything below sea level.
type Hills struct {
	// SeaLevel defaults to a quarter of the playable height.
	SeaLevel int
}

func (h Hills) Generate(seed int64, size int) ([]world.Block, error) {
	if size <= 0 || size > MaxSize {
		return nil, fmt.Errorf("size %d: %w", size, ErrInvalidSize)
	}
	height := min(size, world.MaxHeight)
	sea := h.SeaLevel
	if sea <= 0 {
		sea = height / 4
	}

	heights := heightmap(seed, size, height)
	tiles := make([]world.Block, size*size*size)
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			top := heights[z*size+x]
			for y := 0; y < height; y++ {
				var b world.Block
				switch {
				case y == 0:
					b = world.Bedrock
				case y < top-3:
					b = world.Stone
				case y < top:
					b = world.Dirt
				case y == top && top >= sea:
					b = world.Grass
				case y == top:
					b = world.Sand
				case y <= sea:
					b = world.Water
				}
				tiles[(y*size+z)*size+x] = b
			}
		}
	}
	return tiles, nil
}

// heightmap interpolates a coarse lattice of random heights.
func heightmap(seed int64, size, height int) []int {
	const cell = 16
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	n := size/cell + 2
	lattice := make([]float64, n*n)
	lo, hi := float64(height)/5, float64(height)/2
	for i := range lattice {
		lattice[i] = lo + rng.Float64()*(hi-lo)
	}

	out := make([]int, size*size)
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			gx, gz := x/cell, z/cell
			fx := smooth(float64(x%cell) / cell)
			fz := smooth(float64(z%cell) / cell)
			a := lerp(lattice[gz*n+gx], lattice[gz*n+gx+1], fx)
			b := lerp(lattice[(gz+1)*n+gx], lattice[(gz+1)*n+gx+1], fx)
			h := int(lerp(a, b, fz))
			out[z*size+x] = max(1, min(h, height-1))
		}
	}
	return out
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func smooth(t float64) float64 { return t * t * (3 - 2*t) }
