package render

import (
	"fmt"

	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

// CombinedGrid merges the square data of a block of chunks so that objects
// crossing chunk borders can be drawn in one pass.
type CombinedGrid struct {
	// X, Z is the world square of the south-west corner.
	X, Z int
	Size int
	// Heights and Collision are indexed [level][z*Size+x], absent chunks stay zero.
	Heights   [sceneStorage.Levels][]int16
	Collision [sceneStorage.Levels][]uint16
	// Locs are in world squares.
	Locs []sceneStorage.Loc
}

// CombineGrid builds a grid out of chunks that form an NxN block.
func CombineGrid(chunks []*PreparedChunk) (*CombinedGrid, error) {
	if len(chunks) == 0 {
		return nil, ErrNotSquare
	}
	minx, minz := chunks[0].X, chunks[0].Z
	maxx, maxz := minx, minz
	for _, c := range chunks {
		minx, maxx = min(minx, c.X), max(maxx, c.X)
		minz, maxz = min(minz, c.Z), max(maxz, c.Z)
	}
	n := maxx - minx + 1
	if maxz-minz+1 != n || n*n != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks spanning %dx%d", ErrNotSquare, len(chunks), n, maxz-minz+1)
	}
	g := &CombinedGrid{
		X:    minx * primitives.ChunkSize,
		Z:    minz * primitives.ChunkSize,
		Size: n * primitives.ChunkSize,
	}
	for l := 0; l < sceneStorage.Levels; l++ {
		g.Heights[l] = make([]int16, g.Size*g.Size)
		g.Collision[l] = make([]uint16, g.Size*g.Size)
	}
	for _, c := range chunks {
		if c.Released {
			return nil, ErrReleased
		}
		if c.Scene == nil {
			continue
		}
		ox := (c.X - minx) * primitives.ChunkSize
		oz := (c.Z - minz) * primitives.ChunkSize
		for l, lvl := range c.Scene.Levels {
			for z := 0; z < primitives.ChunkSize; z++ {
				row := (oz+z)*g.Size + ox
				src := z * primitives.ChunkSize
				copy(g.Heights[l][row:row+primitives.ChunkSize], lvl.Heights[src:src+primitives.ChunkSize])
				copy(g.Collision[l][row:row+primitives.ChunkSize], lvl.Collision[src:src+primitives.ChunkSize])
			}
		}
		for _, loc := range c.Scene.Locs {
			loc.X += c.X * primitives.ChunkSize
			loc.Z += c.Z * primitives.ChunkSize
			g.Locs = append(g.Locs, loc)
		}
	}
	return g, nil
}

// CollisionAt returns collision flags of a world square, zero outside the grid.
func (g *CombinedGrid) CollisionAt(level, wx, wz int) uint16 {
	x, z := wx-g.X, wz-g.Z
	if level < 0 || level >= sceneStorage.Levels || x < 0 || z < 0 || x >= g.Size || z >= g.Size {
		return 0
	}
	return g.Collision[level][z*g.Size+x]
}

func (g *CombinedGrid) HeightAt(level, wx, wz int) int16 {
	x, z := wx-g.X, wz-g.Z
	if level < 0 || level >= sceneStorage.Levels || x < 0 || z < 0 || x >= g.Size || z >= g.Size {
		return 0
	}
	return g.Heights[level][z*g.Size+x]
}

// LocsIn returns locs of the level whose footprint intersects rect.
func (g *CombinedGrid) LocsIn(level int, rect Rect) []sceneStorage.Loc {
	ret := []sceneStorage.Loc{}
	for _, l := range g.Locs {
		if l.Level != level {
			continue
		}
		if float64(l.X+l.SizeX) <= rect.X || float64(l.X) >= rect.X+rect.Width {
			continue
		}
		if float64(l.Z+l.SizeZ) <= rect.Z || float64(l.Z) >= rect.Z+rect.Height {
			continue
		}
		ret = append(ret, l)
	}
	return ret
}
