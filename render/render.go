package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

var (
	ErrClosed      = errors.New("renderer is closed")
	ErrReleased    = errors.New("chunk was released")
	ErrNotSquare   = errors.New("chunks do not form a square grid")
	ErrBadSnapshot = errors.New("bad snapshot request")
	ErrStaleChunk  = errors.New("chunk belongs to another resource generation")
)

// Resources is the shared material set of one resource cache generation.
// Chunks prepared against one generation must not be drawn with another.
type Resources struct {
	Generation int
	lock       sync.Mutex
	shades     map[uint64]color.RGBA
}

func NewResources(generation int) *Resources {
	return &Resources{
		Generation: generation,
		shades:     map[uint64]color.RGBA{},
	}
}

// Shade converts a packed 0xRRGGBB color lit by light (0..2) into RGBA.
func (r *Resources) Shade(c uint32, light float64) color.RGBA {
	bucket := uint64(math.Max(0, math.Min(255, light*128)))
	key := uint64(c)<<8 | bucket
	r.lock.Lock()
	defer r.lock.Unlock()
	if v, ok := r.shades[key]; ok {
		return v
	}
	l := float64(bucket) / 128
	ch := func(v uint32) uint8 {
		return uint8(math.Min(255, float64(v&0xff)*l))
	}
	v := color.RGBA{R: ch(c >> 16), G: ch(c >> 8), B: ch(c), A: 255}
	r.shades[key] = v
	return v
}

// PreparedChunk is a chunk scene turned into something a renderer can draw.
type PreparedChunk struct {
	X, Z int
	// Scene is nil for chunks the storage has no data for.
	Scene     *sceneStorage.ChunkScene
	Resources *Resources
	// Surfaces holds one 64x64 image per level, pixel (x, z) is square (x, z).
	Surfaces []*image.RGBA
	// LocMasks marks squares covered by loc footprints per level.
	LocMasks [][]bool
	Released bool
}

// Rect is a world-space rectangle in squares, Z grows north.
type Rect struct {
	X, Z          float64
	Width, Height float64
}

func ChunkRect(x, z int) Rect {
	return Rect{
		X:      float64(x * primitives.ChunkSize),
		Z:      float64(z * primitives.ChunkSize),
		Width:  primitives.ChunkSize,
		Height: primitives.ChunkSize,
	}
}

type SnapshotOptions struct {
	Level    int
	HideLocs bool
}

// Renderer draws prepared chunks. Implementations are not safe for
// concurrent use, one render context owns one renderer.
type Renderer interface {
	NewResources(generation int) *Resources
	Prepare(ctx context.Context, x, z int, scene *sceneStorage.ChunkScene, res *Resources) (*PreparedChunk, error)
	Release(c *PreparedChunk)
	// Snapshot draws rect as seen from above into a w by h image, north up.
	Snapshot(ctx context.Context, chunks []*PreparedChunk, rect Rect, opts SnapshotOptions, w, h int) (*image.RGBA, error)
	Close() error
}
