package renderers

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"math"

	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/render"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

var locColor = color.RGBA{R: 0x5a, G: 0x3c, B: 0x1e, A: 0xff}

// SoftwareRenderer draws a hillshaded top-down view on the CPU.
type SoftwareRenderer struct {
	logger   *log.Logger
	closed   bool
	prepared int
}

func NewSoftwareRenderer(logger *log.Logger) *SoftwareRenderer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SoftwareRenderer{logger: logger}
}

func (r *SoftwareRenderer) NewResources(generation int) *render.Resources {
	r.logger.Printf("Building render resources generation %d", generation)
	return render.NewResources(generation)
}

// Prepared is the number of chunks currently prepared and not released.
func (r *SoftwareRenderer) Prepared() int {
	return r.prepared
}

func (r *SoftwareRenderer) Prepare(ctx context.Context, x, z int, scene *sceneStorage.ChunkScene, res *render.Resources) (*render.PreparedChunk, error) {
	if r.closed {
		return nil, render.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &render.PreparedChunk{
		X:         x,
		Z:         z,
		Scene:     scene,
		Resources: res,
	}
	if scene != nil && (scene.X != x || scene.Z != z) {
		return nil, fmt.Errorf("scene of %dx %dz handed in for %dx %dz", scene.X, scene.Z, x, z)
	}
	r.prepared++
	if scene == nil {
		return c, nil
	}
	const size = primitives.ChunkSize
	for _, lvl := range scene.Levels {
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		mask := make([]bool, size*size)
		for sz := 0; sz < size; sz++ {
			for sx := 0; sx < size; sx++ {
				i := sz*size + sx
				if lvl.Colors[i] == 0 {
					continue
				}
				img.SetRGBA(sx, sz, res.Shade(lvl.Colors[i], hillshade(lvl.Heights, sx, sz)))
			}
		}
		c.Surfaces = append(c.Surfaces, img)
		c.LocMasks = append(c.LocMasks, mask)
	}
	for _, l := range scene.Locs {
		if l.Level < 0 || l.Level >= len(c.LocMasks) {
			continue
		}
		for dz := 0; dz < max(1, l.SizeZ); dz++ {
			for dx := 0; dx < max(1, l.SizeX); dx++ {
				lx, lz := l.X+dx, l.Z+dz
				if lx >= 0 && lz >= 0 && lx < size && lz < size {
					c.LocMasks[l.Level][lz*size+lx] = true
				}
			}
		}
	}
	return c, nil
}

// hillshade lights squares facing north-west brighter.
func hillshade(heights []int16, x, z int) float64 {
	const size = primitives.ChunkSize
	at := func(x, z int) float64 {
		x = min(max(x, 0), size-1)
		z = min(max(z, 0), size-1)
		return float64(heights[z*size+x])
	}
	dx := at(x+1, z) - at(x-1, z)
	dz := at(x, z+1) - at(x, z-1)
	return math.Max(0.3, math.Min(1.6, 1-(dx-dz)/40))
}

func (r *SoftwareRenderer) Release(c *render.PreparedChunk) {
	if c == nil || c.Released {
		return
	}
	c.Released = true
	c.Surfaces = nil
	c.LocMasks = nil
	r.prepared--
}

func (r *SoftwareRenderer) Snapshot(ctx context.Context, chunks []*render.PreparedChunk, rect render.Rect, opts render.SnapshotOptions, w, h int) (*image.RGBA, error) {
	if r.closed {
		return nil, render.ErrClosed
	}
	if w <= 0 || h <= 0 || rect.Width <= 0 || rect.Height <= 0 || opts.Level < 0 {
		return nil, fmt.Errorf("%w: %dx%d px of %v", render.ErrBadSnapshot, w, h, rect)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	byPos := make(map[primitives.ChunkPos]*render.PreparedChunk, len(chunks))
	var generation *render.Resources
	for _, c := range chunks {
		if c.Released {
			return nil, render.ErrReleased
		}
		if generation == nil {
			generation = c.Resources
		} else if c.Resources != generation {
			return nil, render.ErrStaleChunk
		}
		byPos[primitives.ChunkPos{X: c.X, Z: c.Z}] = c
	}
	const size = primitives.ChunkSize
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		wz := rect.Z + rect.Height - (float64(py)+0.5)*rect.Height/float64(h)
		for px := 0; px < w; px++ {
			wx := rect.X + (float64(px)+0.5)*rect.Width/float64(w)
			sx, sz := int(math.Floor(wx)), int(math.Floor(wz))
			c, ok := byPos[primitives.ChunkPos{X: floorDiv(sx, size), Z: floorDiv(sz, size)}]
			if !ok || opts.Level >= len(c.Surfaces) {
				continue
			}
			lx, lz := sx-c.X*size, sz-c.Z*size
			if !opts.HideLocs && c.LocMasks[opts.Level][lz*size+lx] {
				img.SetRGBA(px, py, locColor)
				continue
			}
			img.SetRGBA(px, py, c.Surfaces[opts.Level].RGBAAt(lx, lz))
		}
	}
	return img, nil
}

func (r *SoftwareRenderer) Close() error {
	if r.closed {
		return render.ErrClosed
	}
	r.closed = true
	r.logger.Printf("Renderer closed with %d chunks still prepared", r.prepared)
	return nil
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
