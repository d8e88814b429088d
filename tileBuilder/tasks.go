package tileBuilder

import (
	"context"
	"fmt"
	"image"

	"github.com/cespare/xxhash/v2"
	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/render"
	"github.com/maxsupermanhd/TileSync/render/renderers"
)

// chunkTask is one candidate output tile of one chunk.
type chunkTask struct {
	name  string
	layer *primitives.LayerSpec
	loc   primitives.TileLocation
	hash  uint32
	// mipBase tiles are handed to the mip aggregator once stored.
	mipBase bool
	render  func(ctx context.Context, cb *chunkBuild) (*upload, error)
}

// saveRecord lets aliases wait for the tile they point to.
type saveRecord struct {
	done chan struct{}
	err  error
}

// upload is the detached part of a task.
type upload struct {
	record *saveRecord
	run    func(ctx context.Context) (aliased bool, err error)
}

func (u *upload) abandon(err error) {
	if u.record != nil {
		u.record.err = err
		close(u.record.done)
	}
}

type pixelDigest struct {
	sum    uint64
	bounds image.Rectangle
}

// chunkBuild is the state shared by the tasks of one BuildChunk call.
type chunkBuild struct {
	b      *Builder
	rc     *RenderContext
	x, z   int
	area   primitives.Area
	digest map[string]pixelDigest
	saves  map[string]*saveRecord
}

func newChunkBuild(b *Builder, rc *RenderContext, x, z int) *chunkBuild {
	area := primitives.Area{X: x - 1, Z: z - 1, XSize: 2, ZSize: 2}
	for _, l := range b.cfg.Layers {
		switch l.Mode.(type) {
		case primitives.MapMode, primitives.CollisionMode:
			area = primitives.Area{X: x - 1, Z: z - 1, XSize: 3, ZSize: 3}
		}
	}
	return &chunkBuild{
		b:      b,
		rc:     rc,
		x:      x,
		z:      z,
		area:   area,
		digest: map[string]pixelDigest{},
		saves:  map[string]*saveRecord{},
	}
}

// chunks returns prepared chunks of the build area, row by row.
func (cb *chunkBuild) chunks(ctx context.Context) ([]*render.PreparedChunk, error) {
	return cb.rc.Cache.EnsureArea(ctx, cb.area.X, cb.area.Z, cb.area.XSize, cb.area.ZSize)
}

// neighbourhood picks the 3x3 block around the chunk out of the build area.
func (cb *chunkBuild) neighbourhood(all []*render.PreparedChunk) []*render.PreparedChunk {
	ret := make([]*render.PreparedChunk, 0, 9)
	for _, c := range all {
		if c.X >= cb.x-1 && c.X <= cb.x+1 && c.Z >= cb.z-1 && c.Z <= cb.z+1 {
			ret = append(ret, c)
		}
	}
	return ret
}

func (cb *chunkBuild) self(all []*render.PreparedChunk) *render.PreparedChunk {
	for _, c := range all {
		if c.X == cb.x && c.Z == cb.z {
			return c
		}
	}
	return nil
}

func (cb *chunkBuild) saveUpload(t *chunkTask, data []byte) *upload {
	rec := &saveRecord{done: make(chan struct{})}
	cb.saves[t.name] = rec
	return &upload{
		record: rec,
		run: func(ctx context.Context) (bool, error) {
			err := cb.b.store.Save(ctx, t.name, t.hash, data)
			rec.err = err
			close(rec.done)
			return false, err
		},
	}
}

// aliasUpload links t to target once target is stored. The alias gets a
// save record of its own so that a layer subtracting t can chain onto it.
func (cb *chunkBuild) aliasUpload(t *chunkTask, target string, rec *saveRecord) *upload {
	own := &saveRecord{done: make(chan struct{})}
	cb.saves[t.name] = own
	return &upload{
		record: own,
		run: func(ctx context.Context) (aliased bool, err error) {
			defer func() {
				own.err = err
				close(own.done)
			}()
			select {
			case <-rec.done:
			case <-ctx.Done():
				return false, ctx.Err()
			}
			if rec.err != nil {
				return false, fmt.Errorf("alias target %s was not stored: %w", target, rec.err)
			}
			return true, cb.b.store.Alias(ctx, t.name, t.hash, target)
		},
	}
}

// chunkTasks lists every tile the chunk contributes to, in layer order.
func (b *Builder) chunkTasks(x, z int, chunkHash uint32) ([]*chunkTask, error) {
	ret := []*chunkTask{}
	seen := map[string]bool{}
	add := func(t *chunkTask) error {
		if seen[t.name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTile, t.name)
		}
		seen[t.name] = true
		ret = append(ret, t)
		return nil
	}
	for i := range b.cfg.Layers {
		l := &b.cfg.Layers[i]
		zr := b.cfg.ZoomRange(l)
		hash := primitives.FoldOrdered(chunkHash, l.Version())
		base := func(render func(context.Context, *chunkBuild) (*upload, error)) *chunkTask {
			loc := primitives.TileLocation{Layer: l.Name, Zoom: zr.Base, X: x, Y: z, Ext: l.Ext()}
			return &chunkTask{
				name:    loc.FileName(),
				layer:   l,
				loc:     loc,
				hash:    hash,
				mipBase: l.AddMipmaps && l.IsRaster(),
				render:  render,
			}
		}
		switch m := l.Mode.(type) {
		case primitives.ThreeDMode:
			for zoom := zr.Base; zoom <= zr.Max; zoom++ {
				n := 1 << (zoom - zr.Base)
				for sy := 0; sy < n; sy++ {
					for sx := 0; sx < n; sx++ {
						loc := primitives.TileLocation{Layer: l.Name, Zoom: zoom, X: x*n + sx, Y: z*n + sy, Ext: l.Ext()}
						t := &chunkTask{
							name:    loc.FileName(),
							layer:   l,
							loc:     loc,
							hash:    hash,
							mipBase: zoom == zr.Base && l.AddMipmaps,
						}
						t.render = threeDRender(t, m, n, sx, sy)
						if err := add(t); err != nil {
							return nil, err
						}
					}
				}
			}
		case primitives.MapMode:
			t := base(nil)
			t.render = mapRender(t, m)
			if err := add(t); err != nil {
				return nil, err
			}
		case primitives.HeightMode:
			t := base(nil)
			t.render = heightRender(t)
			if err := add(t); err != nil {
				return nil, err
			}
		case primitives.LocsMode:
			t := base(nil)
			t.render = locsRender(t)
			if err := add(t); err != nil {
				return nil, err
			}
		case primitives.CollisionMode:
			t := base(nil)
			t.render = collisionRender(t)
			if err := add(t); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w %T in layer %q", primitives.ErrUnknownMode, l.Mode, l.Name)
		}
	}
	return ret, nil
}

func digestKey(layer string, loc primitives.TileLocation) string {
	return primitives.FileName(layer, loc.Zoom, loc.X, loc.Y, "")
}

func threeDRender(t *chunkTask, m primitives.ThreeDMode, n, sx, sy int) func(context.Context, *chunkBuild) (*upload, error) {
	return func(ctx context.Context, cb *chunkBuild) (*upload, error) {
		chunks, err := cb.chunks(ctx)
		if err != nil {
			return nil, err
		}
		step := float64(primitives.ChunkSize) / float64(n)
		rect := render.Rect{
			X:      float64(cb.x*primitives.ChunkSize) + float64(sx)*step,
			Z:      float64(cb.z*primitives.ChunkSize) + float64(sy)*step,
			Width:  step,
			Height: step,
		}
		size := cb.b.cfg.TileImageSize
		img, err := cb.rc.Renderer.Snapshot(ctx, chunks, rect, render.SnapshotOptions{Level: t.layer.Level, HideLocs: m.HideLocs}, size, size)
		if err != nil {
			return nil, err
		}
		d := pixelDigest{sum: xxhash.Sum64(img.Pix), bounds: img.Bounds()}
		cb.digest[digestKey(t.layer.Name, t.loc)] = d
		if m.SubtractLayer != "" {
			sub, err := cb.b.cfg.Layer(m.SubtractLayer)
			if err != nil {
				return nil, err
			}
			target := primitives.FileName(sub.Name, t.loc.Zoom, t.loc.X, t.loc.Y, sub.Ext())
			if other, ok := cb.digest[digestKey(sub.Name, t.loc)]; ok && other == d {
				if rec, ok := cb.saves[target]; ok {
					return cb.aliasUpload(t, target, rec), nil
				}
			}
		}
		data, err := render.Encode(img, t.layer.Format, t.layer.MipQuality)
		if err != nil {
			return nil, err
		}
		return cb.saveUpload(t, data), nil
	}
}

func mapRender(t *chunkTask, m primitives.MapMode) func(context.Context, *chunkBuild) (*upload, error) {
	return func(ctx context.Context, cb *chunkBuild) (*upload, error) {
		chunks, err := cb.chunks(ctx)
		if err != nil {
			return nil, err
		}
		grid, err := render.CombineGrid(cb.neighbourhood(chunks))
		if err != nil {
			return nil, err
		}
		data := renderers.SVGFloor(grid, render.ChunkRect(cb.x, cb.z), t.layer.Level, t.layer.PxPerSquare, m.WallsOnly)
		return cb.saveUpload(t, data), nil
	}
}

func collisionRender(t *chunkTask) func(context.Context, *chunkBuild) (*upload, error) {
	return func(ctx context.Context, cb *chunkBuild) (*upload, error) {
		chunks, err := cb.chunks(ctx)
		if err != nil {
			return nil, err
		}
		grid, err := render.CombineGrid(cb.neighbourhood(chunks))
		if err != nil {
			return nil, err
		}
		img := renderers.CollisionImage(grid, render.ChunkRect(cb.x, cb.z), t.layer.Level, t.layer.PxPerSquare)
		data, err := render.Encode(img, t.layer.Format, t.layer.MipQuality)
		if err != nil {
			return nil, err
		}
		return cb.saveUpload(t, data), nil
	}
}

func heightRender(t *chunkTask) func(context.Context, *chunkBuild) (*upload, error) {
	return func(ctx context.Context, cb *chunkBuild) (*upload, error) {
		chunks, err := cb.chunks(ctx)
		if err != nil {
			return nil, err
		}
		return cb.saveUpload(t, renderers.HeightBlob(cb.self(chunks))), nil
	}
}

func locsRender(t *chunkTask) func(context.Context, *chunkBuild) (*upload, error) {
	return func(ctx context.Context, cb *chunkBuild) (*upload, error) {
		chunks, err := cb.chunks(ctx)
		if err != nil {
			return nil, err
		}
		c := cb.self(chunks)
		if c == nil {
			return nil, fmt.Errorf("chunk %dx %dz missing from render context", cb.x, cb.z)
		}
		data, err := renderers.LocsJSON(c)
		if err != nil {
			return nil, err
		}
		return cb.saveUpload(t, data), nil
	}
}
