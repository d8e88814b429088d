/*
	TileSync, incremental tile pyramid builder for block game maps
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package mipmap

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/maxsupermanhd/TileSync/metrics"
	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/render"
	"github.com/maxsupermanhd/TileSync/tileStorage"
	"github.com/nfnt/resize"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize bounds groups handled in one round and concurrent
// requests issued for them.
const DefaultBatchSize = 200

// TileStore is what the aggregator needs from the tile storage.
type TileStore interface {
	GetMetas(ctx context.Context, names []string) ([]tileStorage.TileMeta, error)
	Save(ctx context.Context, name string, hash uint32, data []byte) error
	FetchFile(ctx context.Context, name string, hash uint32) ([]byte, error)
}

type child struct {
	loc  primitives.TileLocation
	hash uint32
}

// group collects the four children of one parent tile.
type group struct {
	parent   primitives.TileLocation
	children [4]*child
}

func (g *group) complete() bool {
	for _, c := range g.children {
		if c == nil {
			return false
		}
	}
	return true
}

// Hash folds present child hashes, absent quadrants count as identity.
func (g *group) Hash() uint32 {
	h := primitives.FoldIdentity
	for _, c := range g.children {
		if c != nil {
			h = primitives.FoldCommutative(h, c.hash)
		}
	}
	return h
}

type Options struct {
	BatchSize int
}

// Aggregator builds coarser zoom levels out of finished tiles.
type Aggregator struct {
	logger *log.Logger
	store  TileStore
	cfg    *primitives.Mapconfig
	floor  int
	batch  int

	lock   sync.Mutex
	groups map[string]*group

	saved     atomic.Int64
	unchanged atomic.Int64
	failed    atomic.Int64
}

func NewAggregator(logger *log.Logger, store TileStore, cfg *primitives.Mapconfig, opts Options) *Aggregator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Aggregator{
		logger: logger,
		store:  store,
		cfg:    cfg,
		floor:  cfg.FloorZoom(),
		batch:  opts.BatchSize,
		groups: map[string]*group{},
	}
}

// AddChild records a stored tile as one quadrant of its parent.
func (a *Aggregator) AddChild(layer string, childZoom int, hash uint32, x, y int, ext string) {
	if childZoom-1 < a.floor {
		return
	}
	loc := primitives.TileLocation{Layer: layer, Zoom: childZoom, X: x, Y: y, Ext: ext}
	parent, q := loc.Parent()
	name := parent.FileName()
	a.lock.Lock()
	defer a.lock.Unlock()
	g, ok := a.groups[name]
	if !ok {
		g = &group{parent: parent}
		a.groups[name] = g
	}
	g.children[q] = &child{loc: loc, hash: hash}
	metrics.MipGroupsPending.Set(float64(len(a.groups)))
}

// Pending is the number of groups waiting to be flushed.
func (a *Aggregator) Pending() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.groups)
}

// take removes and returns the groups eligible for this round.
func (a *Aggregator) take(force bool) []*group {
	a.lock.Lock()
	defer a.lock.Unlock()
	ret := []*group{}
	if force {
		finest := 0
		first := true
		for _, g := range a.groups {
			if first || g.parent.Zoom > finest {
				finest = g.parent.Zoom
				first = false
			}
		}
		for k, g := range a.groups {
			if g.parent.Zoom == finest {
				ret = append(ret, g)
				delete(a.groups, k)
			}
		}
	} else {
		for k, g := range a.groups {
			if g.complete() {
				ret = append(ret, g)
				delete(a.groups, k)
			}
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].parent.FileName() < ret[j].parent.FileName()
	})
	metrics.MipGroupsPending.Set(float64(len(a.groups)))
	return ret
}

// Drain flushes eligible groups until none are left. Without force only
// complete groups are flushed. With force every group is flushed finest
// zoom first, so the pyramid reaches the floor zoom. Per group failures do
// not stop the drain and are returned together.
func (a *Aggregator) Drain(ctx context.Context, force bool) error {
	var errs *multierror.Error
	for {
		if err := ctx.Err(); err != nil {
			return multierror.Append(errs, err).ErrorOrNil()
		}
		groups := a.take(force)
		if len(groups) == 0 {
			break
		}
		a.logger.Printf("Flushing %d mip groups (forced: %v)", len(groups), force)
		for i := 0; i < len(groups); i += a.batch {
			if err := a.flushBatch(ctx, groups[i:min(i+a.batch, len(groups))]); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

func (a *Aggregator) flushBatch(ctx context.Context, groups []*group) error {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.parent.FileName()
	}
	metas, err := a.store.GetMetas(ctx, names)
	if err != nil {
		a.failed.Add(int64(len(groups)))
		metrics.MipGroupsFlushed.WithLabelValues("failed").Add(float64(len(groups)))
		return fmt.Errorf("getting metas of %d mip groups: %w", len(groups), err)
	}
	remote := tileStorage.MetaMap(metas)

	var errLock sync.Mutex
	var errs *multierror.Error
	wg := errgroup.Group{}
	wg.SetLimit(len(groups))
	for _, g := range groups {
		hash := g.Hash()
		name := g.parent.FileName()
		if m, ok := remote[name]; ok && m.Hash == hash {
			a.unchanged.Add(1)
			metrics.MipGroupsFlushed.WithLabelValues("unchanged").Inc()
			a.AddChild(g.parent.Layer, g.parent.Zoom, hash, g.parent.X, g.parent.Y, g.parent.Ext)
			continue
		}
		wg.Go(func() error {
			if err := a.flush(ctx, g, hash); err != nil {
				a.failed.Add(1)
				metrics.MipGroupsFlushed.WithLabelValues("failed").Inc()
				a.logger.Printf("Mip group %s failed: %v", name, err)
				errLock.Lock()
				errs = multierror.Append(errs, fmt.Errorf("mip %s: %w", name, err))
				errLock.Unlock()
				return nil
			}
			a.saved.Add(1)
			metrics.MipGroupsFlushed.WithLabelValues("saved").Inc()
			a.AddChild(g.parent.Layer, g.parent.Zoom, hash, g.parent.X, g.parent.Y, g.parent.Ext)
			return nil
		})
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

func (a *Aggregator) flush(ctx context.Context, g *group, hash uint32) error {
	layer, err := a.cfg.Layer(g.parent.Layer)
	if err != nil {
		return err
	}
	tiles := [4]image.Image{}
	for q, c := range g.children {
		if c == nil {
			continue
		}
		b, err := a.store.FetchFile(ctx, c.loc.FileName(), c.hash)
		if err != nil {
			return err
		}
		tiles[q], err = render.Decode(b)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", c.loc.FileName(), err)
		}
	}
	data, err := render.Encode(Compose(tiles, a.cfg.TileImageSize), layer.Format, layer.MipQuality)
	if err != nil {
		return err
	}
	return a.store.Save(ctx, g.parent.FileName(), hash, data)
}

// Compose scales each present quadrant to half of size and places it on a
// size by size canvas. Quadrants with odd y go to the top half since tile
// rows grow northwards.
func Compose(tiles [4]image.Image, size int) *image.RGBA {
	half := size / 2
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for q, t := range tiles {
		if t == nil {
			continue
		}
		px := (q & 1) * half
		py := (1 - q>>1) * half
		scaled := resize.Resize(uint(half), uint(half), t, resize.Bilinear)
		draw.Draw(img, image.Rect(px, py, px+half, py+half), scaled, scaled.Bounds().Min, draw.Over)
	}
	return img
}

// Counts reports flushed groups so far.
func (a *Aggregator) Counts() (saved, unchanged, failed int64) {
	return a.saved.Load(), a.unchanged.Load(), a.failed.Load()
}
