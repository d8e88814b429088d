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

package tileBuilder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/maxsupermanhd/TileSync/deps"
	"github.com/maxsupermanhd/TileSync/metrics"
	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/tileStorage"
	"golang.org/x/sync/semaphore"
)

var ErrDuplicateTile = errors.New("duplicate tile name in one chunk build")

const DefaultMaxPendingUploads = 16

// TileStore is the part of the tile storage the builder writes through.
type TileStore interface {
	GetMetas(ctx context.Context, names []string) ([]tileStorage.TileMeta, error)
	Save(ctx context.Context, name string, hash uint32, data []byte) error
	Alias(ctx context.Context, name string, hash uint32, target string) error
}

// MipSink receives finished base zoom tiles of layers that have mipmaps.
type MipSink interface {
	AddChild(layer string, childZoom int, hash uint32, x, y int, ext string)
}

type Status int

const (
	Skipped Status = iota
	Done
)

func (s Status) String() string {
	if s == Done {
		return "done"
	}
	return "skipped"
}

// ChunkResult summarizes one BuildChunk call. Uploads are counted when
// they are started, they finish in the background.
type ChunkResult struct {
	X, Z      int
	Status    Status
	Hash      uint32
	Candidate int
	Unchanged int
	Rendered  int
}

type Options struct {
	MaxPendingUploads int
}

// Builder turns one chunk at a time into tiles of every configured layer.
type Builder struct {
	logger  *log.Logger
	store   TileStore
	graph   deps.Graph
	cfg     *primitives.Mapconfig
	mips    MipSink
	sem     *semaphore.Weighted
	pending sync.WaitGroup

	errLock sync.Mutex
	errs    *multierror.Error

	uploaded atomic.Int64
	aliased  atomic.Int64
	failed   atomic.Int64
}

func NewBuilder(logger *log.Logger, store TileStore, graph deps.Graph, cfg *primitives.Mapconfig, mips MipSink, opts Options) *Builder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxPendingUploads <= 0 {
		opts.MaxPendingUploads = DefaultMaxPendingUploads
	}
	for _, l := range cfg.Layers {
		if l.AddMipmaps && !l.IsRaster() {
			logger.Printf("Layer %q of mode %s can not have mipmaps, addmipmaps ignored", l.Name, l.Mode.ModeName())
		}
	}
	return &Builder{
		logger: logger,
		store:  store,
		graph:  graph,
		cfg:    cfg,
		mips:   mips,
		sem:    semaphore.NewWeighted(int64(opts.MaxPendingUploads)),
	}
}

// BuildChunk renders every stale tile of the chunk. Renders happen on the
// calling goroutine, uploads are detached and reported through Wait.
func (b *Builder) BuildChunk(ctx context.Context, rc *RenderContext, x, z int) (*ChunkResult, error) {
	chunkHash, err := deps.ChunkHash(ctx, b.graph, x, z)
	if err != nil {
		return nil, fmt.Errorf("hashing chunk %dx %dz: %w", x, z, err)
	}
	tasks, err := b.chunkTasks(x, z, chunkHash)
	if err != nil {
		return nil, err
	}
	res := &ChunkResult{X: x, Z: z, Hash: chunkHash, Candidate: len(tasks)}
	if len(tasks) == 0 {
		return res, nil
	}
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.name
	}
	metas, err := b.store.GetMetas(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("getting metas of chunk %dx %dz: %w", x, z, err)
	}
	remote := tileStorage.MetaMap(metas)

	build := newChunkBuild(b, rc, x, z)
	detachedCtx := context.WithoutCancel(ctx)
	for _, t := range tasks {
		if m, ok := remote[t.name]; ok && m.Hash == t.hash {
			res.Unchanged++
			metrics.TilesUnchanged.WithLabelValues(t.layer.Name).Inc()
			if t.mipBase {
				b.mips.AddChild(t.layer.Name, t.loc.Zoom, t.hash, t.loc.X, t.loc.Y, t.loc.Ext)
			}
			continue
		}
		up, err := t.render(ctx, build)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", t.name, err)
		}
		res.Rendered++
		if err := b.sem.Acquire(ctx, 1); err != nil {
			up.abandon(err)
			return nil, err
		}
		b.pending.Add(1)
		go func(t *chunkTask, up *upload) {
			defer b.pending.Done()
			defer b.sem.Release(1)
			b.runUpload(detachedCtx, t, up)
		}(t, up)
	}
	if res.Rendered > 0 {
		res.Status = Done
	}
	b.logger.Printf("Chunk %dx %dz: %d tiles, %d unchanged, %d rendered", x, z, res.Candidate, res.Unchanged, res.Rendered)
	return res, nil
}

func (b *Builder) runUpload(ctx context.Context, t *chunkTask, up *upload) {
	aliased, err := up.run(ctx)
	if err != nil {
		b.failed.Add(1)
		b.logger.Printf("Upload of %s failed: %v", t.name, err)
		b.errLock.Lock()
		b.errs = multierror.Append(b.errs, fmt.Errorf("uploading %s: %w", t.name, err))
		b.errLock.Unlock()
		return
	}
	if aliased {
		b.aliased.Add(1)
		metrics.TilesAliased.WithLabelValues(t.layer.Name).Inc()
	} else {
		b.uploaded.Add(1)
		metrics.TilesUploaded.WithLabelValues(t.layer.Name).Inc()
	}
	if t.mipBase {
		b.mips.AddChild(t.layer.Name, t.loc.Zoom, t.hash, t.loc.X, t.loc.Y, t.loc.Ext)
	}
}

// Wait blocks until every started upload finished and returns the upload
// errors collected since the previous Wait.
func (b *Builder) Wait() error {
	b.pending.Wait()
	b.errLock.Lock()
	defer b.errLock.Unlock()
	err := b.errs.ErrorOrNil()
	b.errs = nil
	return err
}

// Counts reports finished uploads so far.
func (b *Builder) Counts() (uploaded, aliased, failed int64) {
	return b.uploaded.Load(), b.aliased.Load(), b.failed.Load()
}
