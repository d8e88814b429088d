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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/maxsupermanhd/TileSync/metrics"
	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/tileBuilder"
	"github.com/shirou/gopsutil/mem"
)

var ErrContextLost = errors.New("render context lost")

const (
	DefaultZScan      = 4
	DefaultDrainEvery = 20
	// DefaultContextTimeout bounds creation of a replacement render context.
	DefaultContextTimeout = 10 * time.Second
	// DefaultGCThreshold is host memory use in percent above which a failed
	// chunk triggers a collection before the retry.
	DefaultGCThreshold = 80.0
)

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// SortChunks flattens areas into a deduplicated visiting order. Chunks are
// grouped into columns zscan wide, even columns are walked with z growing
// and odd ones with z shrinking, each row of a column left to right.
func SortChunks(areas []primitives.Area, zscan int) []primitives.ChunkPos {
	if zscan <= 0 {
		zscan = DefaultZScan
	}
	all := []primitives.ChunkPos{}
	for _, a := range areas {
		all = append(all, a.Chunks()...)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		ba, bb := floorDiv(a.X, zscan), floorDiv(b.X, zscan)
		if ba != bb {
			return ba < bb
		}
		if a.Z != b.Z {
			if ba&1 == 0 {
				return a.Z < b.Z
			}
			return a.Z > b.Z
		}
		return a.X < b.X
	})
	ret := make([]primitives.ChunkPos, 0, len(all))
	for i, p := range all {
		if i > 0 && all[i-1] == p {
			continue
		}
		ret = append(ret, p)
	}
	return ret
}

// RunState is the external stop switch, checked before every chunk.
type RunState struct {
	stopped atomic.Bool
}

func (s *RunState) Stop() {
	s.stopped.Store(true)
}

func (s *RunState) Stopped() bool {
	return s.stopped.Load()
}

// ChunkStatus is emitted once per chunk attempt outcome.
type ChunkStatus struct {
	X       int    `json:"x"`
	Z       int    `json:"z"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Err     string `json:"error,omitempty"`
}

type Report struct {
	Total   int
	Done    int
	Skipped int
	Failed  int
	Retried int
	Stopped bool

	Uploaded     int64
	Aliased      int64
	UploadFailed int64
	MipSaved     int64
	MipUnchanged int64
	MipFailed    int64

	Duration time.Duration
	Errors   *multierror.Error
}

// ChunkBuilder builds one chunk at a time, leaving uploads running.
type ChunkBuilder interface {
	BuildChunk(ctx context.Context, rc *tileBuilder.RenderContext, x, z int) (*tileBuilder.ChunkResult, error)
	Wait() error
	Counts() (uploaded, aliased, failed int64)
}

// Drainer flushes pending mip groups.
type Drainer interface {
	Drain(ctx context.Context, force bool) error
	Counts() (saved, unchanged, failed int64)
}

type Options struct {
	ZScan          int
	DrainEvery     int
	ContextTimeout time.Duration
	GCThreshold    float64
	State          *RunState
	// Events receives chunk outcomes, sends never block.
	Events chan<- ChunkStatus
}

// Scheduler drives chunks through the builder strictly one after another.
type Scheduler struct {
	logger     *log.Logger
	builder    ChunkBuilder
	mips       Drainer
	newContext tileBuilder.ContextFactory
	opts       Options
	rc         *tileBuilder.RenderContext

	processed atomic.Int64
	total     atomic.Int64
}

func NewScheduler(logger *log.Logger, builder ChunkBuilder, mips Drainer, factory tileBuilder.ContextFactory, opts Options) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.ZScan <= 0 {
		opts.ZScan = DefaultZScan
	}
	if opts.DrainEvery <= 0 {
		opts.DrainEvery = DefaultDrainEvery
	}
	if opts.ContextTimeout <= 0 {
		opts.ContextTimeout = DefaultContextTimeout
	}
	if opts.GCThreshold <= 0 {
		opts.GCThreshold = DefaultGCThreshold
	}
	if opts.State == nil {
		opts.State = &RunState{}
	}
	return &Scheduler{
		logger:     logger,
		builder:    builder,
		mips:       mips,
		newContext: factory,
		opts:       opts,
	}
}

// Progress reports how many chunks of the current run were processed.
func (s *Scheduler) Progress() (processed, total int64) {
	return s.processed.Load(), s.total.Load()
}

func (s *Scheduler) emit(st ChunkStatus) {
	if s.opts.Events == nil {
		return
	}
	select {
	case s.opts.Events <- st:
	default:
	}
}

// discard drops the render context, it is assumed broken beyond repair.
func (s *Scheduler) discard() {
	if s.rc == nil {
		return
	}
	if err := s.rc.Close(); err != nil {
		s.logger.Printf("Error closing render context: %v", err)
	}
	s.rc = nil
}

// acquire replaces the render context, failing when no new one shows up in time.
func (s *Scheduler) acquire(ctx context.Context) error {
	s.discard()
	cctx, cancel := context.WithTimeout(ctx, s.opts.ContextTimeout)
	defer cancel()
	rc, err := s.newContext(cctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrContextLost, err)
	}
	s.rc = rc
	return nil
}

func (s *Scheduler) maybeGC() {
	v, err := mem.VirtualMemory()
	if err != nil {
		s.logger.Printf("Failed to read memory usage: %v", err)
		return
	}
	if v.UsedPercent >= s.opts.GCThreshold {
		s.logger.Printf("Memory usage at %.1f%%, collecting garbage", v.UsedPercent)
		runtime.GC()
	}
}

// Run builds every chunk in order, then waits for uploads and flushes the
// mip pyramid down to the floor zoom. Chunk failures are collected in the
// report, only losing the render context for good aborts the run.
func (s *Scheduler) Run(ctx context.Context, chunks []primitives.ChunkPos) (*Report, error) {
	started := time.Now()
	report := &Report{Total: len(chunks)}
	s.processed.Store(0)
	s.total.Store(int64(len(chunks)))
	if err := s.acquire(ctx); err != nil {
		return report, err
	}
	defer s.discard()

	successes := 0
	for i, p := range chunks {
		if s.opts.State.Stopped() || ctx.Err() != nil {
			s.logger.Printf("Run stopped before chunk %dx %dz (%d of %d)", p.X, p.Z, i, len(chunks))
			report.Stopped = true
			break
		}
		status := ChunkStatus{X: p.X, Z: p.Z, Index: i, Total: len(chunks), Attempt: 1}
		res, err := s.builder.BuildChunk(ctx, s.rc, p.X, p.Z)
		if err != nil && ctx.Err() == nil {
			s.logger.Printf("Chunk %dx %dz failed, retrying on a new render context: %v", p.X, p.Z, err)
			report.Retried++
			metrics.ChunkRetries.Inc()
			s.emit(ChunkStatus{X: p.X, Z: p.Z, Index: i, Total: len(chunks), Attempt: 1, Status: "retried", Err: err.Error()})
			s.discard()
			runtime.Gosched()
			s.maybeGC()
			if cerr := s.acquire(ctx); cerr != nil {
				return report, cerr
			}
			status.Attempt = 2
			res, err = s.builder.BuildChunk(ctx, s.rc, p.X, p.Z)
			if err != nil && ctx.Err() == nil {
				// the next chunk gets a clean context too
				if cerr := s.acquire(ctx); cerr != nil {
					return report, cerr
				}
			}
		}
		s.processed.Add(1)
		if err != nil {
			report.Failed++
			report.Errors = multierror.Append(report.Errors, fmt.Errorf("chunk %dx %dz: %w", p.X, p.Z, err))
			metrics.ChunksProcessed.WithLabelValues("failed").Inc()
			status.Status = "failed"
			status.Err = err.Error()
			s.emit(status)
			s.logger.Printf("Chunk %dx %dz failed: %v", p.X, p.Z, err)
			continue
		}
		status.Status = res.Status.String()
		if res.Status == tileBuilder.Done {
			report.Done++
		} else {
			report.Skipped++
		}
		metrics.ChunksProcessed.WithLabelValues(status.Status).Inc()
		s.emit(status)
		successes++
		if successes%s.opts.DrainEvery == 0 {
			if err := s.mips.Drain(ctx, false); err != nil {
				report.Errors = multierror.Append(report.Errors, err)
			}
		}
	}

	if err := s.builder.Wait(); err != nil {
		report.Errors = multierror.Append(report.Errors, err)
	}
	if ctx.Err() == nil {
		s.logger.Printf("Flushing mip pyramid")
		if err := s.mips.Drain(ctx, true); err != nil {
			report.Errors = multierror.Append(report.Errors, err)
		}
	}
	report.Uploaded, report.Aliased, report.UploadFailed = s.builder.Counts()
	report.MipSaved, report.MipUnchanged, report.MipFailed = s.mips.Counts()
	report.Duration = time.Since(started)
	return report, nil
}

// RunAreas sorts the areas into visiting order and runs them.
func (s *Scheduler) RunAreas(ctx context.Context, areas []primitives.Area) (*Report, error) {
	chunks := SortChunks(areas, s.opts.ZScan)
	s.logger.Printf("Building %d chunks of %d areas", len(chunks), len(areas))
	return s.Run(ctx, chunks)
}
