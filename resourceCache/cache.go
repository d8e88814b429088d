package resourcecache

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"

	"github.com/maxsupermanhd/TileSync/metrics"
	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/render"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxUnused = 12
	DefaultMinUnused = 7
	// DefaultLoadConcurrency bounds scene fetches of one EnsureArea call.
	DefaultLoadConcurrency = 4
)

type EventKind int

const (
	Loaded EventKind = iota
	Unloaded
)

func (k EventKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Unloaded:
		return "unloaded"
	}
	return "unknown"
}

// Event reports a chunk entering or leaving the cache.
type Event struct {
	Kind       EventKind
	X, Z       int
	LoadID     uint64
	Generation int
}

type entry struct {
	pos    primitives.ChunkPos
	loadID uint64
	chunk  *render.PreparedChunk
}

type Options struct {
	MaxUnused       int
	MinUnused       int
	LoadConcurrency int
	// Events receives load state changes, sends never block.
	Events chan<- Event
}

// Cache keeps prepared chunks of one renderer around between chunk builds.
type Cache struct {
	logger   *log.Logger
	renderer render.Renderer
	storage  sceneStorage.SceneStorage
	opts     Options

	lock       sync.Mutex
	entries    map[primitives.ChunkPos]*entry
	active     map[primitives.ChunkPos]bool
	nextLoadID uint64
	generation int
	resources  *render.Resources

	// renderers are single threaded, scene fetches are not
	prepareLock sync.Mutex
	loads       singleflight.Group
}

func NewCache(logger *log.Logger, renderer render.Renderer, storage sceneStorage.SceneStorage, opts Options) *Cache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxUnused <= 0 {
		opts.MaxUnused = DefaultMaxUnused
	}
	if opts.MinUnused <= 0 || opts.MinUnused > opts.MaxUnused {
		opts.MinUnused = min(DefaultMinUnused, opts.MaxUnused)
	}
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = DefaultLoadConcurrency
	}
	return &Cache{
		logger:   logger,
		renderer: renderer,
		storage:  storage,
		opts:     opts,
		entries:  map[primitives.ChunkPos]*entry{},
		active:   map[primitives.ChunkPos]bool{},
	}
}

func (c *Cache) emit(e Event) {
	if c.opts.Events == nil {
		return
	}
	select {
	case c.opts.Events <- e:
	default:
		c.logger.Printf("Cache event %v %dx %dz dropped!", e.Kind, e.X, e.Z)
	}
}

// EnsureArea loads every chunk of the rectangle that is not cached yet,
// makes the rectangle the active set and returns prepared chunks row by
// row (z outer, x inner).
func (c *Cache) EnsureArea(ctx context.Context, x, z, w, h int) ([]*render.PreparedChunk, error) {
	positions := primitives.Area{X: x, Z: z, XSize: w, ZSize: h}.Chunks()

	c.lock.Lock()
	// resources are dropped whenever the cache empties
	if c.resources == nil {
		c.generation++
		c.resources = c.renderer.NewResources(c.generation)
	}
	res := c.resources
	missing := []primitives.ChunkPos{}
	for _, p := range positions {
		if _, ok := c.entries[p]; !ok {
			missing = append(missing, p)
		}
	}
	c.lock.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.LoadConcurrency)
	for _, p := range missing {
		g.Go(func() error {
			_, err, _ := c.loads.Do(strconv.Itoa(p.X)+","+strconv.Itoa(p.Z), func() (any, error) {
				return c.load(gctx, p, res)
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	ret := make([]*render.PreparedChunk, 0, len(positions))
	c.active = make(map[primitives.ChunkPos]bool, len(positions))
	for _, p := range positions {
		e, ok := c.entries[p]
		if !ok {
			return nil, fmt.Errorf("chunk %v vanished from cache during load", p)
		}
		c.active[p] = true
		ret = append(ret, e.chunk)
	}
	c.evict()
	metrics.CachedChunks.Set(float64(len(c.entries)))
	return ret, nil
}

func (c *Cache) load(ctx context.Context, p primitives.ChunkPos, res *render.Resources) (*entry, error) {
	c.lock.Lock()
	e, ok := c.entries[p]
	c.lock.Unlock()
	if ok {
		return e, nil
	}
	scene, err := c.storage.GetChunkScene(ctx, p.X, p.Z)
	if err != nil {
		return nil, fmt.Errorf("loading scene of %v: %w", p, err)
	}
	c.prepareLock.Lock()
	chunk, err := c.renderer.Prepare(ctx, p.X, p.Z, scene, res)
	c.prepareLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("preparing %v: %w", p, err)
	}
	c.lock.Lock()
	c.nextLoadID++
	e = &entry{pos: p, loadID: c.nextLoadID, chunk: chunk}
	c.entries[p] = e
	gen := c.generation
	c.lock.Unlock()
	c.emit(Event{Kind: Loaded, X: p.X, Z: p.Z, LoadID: e.loadID, Generation: gen})
	return e, nil
}

// evict drops the oldest inactive entries once there are MaxUnused of them,
// keeping MinUnused. Must be called with lock held.
func (c *Cache) evict() {
	candidates := []*entry{}
	for p, e := range c.entries {
		if !c.active[p] {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) < c.opts.MaxUnused {
		return
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].loadID < candidates[j].loadID
	})
	drop := candidates[:len(candidates)-c.opts.MinUnused]
	c.logger.Printf("Evicting %d of %d unused chunks", len(drop), len(candidates))
	for _, e := range drop {
		c.release(e)
	}
}

func (c *Cache) release(e *entry) {
	c.prepareLock.Lock()
	c.renderer.Release(e.chunk)
	c.prepareLock.Unlock()
	delete(c.entries, e.pos)
	c.emit(Event{Kind: Unloaded, X: e.pos.X, Z: e.pos.Z, LoadID: e.loadID, Generation: c.generation})
}

// Len is the number of cached chunks.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.entries)
}

// Unused is the number of cached chunks outside the active set.
func (c *Cache) Unused() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := 0
	for p := range c.entries {
		if !c.active[p] {
			n++
		}
	}
	return n
}

func (c *Cache) Generation() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.generation
}

// Clear releases every cached chunk. The next EnsureArea starts a new
// resource generation.
func (c *Cache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, e := range c.entries {
		c.release(e)
	}
	c.active = map[primitives.ChunkPos]bool{}
	c.resources = nil
	metrics.CachedChunks.Set(0)
}
