package deps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

var (
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrOutsideGrid       = errors.New("chunk outside the mapsquare grid")
)

const (
	KindMapsquare   = "mapsquare"
	MapsquareStride = primitives.MapsquareStride
)

// Graph resolves upstream content versions into hashes.
type Graph interface {
	DependencyName(kind string, id int) string
	// HashDependencies folds everything the named dependency depends on into seed.
	HashDependencies(ctx context.Context, name string, seed uint32) (uint32, error)
}

func MapsquareID(x, z int) int {
	return x + z*MapsquareStride
}

func mapsquareCoords(id int) (int, int) {
	return id % MapsquareStride, id / MapsquareStride
}

// ChunkHash folds the dependency hashes of the chunk and its neighbours at
// (x-1,z-1), (x,z-1), (x-1,z) and (x,z), in that order. Neighbours at
// negative coordinates contribute zero, chunks past the last mapsquare
// column have no id and are an error.
func ChunkHash(ctx context.Context, g Graph, x, z int) (uint32, error) {
	if x >= MapsquareStride {
		return 0, fmt.Errorf("%w: %dx %dz, grid is %d wide", ErrOutsideGrid, x, z, MapsquareStride)
	}
	hash := uint32(0)
	for _, p := range []primitives.ChunkPos{{X: x - 1, Z: z - 1}, {X: x, Z: z - 1}, {X: x - 1, Z: z}, {X: x, Z: z}} {
		if p.X < 0 || p.Z < 0 {
			hash = primitives.FoldOrdered(hash, 0)
			continue
		}
		var err error
		hash, err = g.HashDependencies(ctx, g.DependencyName(KindMapsquare, MapsquareID(p.X, p.Z)), hash)
		if err != nil {
			return 0, err
		}
	}
	return hash, nil
}

// StorageGraph takes chunk versions from a scene storage. Versions are
// memoized for the lifetime of the graph since one run never sees them change.
type StorageGraph struct {
	storage sceneStorage.SceneStorage
	// Salt is folded in front of every chunk version.
	Salt     uint32
	lock     sync.Mutex
	versions map[int]uint32
}

func NewStorageGraph(storage sceneStorage.SceneStorage, salt uint32) *StorageGraph {
	return &StorageGraph{
		storage:  storage,
		Salt:     salt,
		versions: map[int]uint32{},
	}
}

func (g *StorageGraph) DependencyName(kind string, id int) string {
	return kind + "-" + strconv.Itoa(id)
}

func (g *StorageGraph) HashDependencies(ctx context.Context, name string, seed uint32) (uint32, error) {
	kind, idstr, ok := strings.Cut(name, "-")
	if !ok || kind != KindMapsquare {
		return 0, fmt.Errorf("%w %q", ErrUnknownDependency, name)
	}
	id, err := strconv.Atoi(idstr)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w %q", ErrUnknownDependency, name)
	}
	g.lock.Lock()
	v, ok := g.versions[id]
	g.lock.Unlock()
	if !ok {
		x, z := mapsquareCoords(id)
		ver, found, err := g.storage.GetChunkVersion(ctx, x, z)
		if err != nil {
			return 0, fmt.Errorf("looking up version of %s: %w", name, err)
		}
		if found {
			v = primitives.FoldOrdered(g.Salt, ver)
		}
		g.lock.Lock()
		g.versions[id] = v
		g.lock.Unlock()
	}
	return primitives.FoldOrdered(seed, v), nil
}
