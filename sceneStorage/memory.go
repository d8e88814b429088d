package sceneStorage

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/maxsupermanhd/TileSync/primitives"
)

// MemorySceneStorage keeps scenes in a map, used for tests and the dev server.
type MemorySceneStorage struct {
	lock   sync.Mutex
	scenes map[primitives.ChunkPos]*ChunkScene
	reads  int
}

func NewMemorySceneStorage() *MemorySceneStorage {
	return &MemorySceneStorage{scenes: map[primitives.ChunkPos]*ChunkScene{}}
}

func (s *MemorySceneStorage) GetStatus() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return "memory storage with " + strconv.Itoa(len(s.scenes)) + " chunks", nil
}

func (s *MemorySceneStorage) GetChunkScene(_ context.Context, cx, cz int) (*ChunkScene, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.reads++
	return s.scenes[primitives.ChunkPos{X: cx, Z: cz}], nil
}

func (s *MemorySceneStorage) GetChunkVersion(_ context.Context, cx, cz int) (uint32, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, ok := s.scenes[primitives.ChunkPos{X: cx, Z: cz}]
	if !ok {
		return 0, false, nil
	}
	return c.Version, true, nil
}

func (s *MemorySceneStorage) AddChunkScene(_ context.Context, scene *ChunkScene) error {
	if err := scene.Validate(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.scenes[primitives.ChunkPos{X: scene.X, Z: scene.Z}] = scene
	return nil
}

// Reads is how many scenes were requested so far.
func (s *MemorySceneStorage) Reads() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reads
}

func (s *MemorySceneStorage) Close() error {
	return nil
}

// SyntheticScene generates a deterministic rolling terrain chunk with a few
// objects on it. Version is stored as given.
func SyntheticScene(cx, cz int, version uint32) *ChunkScene {
	ret := &ChunkScene{
		X:       cx,
		Z:       cz,
		Version: version,
		Levels:  make([]SceneLevel, Levels),
	}
	for l := range ret.Levels {
		lvl := SceneLevel{
			Heights:   make([]int16, squares),
			Colors:    make([]uint32, squares),
			Collision: make([]uint16, squares),
		}
		for z := 0; z < primitives.ChunkSize; z++ {
			for x := 0; x < primitives.ChunkSize; x++ {
				i := z*primitives.ChunkSize + x
				if l > 0 {
					continue
				}
				wx := float64(cx*primitives.ChunkSize + x)
				wz := float64(cz*primitives.ChunkSize + z)
				h := 40*math.Sin(wx/23) + 30*math.Cos(wz/17) + float64(version%7)*3
				lvl.Heights[i] = int16(h)
				switch {
				case h < -30:
					lvl.Colors[i] = 0x2a5d8f
					lvl.Collision[i] = 1
				case h > 45:
					lvl.Colors[i] = 0x8a8a80
				default:
					lvl.Colors[i] = 0x3f7f2f + uint32(int(h+40)&0x1f)<<8
				}
			}
		}
		ret.Levels[l] = lvl
	}
	seed := uint32(cx*73856093) ^ uint32(cz*19349663) ^ version
	for i := 0; i < 6; i++ {
		seed = seed*1664525 + 1013904223
		loc := Loc{
			ID:       int(seed>>20) % 4000,
			X:        int(seed>>4) % primitives.ChunkSize,
			Z:        int(seed>>10) % primitives.ChunkSize,
			Level:    0,
			Type:     []int{0, 2, 10, 22}[i%4],
			Rotation: int(seed>>2) % 4,
			SizeX:    1 + i%2,
			SizeZ:    1,
		}
		ret.Locs = append(ret.Locs, loc)
		if loc.IsWall() {
			idx := loc.Z*primitives.ChunkSize + loc.X
			ret.Levels[0].Collision[idx] |= 0x100 << uint(loc.Rotation)
		}
	}
	return ret
}
