package renderers

import (
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/render"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

// HeightBlobSize is 4 floors of 64x64 squares, each an int16 height
// followed by uint16 collision flags, little-endian.
const HeightBlobSize = sceneStorage.Levels * primitives.ChunkSize * primitives.ChunkSize * 4

// HeightBlob dumps heights and collision of a chunk, zeroes for chunks without data.
func HeightBlob(c *render.PreparedChunk) []byte {
	ret := make([]byte, HeightBlobSize)
	if c == nil || c.Scene == nil {
		return ret
	}
	const squares = primitives.ChunkSize * primitives.ChunkSize
	for l, lvl := range c.Scene.Levels {
		for i := 0; i < squares; i++ {
			off := (l*squares + i) * 4
			binary.LittleEndian.PutUint16(ret[off:], uint16(lvl.Heights[i]))
			binary.LittleEndian.PutUint16(ret[off+2:], lvl.Collision[i])
		}
	}
	return ret
}

type locDump struct {
	ID       int `json:"id"`
	X        int `json:"x"`
	Z        int `json:"z"`
	Level    int `json:"level"`
	Type     int `json:"type"`
	Rotation int `json:"rotation"`
}

type locsDump struct {
	ChunkX int            `json:"chunkx"`
	ChunkZ int            `json:"chunkz"`
	Counts map[string]int `json:"counts"`
	Locs   []locDump      `json:"locs"`
}

// LocsJSON summarizes object instances of a chunk in world coordinates.
func LocsJSON(c *render.PreparedChunk) ([]byte, error) {
	d := locsDump{
		ChunkX: c.X,
		ChunkZ: c.Z,
		Counts: map[string]int{},
		Locs:   []locDump{},
	}
	if c.Scene != nil {
		for _, l := range c.Scene.Locs {
			d.Locs = append(d.Locs, locDump{
				ID:       l.ID,
				X:        c.X*primitives.ChunkSize + l.X,
				Z:        c.Z*primitives.ChunkSize + l.Z,
				Level:    l.Level,
				Type:     l.Type,
				Rotation: l.Rotation,
			})
			if l.IsWall() {
				d.Counts["walls"]++
			} else {
				d.Counts["objects"]++
			}
		}
	}
	sort.Slice(d.Locs, func(i, j int) bool {
		a, b := d.Locs[i], d.Locs[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.ID < b.ID
	})
	return json.MarshalIndent(d, "", "\t")
}
