package primitives

import (
	"fmt"
	"strconv"
)

// ChunkSize is the side of one chunk in world units (tiles).
const ChunkSize = 64

// MapsquareStride is the row length of packed mapsquare ids, x + z*stride.
// Maps wider than this can not be addressed.
const MapsquareStride = 128

type ChunkPos struct {
	X, Z int
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("{%dx %dz}", p.X, p.Z)
}

// Area is a rectangle in chunk units.
type Area struct {
	X     int `json:"x" yaml:"x"`
	Z     int `json:"z" yaml:"z"`
	XSize int `json:"xsize" yaml:"xsize"`
	ZSize int `json:"zsize" yaml:"zsize"`
}

func (a Area) String() string {
	return fmt.Sprintf("{%dx %dz %dw %dh}", a.X, a.Z, a.XSize, a.ZSize)
}

// Chunks enumerates the area row by row (z outer, x inner).
func (a Area) Chunks() []ChunkPos {
	if a.XSize <= 0 || a.ZSize <= 0 {
		return nil
	}
	ret := make([]ChunkPos, 0, a.XSize*a.ZSize)
	for z := a.Z; z < a.Z+a.ZSize; z++ {
		for x := a.X; x < a.X+a.XSize; x++ {
			ret = append(ret, ChunkPos{X: x, Z: z})
		}
	}
	return ret
}

type TileLocation struct {
	Layer string
	Zoom  int
	X, Y  int
	Ext   string
}

func (t TileLocation) String() string {
	return fmt.Sprintf("{%s at %dz %dx %dy .%s}", t.Layer, t.Zoom, t.X, t.Y, t.Ext)
}

func (t TileLocation) FileName() string {
	return FileName(t.Layer, t.Zoom, t.X, t.Y, t.Ext)
}

// Parent returns the tile one zoom level coarser that contains t and the
// quadrant t occupies in it: (x odd -> +1) + (y odd -> +2).
func (t TileLocation) Parent() (TileLocation, int) {
	q := 0
	if t.X&1 != 0 {
		q += 1
	}
	if t.Y&1 != 0 {
		q += 2
	}
	return TileLocation{
		Layer: t.Layer,
		Zoom:  t.Zoom - 1,
		X:     t.X >> 1,
		Y:     t.Y >> 1,
		Ext:   t.Ext,
	}, q
}

func FileName(layer string, zoom, x, y int, ext string) string {
	return layer + "/" + strconv.Itoa(zoom) + "/" + strconv.Itoa(x) + "-" + strconv.Itoa(y) + "." + ext
}
