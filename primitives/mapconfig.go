package primitives

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

var (
	ErrBadArea    = errors.New("unresolvable area")
	ErrBadMapSize = errors.New("bad map size")
)

// Mapconfig is the map description served by the tile storage as /config.json.
type Mapconfig struct {
	Layers        []LayerSpec       `json:"layers"`
	TileImageSize int               `json:"tileimgsize"`
	MapSizeX      int               `json:"mapsizex"`
	MapSizeZ      int               `json:"mapsizez"`
	Area          string            `json:"area"`
	Areas         map[string][]Area `json:"areas,omitempty"`
	Version       int               `json:"version,omitempty"`
}

type ZoomRange struct {
	// Min is the coarsest zoom where one tile covers the whole map.
	Min int
	// Max is the finest zoom the layer renders at.
	Max int
	// Base is the zoom where one tile is exactly one chunk.
	Base int
}

func log2floor(n int) int {
	if n <= 0 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}

func (c *Mapconfig) ZoomRange(l *LayerSpec) ZoomRange {
	return ZoomRange{
		Min:  c.FloorZoom(),
		Max:  log2floor(l.PxPerSquare),
		Base: c.BaseZoom(),
	}
}

func (c *Mapconfig) BaseZoom() int {
	return log2floor(c.TileImageSize / ChunkSize)
}

// FloorZoom is the global lowest zoom the mip pyramid is built down to.
func (c *Mapconfig) FloorZoom() int {
	size := c.MapSizeX
	if c.MapSizeZ > size {
		size = c.MapSizeZ
	}
	if size <= 0 || c.TileImageSize <= 0 {
		return c.BaseZoom()
	}
	return int(math.Floor(math.Log2(float64(c.TileImageSize) / float64(size*ChunkSize))))
}

func (c *Mapconfig) Layer(name string) (*LayerSpec, error) {
	for i := range c.Layers {
		if c.Layers[i].Name == name {
			return &c.Layers[i], nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownLayer, name)
}

func (c *Mapconfig) Validate() error {
	if c.TileImageSize < ChunkSize || bits.OnesCount(uint(c.TileImageSize)) != 1 {
		return fmt.Errorf("%w: tile image size %d", ErrBadMapSize, c.TileImageSize)
	}
	if c.MapSizeX <= 0 || c.MapSizeZ <= 0 {
		return fmt.Errorf("%w: %dx%d chunks", ErrBadMapSize, c.MapSizeX, c.MapSizeZ)
	}
	if c.MapSizeX > MapsquareStride {
		return fmt.Errorf("%w: map is %d chunks wide, mapsquare ids cover %d", ErrBadMapSize, c.MapSizeX, MapsquareStride)
	}
	seen := map[string]int{}
	for i := range c.Layers {
		l := &c.Layers[i]
		if err := l.Validate(); err != nil {
			return err
		}
		if _, ok := seen[l.Name]; ok {
			return fmt.Errorf("%w: duplicate layer name %q", ErrBadLayer, l.Name)
		}
		seen[l.Name] = i
		if m, ok := l.Mode.(ThreeDMode); ok && m.SubtractLayer != "" {
			j, ok := seen[m.SubtractLayer]
			if !ok {
				return fmt.Errorf("%w: layer %q subtracts %q which is not defined before it", ErrBadLayer, l.Name, m.SubtractLayer)
			}
			if _, ok := c.Layers[j].Mode.(ThreeDMode); !ok {
				return fmt.Errorf("%w: layer %q subtracts non-3d layer %q", ErrBadLayer, l.Name, m.SubtractLayer)
			}
		}
	}
	return nil
}

// ResolveArea turns an area selector into rectangles. Accepted forms are
// "full", a preset name from Areas, or a comma separated list of
// "x.z" and "x.z.xsize.zsize" items.
func (c *Mapconfig) ResolveArea(selector string) ([]Area, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = c.Area
	}
	if selector == "" {
		return nil, fmt.Errorf("%w: no area selected", ErrBadArea)
	}
	if selector == "full" {
		return []Area{{X: 0, Z: 0, XSize: c.MapSizeX, ZSize: c.MapSizeZ}}, nil
	}
	if preset, ok := c.Areas[selector]; ok {
		if len(preset) == 0 {
			return nil, fmt.Errorf("%w: preset %q is empty", ErrBadArea, selector)
		}
		return preset, nil
	}
	ret := []Area{}
	for _, part := range strings.Split(selector, ",") {
		a, err := parseArea(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ret = append(ret, a)
	}
	return ret, nil
}

func parseArea(s string) (Area, error) {
	fields := strings.Split(s, ".")
	if len(fields) != 2 && len(fields) != 4 {
		return Area{}, fmt.Errorf("%w: %q", ErrBadArea, s)
	}
	n := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Area{}, fmt.Errorf("%w: %q: %v", ErrBadArea, s, err)
		}
		n[i] = v
	}
	a := Area{X: n[0], Z: n[1], XSize: 1, ZSize: 1}
	if len(n) == 4 {
		a.XSize, a.ZSize = n[2], n[3]
	}
	if a.XSize <= 0 || a.ZSize <= 0 {
		return Area{}, fmt.Errorf("%w: %q has empty size", ErrBadArea, s)
	}
	return a, nil
}
