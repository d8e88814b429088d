package primitives

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"
)

var (
	ErrUnknownMode  = errors.New("unknown layer mode")
	ErrBadLayer     = errors.New("bad layer spec")
	ErrUnknownLayer = errors.New("unknown layer")
)

// LayerMode is one of ThreeDMode, MapMode, HeightMode, LocsMode or CollisionMode.
type LayerMode interface {
	ModeName() string
	isLayerMode()
}

type ThreeDMode struct {
	// SubtractLayer names a layer rendered earlier in the same chunk whose
	// identical tiles get aliased instead of uploaded again.
	SubtractLayer string
	HideLocs      bool
}

type MapMode struct {
	WallsOnly bool
}

type HeightMode struct{}

type LocsMode struct{}

type CollisionMode struct{}

func (ThreeDMode) ModeName() string    { return "3d" }
func (MapMode) ModeName() string       { return "map" }
func (HeightMode) ModeName() string    { return "height" }
func (LocsMode) ModeName() string      { return "locs" }
func (CollisionMode) ModeName() string { return "collision" }

func (ThreeDMode) isLayerMode()    {}
func (MapMode) isLayerMode()       {}
func (HeightMode) isLayerMode()    {}
func (LocsMode) isLayerMode()      {}
func (CollisionMode) isLayerMode() {}

type LayerSpec struct {
	Name        string
	Mode        LayerMode
	PxPerSquare int
	Level       int
	Format      string
	MipQuality  int
	AddMipmaps  bool
}

type layerSpecJSON struct {
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	PxPerSquare   int    `json:"pxpersquare"`
	Level         int    `json:"level"`
	Format        string `json:"format,omitempty"`
	MipQuality    int    `json:"mipq,omitempty"`
	AddMipmaps    bool   `json:"addmipmaps,omitempty"`
	SubtractLayer string `json:"subtractlayer,omitempty"`
	HideLocs      bool   `json:"hidelocs,omitempty"`
	WallsOnly     bool   `json:"wallsonly,omitempty"`
}

func (l *LayerSpec) UnmarshalJSON(b []byte) error {
	var raw layerSpecJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Mode {
	case "3d":
		l.Mode = ThreeDMode{SubtractLayer: raw.SubtractLayer, HideLocs: raw.HideLocs}
	case "map":
		l.Mode = MapMode{WallsOnly: raw.WallsOnly}
	case "height":
		l.Mode = HeightMode{}
	case "locs":
		l.Mode = LocsMode{}
	case "collision":
		l.Mode = CollisionMode{}
	default:
		return fmt.Errorf("%w %q in layer %q", ErrUnknownMode, raw.Mode, raw.Name)
	}
	l.Name = raw.Name
	l.PxPerSquare = raw.PxPerSquare
	l.Level = raw.Level
	l.Format = raw.Format
	l.MipQuality = raw.MipQuality
	l.AddMipmaps = raw.AddMipmaps
	return nil
}

func (l LayerSpec) MarshalJSON() ([]byte, error) {
	raw := layerSpecJSON{
		Name:        l.Name,
		PxPerSquare: l.PxPerSquare,
		Level:       l.Level,
		Format:      l.Format,
		MipQuality:  l.MipQuality,
		AddMipmaps:  l.AddMipmaps,
	}
	switch m := l.Mode.(type) {
	case ThreeDMode:
		raw.SubtractLayer = m.SubtractLayer
		raw.HideLocs = m.HideLocs
	case MapMode:
		raw.WallsOnly = m.WallsOnly
	case nil:
		return nil, fmt.Errorf("%w: layer %q has no mode", ErrBadLayer, l.Name)
	}
	raw.Mode = l.Mode.ModeName()
	return json.Marshal(raw)
}

// Ext is the file extension of every tile the layer produces.
func (l *LayerSpec) Ext() string {
	switch l.Mode.(type) {
	case ThreeDMode, CollisionMode:
		if l.Format == "jpeg" {
			return "jpg"
		}
		return "png"
	case MapMode:
		return "svg"
	case HeightMode:
		return "bin"
	case LocsMode:
		return "json"
	default:
		return "png"
	}
}

// IsRaster reports whether tiles of the layer are images that can be
// composed into mipmaps.
func (l *LayerSpec) IsRaster() bool {
	switch l.Mode.(type) {
	case ThreeDMode, CollisionMode:
		return true
	}
	return false
}

// Version is a checksum of the canonical layer config, folded into tile
// hashes so that changing a layer invalidates its tiles.
func (l *LayerSpec) Version() uint32 {
	b, err := json.Marshal(l)
	if err != nil {
		return 0
	}
	return crc32.ChecksumIEEE(b)
}

func (l *LayerSpec) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("%w: empty name", ErrBadLayer)
	}
	if l.Mode == nil {
		return fmt.Errorf("%w: layer %q has no mode", ErrBadLayer, l.Name)
	}
	switch l.Mode.(type) {
	case ThreeDMode, MapMode, CollisionMode:
		if l.PxPerSquare <= 0 || bits.OnesCount(uint(l.PxPerSquare)) != 1 {
			return fmt.Errorf("%w: layer %q pxpersquare %d is not a power of two", ErrBadLayer, l.Name, l.PxPerSquare)
		}
	}
	if l.Level < 0 || l.Level > 3 {
		return fmt.Errorf("%w: layer %q level %d out of range", ErrBadLayer, l.Name, l.Level)
	}
	switch l.Format {
	case "", "png", "jpeg":
	default:
		return fmt.Errorf("%w: layer %q format %q", ErrBadLayer, l.Name, l.Format)
	}
	if l.Format != "" && !l.IsRaster() {
		return fmt.Errorf("%w: %s layer %q can not have format %q", ErrBadLayer, l.Mode.ModeName(), l.Name, l.Format)
	}
	return nil
}
