package primitives

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestZoomRange(t *testing.T) {
	cfg := Mapconfig{TileImageSize: 512, MapSizeX: 100, MapSizeZ: 200}
	l := LayerSpec{Name: "level-0", Mode: ThreeDMode{}, PxPerSquare: 64}
	got := cfg.ZoomRange(&l)
	want := ZoomRange{Min: -5, Max: 6, Base: 3}
	if got != want {
		t.Fatalf("ZoomRange=%+v want %+v", got, want)
	}
	cfg = Mapconfig{TileImageSize: 256, MapSizeX: 1, MapSizeZ: 1}
	if f := cfg.FloorZoom(); f != 2 {
		t.Fatalf("FloorZoom=%d want 2", f)
	}
}

func TestParentQuadrant(t *testing.T) {
	for _, tc := range []struct {
		x, y   int
		px, py int
		q      int
	}{
		{0, 0, 0, 0, 0},
		{1, 0, 0, 0, 1},
		{0, 1, 0, 0, 2},
		{1, 1, 0, 0, 3},
		{5, 8, 2, 4, 1},
		{-1, -1, -1, -1, 3},
		{-2, 3, -1, 1, 2},
	} {
		p, q := TileLocation{Layer: "l", Zoom: 4, X: tc.x, Y: tc.y, Ext: "png"}.Parent()
		if p.X != tc.px || p.Y != tc.py || q != tc.q || p.Zoom != 3 {
			t.Errorf("Parent(%d,%d) = (%d,%d) q%d z%d want (%d,%d) q%d z3", tc.x, tc.y, p.X, p.Y, q, p.Zoom, tc.px, tc.py, tc.q)
		}
	}
}

func TestResolveArea(t *testing.T) {
	cfg := Mapconfig{
		MapSizeX: 100,
		MapSizeZ: 200,
		Area:     "lumbridge",
		Areas: map[string][]Area{
			"lumbridge": {{X: 49, Z: 49, XSize: 3, ZSize: 3}},
		},
	}
	for _, tc := range []struct {
		sel  string
		want []Area
	}{
		{"", []Area{{49, 49, 3, 3}}},
		{"full", []Area{{0, 0, 100, 200}}},
		{"50.50", []Area{{50, 50, 1, 1}}},
		{"1.2.3.4, 5.6", []Area{{1, 2, 3, 4}, {5, 6, 1, 1}}},
	} {
		got, err := cfg.ResolveArea(tc.sel)
		if err != nil {
			t.Errorf("ResolveArea(%q): %v", tc.sel, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ResolveArea(%q)=%v want %v", tc.sel, got, tc.want)
		}
	}
	for _, sel := range []string{"nowhere", "1.2.3", "1.2.0.4", "a.b"} {
		if _, err := cfg.ResolveArea(sel); !errors.Is(err, ErrBadArea) {
			t.Errorf("ResolveArea(%q) err=%v want ErrBadArea", sel, err)
		}
	}
	cfg.Area = ""
	if _, err := cfg.ResolveArea(""); !errors.Is(err, ErrBadArea) {
		t.Errorf("empty selector err=%v", err)
	}
}

func TestAreaChunks(t *testing.T) {
	got := Area{X: 0, Z: 0, XSize: 2, ZSize: 2}.Chunks()
	want := []ChunkPos{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Chunks=%v want %v", got, want)
	}
	if len((Area{XSize: 0, ZSize: 5}).Chunks()) != 0 {
		t.Fatal("empty area produced chunks")
	}
}

func TestLayerSpecJSON(t *testing.T) {
	in := `[
		{"name":"level-0","mode":"3d","pxpersquare":64,"level":0,"addmipmaps":true},
		{"name":"topdown-0","mode":"3d","pxpersquare":64,"level":0,"format":"jpeg","mipq":80,"subtractlayer":"level-0","hidelocs":true},
		{"name":"map","mode":"map","pxpersquare":4,"level":1,"wallsonly":true},
		{"name":"height","mode":"height","pxpersquare":1,"level":0},
		{"name":"locs","mode":"locs","pxpersquare":1,"level":0},
		{"name":"collision","mode":"collision","pxpersquare":8,"level":0,"addmipmaps":true}
	]`
	var layers []LayerSpec
	if err := json.Unmarshal([]byte(in), &layers); err != nil {
		t.Fatal(err)
	}
	exts := []string{"png", "jpg", "svg", "bin", "json", "png"}
	for i, l := range layers {
		if err := l.Validate(); err != nil {
			t.Errorf("layer %q: %v", l.Name, err)
		}
		if l.Ext() != exts[i] {
			t.Errorf("layer %q ext %q want %q", l.Name, l.Ext(), exts[i])
		}
	}
	m, ok := layers[1].Mode.(ThreeDMode)
	if !ok || m.SubtractLayer != "level-0" || !m.HideLocs {
		t.Fatalf("topdown mode %#v", layers[1].Mode)
	}
	if !layers[0].IsRaster() || layers[2].IsRaster() || !layers[5].IsRaster() {
		t.Fatal("wrong raster classification")
	}
	b, err := json.Marshal(layers[1])
	if err != nil {
		t.Fatal(err)
	}
	var back LayerSpec
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, layers[1]) {
		t.Fatalf("round trip %#v want %#v", back, layers[1])
	}
	if layers[0].Version() == layers[1].Version() {
		t.Fatal("different layers share a version")
	}
}

func TestLayerSpecUnknownMode(t *testing.T) {
	var l LayerSpec
	err := json.Unmarshal([]byte(`{"name":"x","mode":"hologram"}`), &l)
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("err=%v want ErrUnknownMode", err)
	}
}

func TestMapconfigValidate(t *testing.T) {
	cfg := Mapconfig{
		TileImageSize: 512,
		MapSizeX:      10,
		MapSizeZ:      10,
		Layers: []LayerSpec{
			{Name: "top", Mode: ThreeDMode{SubtractLayer: "base"}, PxPerSquare: 64},
			{Name: "base", Mode: ThreeDMode{}, PxPerSquare: 64},
		},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrBadLayer) {
		t.Fatalf("forward subtract reference err=%v", err)
	}
	cfg.Layers[0], cfg.Layers[1] = cfg.Layers[1], cfg.Layers[0]
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Layers[1].PxPerSquare = 48
	if err := cfg.Validate(); !errors.Is(err, ErrBadLayer) {
		t.Fatalf("non power of two err=%v", err)
	}
	cfg.TileImageSize = 300
	if err := cfg.Validate(); !errors.Is(err, ErrBadMapSize) {
		t.Fatalf("tile size err=%v", err)
	}
}

func TestMapconfigValidateWidth(t *testing.T) {
	cfg := Mapconfig{TileImageSize: 256, MapSizeX: MapsquareStride, MapSizeZ: 64}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.MapSizeX = 256
	if err := cfg.Validate(); !errors.Is(err, ErrBadMapSize) {
		t.Fatalf("256 chunks wide err=%v want ErrBadMapSize", err)
	}
}

func TestLayerFormat(t *testing.T) {
	collision := LayerSpec{Name: "collision", Mode: CollisionMode{}, PxPerSquare: 4, Format: "jpeg"}
	if err := collision.Validate(); err != nil {
		t.Fatal(err)
	}
	if collision.Ext() != "jpg" {
		t.Fatalf("jpeg collision ext %q", collision.Ext())
	}
	for _, l := range []LayerSpec{
		{Name: "height", Mode: HeightMode{}, Format: "png"},
		{Name: "map", Mode: MapMode{}, PxPerSquare: 2, Format: "jpeg"},
		{Name: "locs", Mode: LocsMode{}, Format: "jpeg"},
	} {
		if err := l.Validate(); !errors.Is(err, ErrBadLayer) {
			t.Errorf("layer %q with format err=%v want ErrBadLayer", l.Name, err)
		}
	}
}

func TestFoldCommutative(t *testing.T) {
	children := []uint32{5, 0, 7, 0}
	orders := [][]int{{0, 1, 2, 3}, {2, 0, 3, 1}, {3, 2, 1, 0}}
	want := uint32(0)
	for i, order := range orders {
		acc := FoldIdentity
		for _, j := range order {
			acc = FoldCommutative(acc, children[j])
		}
		if i == 0 {
			want = acc
		} else if acc != want {
			t.Fatalf("order %v gave %d want %d", order, acc, want)
		}
	}
	if want != 12 {
		t.Fatalf("fold of [5 0 7 0] = %d want 12", want)
	}
}

func TestFoldOrdered(t *testing.T) {
	a := FoldOrdered(FoldOrdered(0, 1), 2)
	b := FoldOrdered(FoldOrdered(0, 2), 1)
	if a == b {
		t.Fatal("ordered fold is order independent")
	}
	if a != FoldOrdered(FoldOrdered(0, 1), 2) {
		t.Fatal("ordered fold is not deterministic")
	}
}
