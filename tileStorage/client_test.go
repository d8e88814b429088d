package tileStorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/maxsupermanhd/TileSync/primitives"
)

func newTestClient(t *testing.T, h http.Handler, overwrite bool) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(nil, Config{Endpoint: srv.URL, MapID: 3, BuildNr: 220, Overwrite: overwrite}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestFileName(t *testing.T) {
	for _, tc := range []struct {
		layer string
		zoom  int
		x, y  int
		ext   string
		want  string
	}{
		{"map", 3, 50, 50, "svg", "map/3/50-50.svg"},
		{"level-0", 5, -1, 12, "png", "level-0/5/-1-12.png"},
		{"height", 2, 0, 0, "bin", "height/2/0-0.bin"},
	} {
		got := FileName(tc.layer, tc.zoom, tc.x, tc.y, tc.ext)
		if got != tc.want {
			t.Errorf("FileName(%q, %d, %d, %d, %q) = %q want %q", tc.layer, tc.zoom, tc.x, tc.y, tc.ext, got, tc.want)
		}
	}
}

func TestSaveAndGetMetas(t *testing.T) {
	mem := NewMemoryServer(nil)
	c := newTestClient(t, mem, false)
	ctx := context.Background()
	if err := c.Save(ctx, "a/1/0-0.png", 42, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	metas, err := c.GetMetas(ctx, []string{"a/1/0-0.png", "a/1/1-0.png"})
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 {
		t.Fatalf("len(metas)=%d want 1", len(metas))
	}
	if metas[0].File != "a/1/0-0.png" || metas[0].Hash != 42 {
		t.Fatalf("unexpected meta %+v", metas[0])
	}
	st, ok := mem.Tile(3, "a/1/0-0.png")
	if !ok || st.BuildNr != 220 || !bytes.Equal(st.Data, []byte("hello")) {
		t.Fatalf("unexpected stored tile %+v", st)
	}
	b, err := c.FetchFile(ctx, "a/1/0-0.png", 42)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("fetched %q", b)
	}
}

func TestGetMetasOverwrite(t *testing.T) {
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`[{"file":"x","hash":1,"time":0}]`))
	})
	c := newTestClient(t, h, true)
	metas, err := c.GetMetas(context.Background(), []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 0 {
		t.Fatalf("overwrite mode returned %d metas", len(metas))
	}
	if requests.Load() != 0 {
		t.Fatalf("overwrite mode made %d requests", requests.Load())
	}
}

func TestGetMetasSplitsLongLists(t *testing.T) {
	mem := NewMemoryServer(nil)
	var requests atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/getmetas" {
			requests.Add(1)
		}
		mem.ServeHTTP(w, r)
	})
	c := newTestClient(t, h, false)
	ctx := context.Background()
	names := []string{}
	for i := 0; i < 600; i++ {
		names = append(names, fmt.Sprintf("l/4/%d-0.png", i))
	}
	for _, n := range names[590:] {
		if err := c.Save(ctx, n, 7, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	metas, err := c.GetMetas(ctx, names)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 10 {
		t.Fatalf("len(metas)=%d want 10", len(metas))
	}
	if requests.Load() != 3 {
		t.Fatalf("requests=%d want 3", requests.Load())
	}
}

func TestAlias(t *testing.T) {
	mem := NewMemoryServer(nil)
	c := newTestClient(t, mem, false)
	ctx := context.Background()
	if err := c.Save(ctx, "base/3/1-1.png", 9, []byte("pixels")); err != nil {
		t.Fatal(err)
	}
	if err := c.Alias(ctx, "top/3/1-1.png", 11, "base/3/1-1.png"); err != nil {
		t.Fatal(err)
	}
	st, ok := mem.Tile(3, "top/3/1-1.png")
	if !ok {
		t.Fatal("alias record missing")
	}
	if st.Symlink != "base/3/1-1.png" || len(st.Data) != 0 || st.Hash != 11 {
		t.Fatalf("unexpected alias record %+v", st)
	}
	b, ok := mem.Resolve(3, "top/3/1-1.png")
	if !ok || string(b) != "pixels" {
		t.Fatalf("resolve returned %q %v", b, ok)
	}
	uploads, aliases := mem.Counts()
	if uploads != 1 || aliases != 1 {
		t.Fatalf("uploads=%d aliases=%d want 1 1", uploads, aliases)
	}
	if err := c.Alias(ctx, "top/3/2-1.png", 11, ""); !errors.Is(err, ErrEmptyTarget) {
		t.Fatalf("empty target err=%v", err)
	}
}

func TestSaveFailsOnBadStatus(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	})
	c := newTestClient(t, h, false)
	err := c.Save(context.Background(), "a/0/0-0.png", 1, []byte{1})
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("err=%v want ErrBadStatus", err)
	}
}

func TestGetConfig(t *testing.T) {
	cfg := &primitives.Mapconfig{
		TileImageSize: 512,
		MapSizeX:      100,
		MapSizeZ:      200,
		Area:          "full",
		Layers: []primitives.LayerSpec{
			{Name: "level-0", Mode: primitives.ThreeDMode{}, PxPerSquare: 64, AddMipmaps: true},
			{Name: "map", Mode: primitives.MapMode{WallsOnly: true}, PxPerSquare: 8},
		},
	}
	c := newTestClient(t, NewMemoryServer(cfg), false)
	got, err := c.GetConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.TileImageSize != 512 || got.MapSizeZ != 200 || len(got.Layers) != 2 {
		t.Fatalf("unexpected config %+v", got)
	}
	if m, ok := got.Layers[1].Mode.(primitives.MapMode); !ok || !m.WallsOnly {
		t.Fatalf("layer mode %#v", got.Layers[1].Mode)
	}
}

func TestNoEndpoint(t *testing.T) {
	if _, err := NewClient(nil, Config{}, nil); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("err=%v", err)
	}
}
