package tileBuilder

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/maxsupermanhd/TileSync/deps"
	"github.com/maxsupermanhd/TileSync/primitives"
	resourcecache "github.com/maxsupermanhd/TileSync/resourceCache"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
	"github.com/maxsupermanhd/TileSync/tileStorage"
)

type mipRecord struct {
	layer string
	zoom  int
	hash  uint32
	x, y  int
}

type fakeMips struct {
	lock  sync.Mutex
	added []mipRecord
}

func (f *fakeMips) AddChild(layer string, childZoom int, hash uint32, x, y int, ext string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.added = append(f.added, mipRecord{layer, childZoom, hash, x, y})
}

func (f *fakeMips) records() []mipRecord {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]mipRecord(nil), f.added...)
}

type testEnv struct {
	cfg    *primitives.Mapconfig
	mem    *tileStorage.MemoryServer
	client *tileStorage.Client
	scenes *sceneStorage.MemorySceneStorage
	mips   *fakeMips
	rc     *RenderContext
}

func testConfig() *primitives.Mapconfig {
	return &primitives.Mapconfig{
		TileImageSize: 64,
		MapSizeX:      4,
		MapSizeZ:      4,
		Layers: []primitives.LayerSpec{
			{Name: "terrain", Mode: primitives.ThreeDMode{HideLocs: true}, PxPerSquare: 4, AddMipmaps: true},
			{Name: "full", Mode: primitives.ThreeDMode{SubtractLayer: "terrain"}, PxPerSquare: 4},
			{Name: "map", Mode: primitives.MapMode{}, PxPerSquare: 2},
			{Name: "height", Mode: primitives.HeightMode{}},
			{Name: "locs", Mode: primitives.LocsMode{}},
			{Name: "collision", Mode: primitives.CollisionMode{}, PxPerSquare: 1},
		},
	}
}

func newTestEnv(t *testing.T, cfg *primitives.Mapconfig) *testEnv {
	t.Helper()
	env := &testEnv{
		cfg:    cfg,
		mem:    tileStorage.NewMemoryServer(cfg),
		scenes: sceneStorage.NewMemorySceneStorage(),
		mips:   &fakeMips{},
	}
	srv := httptest.NewServer(env.mem)
	t.Cleanup(srv.Close)
	client, err := tileStorage.NewClient(nil, tileStorage.Config{Endpoint: srv.URL, MapID: 1, BuildNr: 1}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	env.client = client
	for z := 0; z < 4; z++ {
		for x := 0; x < 4; x++ {
			if err := env.scenes.AddChunkScene(context.Background(), sceneStorage.SyntheticScene(x, z, 1)); err != nil {
				t.Fatal(err)
			}
		}
	}
	rc, err := NewContextFactory(nil, "software", env.scenes, resourcecache.Options{})(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rc.Close() })
	env.rc = rc
	return env
}

func (env *testEnv) builder() *Builder {
	return NewBuilder(nil, env.client, deps.NewStorageGraph(env.scenes, 0), env.cfg, env.mips, Options{})
}

func TestChunkTaskNamesAreUnique(t *testing.T) {
	env := newTestEnv(t, testConfig())
	tasks, err := env.builder().chunkTasks(1, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	// two 3d layers with 1+4+16 subtiles and four single tile layers
	if len(tasks) != 2*21+4 {
		t.Fatalf("got %d tasks want %d", len(tasks), 2*21+4)
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.name] {
			t.Fatalf("duplicate task %s", task.name)
		}
		seen[task.name] = true
	}
	for _, want := range []string{"terrain/0/1-2.png", "terrain/2/7-11.png", "map/0/1-2.svg", "height/0/1-2.bin", "locs/0/1-2.json", "collision/0/1-2.png"} {
		if !seen[want] {
			t.Errorf("task %s missing", want)
		}
	}
}

func TestDuplicateLayerRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Layers = append(cfg.Layers, primitives.LayerSpec{Name: "height", Mode: primitives.HeightMode{}})
	env := newTestEnv(t, cfg)
	_, err := env.builder().chunkTasks(0, 0, 0)
	if !errors.Is(err, ErrDuplicateTile) {
		t.Fatalf("err=%v want ErrDuplicateTile", err)
	}
}

func TestSecondBuildUploadsNothing(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	b := env.builder()
	res, err := b.BuildChunk(ctx, env.rc, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Done || res.Rendered != res.Candidate {
		t.Fatalf("first build %+v", res)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	uploads, aliases := env.mem.Counts()
	if uploads+aliases != res.Candidate {
		t.Fatalf("stored %d+%d files want %d", uploads, aliases, res.Candidate)
	}

	b = env.builder()
	res, err = b.BuildChunk(ctx, env.rc, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	if res.Status != Skipped || res.Rendered != 0 || res.Unchanged != res.Candidate {
		t.Fatalf("second build %+v", res)
	}
	u2, a2 := env.mem.Counts()
	if u2 != uploads || a2 != aliases {
		t.Fatalf("second build stored files: %d+%d -> %d+%d", uploads, aliases, u2, a2)
	}
}

func TestChangedNeighbourInvalidates(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	b := env.builder()
	if _, err := b.BuildChunk(ctx, env.rc, 2, 2); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	// (1,1) is the diagonal neighbour folded into the hash of (2,2)
	if err := env.scenes.AddChunkScene(ctx, sceneStorage.SyntheticScene(1, 1, 2)); err != nil {
		t.Fatal(err)
	}
	b = env.builder()
	res, err := b.BuildChunk(ctx, env.rc, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	if res.Status != Done || res.Unchanged != 0 {
		t.Fatalf("rebuild after neighbour change %+v", res)
	}
}

func TestSubtractLayerAliases(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	b := env.builder()
	if _, err := b.BuildChunk(ctx, env.rc, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	_, aliased, failed := b.Counts()
	if failed != 0 {
		t.Fatalf("%d uploads failed", failed)
	}
	// 6 locs can touch at most 6 of 16 finest subtiles
	if aliased < 10 {
		t.Fatalf("only %d tiles aliased", aliased)
	}
	links := 0
	for _, f := range env.mem.Files(1) {
		if !strings.HasPrefix(f, "full/") {
			continue
		}
		tile, ok := env.mem.Tile(1, f)
		if !ok {
			t.Fatalf("tile %s listed but missing", f)
		}
		if tile.Symlink == "" {
			continue
		}
		links++
		if want := "terrain/" + strings.TrimPrefix(f, "full/"); tile.Symlink != want {
			t.Errorf("%s links to %s want %s", f, tile.Symlink, want)
		}
		got, ok := env.mem.Resolve(1, f)
		if !ok {
			t.Fatalf("alias %s does not resolve", f)
		}
		target, _ := env.mem.Tile(1, tile.Symlink)
		if string(got) != string(target.Data) {
			t.Errorf("alias %s resolved to different bytes", f)
		}
	}
	if int64(links) != aliased {
		t.Fatalf("%d symlink records, builder reported %d", links, aliased)
	}
	// the zoom 0 tile always carries locs
	if tile, _ := env.mem.Tile(1, "full/0/0-0.png"); tile.Symlink != "" {
		t.Errorf("full/0/0-0.png aliased although it shows locs")
	}
}

func TestChainedSubtractLayersAlias(t *testing.T) {
	cfg := testConfig()
	cfg.Layers = []primitives.LayerSpec{
		{Name: "a", Mode: primitives.ThreeDMode{HideLocs: true}, PxPerSquare: 4},
		{Name: "b", Mode: primitives.ThreeDMode{HideLocs: true, SubtractLayer: "a"}, PxPerSquare: 4},
		{Name: "c", Mode: primitives.ThreeDMode{HideLocs: true, SubtractLayer: "b"}, PxPerSquare: 4},
	}
	env := newTestEnv(t, cfg)
	b := env.builder()
	if _, err := b.BuildChunk(context.Background(), env.rc, 2, 2); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	uploaded, aliased, failed := b.Counts()
	if failed != 0 || uploaded != 21 || aliased != 2*21 {
		t.Fatalf("uploaded=%d aliased=%d failed=%d", uploaded, aliased, failed)
	}
	for _, f := range []string{"0/2-2.png", "1/4-5.png", "2/9-11.png"} {
		tb, _ := env.mem.Tile(1, "b/"+f)
		tc, _ := env.mem.Tile(1, "c/"+f)
		if tb.Symlink != "a/"+f || tc.Symlink != "b/"+f {
			t.Errorf("%s links b=%q c=%q", f, tb.Symlink, tc.Symlink)
		}
		got, ok := env.mem.Resolve(1, "c/"+f)
		want, _ := env.mem.Tile(1, "a/"+f)
		if !ok || string(got) != string(want.Data) {
			t.Errorf("c/%s does not resolve to the bytes of a/%s", f, f)
		}
	}
}

func TestCollisionLayerFormat(t *testing.T) {
	cfg := testConfig()
	cfg.Layers = []primitives.LayerSpec{
		{Name: "collision", Mode: primitives.CollisionMode{}, PxPerSquare: 1, Format: "jpeg"},
	}
	env := newTestEnv(t, cfg)
	b := env.builder()
	if _, err := b.BuildChunk(context.Background(), env.rc, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	if _, ok := env.mem.Tile(1, "collision/0/1-1.png"); ok {
		t.Fatal("jpeg collision tile stored under png name")
	}
	data, ok := env.mem.Resolve(1, "collision/0/1-1.jpg")
	if !ok {
		t.Fatal("collision/0/1-1.jpg missing")
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("collision tile is not jpeg encoded")
	}
}

func TestMipChildrenRegistered(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	b := env.builder()
	if _, err := b.BuildChunk(ctx, env.rc, 3, 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	recs := env.mips.records()
	if len(recs) != 1 {
		t.Fatalf("got %d mip registrations want 1: %v", len(recs), recs)
	}
	r := recs[0]
	if r.layer != "terrain" || r.zoom != 0 || r.x != 3 || r.y != 1 {
		t.Fatalf("registered %+v", r)
	}
	if _, ok := env.mem.Tile(1, "terrain/0/3-1.png"); !ok {
		t.Fatal("mip child registered but tile not stored")
	}

	// unchanged tiles are registered again without an upload
	b = env.builder()
	if _, err := b.BuildChunk(ctx, env.rc, 3, 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Wait(); err != nil {
		t.Fatal(err)
	}
	recs = env.mips.records()
	if len(recs) != 2 || recs[1].hash != recs[0].hash {
		t.Fatalf("second registration %v", recs)
	}
}

type failingStore struct {
	TileStore
}

func (f failingStore) Save(ctx context.Context, name string, hash uint32, data []byte) error {
	if strings.HasPrefix(name, "height/") {
		return errors.New("disk full")
	}
	return f.TileStore.Save(ctx, name, hash, data)
}

func TestUploadErrorsCollected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	b := NewBuilder(nil, failingStore{env.client}, deps.NewStorageGraph(env.scenes, 0), env.cfg, env.mips, Options{MaxPendingUploads: 2})
	res, err := b.BuildChunk(context.Background(), env.rc, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Done {
		t.Fatalf("status %v", res.Status)
	}
	err = b.Wait()
	if err == nil || !strings.Contains(err.Error(), "height/0/0-1.bin") {
		t.Fatalf("Wait()=%v want height upload failure", err)
	}
	if err := b.Wait(); err != nil {
		t.Fatalf("errors not reset: %v", err)
	}
	if _, _, failed := b.Counts(); failed != 1 {
		t.Fatalf("failed=%d want 1", failed)
	}
}
