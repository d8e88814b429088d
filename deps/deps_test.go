package deps

import (
	"context"
	"errors"
	"testing"

	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

func TestChunkHashTracksNeighbours(t *testing.T) {
	ctx := context.Background()
	store := sceneStorage.NewMemorySceneStorage()
	for z := 0; z < 3; z++ {
		for x := 0; x < 3; x++ {
			if err := store.AddChunkScene(ctx, sceneStorage.SyntheticScene(x, z, 1)); err != nil {
				t.Fatal(err)
			}
		}
	}
	before, err := ChunkHash(ctx, NewStorageGraph(store, 0), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ChunkHash(ctx, NewStorageGraph(store, 0), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if before != again {
		t.Fatalf("hash not stable: %d %d", before, again)
	}

	// (0,0) is the (x-1,z-1) neighbour of (1,1)
	if err := store.AddChunkScene(ctx, sceneStorage.SyntheticScene(0, 0, 2)); err != nil {
		t.Fatal(err)
	}
	after, err := ChunkHash(ctx, NewStorageGraph(store, 0), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Fatal("neighbour change did not change chunk hash")
	}

	// (2,2) is not a dependency of (1,1)
	if err := store.AddChunkScene(ctx, sceneStorage.SyntheticScene(2, 2, 9)); err != nil {
		t.Fatal(err)
	}
	unrelated, err := ChunkHash(ctx, NewStorageGraph(store, 0), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if unrelated != after {
		t.Fatal("unrelated chunk changed the hash")
	}

	salted, err := ChunkHash(ctx, NewStorageGraph(store, 5), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if salted == after {
		t.Fatal("salt did not change the hash")
	}
}

func TestMapsquareID(t *testing.T) {
	for _, c := range [][2]int{{0, 0}, {5, 0}, {127, 3}, {50, 50}} {
		x, z := mapsquareCoords(MapsquareID(c[0], c[1]))
		if x != c[0] || z != c[1] {
			t.Errorf("round trip of %v gave %d %d", c, x, z)
		}
	}
}

func TestUnknownDependency(t *testing.T) {
	g := NewStorageGraph(sceneStorage.NewMemorySceneStorage(), 0)
	for _, name := range []string{"model-5", "mapsquare", "mapsquare-x", "mapsquare--3"} {
		if _, err := g.HashDependencies(context.Background(), name, 0); !errors.Is(err, ErrUnknownDependency) {
			t.Errorf("%q err=%v", name, err)
		}
	}
}

func TestChunkHashLastColumn(t *testing.T) {
	ctx := context.Background()
	store := sceneStorage.NewMemorySceneStorage()
	x := MapsquareStride - 1
	if err := store.AddChunkScene(ctx, sceneStorage.SyntheticScene(x, 5, 1)); err != nil {
		t.Fatal(err)
	}
	v1, err := ChunkHash(ctx, NewStorageGraph(store, 0), x, 5)
	if err != nil {
		t.Fatal(err)
	}
	empty, err := ChunkHash(ctx, NewStorageGraph(store, 0), x, 40)
	if err != nil {
		t.Fatal(err)
	}
	if v1 == empty {
		t.Fatal("stored chunk hashes like an empty one")
	}
	if err := store.AddChunkScene(ctx, sceneStorage.SyntheticScene(x, 5, 2)); err != nil {
		t.Fatal(err)
	}
	v2, err := ChunkHash(ctx, NewStorageGraph(store, 0), x, 5)
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v2 {
		t.Fatalf("version change of chunk %d not reflected in its hash", x)
	}
}

func TestChunkHashOutsideGrid(t *testing.T) {
	ctx := context.Background()
	store := sceneStorage.NewMemorySceneStorage()
	for _, x := range []int{MapsquareStride, 200} {
		if err := store.AddChunkScene(ctx, sceneStorage.SyntheticScene(x, 5, 1)); err != nil {
			t.Fatal(err)
		}
		if _, err := ChunkHash(ctx, NewStorageGraph(store, 0), x, 5); !errors.Is(err, ErrOutsideGrid) {
			t.Errorf("chunk %d err=%v want ErrOutsideGrid", x, err)
		}
	}
}
