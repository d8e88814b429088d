package filesystemSceneStorage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewFilesystemSceneStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.GetChunkScene(ctx, 3, 4)
	if err != nil || got != nil {
		t.Fatalf("missing chunk returned %v %v", got, err)
	}
	if _, found, err := s.GetChunkVersion(ctx, 3, 4); found || err != nil {
		t.Fatalf("missing chunk version found=%v err=%v", found, err)
	}

	in := sceneStorage.SyntheticScene(3, 4, 17)
	if err := s.AddChunkScene(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetChunkScene(ctx, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Version != 17 || len(got.Locs) != len(in.Locs) {
		t.Fatalf("unexpected scene %+v", got)
	}
	if got.Levels[0].Heights[100] != in.Levels[0].Heights[100] {
		t.Fatalf("height %d want %d", got.Levels[0].Heights[100], in.Levels[0].Heights[100])
	}

	fresh, err := NewFilesystemSceneStorage(s.Root)
	if err != nil {
		t.Fatal(err)
	}
	v, found, err := fresh.GetChunkVersion(ctx, 3, 4)
	if err != nil || !found || v != 17 {
		t.Fatalf("version=%d found=%v err=%v", v, found, err)
	}
	status, err := fresh.GetStatus()
	if err != nil || status == "" {
		t.Fatalf("status %q err=%v", status, err)
	}
}

func TestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFilesystemSceneStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "1.1"+sceneExt), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChunkScene(context.Background(), 1, 1); !errors.Is(err, sceneStorage.ErrBadScene) {
		t.Fatalf("err=%v want ErrBadScene", err)
	}
}

func TestRejectsMalformedScene(t *testing.T) {
	s, err := NewFilesystemSceneStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bad := &sceneStorage.ChunkScene{X: 0, Z: 0, Levels: make([]sceneStorage.SceneLevel, 2)}
	if err := s.AddChunkScene(context.Background(), bad); !errors.Is(err, sceneStorage.ErrBadScene) {
		t.Fatalf("err=%v want ErrBadScene", err)
	}
}
