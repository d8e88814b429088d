package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
	"github.com/maxsupermanhd/TileSync/sceneStorage/filesystemSceneStorage"
	"github.com/maxsupermanhd/TileSync/sceneStorage/postgresSceneStorage"
)

var (
	storageType = flag.String("type", "filesystem", "Scene storage type (filesystem or postgres)")
	storageAddr = flag.String("addr", "./storage/scenes", "Scene storage path or connection string")
	areaX       = flag.Int("x", 0, "First chunk x")
	areaZ       = flag.Int("z", 0, "First chunk z")
	areaXSize   = flag.Int("sx", 4, "Chunks along x")
	areaZSize   = flag.Int("sz", 4, "Chunks along z")
	version     = flag.Uint("version", 1, "Version stamped on every written scene")
	threads     = flag.Int("threads", 3, "Writer goroutines")
)

func openStorage(ctx context.Context) (sceneStorage.SceneStorage, error) {
	switch *storageType {
	case "postgres":
		return postgresSceneStorage.NewPostgresSceneStorage(ctx, *storageAddr)
	default:
		return filesystemSceneStorage.NewFilesystemSceneStorage(*storageAddr)
	}
}

func main() {
	flag.Parse()
	ctx, cancel := context.WithCancel(context.Background())
	storage, err := openStorage(ctx)
	must(err)
	defer storage.Close()
	status, err := storage.GetStatus()
	must(err)
	log.Println("Writing scenes to", status)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		regen(ctx, storage)
		wg.Done()
		cancel()
	}()
	s := make(chan os.Signal, 1)
	signal.Notify(s, os.Interrupt, syscall.SIGTERM)
	select {
	case <-s:
		log.Println("got signal, shutting down")
		cancel()
	case <-ctx.Done():
	}
	log.Println("waiting for exit")
	wg.Wait()
	log.Println("bye")
}

func regen(ctx context.Context, storage sceneStorage.SceneStorage) {
	area := primitives.Area{X: *areaX, Z: *areaZ, XSize: *areaXSize, ZSize: *areaZSize}
	chunks := area.Chunks()
	taskch := make(chan primitives.ChunkPos, 64)
	var written, failed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(*threads)
	for i := 0; i < *threads; i++ {
		go func() {
			defer wg.Done()
			for p := range taskch {
				err := storage.AddChunkScene(ctx, sceneStorage.SyntheticScene(p.X, p.Z, uint32(*version)))
				if err != nil {
					log.Printf("Failed to write chunk %3d:%3d because %v", p.X, p.Z, err)
					failed.Add(1)
					continue
				}
				if n := written.Add(1); n%256 == 0 {
					log.Println("Progress", n, "/", len(chunks))
				}
			}
		}()
	}
	for _, p := range chunks {
		select {
		case <-ctx.Done():
			log.Println("regen op shutdown")
			close(taskch)
			wg.Wait()
			return
		case taskch <- p:
		}
	}
	log.Println("regen done, closing workers")
	close(taskch)
	wg.Wait()
	log.Printf("Wrote %d scenes of area %v, %d failed", written.Load(), area, failed.Load())
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
