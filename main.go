/*
	TileSync, incremental tile pyramid builder for block game maps
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	humanize "github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/maxsupermanhd/TileSync/deps"
	"github.com/maxsupermanhd/TileSync/mipmap"
	resourcecache "github.com/maxsupermanhd/TileSync/resourceCache"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
	"github.com/maxsupermanhd/TileSync/scheduler"
	"github.com/maxsupermanhd/TileSync/tileBuilder"
	"github.com/maxsupermanhd/TileSync/tileStorage"
)

var (
	BuildTime  = "00000000.000000"
	CommitHash = "0000000"
	GoVersion  = "0.0"
	GitTag     = "0.0"
)

// watchStopFile requests a stop once path appears.
func watchStopFile(path string, state *scheduler.RunState) func(<-chan struct{}) {
	return func(exitchan <-chan struct{}) {
		if path == "" {
			<-exitchan
			return
		}
		if _, err := os.Stat(path); err == nil {
			log.Printf("Stop file %s already exists, remove it or the run stops right away", path)
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Printf("Failed to watch stop file: %v", err)
			<-exitchan
			return
		}
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			log.Printf("Failed to watch stop file directory: %v", err)
			<-exitchan
			return
		}
		want := filepath.Clean(path)
		for {
			select {
			case <-exitchan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == want && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					log.Println("Stop file created, stopping after current chunk")
					state.Stop()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Println("Stop file watcher error:", err)
			}
		}
	}
}

// handleSignals stops the run gracefully on the first interrupt and
// cancels everything on the second one.
func handleSignals(state *scheduler.RunState, cancel context.CancelFunc) func(<-chan struct{}) {
	return func(exitchan <-chan struct{}) {
		sigs := make(chan os.Signal, 2)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		for {
			select {
			case <-exitchan:
				return
			case sig := <-sigs:
				if state.Stopped() {
					log.Printf("Got %v again, cancelling", sig)
					cancel()
					return
				}
				log.Printf("Got %v, stopping after current chunk", sig)
				state.Stop()
			}
		}
	}
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if buildinfo, ok := debug.ReadBuildInfo(); ok {
		GoVersion = buildinfo.GoVersion
	}
	if err := loadConfig(); err != nil {
		log.Fatal("Error loading config: " + err.Error())
	}
	logger, logCloser := setupLogging(loadedConfig.LogsLocation)
	defer logCloser.Close()
	log.Println()
	log.Println("TileSync is starting up...")
	log.Printf("Built %s, Ver %s (%s) with %s", BuildTime, GitTag, CommitHash, GoVersion)
	log.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tiles, err := tileStorage.NewClient(logger, loadedConfig.Tiles, nil)
	if err != nil {
		log.Fatal("Error setting up tile storage: " + err.Error())
	}
	defer tiles.Close()
	mapcfg, err := tiles.GetConfig(ctx)
	if err != nil {
		log.Fatal("Error fetching map config: " + err.Error())
	}
	if err := mapcfg.Validate(); err != nil {
		log.Fatal("Map config is invalid: " + err.Error())
	}
	if loadedConfig.Verbose {
		spew.Fdump(log.Writer(), mapcfg)
	}
	selector := mapcfg.Area
	if loadedConfig.Area != "" {
		selector = loadedConfig.Area
	}
	areas, err := mapcfg.ResolveArea(selector)
	if err != nil {
		log.Fatal("Error resolving area: " + err.Error())
	}

	if err := initSceneStorage(ctx, &loadedConfig.Scenes); err != nil {
		log.Fatal("Error initializing scene storage: " + err.Error())
	}
	defer sceneStorage.CloseStorages([]sceneStorage.Storage{loadedConfig.Scenes})
	scenes := loadedConfig.Scenes.Driver

	runID := uuid.New()
	log.Printf("Run %s: %d layers, tile size %d, map %dx%d, area %q, overwrite %v",
		runID, len(mapcfg.Layers), mapcfg.TileImageSize, mapcfg.MapSizeX, mapcfg.MapSizeZ, selector, tiles.Overwrite())

	cacheEvents := make(chan resourcecache.Event, 256)
	chunkEvents := make(chan scheduler.ChunkStatus, 256)
	state := &scheduler.RunState{}

	mips := mipmap.NewAggregator(logger, tiles, mapcfg, mipmap.Options{BatchSize: loadedConfig.MipBatch})
	builder := tileBuilder.NewBuilder(logger, tiles, deps.NewStorageGraph(scenes, loadedConfig.Salt), mapcfg, mips, tileBuilder.Options{
		MaxPendingUploads: loadedConfig.MaxPendingUploads,
	})
	factory := tileBuilder.NewContextFactory(logger, loadedConfig.Renderer, scenes, resourcecache.Options{
		MaxUnused: loadedConfig.CacheMaxUnused,
		MinUnused: loadedConfig.CacheMinUnused,
		Events:    cacheEvents,
	})
	sched := scheduler.NewScheduler(logger, builder, mips, factory, scheduler.Options{
		ZScan:      loadedConfig.ZScan,
		DrainEvery: loadedConfig.DrainEvery,
		State:      state,
		Events:     chunkEvents,
	})

	run := &runInfo{
		ID:      runID.String(),
		Started: time.Now(),
		Areas:   selector,
		State:   state,
		Sched:   sched,
		Builder: builder,
		Mips:    mips,
		Tiles:   tiles,
	}
	stopRouter := startBackgroundRoutine("event router", globalEventRouter.Run)
	defer stopRouter()
	stopPump := startBackgroundRoutine("event pump", pumpRunEvents(globalEventRouter, cacheEvents, chunkEvents))
	defer stopPump()
	stopWeb := startBackgroundRoutine("status server", runWeb(loadedConfig.Web.Listen, createRouter(run, globalEventRouter)))
	defer stopWeb()
	stopWatcher := startBackgroundRoutine("stop file watcher", watchStopFile(loadedConfig.StopFile, state))
	defer stopWatcher()
	stopSignals := startBackgroundRoutine("signal handler", handleSignals(state, cancel))
	defer stopSignals()

	report, err := sched.RunAreas(ctx, areas)
	if err != nil {
		log.Printf("Run %s aborted: %v", runID, err)
		return
	}
	log.Printf("Run %s finished in %s: %d chunks, %d done, %d skipped, %d failed, %d retried (stopped: %v)",
		runID, report.Duration.Round(time.Second), report.Total, report.Done, report.Skipped, report.Failed, report.Retried, report.Stopped)
	log.Printf("Tiles: %d uploaded (%s), %d aliased, %d failed; mips: %d saved, %d unchanged, %d failed",
		report.Uploaded, humanize.Bytes(uint64(tiles.BytesSent())), report.Aliased, report.UploadFailed,
		report.MipSaved, report.MipUnchanged, report.MipFailed)
	if report.Errors != nil {
		log.Printf("Run finished with %d errors:", len(report.Errors.Errors))
		for _, e := range report.Errors.Errors {
			log.Println("  ", e)
		}
	}
}
