package main

import (
	"context"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/maxsupermanhd/TileSync/mipmap"
	"github.com/maxsupermanhd/TileSync/scheduler"
	"github.com/maxsupermanhd/TileSync/tileBuilder"
	"github.com/maxsupermanhd/TileSync/tileStorage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
)

// runInfo is what the status server knows about the current run.
type runInfo struct {
	ID      string
	Started time.Time
	Areas   string
	State   *scheduler.RunState
	Sched   *scheduler.Scheduler
	Builder *tileBuilder.Builder
	Mips    *mipmap.Aggregator
	Tiles   *tileStorage.Client
}

func statusHandler(run *runInfo) func(http.ResponseWriter, *http.Request) (int, string) {
	return func(w http.ResponseWriter, r *http.Request) (int, string) {
		setContentTypeJson(w)
		ld, _ := load.Avg()
		virtmem, _ := mem.VirtualMemory()
		uptime, _ := host.Uptime()
		processed, total := run.Sched.Progress()
		uploaded, aliased, failed := run.Builder.Counts()
		mipSaved, mipUnchanged, mipFailed := run.Mips.Counts()
		ret := map[string]any{
			"RunID":        run.ID,
			"BuildTime":    BuildTime,
			"GitTag":       GitTag,
			"CommitHash":   CommitHash,
			"GoVersion":    GoVersion,
			"Areas":        run.Areas,
			"Started":      run.Started,
			"Elapsed":      humanize.RelTime(run.Started, time.Now(), "", ""),
			"Stopping":     run.State.Stopped(),
			"Processed":    processed,
			"Total":        total,
			"Uploaded":     uploaded,
			"Aliased":      aliased,
			"UploadFailed": failed,
			"BytesSent":    humanize.Bytes(uint64(run.Tiles.BytesSent())),
			"MipSaved":     mipSaved,
			"MipUnchanged": mipUnchanged,
			"MipFailed":    mipFailed,
			"MipPending":   run.Mips.Pending(),
			"HostUptime":   (time.Duration(uptime) * time.Second).String(),
		}
		if ld != nil {
			ret["LoadAvg"] = ld
		}
		if virtmem != nil {
			ret["MemUsed"] = humanize.Bytes(virtmem.Used)
			ret["MemTotal"] = humanize.Bytes(virtmem.Total)
		}
		return marshalOrFail(200, ret)
	}
}

func createRouter(run *runInfo, events *runEventRouter) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", apiHandle(statusHandler(run))).Methods("GET")
	router.HandleFunc("/api/v1/status", apiHandle(statusHandler(run))).Methods("GET")
	router.HandleFunc("/api/v1/stop", apiHandle(func(w http.ResponseWriter, _ *http.Request) (int, string) {
		log.Println("Stop requested over http")
		run.State.Stop()
		return 200, "Stopping after current chunk\n"
	})).Methods("GET")
	router.HandleFunc("/api/v1/ws", wsEventsHandler(events))
	router.Handle("/metrics", promhttp.Handler())

	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	router.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	router.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	router.Handle("/debug/pprof/block", pprof.Handler("block"))
	router.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	router.HandleFunc("/debug/gc", func(w http.ResponseWriter, r *http.Request) {
		runtime.GC()
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	router1 := handlers.ProxyHeaders(router)
	router2 := handlers.CompressHandler(router1)
	router3 := handlers.CustomLoggingHandler(os.Stdout, router2, statusLogger)
	router4 := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router3)
	return router4
}

func runWeb(addr string, handler http.Handler) func(<-chan struct{}) {
	return func(exitchan <-chan struct{}) {
		if addr == "" {
			log.Println("Not starting status server because listen address is empty")
			<-exitchan
			return
		}
		websrv := http.Server{
			Addr:    addr,
			Handler: handler,
		}
		log.Println("Status server listens on " + addr)
		go func() {
			if err := websrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Status server returned an error: %s", err)
			}
		}()
		<-exitchan
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := websrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Status server shutdown failed: %v", err)
		}
	}
}
