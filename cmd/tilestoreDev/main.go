// Command tilestoreDev runs an in-memory tile storage for local runs.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/maxsupermanhd/TileSync/primitives"
	"github.com/maxsupermanhd/TileSync/tileStorage"
)

var (
	listen     = flag.String("listen", "127.0.0.1:3344", "Address to serve on")
	configPath = flag.String("config", "mapconfig.json", "Map config served as /config.json")
)

func main() {
	flag.Parse()
	b, err := os.ReadFile(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	var cfg primitives.Mapconfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	log.Printf("Serving %d layers, map %dx%d on %s", len(cfg.Layers), cfg.MapSizeX, cfg.MapSizeZ, *listen)
	srv := tileStorage.NewMemoryServer(&cfg)
	log.Println(http.ListenAndServe(*listen, handlers.LoggingHandler(os.Stdout, srv)))
}
