package tileStorage

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/maxsupermanhd/TileSync/primitives"
)

// StoredTile is one file record held by MemoryServer.
type StoredTile struct {
	Hash    uint32
	BuildNr int
	Time    int64
	Data    []byte
	// Symlink is set for alias records, Data is empty then.
	Symlink string
}

type memoryStats struct {
	Uploads int
	Aliases int
	Bytes   int
}

// MemoryServer keeps tiles in memory and speaks the same HTTP protocol as
// the real tile storage.
type MemoryServer struct {
	lock   sync.Mutex
	config *primitives.Mapconfig
	maps   map[int]map[string]*StoredTile
	stats  memoryStats
	router *mux.Router
}

func NewMemoryServer(config *primitives.Mapconfig) *MemoryServer {
	s := &MemoryServer{
		config: config,
		maps:   map[int]map[string]*StoredTile{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/upload", s.uploadHandler).Methods("POST")
	r.HandleFunc("/getmetas", s.getmetasHandler).Methods("GET")
	r.HandleFunc("/getfile", s.getfileHandler).Methods("GET")
	r.HandleFunc("/config.json", s.configHandler).Methods("GET")
	s.router = r
	return s
}

func (s *MemoryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func parseMapID(r *http.Request) (int, bool) {
	m, err := strconv.Atoi(r.URL.Query().Get("mapid"))
	return m, err == nil
}

func (s *MemoryServer) uploadHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	file := q.Get("file")
	mapid, ok := parseMapID(r)
	if file == "" || !ok {
		http.Error(w, "file and mapid required", http.StatusBadRequest)
		return
	}
	hash, err := strconv.ParseUint(q.Get("hash"), 10, 32)
	if err != nil {
		http.Error(w, "bad hash: "+err.Error(), http.StatusBadRequest)
		return
	}
	buildnr, _ := strconv.Atoi(q.Get("buildnr"))
	t := &StoredTile{
		Hash:    uint32(hash),
		BuildNr: buildnr,
		Time:    time.Now().UnixMilli(),
		Symlink: q.Get("symlink"),
	}
	if t.Symlink == "" {
		t.Data, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if t.Symlink != "" {
		if _, ok := s.maps[mapid][t.Symlink]; !ok {
			http.Error(w, "symlink target not found", http.StatusNotFound)
			return
		}
		s.stats.Aliases++
	} else {
		s.stats.Uploads++
		s.stats.Bytes += len(t.Data)
	}
	m, ok := s.maps[mapid]
	if !ok {
		m = map[string]*StoredTile{}
		s.maps[mapid] = m
	}
	m[file] = t
	w.WriteHeader(http.StatusOK)
}

func (s *MemoryServer) getmetasHandler(w http.ResponseWriter, r *http.Request) {
	mapid, ok := parseMapID(r)
	if !ok {
		http.Error(w, "mapid required", http.StatusBadRequest)
		return
	}
	ret := []TileMeta{}
	s.lock.Lock()
	for _, f := range strings.Split(r.URL.Query().Get("file"), ",") {
		if t, ok := s.maps[mapid][f]; ok {
			ret = append(ret, TileMeta{File: f, Hash: t.Hash, Time: t.Time})
		}
	}
	s.lock.Unlock()
	b, err := json.Marshal(ret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *MemoryServer) getfileHandler(w http.ResponseWriter, r *http.Request) {
	mapid, ok := parseMapID(r)
	if !ok {
		http.Error(w, "mapid required", http.StatusBadRequest)
		return
	}
	data, ok := s.Resolve(mapid, r.URL.Query().Get("file"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (s *MemoryServer) configHandler(w http.ResponseWriter, r *http.Request) {
	if s.config == nil {
		http.Error(w, "no config", http.StatusNotFound)
		return
	}
	b, err := json.Marshal(s.config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// Resolve returns tile bytes following alias records.
func (s *MemoryServer) Resolve(mapid int, file string) ([]byte, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	seen := map[string]bool{}
	for {
		t, ok := s.maps[mapid][file]
		if !ok || seen[file] {
			return nil, false
		}
		if t.Symlink == "" {
			return t.Data, true
		}
		seen[file] = true
		file = t.Symlink
	}
}

// Tile returns a copy of the stored record.
func (s *MemoryServer) Tile(mapid int, file string) (StoredTile, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	t, ok := s.maps[mapid][file]
	if !ok {
		return StoredTile{}, false
	}
	return *t, true
}

// Files lists stored file names of a map, sorted.
func (s *MemoryServer) Files(mapid int) []string {
	s.lock.Lock()
	ret := make([]string, 0, len(s.maps[mapid]))
	for k := range s.maps[mapid] {
		ret = append(ret, k)
	}
	s.lock.Unlock()
	sort.Strings(ret)
	return ret
}

// Counts reports uploads and aliases received so far.
func (s *MemoryServer) Counts() (uploads, aliases int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stats.Uploads, s.stats.Aliases
}

func (s *MemoryServer) BytesReceived() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stats.Bytes
}
