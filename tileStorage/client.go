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

package tileStorage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/maxsupermanhd/TileSync/metrics"
	"github.com/maxsupermanhd/TileSync/primitives"
)

var (
	ErrBadStatus   = errors.New("tile storage responded with non-success status")
	ErrNoEndpoint  = errors.New("tile storage endpoint is not set")
	ErrEmptyTarget = errors.New("alias target is empty")
)

const (
	// MaxNamesPerRequest bounds the query string of one getmetas request.
	MaxNamesPerRequest = 250
	DefaultCacheSize   = 256 << 20
	DefaultTimeout     = 60 * time.Second
)

type Config struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	MapID     int    `yaml:"mapid" env:"MAPID"`
	BuildNr   int    `yaml:"buildnr" env:"BUILDNR"`
	Overwrite bool   `yaml:"overwrite" env:"OVERWRITE"`
	// CacheSize is how many bytes of recently saved tiles are kept in memory.
	CacheSize int64 `yaml:"cache_size" env:"CACHE_SIZE"`
}

// TileMeta is what the storage knows about a published tile.
type TileMeta struct {
	File string `json:"file"`
	Hash uint32 `json:"hash"`
	Time int64  `json:"time"`
}

type Client struct {
	endpoint   *url.URL
	cfg        Config
	httpClient *http.Client
	logger     *log.Logger
	recent     *ristretto.Cache[string, []byte]
	sent       atomic.Int64
}

func NewClient(logger *log.Logger, cfg Config, httpClient *http.Client) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	u, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing tile storage endpoint: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	recent, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100000,
		MaxCost:     cfg.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		endpoint:   u,
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		recent:     recent,
	}, nil
}

func (c *Client) Close() {
	c.recent.Close()
}

// BytesSent is the total size of tiles saved through this client.
func (c *Client) BytesSent() int64 {
	return c.sent.Load()
}

func (c *Client) Overwrite() bool {
	return c.cfg.Overwrite
}

func FileName(layer string, zoom, x, y int, ext string) string {
	return primitives.FileName(layer, zoom, x, y, ext)
}

func (c *Client) url(path string, q url.Values) string {
	u := *c.endpoint
	u.Path = u.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

func cacheKey(name string, hash uint32) string {
	return name + "#" + strconv.FormatUint(uint64(hash), 10)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.StorageRequestLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageErrors.WithLabelValues(endpoint).Inc()
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.StorageErrors.WithLabelValues(endpoint).Inc()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.StorageErrors.WithLabelValues(endpoint).Inc()
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("%w: %s %d %q", ErrBadStatus, endpoint, resp.StatusCode, msg)
	}
	return body, nil
}

// GetMetas looks up remote metadata of the named tiles. Tiles the storage
// does not know are absent from the result. In overwrite mode nothing is
// requested and the result is always empty.
func (c *Client) GetMetas(ctx context.Context, names []string) ([]TileMeta, error) {
	ret := []TileMeta{}
	if c.cfg.Overwrite || len(names) == 0 {
		return ret, nil
	}
	for len(names) > 0 {
		n := len(names)
		if n > MaxNamesPerRequest {
			n = MaxNamesPerRequest
		}
		part, err := c.getMetas(ctx, names[:n])
		if err != nil {
			return nil, err
		}
		ret = append(ret, part...)
		names = names[n:]
	}
	return ret, nil
}

func (c *Client) getMetas(ctx context.Context, names []string) ([]TileMeta, error) {
	q := url.Values{}
	q.Set("file", strings.Join(names, ","))
	q.Set("mapid", strconv.Itoa(c.cfg.MapID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/getmetas", q), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, "getmetas")
	if err != nil {
		return nil, err
	}
	ret := []TileMeta{}
	if err := json.Unmarshal(body, &ret); err != nil {
		return nil, fmt.Errorf("decoding metas: %w", err)
	}
	return ret, nil
}

// MetaMap indexes metas by file name.
func MetaMap(metas []TileMeta) map[string]TileMeta {
	ret := make(map[string]TileMeta, len(metas))
	for _, m := range metas {
		ret[m.File] = m
	}
	return ret
}

func (c *Client) uploadQuery(name string, hash uint32) url.Values {
	q := url.Values{}
	q.Set("file", name)
	q.Set("hash", strconv.FormatUint(uint64(hash), 10))
	q.Set("buildnr", strconv.Itoa(c.cfg.BuildNr))
	q.Set("mapid", strconv.Itoa(c.cfg.MapID))
	return q
}

// Save uploads tile bytes under the given name and hash.
func (c *Client) Save(ctx context.Context, name string, hash uint32, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/upload", c.uploadQuery(name, hash)), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if _, err := c.do(req, "upload"); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	metrics.BytesUploaded.Add(float64(len(data)))
	c.sent.Add(int64(len(data)))
	c.recent.Set(cacheKey(name, hash), data, int64(len(data)))
	return nil
}

// Alias registers name as a pointer to the bytes of target.
func (c *Client) Alias(ctx context.Context, name string, hash uint32, target string) error {
	if target == "" {
		return ErrEmptyTarget
	}
	q := c.uploadQuery(name, hash)
	q.Set("symlink", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/upload", q), nil)
	if err != nil {
		return err
	}
	if _, err := c.do(req, "upload"); err != nil {
		return fmt.Errorf("aliasing %s to %s: %w", name, target, err)
	}
	return nil
}

// FileURL is the stable fetch address of a tile, the hash busts caches.
func (c *Client) FileURL(name string, hash uint32) string {
	q := url.Values{}
	q.Set("file", name)
	q.Set("hash", strconv.FormatUint(uint64(hash), 10))
	q.Set("mapid", strconv.Itoa(c.cfg.MapID))
	return c.url("/getfile", q)
}

// FetchFile returns tile bytes, preferring ones this client saved recently.
func (c *Client) FetchFile(ctx context.Context, name string, hash uint32) ([]byte, error) {
	if b, ok := c.recent.Get(cacheKey(name, hash)); ok {
		return b, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(name, hash), nil)
	if err != nil {
		return nil, err
	}
	b, err := c.do(req, "getfile")
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	return b, nil
}

func (c *Client) GetConfig(ctx context.Context) (*primitives.Mapconfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/config.json", url.Values{}), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, "config")
	if err != nil {
		return nil, err
	}
	var ret primitives.Mapconfig
	if err := json.Unmarshal(body, &ret); err != nil {
		return nil, fmt.Errorf("decoding map config: %w", err)
	}
	return &ret, nil
}
