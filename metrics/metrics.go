package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TilesUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_tiles_uploaded_total",
		Help: "Total number of tiles uploaded with new bytes",
	}, []string{"layer"})

	TilesAliased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_tiles_aliased_total",
		Help: "Total number of tiles stored as alias of another tile",
	}, []string{"layer"})

	TilesUnchanged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_tiles_unchanged_total",
		Help: "Total number of tiles skipped because remote hash matched",
	}, []string{"layer"})

	BytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilesync_bytes_uploaded_total",
		Help: "Total number of tile bytes sent to the tile storage",
	})

	StorageRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilesync_storage_request_seconds",
		Help:    "Latency of tile storage requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_storage_errors_total",
		Help: "Total number of failed tile storage requests",
	}, []string{"endpoint"})

	ChunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_chunks_total",
		Help: "Total number of chunks processed by outcome",
	}, []string{"status"})

	ChunkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilesync_chunk_retries_total",
		Help: "Total number of chunk builds retried on a fresh render context",
	})

	MipGroupsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilesync_mip_groups_flushed_total",
		Help: "Total number of mip groups flushed by outcome",
	}, []string{"outcome"})

	MipGroupsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilesync_mip_groups_pending",
		Help: "Number of mip groups waiting for children",
	})

	CachedChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilesync_resource_cache_chunks",
		Help: "Number of chunk scenes held by the resource cache",
	})
)
