// Package metrics exposes Prometheus counters and histograms for the cache,
// decompression, rendering and Lua subsystems (§10.6). It is ambient
// observability, wired the way brawer-wikidata-qrank's webserver wires
// promhttp.Handler, not part of the hard-core rendering pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wikireader_cache_hits_total",
		Help: "Cache hits per cache.",
	}, []string{"cache"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wikireader_cache_misses_total",
		Help: "Cache misses per cache.",
	}, []string{"cache"})

	BlockDecompressSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wikireader_block_decompress_seconds",
		Help:    "Time to decompress one bz2 stream block.",
		Buckets: prometheus.DefBuckets,
	})

	RenderSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wikireader_render_seconds",
		Help:    "Time to render one article end to end.",
		Buckets: prometheus.DefBuckets,
	})

	LuaInvokes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wikireader_lua_invokes_total",
		Help: "Lua #invoke calls, partitioned by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(CacheHits, CacheMisses, BlockDecompressSeconds, RenderSeconds, LuaInvokes)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBlockDecompress records one block decompression's duration.
func ObserveBlockDecompress(d time.Duration) {
	BlockDecompressSeconds.Observe(d.Seconds())
}

// ObserveRender records one render's end-to-end duration.
func ObserveRender(d time.Duration) {
	RenderSeconds.Observe(d.Seconds())
}

// RecordCacheHit/RecordCacheMiss tag a hit or miss against a named cache
// ("block", "parsed-page", "compiled-module").
func RecordCacheHit(cache string)  { CacheHits.WithLabelValues(cache).Inc() }
func RecordCacheMiss(cache string) { CacheMisses.WithLabelValues(cache).Inc() }

// RecordLuaInvoke tags a #invoke call's outcome ("ok", "error", "budget").
func RecordLuaInvoke(outcome string) { LuaInvokes.WithLabelValues(outcome).Inc() }
