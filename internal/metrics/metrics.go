// Package metrics exposes store, search and payload activity as Prometheus
// collectors. A *Metrics satisfies the hook interfaces of spanstore, search
// and pebblestore.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for a loglens process.
type Metrics struct {
	SpansAppended     prometheus.Counter
	LinesStored       prometheus.Counter
	CompressedBytes   prometheus.Gauge
	RawBytes          prometheus.Gauge
	StoreFull         prometheus.Gauge
	CompressSeconds   prometheus.Histogram
	DecompressSeconds prometheus.Histogram
	CacheEvictions    prometheus.Counter
	FilesUnloaded     prometheus.Counter
	SearchesStarted   prometheus.Counter
	SearchesFinished  *prometheus.CounterVec
	SearchMatches     prometheus.Histogram
	PayloadOps        *prometheus.CounterVec
	PayloadBytes      *prometheus.CounterVec
}

// New creates and registers all metrics with the provided registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SpansAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_spans_appended_total",
			Help: "Spans published to the store",
		}),
		LinesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_lines_stored_total",
			Help: "Lines published to the store",
		}),
		CompressedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loglens_store_compressed_bytes",
			Help: "Compressed bytes currently held",
		}),
		RawBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loglens_store_raw_bytes",
			Help: "Uncompressed size of the lines currently held",
		}),
		StoreFull: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loglens_store_full",
			Help: "1 while the store is at its target capacity",
		}),
		CompressSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loglens_span_compress_seconds",
			Help:    "Time to compress one block",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		DecompressSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loglens_span_decompress_seconds",
			Help:    "Time to load and decompress one span on a cache miss",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_cache_evictions_total",
			Help: "Decompressed spans dropped from the cache",
		}),
		FilesUnloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_files_unloaded_total",
			Help: "Files removed from the store",
		}),
		SearchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_searches_started_total",
			Help: "Search runs started",
		}),
		SearchesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_searches_finished_total",
			Help: "Search runs finished, by outcome",
		}, []string{"outcome"}),
		SearchMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loglens_search_matches",
			Help:    "Matches delivered per finished search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		PayloadOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_payload_ops_total",
			Help: "Pebble payload operations",
		}, []string{"op"}),
		PayloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_payload_bytes_total",
			Help: "Bytes moved through the pebble payload store",
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.SpansAppended, m.LinesStored, m.CompressedBytes, m.RawBytes, m.StoreFull,
		m.CompressSeconds, m.DecompressSeconds, m.CacheEvictions, m.FilesUnloaded,
		m.SearchesStarted, m.SearchesFinished, m.SearchMatches, m.PayloadOps, m.PayloadBytes,
	)
	return m
}

func (m *Metrics) SpanAppended(lines int64, compressedBytes, rawBytes int, compressTime time.Duration) {
	m.SpansAppended.Inc()
	m.LinesStored.Add(float64(lines))
	m.CompressSeconds.Observe(compressTime.Seconds())
}

func (m *Metrics) StoreSize(compressedBytes, rawBytes int64, full bool) {
	m.CompressedBytes.Set(float64(compressedBytes))
	m.RawBytes.Set(float64(rawBytes))
	if full {
		m.StoreFull.Set(1)
	} else {
		m.StoreFull.Set(0)
	}
}

func (m *Metrics) SpanDecoded(elapsed time.Duration) { m.DecompressSeconds.Observe(elapsed.Seconds()) }

func (m *Metrics) CacheEvicted() { m.CacheEvictions.Inc() }

func (m *Metrics) FileUnloaded() { m.FilesUnloaded.Inc() }

func (m *Metrics) SearchStarted(int) { m.SearchesStarted.Inc() }

func (m *Metrics) SearchFinished(matches int, terminated bool, _ time.Duration) {
	outcome := "complete"
	if terminated {
		outcome = "terminated"
	}
	m.SearchesFinished.WithLabelValues(outcome).Inc()
	m.SearchMatches.Observe(float64(matches))
}

func (m *Metrics) ObserveWrite(_ time.Duration, bytes int) {
	m.PayloadOps.WithLabelValues("put").Inc()
	m.PayloadBytes.WithLabelValues("put").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(_ time.Duration, bytes int) {
	m.PayloadOps.WithLabelValues("get").Inc()
	m.PayloadBytes.WithLabelValues("get").Add(float64(bytes))
}

func (m *Metrics) ObserveDeleteRange(time.Duration) {
	m.PayloadOps.WithLabelValues("delete_file").Inc()
}
