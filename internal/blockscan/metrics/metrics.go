package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal tracks scan verdicts by action and match source
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockscan_scans_total",
			Help: "Total number of domain scans",
		},
		[]string{"action", "source"},
	)

	// RefreshTotal tracks refresh attempts by outcome
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockscan_refresh_total",
			Help: "Total number of blocklist refresh attempts",
		},
		[]string{"outcome"},
	)

	// FilterFetchTotal counts filter body downloads
	FilterFetchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockscan_filter_fetch_total",
			Help: "Total number of bloom filter bodies downloaded",
		},
	)

	// ErrorsTotal tracks errors reported to the error sink by kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockscan_errors_total",
			Help: "Total number of reported errors",
		},
		[]string{"kind"},
	)

	// SnapshotAge is the age in seconds of the snapshot used by the last scan
	SnapshotAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockscan_snapshot_age_seconds",
			Help: "Age of the blocklist snapshot used by the most recent scan",
		},
	)
)

// Refresh outcomes.
const (
	OutcomeFilterFetched = "filter_fetched"
	OutcomeFilterReused  = "filter_reused"
	OutcomeFailed        = "failed"
)

// CacheStatsSource is implemented by the verdict cache.
type CacheStatsSource interface {
	Len() int
	Stats() (hits, misses, evictions uint64)
}

// VerdictCacheCollectors exports the size and counters of a verdict cache.
func VerdictCacheCollectors(c CacheStatsSource) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "blockscan_verdict_cache_entries",
			Help: "Number of verdicts currently cached",
		}, func() float64 { return float64(c.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "blockscan_verdict_cache_hits_total",
			Help: "Verdict cache hits",
		}, func() float64 { hits, _, _ := c.Stats(); return float64(hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "blockscan_verdict_cache_misses_total",
			Help: "Verdict cache misses",
		}, func() float64 { _, misses, _ := c.Stats(); return float64(misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "blockscan_verdict_cache_evictions_total",
			Help: "Verdicts evicted or purged from the cache",
		}, func() float64 { _, _, evictions := c.Stats(); return float64(evictions) }),
	}
}

// StorageCollectors exports the key count and last write time of a
// persistent store.
func StorageCollectors(stats func() (keys int, updatedUnix int64)) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "blockscan_storage_keys",
			Help: "Number of keys held by the snapshot store",
		}, func() float64 { keys, _ := stats(); return float64(keys) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "blockscan_storage_last_write_timestamp_seconds",
			Help: "Unix time of the most recent write to the snapshot store",
		}, func() float64 { _, updated := stats(); return float64(updated) }),
	}
}
