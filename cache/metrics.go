package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promCounterForTilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_tiles_created_total",
		Help: "The total number of tiles decoded or added",
	})

	promCounterForTilesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_tiles_evicted_total",
		Help: "The total number of tiles evicted",
	})

	promCounterForTilesInvalidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_tiles_invalidated_total",
		Help: "The total number of tiles dropped by invalidation",
	})

	promCounterForHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_hits_total",
		Help: "The total number of tile lookups served from memory",
	})

	promCounterForMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_misses_total",
		Help: "The total number of tile lookups that required a decode",
	})

	promCounterForBytesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_bytes_decoded_total",
		Help: "The total number of bytes decoded",
	})

	promCounterForFilesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_files_opened_total",
		Help: "The total number of image file opens",
	})

	promCounterForFilesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_files_closed_total",
		Help: "The total number of image file closes",
	})

	promCounterForOpenFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_open_failures_total",
		Help: "The total number of failed image file opens",
	})

	promCounterForGetPixels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_get_pixels_ops_total",
		Help: "The total number of get pixels calls",
	})

	promGaugeForResidentBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilecache_resident_bytes",
		Help: "The size of resident tiles",
	}, []string{"instance"})

	promGaugeForOpenFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tilecache_open_files",
		Help: "The number of open image files",
	}, []string{"instance"})
)

func addCounterDelta(counter prometheus.Counter, newValue uint64, oldValue uint64) {
	// counters restart from zero after ResetStats
	if newValue >= oldValue {
		counter.Add(float64(newValue - oldValue))
	} else {
		counter.Add(float64(newValue))
	}
}

// CollectPrometheusMetrics publishes statistics accumulated since the last collection
func (cache *ImageCache) CollectPrometheusMetrics() {
	cache.metricsMutex.Lock()
	defer cache.metricsMutex.Unlock()

	cache.mergeThreadStatistics()
	stats := cache.getStatisticsSnapshot()
	old := cache.oldStats

	addCounterDelta(promCounterForTilesCreated, stats.TilesCreated, old.TilesCreated)
	addCounterDelta(promCounterForTilesEvicted, stats.TilesEvicted, old.TilesEvicted)
	addCounterDelta(promCounterForTilesInvalidated, stats.TilesInvalidated, old.TilesInvalidated)
	addCounterDelta(promCounterForHits, stats.Hits, old.Hits)
	addCounterDelta(promCounterForMisses, stats.Misses, old.Misses)
	addCounterDelta(promCounterForBytesDecoded, stats.BytesDecoded, old.BytesDecoded)
	addCounterDelta(promCounterForFilesOpened, stats.FilesOpened, old.FilesOpened)
	addCounterDelta(promCounterForFilesClosed, stats.FilesClosed, old.FilesClosed)
	addCounterDelta(promCounterForOpenFailures, stats.OpenFailures, old.OpenFailures)
	addCounterDelta(promCounterForGetPixels, stats.GetPixelsCalls, old.GetPixelsCalls)

	promGaugeForResidentBytes.WithLabelValues(cache.id).Set(float64(stats.ResidentBytes))
	promGaugeForOpenFiles.WithLabelValues(cache.id).Set(float64(stats.OpenFiles))

	cache.oldStats = stats
}

func (cache *ImageCache) deletePrometheusMetrics() {
	promGaugeForResidentBytes.DeleteLabelValues(cache.id)
	promGaugeForOpenFiles.DeleteLabelValues(cache.id)
}
