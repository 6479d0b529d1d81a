package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Statistics holds cache-wide counters. Counters are updated atomically.
type Statistics struct {
	tilesCreated     atomic.Uint64
	tilesEvicted     atomic.Uint64
	tilesInvalidated atomic.Uint64
	hits             atomic.Uint64
	misses           atomic.Uint64
	shortcutHits     atomic.Uint64
	bytesDecoded     atomic.Uint64
	decodeFailures   atomic.Uint64
	filesOpened      atomic.Uint64
	filesClosed      atomic.Uint64
	openFailures     atomic.Uint64
	getPixelsCalls   atomic.Uint64
	addTileCalls     atomic.Uint64
	invalidations    atomic.Uint64

	peakResidentBytes atomic.Int64
	peakOpenFiles     atomic.Int64
}

// StatisticsSnapshot is a point-in-time copy of Statistics plus the resident gauges
type StatisticsSnapshot struct {
	TilesCreated     uint64
	TilesEvicted     uint64
	TilesInvalidated uint64
	Hits             uint64
	Misses           uint64
	ShortcutHits     uint64
	BytesDecoded     uint64
	DecodeFailures   uint64
	FilesOpened      uint64
	FilesClosed      uint64
	OpenFailures     uint64
	GetPixelsCalls   uint64
	AddTileCalls     uint64
	Invalidations    uint64

	ResidentBytes     int64
	ResidentTiles     int
	PeakResidentBytes int64
	MaxMemoryBytes    int64
	OpenFiles         int
	PeakOpenFiles     int
	MaxOpenFiles      int
}

// FileStatistics holds per file counters
type FileStatistics struct {
	Filename  string
	Open      bool
	Broken    bool
	Opens     uint64
	TilesRead uint64
	BytesRead uint64
}

// threadStatistics accumulates hot path counters of a single thread info
type threadStatistics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	shortcutHits   atomic.Uint64
	getPixelsCalls atomic.Uint64
}

func updatePeak(peak *atomic.Int64, value int64) {
	for {
		current := peak.Load()
		if value <= current {
			return
		}

		if peak.CompareAndSwap(current, value) {
			return
		}
	}
}

// merge moves thread local counters into the cache-wide counters
func (stats *Statistics) merge(local *threadStatistics) {
	stats.hits.Add(local.hits.Swap(0))
	stats.misses.Add(local.misses.Swap(0))
	stats.shortcutHits.Add(local.shortcutHits.Swap(0))
	stats.getPixelsCalls.Add(local.getPixelsCalls.Swap(0))
}

func (stats *Statistics) snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		TilesCreated:      stats.tilesCreated.Load(),
		TilesEvicted:      stats.tilesEvicted.Load(),
		TilesInvalidated:  stats.tilesInvalidated.Load(),
		Hits:              stats.hits.Load(),
		Misses:            stats.misses.Load(),
		ShortcutHits:      stats.shortcutHits.Load(),
		BytesDecoded:      stats.bytesDecoded.Load(),
		DecodeFailures:    stats.decodeFailures.Load(),
		FilesOpened:       stats.filesOpened.Load(),
		FilesClosed:       stats.filesClosed.Load(),
		OpenFailures:      stats.openFailures.Load(),
		GetPixelsCalls:    stats.getPixelsCalls.Load(),
		AddTileCalls:      stats.addTileCalls.Load(),
		Invalidations:     stats.invalidations.Load(),
		PeakResidentBytes: stats.peakResidentBytes.Load(),
		PeakOpenFiles:     int(stats.peakOpenFiles.Load()),
	}
}

// reset clears counters, peaks restart from the given current values
func (stats *Statistics) reset(residentBytes int64, openFiles int) {
	stats.tilesCreated.Store(0)
	stats.tilesEvicted.Store(0)
	stats.tilesInvalidated.Store(0)
	stats.hits.Store(0)
	stats.misses.Store(0)
	stats.shortcutHits.Store(0)
	stats.bytesDecoded.Store(0)
	stats.decodeFailures.Store(0)
	stats.filesOpened.Store(0)
	stats.filesClosed.Store(0)
	stats.openFailures.Store(0)
	stats.getPixelsCalls.Store(0)
	stats.addTileCalls.Store(0)
	stats.invalidations.Store(0)

	stats.peakResidentBytes.Store(residentBytes)
	stats.peakOpenFiles.Store(int64(openFiles))
}

// HitRate returns the ratio of tile lookups served from memory
func (snapshot *StatisticsSnapshot) HitRate() float64 {
	total := snapshot.Hits + snapshot.Misses
	if total == 0 {
		return 0
	}
	return float64(snapshot.Hits) / float64(total)
}

// Report renders a human readable report. Level 0 returns an empty string, level 2 or above
// adds a per file table.
func (snapshot *StatisticsSnapshot) Report(level int, instanceID string, files []FileStatistics) string {
	if level <= 0 {
		return ""
	}

	sb := strings.Builder{}
	fmt.Fprintf(&sb, "TileCache statistics (instance %s)\n", instanceID)
	fmt.Fprintf(&sb, "  Tiles: %s created, %s evicted, %s invalidated, %s resident\n",
		humanize.Comma(int64(snapshot.TilesCreated)), humanize.Comma(int64(snapshot.TilesEvicted)),
		humanize.Comma(int64(snapshot.TilesInvalidated)), humanize.Comma(int64(snapshot.ResidentTiles)))
	fmt.Fprintf(&sb, "  Memory: %s resident of %s (peak %s)\n",
		humanize.IBytes(uint64(snapshot.ResidentBytes)), humanize.IBytes(uint64(snapshot.MaxMemoryBytes)),
		humanize.IBytes(uint64(snapshot.PeakResidentBytes)))
	fmt.Fprintf(&sb, "  Lookups: %s hits (%s by thread shortcut), %s misses, hit rate %.1f%%\n",
		humanize.Comma(int64(snapshot.Hits)), humanize.Comma(int64(snapshot.ShortcutHits)),
		humanize.Comma(int64(snapshot.Misses)), snapshot.HitRate()*100)
	fmt.Fprintf(&sb, "  Decoded: %s, %s decode failures\n",
		humanize.IBytes(snapshot.BytesDecoded), humanize.Comma(int64(snapshot.DecodeFailures)))
	fmt.Fprintf(&sb, "  Files: %s opened, %s closed, %d open of %d (peak %d), %s open failures\n",
		humanize.Comma(int64(snapshot.FilesOpened)), humanize.Comma(int64(snapshot.FilesClosed)),
		snapshot.OpenFiles, snapshot.MaxOpenFiles, snapshot.PeakOpenFiles, humanize.Comma(int64(snapshot.OpenFailures)))
	fmt.Fprintf(&sb, "  Calls: get_pixels %s, add_tile %s, invalidate %s\n",
		humanize.Comma(int64(snapshot.GetPixelsCalls)), humanize.Comma(int64(snapshot.AddTileCalls)),
		humanize.Comma(int64(snapshot.Invalidations)))

	if level >= 2 && len(files) > 0 {
		sorted := make([]FileStatistics, len(files))
		copy(sorted, files)
		sort.Slice(sorted, func(i int, j int) bool {
			return sorted[i].Filename < sorted[j].Filename
		})

		sb.WriteString("  Per file:\n")
		fmt.Fprintf(&sb, "    %6s %8s %10s  %s\n", "opens", "tiles", "bytes", "file")
		for _, file := range sorted {
			flag := ""
			if file.Broken {
				flag = " BROKEN"
			} else if file.Open {
				flag = " (open)"
			}

			fmt.Fprintf(&sb, "    %6d %8s %10s  %s%s\n", file.Opens, humanize.Comma(int64(file.TilesRead)),
				humanize.IBytes(file.BytesRead), file.Filename, flag)
		}
	}

	return sb.String()
}
