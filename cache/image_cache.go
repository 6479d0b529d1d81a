package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/imageio"
	irodsfs_common_utils "github.com/cyverse/irodsfs-common/utils"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// autoMipDecoder is implemented by decoders that can synthesize MIP levels
type autoMipDecoder interface {
	SetAutoMip(autoMip bool)
}

// ImageCache serves pixels of image files from decoded tiles kept in memory
type ImageCache struct {
	id      string
	decoder imageio.Decoder

	registry    *FileRegistry
	store       *TileStore
	stats       *Statistics
	threadInfos *gocache.Cache

	autoTile            int
	autoMip             bool
	statsLevel          int
	printUncaughtErrors bool
	attributeMutex      sync.RWMutex // mutex to access autoTile, autoMip, statsLevel, printUncaughtErrors

	lastError  string
	errorMutex sync.Mutex

	oldStats     StatisticsSnapshot
	metricsMutex sync.Mutex

	released atomic.Bool
}

// NewImageCache creates a new ImageCache. A nil decoder selects the ImagingDecoder.
func NewImageCache(config *commons.Config, decoder imageio.Decoder) (*ImageCache, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"function": "NewImageCache",
	})

	if config == nil {
		config = commons.NewDefaultConfig()
	}

	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid configuration: %w", err)
	}

	if decoder == nil {
		decoder = imageio.NewImagingDecoder(config.AutoMip)
	}

	stats := &Statistics{}

	registry, err := NewFileRegistry(decoder, config.MaxOpenFiles, stats)
	if err != nil {
		return nil, xerrors.Errorf("failed to create file registry: %w", err)
	}

	threadInfoTimeout := config.GetThreadInfoTimeout()
	if threadInfoTimeout <= 0 {
		threadInfoTimeout = gocache.NoExpiration
	}

	cache := &ImageCache{
		id:       xid.New().String(),
		decoder:  decoder,
		registry: registry,
		stats:    stats,
		// expired thread infos are collected on demand, no janitor goroutine
		threadInfos: gocache.New(threadInfoTimeout, 0),

		autoTile:            config.AutoTile,
		autoMip:             config.AutoMip,
		statsLevel:          config.StatsLevel,
		printUncaughtErrors: config.PrintUncaughtErrors,
	}

	cache.store = NewTileStore(config.GetMaxMemoryBytes(), stats, cache.loadTile)
	cache.registry.onSpecsChanged = func(id FileID) {
		cache.store.InvalidateFile(id)
	}
	cache.registry.forgetTiles = cache.store.ForgetFile
	cache.threadInfos.OnEvicted(cache.onThreadInfoEvicted)

	logger.Infof("Created image cache %s, max memory %.1f MB, max open files %d, autotile %d", cache.id, config.MaxMemoryMB, config.MaxOpenFiles, config.AutoTile)
	return cache, nil
}

// GetID returns the cache instance id
func (cache *ImageCache) GetID() string {
	return cache.id
}

func (cache *ImageCache) checkReleased() error {
	if cache.released.Load() {
		return commons.NewCacheReleasedError(cache.id)
	}
	return nil
}

// Release drops all tiles and closes all files. The statistics report and any pending
// error are logged according to stats_level and print_uncaught_errors.
func (cache *ImageCache) Release() error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "Release",
	})

	defer irodsfs_common_utils.StackTraceFromPanic(logger)

	if !cache.released.CompareAndSwap(false, true) {
		return commons.NewCacheReleasedError(cache.id)
	}

	cache.mergeThreadStatistics()

	statsLevel := cache.getStatsLevel()
	if statsLevel > 0 {
		logger.Infof("Releasing image cache %s\n%s", cache.id, cache.getStats(statsLevel))
	}

	if cache.getPrintUncaughtErrors() && cache.HasError() {
		logger.Errorf("Image cache %s has an uncaught error: %s", cache.id, cache.GetError(true))
	}

	cache.threadInfos.Flush()
	cache.store.InvalidateAll()
	cache.registry.CloseAll(true)
	cache.registry.PruneAll()
	cache.deletePrometheusMetrics()
	return nil
}

// IsReleased returns true after Release
func (cache *ImageCache) IsReleased() bool {
	return cache.released.Load()
}

func (cache *ImageCache) getAutoTile() int {
	cache.attributeMutex.RLock()
	defer cache.attributeMutex.RUnlock()

	return cache.autoTile
}

func (cache *ImageCache) getStatsLevel() int {
	cache.attributeMutex.RLock()
	defer cache.attributeMutex.RUnlock()

	return cache.statsLevel
}

func (cache *ImageCache) getPrintUncaughtErrors() bool {
	cache.attributeMutex.RLock()
	defer cache.attributeMutex.RUnlock()

	return cache.printUncaughtErrors
}

// recordError keeps the message of the last failure for HasError/GetError
func (cache *ImageCache) recordError(err error) {
	cache.errorMutex.Lock()
	defer cache.errorMutex.Unlock()

	cache.lastError = err.Error()
}

// HasError returns true if a failure was recorded and not cleared
func (cache *ImageCache) HasError() bool {
	cache.errorMutex.Lock()
	defer cache.errorMutex.Unlock()

	return len(cache.lastError) > 0
}

// GetError returns the last failure message, empty if there is none
func (cache *ImageCache) GetError(clear bool) string {
	cache.errorMutex.Lock()
	defer cache.errorMutex.Unlock()

	message := cache.lastError
	if clear {
		cache.lastError = ""
	}
	return message
}

// CreateThreadInfo creates a thread info for a goroutine making many calls
func (cache *ImageCache) CreateThreadInfo() (*ThreadInfo, error) {
	if err := cache.checkReleased(); err != nil {
		return nil, err
	}

	cache.threadInfos.DeleteExpired()

	info := newThreadInfo(cache.id, false)
	cache.threadInfos.Set(info.id, info, gocache.DefaultExpiration)
	return info, nil
}

// DestroyThreadInfo merges the statistics of the thread info and unregisters it
func (cache *ImageCache) DestroyThreadInfo(info *ThreadInfo) error {
	if info == nil || info.cacheID != cache.id {
		return commons.NewInvalidArgumentError("thread info does not belong to this cache")
	}

	cache.threadInfos.Delete(info.id)
	cache.stats.merge(&info.stats)
	info.forget()
	return nil
}

func (cache *ImageCache) onThreadInfoEvicted(id string, value interface{}) {
	if info, ok := value.(*ThreadInfo); ok {
		cache.stats.merge(&info.stats)
		info.forget()
		info.expired.Store(true)
	}
}

// getThreadInfo returns the caller's thread info or a temporary one
func (cache *ImageCache) getThreadInfo(info *ThreadInfo) (*ThreadInfo, error) {
	if info == nil {
		return newThreadInfo(cache.id, true), nil
	}

	if info.cacheID != cache.id {
		return nil, commons.NewInvalidArgumentError("thread info does not belong to this cache")
	}

	if info.expired.CompareAndSwap(true, false) {
		cache.threadInfos.Set(info.id, info, gocache.DefaultExpiration)
	}
	return info, nil
}

func (cache *ImageCache) putThreadInfo(info *ThreadInfo) {
	if info.temporary {
		cache.stats.merge(&info.stats)
	}
}

func (cache *ImageCache) mergeThreadStatistics() {
	cache.threadInfos.DeleteExpired()

	for _, item := range cache.threadInfos.Items() {
		if info, ok := item.Object.(*ThreadInfo); ok {
			cache.stats.merge(&info.stats)
		}
	}
}

func isImageError(err error) bool {
	return commons.IsFileNotFoundError(err) || commons.IsFormatError(err) || commons.IsOutOfRangeError(err) || commons.IsDecodeError(err)
}

// lookupSpec returns the spec of the subimage/miplevel, opening the file if needed
func (cache *ImageCache) lookupSpec(record *FileRecord, subimage int, miplevel int) (*imageio.ImageSpec, error) {
	specs, err := cache.registry.GetSpecs(record)
	if err != nil {
		return nil, err
	}

	if subimage < 0 || subimage >= len(specs) {
		return nil, commons.NewOutOfRangeErrorf(record.filename, "subimage %d does not exist, file has %d", subimage, len(specs))
	}

	if miplevel < 0 || miplevel >= len(specs[subimage]) {
		return nil, commons.NewOutOfRangeErrorf(record.filename, "miplevel %d does not exist, subimage %d has %d", miplevel, subimage, len(specs[subimage]))
	}

	return &specs[subimage][miplevel], nil
}

func (cache *ImageCache) getLayout(record *FileRecord, subimage int, miplevel int) (*tileLayout, error) {
	spec, err := cache.lookupSpec(record, subimage, miplevel)
	if err != nil {
		return nil, err
	}

	return newTileLayout(spec, cache.getAutoTile()), nil
}

// retainKey checks the key against the tile grid of its file. On success the file record is
// retained and must be released with releaseRecord.
func (cache *ImageCache) retainKey(key TileKey) (*FileRecord, *tileLayout, error) {
	record := cache.registry.retainRecordByID(key.File)
	if record == nil {
		return nil, nil, commons.NewInvalidArgumentErrorf("unknown file id %d", key.File)
	}

	layout, err := cache.validateKey(record, key)
	if err != nil {
		cache.registry.releaseRecord(record)
		return nil, nil, err
	}

	return record, layout, nil
}

func (cache *ImageCache) validateKey(record *FileRecord, key TileKey) (*tileLayout, error) {
	layout, err := cache.getLayout(record, int(key.Subimage), int(key.Miplevel))
	if err != nil {
		return nil, err
	}

	if !layout.isTileOrigin(int(key.X), int(key.Y), int(key.Z)) {
		return nil, commons.NewOutOfRangeErrorf(record.filename, "(%d, %d, %d) is not a tile origin of subimage %d miplevel %d", key.X, key.Y, key.Z, key.Subimage, key.Miplevel)
	}

	if !layout.isValidChannelRange(int(key.ChBegin), int(key.ChEnd)) {
		return nil, commons.NewOutOfRangeErrorf(record.filename, "channel range [%d,%d) is out of [0,%d)", key.ChBegin, key.ChEnd, layout.spec.NChannels)
	}

	return layout, nil
}

// loadTile decodes the tile for the key through the file's decoder
func (cache *ImageCache) loadTile(key TileKey) (*Tile, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "loadTile",
	})

	record, layout, err := cache.retainKey(key)
	if err != nil {
		return nil, err
	}
	defer cache.registry.releaseRecord(record)

	roi := layout.getTileROI(int(key.X), int(key.Y), int(key.Z), int(key.ChBegin), int(key.ChEnd))

	file, err := cache.registry.Acquire(record)
	if err != nil {
		return nil, err
	}
	defer cache.registry.Release(record, file)

	logger.Debugf("Decoding tile %s of %q", key.String(), record.filename)

	data, err := file.ReadTile(int(key.Subimage), int(key.Miplevel), roi)
	if err != nil {
		if !isImageError(err) {
			err = commons.NewDecodeError(record.filename, err.Error())
		}
		return nil, xerrors.Errorf("failed to decode tile %s: %w", key.String(), err)
	}

	expected := expectedTileBytes(roi, layout.spec.Format)
	if len(data) != expected {
		return nil, commons.NewDecodeError(record.filename, fmt.Sprintf("decoder returned %d bytes for tile %s, %d expected", len(data), key.String(), expected))
	}

	record.tilesRead.Add(1)
	record.bytesRead.Add(uint64(len(data)))
	cache.stats.bytesDecoded.Add(uint64(len(data)))

	return newTile(key, roi, layout.spec.Format, data), nil
}

// fetchTile returns a pinned tile, trying the thread's last tile first
func (cache *ImageCache) fetchTile(info *ThreadInfo, key TileKey) (*TileHandle, error) {
	if tile := info.lookupLast(key); tile != nil {
		info.stats.hits.Add(1)
		info.stats.shortcutHits.Add(1)
		tile.touch(cache.store.epoch.Load())
		return newTileHandle(tile), nil
	}

	handle, err := cache.store.getTile(key, &info.stats)
	if err != nil {
		return nil, err
	}

	info.remember(key, handle.tile)
	return handle, nil
}

// GetPixels copies the region of the image into data, converted to format.
// Pixels are ordered z, y, x, channel. An undefined ROI selects the whole data window.
func (cache *ImageCache) GetPixels(filename string, subimage int, miplevel int, roi imageio.ROI, format imageio.BaseType, data []byte) error {
	return cache.GetPixelsWithThreadInfo(nil, filename, subimage, miplevel, roi, format, data)
}

// GetPixelsWithThreadInfo is GetPixels using the caller's thread info
func (cache *ImageCache) GetPixelsWithThreadInfo(threadInfo *ThreadInfo, filename string, subimage int, miplevel int, roi imageio.ROI, format imageio.BaseType, data []byte) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "GetPixelsWithThreadInfo",
	})

	defer irodsfs_common_utils.StackTraceFromPanic(logger)

	if err := cache.checkReleased(); err != nil {
		return err
	}

	info, err := cache.getThreadInfo(threadInfo)
	if err != nil {
		cache.recordError(err)
		return err
	}
	defer cache.putThreadInfo(info)

	info.stats.getPixelsCalls.Add(1)

	err = cache.getPixels(info, filename, subimage, miplevel, roi, format, data)
	if err != nil {
		logger.WithError(err).Debugf("Failed to get pixels of %q", filename)
		cache.recordError(err)
		return err
	}

	return nil
}

func (cache *ImageCache) getPixels(info *ThreadInfo, filename string, subimage int, miplevel int, roi imageio.ROI, format imageio.BaseType, data []byte) error {
	record := cache.registry.retainRecord(filename)
	defer cache.registry.releaseRecord(record)

	layout, err := cache.getLayout(record, subimage, miplevel)
	if err != nil {
		return err
	}

	spec := layout.spec
	if !roi.Defined() {
		roi = spec.DataWindow()
	}

	if !format.IsValid() {
		return commons.NewInvalidArgumentErrorf("unsupported pixel format %s", format.String())
	}

	if roi.NPixels() == 0 {
		return commons.NewInvalidArgumentErrorf("region %s is empty", roi.String())
	}

	if !layout.isValidChannelRange(roi.ChBegin, roi.ChEnd) {
		return commons.NewOutOfRangeErrorf(filename, "channel range [%d,%d) is out of [0,%d)", roi.ChBegin, roi.ChEnd, spec.NChannels)
	}

	if !spec.DataWindow().ContainsBox(roi) {
		return commons.NewOutOfRangeErrorf(filename, "region %s is outside of data window %s", roi.String(), spec.DataWindow().String())
	}

	required := roi.NPixels() * roi.NChannels() * format.Size()
	if len(data) < required {
		return commons.NewInvalidArgumentErrorf("buffer holds %d bytes, region %s needs %d", len(data), roi.String(), required)
	}

	firstX, lastX := layout.xGrid.GetFirstAndLastTileIDForRange(roi.XBegin, roi.XEnd)
	firstY, lastY := layout.yGrid.GetFirstAndLastTileIDForRange(roi.YBegin, roi.YEnd)
	firstZ, lastZ := layout.zGrid.GetFirstAndLastTileIDForRange(roi.ZBegin, roi.ZEnd)

	for tz := firstZ; tz <= lastZ; tz++ {
		for ty := firstY; ty <= lastY; ty++ {
			for tx := firstX; tx <= lastX; tx++ {
				key := NewTileKey(record.id, subimage, miplevel,
					layout.xGrid.GetTileStartForTileID(tx), layout.yGrid.GetTileStartForTileID(ty), layout.zGrid.GetTileStartForTileID(tz),
					0, spec.NChannels)

				handle, err := cache.fetchTile(info, key)
				if err != nil {
					return err
				}

				copyErr := copyTileRegion(handle.tile, roi, format, data)
				// the handle is private to this loop, so its single release cannot fail
				_ = cache.store.ReleaseTile(handle)

				if copyErr != nil {
					return copyErr
				}
			}
		}
	}

	return nil
}

// copyTileRegion converts the part of the tile inside roi into data laid out for roi
func copyTileRegion(tile *Tile, roi imageio.ROI, format imageio.BaseType, data []byte) error {
	region := roi.Intersect(tile.roi)
	if region.NPixels() == 0 {
		return nil
	}

	tileROI := tile.roi
	tileChannels := tileROI.NChannels()
	srcElementSize := tile.format.Size()
	channels := roi.NChannels()
	dstPixelBytes := channels * format.Size()
	channelOffset := roi.ChBegin - tileROI.ChBegin
	contiguous := channels == tileChannels

	for z := region.ZBegin; z < region.ZEnd; z++ {
		for y := region.YBegin; y < region.YEnd; y++ {
			srcPixel := ((z-tileROI.ZBegin)*tileROI.Height()+(y-tileROI.YBegin))*tileROI.Width() + (region.XBegin - tileROI.XBegin)
			dstPixel := ((z-roi.ZBegin)*roi.Height()+(y-roi.YBegin))*roi.Width() + (region.XBegin - roi.XBegin)

			if contiguous {
				src := tile.data[srcPixel*tileChannels*srcElementSize:]
				err := imageio.ConvertValues(data[dstPixel*dstPixelBytes:], format, src, tile.format, region.Width()*channels)
				if err != nil {
					return err
				}
				continue
			}

			for x := 0; x < region.Width(); x++ {
				src := tile.data[((srcPixel+x)*tileChannels+channelOffset)*srcElementSize:]
				err := imageio.ConvertValues(data[(dstPixel+x)*dstPixelBytes:], format, src, tile.format, channels)
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// GetTile returns the tile containing the pixel. The handle must be released with ReleaseTile.
func (cache *ImageCache) GetTile(filename string, subimage int, miplevel int, x int, y int, z int, chbegin int, chend int) (*TileHandle, error) {
	return cache.GetTileWithThreadInfo(nil, filename, subimage, miplevel, x, y, z, chbegin, chend)
}

// GetTileWithThreadInfo is GetTile using the caller's thread info
func (cache *ImageCache) GetTileWithThreadInfo(threadInfo *ThreadInfo, filename string, subimage int, miplevel int, x int, y int, z int, chbegin int, chend int) (*TileHandle, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "GetTileWithThreadInfo",
	})

	defer irodsfs_common_utils.StackTraceFromPanic(logger)

	if err := cache.checkReleased(); err != nil {
		return nil, err
	}

	info, err := cache.getThreadInfo(threadInfo)
	if err != nil {
		cache.recordError(err)
		return nil, err
	}
	defer cache.putThreadInfo(info)

	handle, err := cache.getTileForPixel(info, filename, subimage, miplevel, x, y, z, chbegin, chend)
	if err != nil {
		cache.recordError(err)
		return nil, err
	}

	return handle, nil
}

func (cache *ImageCache) getTileForPixel(info *ThreadInfo, filename string, subimage int, miplevel int, x int, y int, z int, chbegin int, chend int) (*TileHandle, error) {
	record := cache.registry.retainRecord(filename)
	defer cache.registry.releaseRecord(record)

	layout, err := cache.getLayout(record, subimage, miplevel)
	if err != nil {
		return nil, err
	}

	if !layout.containsPixel(x, y, z) {
		return nil, commons.NewOutOfRangeErrorf(filename, "pixel (%d, %d, %d) is outside of data window %s", x, y, z, layout.spec.DataWindow().String())
	}

	if !layout.isValidChannelRange(chbegin, chend) {
		return nil, commons.NewOutOfRangeErrorf(filename, "channel range [%d,%d) is out of [0,%d)", chbegin, chend, layout.spec.NChannels)
	}

	tileX, tileY, tileZ := layout.getTileOrigin(x, y, z)
	key := NewTileKey(record.id, subimage, miplevel, tileX, tileY, tileZ, chbegin, chend)
	return cache.fetchTile(info, key)
}

// GetTileByKey returns the tile for an exact key. The handle must be released with ReleaseTile.
func (cache *ImageCache) GetTileByKey(key TileKey) (*TileHandle, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "GetTileByKey",
	})

	defer irodsfs_common_utils.StackTraceFromPanic(logger)

	if err := cache.checkReleased(); err != nil {
		return nil, err
	}

	record, _, err := cache.retainKey(key)
	if err != nil {
		cache.recordError(err)
		return nil, err
	}
	defer cache.registry.releaseRecord(record)

	info := newThreadInfo(cache.id, true)
	defer cache.putThreadInfo(info)

	handle, err := cache.fetchTile(info, key)
	if err != nil {
		cache.recordError(err)
		return nil, err
	}

	return handle, nil
}

// ReleaseTile releases a handle returned by GetTile or GetTileByKey
func (cache *ImageCache) ReleaseTile(handle *TileHandle) error {
	if handle == nil {
		err := commons.NewInvalidTileError("tile handle is nil")
		cache.recordError(err)
		return err
	}

	err := cache.store.ReleaseTile(handle)
	if err != nil {
		cache.recordError(err)
		return err
	}
	return nil
}

// ResolveFile interns the filename and returns its id, for building tile keys
func (cache *ImageCache) ResolveFile(filename string) FileID {
	return cache.registry.Resolve(filename)
}

// AddTile puts decoded pixels for the tile at the origin into the cache. The data must hold
// a full tile for the channel range in the given format. Without copyData, the cache keeps data
// and the caller must not modify it afterwards. A resident tile for the key is kept.
func (cache *ImageCache) AddTile(filename string, subimage int, miplevel int, x int, y int, z int, chbegin int, chend int, format imageio.BaseType, data []byte, copyData bool) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "AddTile",
	})

	defer irodsfs_common_utils.StackTraceFromPanic(logger)

	if err := cache.checkReleased(); err != nil {
		return err
	}

	cache.stats.addTileCalls.Add(1)

	err := cache.addTile(filename, subimage, miplevel, x, y, z, chbegin, chend, format, data, copyData)
	if err != nil {
		cache.recordError(err)
		return err
	}

	return nil
}

func (cache *ImageCache) addTile(filename string, subimage int, miplevel int, x int, y int, z int, chbegin int, chend int, format imageio.BaseType, data []byte, copyData bool) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "addTile",
	})

	record := cache.registry.retainRecord(filename)
	defer cache.registry.releaseRecord(record)

	layout, err := cache.getLayout(record, subimage, miplevel)
	if err != nil {
		return err
	}

	if !layout.isTileOrigin(x, y, z) {
		return commons.NewOutOfRangeErrorf(filename, "(%d, %d, %d) is not a tile origin", x, y, z)
	}

	if !layout.isValidChannelRange(chbegin, chend) {
		return commons.NewOutOfRangeErrorf(filename, "channel range [%d,%d) is out of [0,%d)", chbegin, chend, layout.spec.NChannels)
	}

	if !format.IsValid() {
		return commons.NewInvalidTileError(fmt.Sprintf("unsupported pixel format %s", format.String()))
	}

	roi := layout.getTileROI(x, y, z, chbegin, chend)
	expected := expectedTileBytes(roi, format)
	if len(data) != expected {
		return commons.NewInvalidTileError(fmt.Sprintf("tile data holds %d bytes, %d expected for %s %s", len(data), expected, format.String(), roi.String()))
	}

	tileFormat := layout.spec.Format
	tileData := data
	if format != tileFormat {
		tileData = make([]byte, expectedTileBytes(roi, tileFormat))
		err = imageio.ConvertValues(tileData, tileFormat, data, format, roi.NPixels()*roi.NChannels())
		if err != nil {
			return err
		}
	} else if copyData {
		tileData = make([]byte, len(data))
		copy(tileData, data)
	}

	key := NewTileKey(record.id, subimage, miplevel, x, y, z, chbegin, chend)
	if !cache.store.AddTile(newTile(key, roi, tileFormat, tileData)) {
		logger.Debugf("Tile %s is already resident, keeping it", key.String())
	}
	return nil
}

// GetImageSpec returns a copy of the spec of the subimage/miplevel
func (cache *ImageCache) GetImageSpec(filename string, subimage int, miplevel int) (*imageio.ImageSpec, error) {
	if err := cache.checkReleased(); err != nil {
		return nil, err
	}

	record := cache.registry.retainRecord(filename)
	defer cache.registry.releaseRecord(record)

	spec, err := cache.lookupSpec(record, subimage, miplevel)
	if err != nil {
		cache.recordError(err)
		return nil, err
	}

	copied := spec.Copy()
	return &copied, nil
}

// GetImageInfo returns a named property of the image. Recognized names are exists, broken,
// subimages, miplevels, resolution, channels, channelnames, format, datawindow,
// displaywindow and tilesize. Other names are looked up in the spec attributes.
func (cache *ImageCache) GetImageInfo(filename string, subimage int, miplevel int, name string) (interface{}, error) {
	if err := cache.checkReleased(); err != nil {
		return nil, err
	}

	value, err := cache.getImageInfo(filename, subimage, miplevel, name)
	if err != nil {
		cache.recordError(err)
		return nil, err
	}
	return value, nil
}

func (cache *ImageCache) getImageInfo(filename string, subimage int, miplevel int, name string) (interface{}, error) {
	record := cache.registry.retainRecord(filename)
	defer cache.registry.releaseRecord(record)

	switch name {
	case "exists":
		_, err := cache.registry.GetSpecs(record)
		if err != nil {
			if commons.IsFileNotFoundError(err) {
				return false, nil
			}
			// the file is there but cannot be read
			return true, nil
		}
		return true, nil
	case "broken":
		_, err := cache.registry.GetSpecs(record)
		return err != nil, nil
	}

	specs, err := cache.registry.GetSpecs(record)
	if err != nil {
		return nil, err
	}

	switch name {
	case "subimages":
		return len(specs), nil
	case "miplevels":
		if subimage < 0 || subimage >= len(specs) {
			return nil, commons.NewOutOfRangeErrorf(filename, "subimage %d does not exist, file has %d", subimage, len(specs))
		}
		return len(specs[subimage]), nil
	}

	layout, err := cache.getLayout(record, subimage, miplevel)
	if err != nil {
		return nil, err
	}

	spec := layout.spec
	switch name {
	case "resolution":
		if spec.Depth > 1 {
			return []int{spec.Width, spec.Height, spec.Depth}, nil
		}
		return []int{spec.Width, spec.Height}, nil
	case "channels":
		return spec.NChannels, nil
	case "channelnames":
		names := make([]string, len(spec.ChannelNames))
		copy(names, spec.ChannelNames)
		return names, nil
	case "format":
		return spec.Format.String(), nil
	case "datawindow":
		return windowBounds(spec.DataWindow()), nil
	case "displaywindow":
		return windowBounds(spec.DisplayWindow()), nil
	case "tilesize":
		return []int{layout.width, layout.height, layout.depth}, nil
	}

	if value, ok := spec.GetAttribute(name); ok {
		return value, nil
	}

	return nil, commons.NewAttributeNotFoundError(name)
}

// windowBounds returns inclusive bounds, xmin ymin xmax ymax (zmin zmax for volumes)
func windowBounds(roi imageio.ROI) []int {
	if roi.Depth() > 1 {
		return []int{roi.XBegin, roi.YBegin, roi.ZBegin, roi.XEnd - 1, roi.YEnd - 1, roi.ZEnd - 1}
	}
	return []int{roi.XBegin, roi.YBegin, roi.XEnd - 1, roi.YEnd - 1}
}

// GetFileError returns the error state of the last open attempt of the file
func (cache *ImageCache) GetFileError(filename string) (bool, string) {
	record := cache.registry.GetRecordByName(filename)
	if record == nil {
		return false, ""
	}
	return cache.registry.GetError(record.id)
}

// IsFileOpen tests if the file is currently open
func (cache *ImageCache) IsFileOpen(filename string) bool {
	record := cache.registry.GetRecordByName(filename)
	if record == nil {
		return false
	}
	return cache.registry.IsOpen(record.id)
}

// GetOpenFileCount returns the number of open files
func (cache *ImageCache) GetOpenFileCount() int {
	return cache.registry.GetOpenFileCount()
}

// IsTileResident tests if the tile for the key is in memory
func (cache *ImageCache) IsTileResident(key TileKey) bool {
	return cache.store.Contains(key)
}

// Invalidate drops the specs and tiles of the file. With force, the file is closed even if
// decodes are in flight.
func (cache *ImageCache) Invalidate(filename string, force bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "Invalidate",
	})

	if cache.released.Load() {
		return
	}

	cache.stats.invalidations.Add(1)

	record := cache.registry.GetRecordByName(filename)
	if record == nil {
		return
	}

	cache.registry.Invalidate(record.id, force)
	removed := cache.store.InvalidateFile(record.id)
	cache.registry.Prune(record.id)

	logger.Debugf("Invalidated %q, %d tiles dropped", filename, removed)
}

// InvalidateAll invalidates every file
func (cache *ImageCache) InvalidateAll(force bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "InvalidateAll",
	})

	if cache.released.Load() {
		return
	}

	cache.stats.invalidations.Add(1)

	cache.registry.InvalidateAll(force)
	removed := cache.store.InvalidateAll()
	pruned := cache.registry.PruneAll()

	logger.Debugf("Invalidated all files, %d tiles dropped, %d files forgotten", removed, pruned)
}

// Close closes the file. Tiles stay resident. The close is deferred while decodes of the
// file are in flight.
func (cache *ImageCache) Close(filename string) {
	if cache.released.Load() {
		return
	}

	record := cache.registry.GetRecordByName(filename)
	if record == nil {
		return
	}

	cache.registry.Close(record.id)
}

// CloseAll closes every file. Tiles stay resident. Files with decodes in flight are closed
// when the decodes finish.
func (cache *ImageCache) CloseAll() {
	if cache.released.Load() {
		return
	}

	cache.registry.CloseAll(false)
}

func (cache *ImageCache) getStatisticsSnapshot() StatisticsSnapshot {
	snapshot := cache.stats.snapshot()
	snapshot.ResidentBytes = cache.store.GetResidentBytes()
	snapshot.ResidentTiles = cache.store.GetResidentTiles()
	snapshot.MaxMemoryBytes = cache.store.GetMaxBytes()
	snapshot.OpenFiles = cache.registry.GetOpenFileCount()
	snapshot.MaxOpenFiles = cache.registry.GetMaxOpenFiles()
	return snapshot
}

// GetStatistics returns the current statistics
func (cache *ImageCache) GetStatistics() StatisticsSnapshot {
	cache.mergeThreadStatistics()
	return cache.getStatisticsSnapshot()
}

// GetStats returns the statistics report for the verbosity level
func (cache *ImageCache) GetStats(level int) string {
	cache.mergeThreadStatistics()
	return cache.getStats(level)
}

func (cache *ImageCache) getStats(level int) string {
	snapshot := cache.getStatisticsSnapshot()
	return snapshot.Report(level, cache.id, cache.registry.GetFileStatistics())
}

// ResetStats clears the statistics counters
func (cache *ImageCache) ResetStats() {
	cache.metricsMutex.Lock()
	defer cache.metricsMutex.Unlock()

	cache.mergeThreadStatistics()
	cache.stats.reset(cache.store.GetResidentBytes(), cache.registry.GetOpenFileCount())
	cache.oldStats = StatisticsSnapshot{}
}
