package cache

import (
	"math"

	"github.com/cyverse/irodsfs-tilecache/commons"
	log "github.com/sirupsen/logrus"
)

const (
	AttributeMaxMemoryMB         = "max_memory_MB"
	AttributeMaxOpenFiles        = "max_open_files"
	AttributeAutoTile            = "autotile"
	AttributeAutoMip             = "automip"
	AttributeStatsLevel          = "stats_level"
	AttributePrintUncaughtErrors = "print_uncaught_errors"

	// read only
	AttributeStatMemoryUsed = "stat:cache_memory_used"
	AttributeStatTiles      = "stat:tiles_current"
	AttributeStatOpenFiles  = "stat:open_files_current"
)

func attributeToInt(name string, value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float32:
		if float32(math.Trunc(float64(v))) == v {
			return int(v), nil
		}
	case float64:
		if math.Trunc(v) == v {
			return int(v), nil
		}
	}
	return 0, commons.NewInvalidArgumentErrorf("attribute %q expects an integer, got %v (%T)", name, value, value)
}

func attributeToFloat(name string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, commons.NewInvalidArgumentErrorf("attribute %q expects a number, got %v (%T)", name, value, value)
}

func attributeToBool(name string, value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	}
	return false, commons.NewInvalidArgumentErrorf("attribute %q expects a bool, got %v (%T)", name, value, value)
}

// SetAttribute changes a runtime option of the cache
func (cache *ImageCache) SetAttribute(name string, value interface{}) error {
	err := cache.setAttribute(name, value)
	if err != nil {
		cache.recordError(err)
		return err
	}
	return nil
}

func (cache *ImageCache) setAttribute(name string, value interface{}) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "ImageCache",
		"function": "setAttribute",
	})

	if err := cache.checkReleased(); err != nil {
		return err
	}

	switch name {
	case AttributeMaxMemoryMB:
		maxMemoryMB, err := attributeToFloat(name, value)
		if err != nil {
			return err
		}

		if maxMemoryMB <= 0 {
			return commons.NewInvalidArgumentErrorf("attribute %q must be positive, got %f", name, maxMemoryMB)
		}

		cache.store.SetMaxBytes(int64(maxMemoryMB * 1024 * 1024))
	case AttributeMaxOpenFiles:
		maxOpenFiles, err := attributeToInt(name, value)
		if err != nil {
			return err
		}

		return cache.registry.SetMaxOpenFiles(maxOpenFiles)
	case AttributeAutoTile:
		autoTile, err := attributeToInt(name, value)
		if err != nil {
			return err
		}

		if autoTile < 0 {
			return commons.NewInvalidArgumentErrorf("attribute %q must not be negative, got %d", name, autoTile)
		}

		cache.attributeMutex.Lock()
		changed := cache.autoTile != autoTile
		cache.autoTile = autoTile
		cache.attributeMutex.Unlock()

		if changed {
			// tiles of untiled files were cut on the old grid
			cache.store.InvalidateAll()
		}
	case AttributeAutoMip:
		autoMip, err := attributeToBool(name, value)
		if err != nil {
			return err
		}

		cache.attributeMutex.Lock()
		changed := cache.autoMip != autoMip
		cache.autoMip = autoMip
		cache.attributeMutex.Unlock()

		if setter, ok := cache.decoder.(autoMipDecoder); ok && changed {
			setter.SetAutoMip(autoMip)
			cache.registry.InvalidateAll(false)
			cache.store.InvalidateAll()
		}
	case AttributeStatsLevel:
		statsLevel, err := attributeToInt(name, value)
		if err != nil {
			return err
		}

		cache.attributeMutex.Lock()
		cache.statsLevel = statsLevel
		cache.attributeMutex.Unlock()
	case AttributePrintUncaughtErrors:
		printUncaughtErrors, err := attributeToBool(name, value)
		if err != nil {
			return err
		}

		cache.attributeMutex.Lock()
		cache.printUncaughtErrors = printUncaughtErrors
		cache.attributeMutex.Unlock()
	case AttributeStatMemoryUsed, AttributeStatTiles, AttributeStatOpenFiles:
		return commons.NewInvalidArgumentErrorf("attribute %q is read only", name)
	default:
		return commons.NewAttributeNotFoundError(name)
	}

	logger.Debugf("Set attribute %q to %v", name, value)
	return nil
}

// GetAttribute returns a runtime option or a read only statistic of the cache
func (cache *ImageCache) GetAttribute(name string) (interface{}, error) {
	switch name {
	case AttributeMaxMemoryMB:
		return float64(cache.store.GetMaxBytes()) / 1024 / 1024, nil
	case AttributeMaxOpenFiles:
		return cache.registry.GetMaxOpenFiles(), nil
	case AttributeStatMemoryUsed:
		return cache.store.GetResidentBytes(), nil
	case AttributeStatTiles:
		return cache.store.GetResidentTiles(), nil
	case AttributeStatOpenFiles:
		return cache.registry.GetOpenFileCount(), nil
	}

	cache.attributeMutex.RLock()
	defer cache.attributeMutex.RUnlock()

	switch name {
	case AttributeAutoTile:
		return cache.autoTile, nil
	case AttributeAutoMip:
		return cache.autoMip, nil
	case AttributeStatsLevel:
		return cache.statsLevel, nil
	case AttributePrintUncaughtErrors:
		return cache.printUncaughtErrors, nil
	}

	err := commons.NewAttributeNotFoundError(name)
	cache.recordError(err)
	return nil, err
}
