package cache

import (
	"sync"
	"sync/atomic"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/imageio"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// SharedCacheTagDefault is the tag of the process-wide shared cache
const SharedCacheTagDefault = "default"

type sharedCacheEntry struct {
	cache   *ImageCache
	refs    int
	persist bool
}

var (
	sharedCaches      = map[string]*sharedCacheEntry{}
	sharedCachesMutex sync.Mutex
)

// CacheHandle is a reference to a private or shared ImageCache
type CacheHandle struct {
	cache    *ImageCache
	tag      string
	shared   bool
	released atomic.Bool
}

// NewPrivateCacheHandle creates a cache owned by the returned handle alone
func NewPrivateCacheHandle(config *commons.Config, decoder imageio.Decoder) (*CacheHandle, error) {
	cache, err := NewImageCache(config, decoder)
	if err != nil {
		return nil, err
	}

	return &CacheHandle{
		cache: cache,
	}, nil
}

// NewSharedCacheHandle returns a handle to the shared cache of the tag, creating it with the
// config and decoder if it does not exist. Once any request asks for persist, the shared
// cache outlives its last handle until DestroyCacheHandle is called with teardown.
func NewSharedCacheHandle(tag string, persist bool, config *commons.Config, decoder imageio.Decoder) (*CacheHandle, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"function": "NewSharedCacheHandle",
	})

	if len(tag) == 0 {
		tag = SharedCacheTagDefault
	}

	sharedCachesMutex.Lock()
	defer sharedCachesMutex.Unlock()

	entry, ok := sharedCaches[tag]
	if !ok {
		cache, err := NewImageCache(config, decoder)
		if err != nil {
			return nil, xerrors.Errorf("failed to create shared cache %q: %w", tag, err)
		}

		entry = &sharedCacheEntry{
			cache: cache,
		}
		sharedCaches[tag] = entry

		logger.Infof("Created shared cache %q (instance %s)", tag, cache.id)
	}

	entry.refs++
	if persist && !entry.persist {
		entry.persist = true
		logger.Infof("Shared cache %q persists beyond its handles", tag)
	}

	return &CacheHandle{
		cache:  entry.cache,
		tag:    tag,
		shared: true,
	}, nil
}

// GetCache returns the cache of the handle. It fails once the handle is released, even if a
// shared cache lives on.
func (handle *CacheHandle) GetCache() (*ImageCache, error) {
	if handle.released.Load() {
		return nil, commons.NewCacheReleasedError(handle.cache.id)
	}
	return handle.cache, nil
}

// IsReleased returns true once the handle is released
func (handle *CacheHandle) IsReleased() bool {
	return handle.released.Load()
}

// IsShared returns true for handles of a shared cache
func (handle *CacheHandle) IsShared() bool {
	return handle.shared
}

// GetTag returns the shared cache tag, empty for private handles
func (handle *CacheHandle) GetTag() string {
	return handle.tag
}

// Release drops the handle without teardown
func (handle *CacheHandle) Release() error {
	return DestroyCacheHandle(handle, false)
}

// DestroyCacheHandle drops the handle. A private cache is always released. A shared cache is
// released when its last handle is dropped, unless it persists and teardown is not set.
func DestroyCacheHandle(handle *CacheHandle, teardown bool) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"function": "DestroyCacheHandle",
	})

	if handle == nil {
		return commons.NewInvalidArgumentError("cache handle is nil")
	}

	if !handle.released.CompareAndSwap(false, true) {
		return commons.NewCacheReleasedError(handle.cache.id)
	}

	if !handle.shared {
		return handle.cache.Release()
	}

	sharedCachesMutex.Lock()
	defer sharedCachesMutex.Unlock()

	entry, ok := sharedCaches[handle.tag]
	if !ok || entry.cache != handle.cache {
		// torn down already by DestroyAllSharedCaches
		return nil
	}

	entry.refs--
	if entry.refs > 0 {
		return nil
	}

	if entry.persist && !teardown {
		logger.Debugf("Keeping persistent shared cache %q without handles", handle.tag)
		return nil
	}

	delete(sharedCaches, handle.tag)
	logger.Infof("Tearing down shared cache %q", handle.tag)
	return entry.cache.Release()
}

// DestroyAllSharedCaches releases every shared cache regardless of handles and persistence.
// It is meant for process exit.
func DestroyAllSharedCaches() {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"function": "DestroyAllSharedCaches",
	})

	sharedCachesMutex.Lock()
	defer sharedCachesMutex.Unlock()

	for tag, entry := range sharedCaches {
		err := entry.cache.Release()
		if err != nil {
			logger.WithError(err).Warnf("Failed to release shared cache %q", tag)
		}
		delete(sharedCaches, tag)
	}
}
