package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	tileStoreShardCount = 64
	recencyBucketCount  = 8
	// eviction frees memory down to (1 - 1/lowWaterDivisor) of the budget
	lowWaterDivisor = 16
)

// TileLoader decodes the tile for the key
type TileLoader func(key TileKey) (*Tile, error)

// fileTiles is the tile state of one file
type fileTiles struct {
	invalidations atomic.Uint64
	resident      atomic.Int64
}

type tileShard struct {
	mutex sync.RWMutex
	tiles map[TileKey]*Tile
}

// TileStore retains decoded tiles under a memory budget
type TileStore struct {
	shards    [tileStoreShardCount]*tileShard
	loader    TileLoader
	stats     *Statistics
	loadGroup singleflight.Group

	maxBytes      atomic.Int64
	residentBytes atomic.Int64
	residentTiles atomic.Int64

	// recency epochs advance every 1/recencyBucketCount of the budget inserted
	epoch      atomic.Uint64
	epochBytes atomic.Int64
	generation atomic.Uint64

	// tiles decoded before an invalidation of their file are refused on insert
	allInvalidations atomic.Uint64
	files            sync.Map // FileID -> *fileTiles

	evictMutex sync.Mutex
}

// NewTileStore creates a new TileStore
func NewTileStore(maxBytes int64, stats *Statistics, loader TileLoader) *TileStore {
	store := &TileStore{
		loader: loader,
		stats:  stats,
	}

	for i := range store.shards {
		store.shards[i] = &tileShard{
			tiles: map[TileKey]*Tile{},
		}
	}

	store.maxBytes.Store(maxBytes)
	return store
}

func (store *TileStore) getShard(key TileKey) *tileShard {
	return store.shards[key.Hash()%tileStoreShardCount]
}

func (store *TileStore) getFileTiles(file FileID) *fileTiles {
	if value, ok := store.files.Load(file); ok {
		return value.(*fileTiles)
	}

	value, _ := store.files.LoadOrStore(file, &fileTiles{})
	return value.(*fileTiles)
}

// getStamp returns the invalidation stamp a tile of the file decoded now must carry
func (store *TileStore) getStamp(file FileID) uint64 {
	return store.allInvalidations.Load() + store.getFileTiles(file).invalidations.Load()
}

// HasFileTiles tests if any tile of the file is resident
func (store *TileStore) HasFileTiles(file FileID) bool {
	value, ok := store.files.Load(file)
	return ok && value.(*fileTiles).resident.Load() > 0
}

// ForgetFile drops the tile state of a file without resident tiles. It returns false if
// tiles of the file are resident.
func (store *TileStore) ForgetFile(file FileID) bool {
	if store.HasFileTiles(file) {
		return false
	}

	store.files.Delete(file)
	return true
}

// GetMaxBytes returns the memory budget
func (store *TileStore) GetMaxBytes() int64 {
	return store.maxBytes.Load()
}

// SetMaxBytes changes the memory budget, evicting immediately if needed
func (store *TileStore) SetMaxBytes(maxBytes int64) {
	store.maxBytes.Store(maxBytes)
	store.evictToBudget()
}

// GetResidentBytes returns the size of all resident tiles
func (store *TileStore) GetResidentBytes() int64 {
	return store.residentBytes.Load()
}

// GetResidentTiles returns the number of resident tiles
func (store *TileStore) GetResidentTiles() int {
	return int(store.residentTiles.Load())
}

// Contains tests if a tile for the key is resident
func (store *TileStore) Contains(key TileKey) bool {
	shard := store.getShard(key)

	shard.mutex.RLock()
	defer shard.mutex.RUnlock()

	_, ok := shard.tiles[key]
	return ok
}

// lookup returns a pinned resident tile or nil
func (store *TileStore) lookup(key TileKey) *Tile {
	shard := store.getShard(key)

	shard.mutex.RLock()
	tile, ok := shard.tiles[key]
	shard.mutex.RUnlock()

	if !ok || !tile.pin() {
		return nil
	}

	if tile.detached.Load() {
		tile.unpin()
		return nil
	}

	tile.touch(store.epoch.Load())
	return tile
}

// GetTile returns a pinned tile, decoding it on a miss
func (store *TileStore) GetTile(key TileKey) (*TileHandle, error) {
	return store.getTile(key, nil)
}

func (store *TileStore) getTile(key TileKey, local *threadStatistics) (*TileHandle, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "TileStore",
		"function": "getTile",
	})

	for {
		if tile := store.lookup(key); tile != nil {
			if local != nil {
				local.hits.Add(1)
			} else {
				store.stats.hits.Add(1)
			}
			return newTileHandle(tile), nil
		}

		if local != nil {
			local.misses.Add(1)
		} else {
			store.stats.misses.Add(1)
		}

		stamp := store.getStamp(key.File)

		leader := false
		result, err, _ := store.loadGroup.Do(fmt.Sprintf("%s@%d", key.String(), stamp), func() (interface{}, error) {
			leader = true

			// a previous flight may have inserted it after our lookup
			if tile := store.lookup(key); tile != nil {
				return tile, nil
			}

			tile, loadErr := store.loader(key)
			if loadErr != nil {
				store.stats.decodeFailures.Add(1)
				return nil, loadErr
			}

			tile.stamp = stamp
			tile.refCount.Store(1)
			resident, _ := store.insert(tile, true)
			if resident == nil {
				return nil, nil
			}

			store.evictToBudget()
			return resident, nil
		})
		if err != nil {
			return nil, err
		}

		if result == nil {
			logger.Debugf("File of tile %s was invalidated while decoding, retrying", key.String())
			continue
		}

		tile := result.(*Tile)
		if leader {
			return newTileHandle(tile), nil
		}

		if tile.pin() {
			if !tile.detached.Load() {
				return newTileHandle(tile), nil
			}
			tile.unpin()
		}

		logger.Debugf("Tile %s was dropped before it could be pinned, retrying", key.String())
	}
}

// insert adds the tile if the key is absent. Otherwise it returns the resident tile,
// pinned if pinExisting is set. A tile whose file was invalidated after its stamp was taken
// is refused and nil is returned.
func (store *TileStore) insert(tile *Tile, pinExisting bool) (*Tile, bool) {
	shard := store.getShard(tile.key)
	files := store.getFileTiles(tile.key.File)

	shard.mutex.Lock()
	if tile.stamp != store.allInvalidations.Load()+files.invalidations.Load() {
		shard.mutex.Unlock()
		return nil, false
	}

	if existing, ok := shard.tiles[tile.key]; ok {
		if !pinExisting || existing.pin() {
			shard.mutex.Unlock()
			return existing, false
		}
	}

	tile.generation = store.generation.Add(1)
	tile.usedEpoch.Store(store.epoch.Load())
	shard.tiles[tile.key] = tile
	shard.mutex.Unlock()

	size := tile.Size()
	resident := store.residentBytes.Add(size)
	store.residentTiles.Add(1)
	files.resident.Add(1)
	store.stats.tilesCreated.Add(1)
	updatePeak(&store.stats.peakResidentBytes, resident)

	span := store.maxBytes.Load() / recencyBucketCount
	if span < 1 {
		span = 1
	}

	if store.epochBytes.Add(size) >= span {
		store.epochBytes.Add(-span)
		store.epoch.Add(1)
	}

	return tile, true
}

// AddTile inserts an unpinned tile. It returns false if a tile for the key is already resident.
func (store *TileStore) AddTile(tile *Tile) bool {
	tile.stamp = store.getStamp(tile.key.File)
	_, added := store.insert(tile, false)
	if added {
		store.evictToBudget()
	}
	return added
}

// ReleaseTile unpins the tile. The tile stays resident until evicted.
func (store *TileStore) ReleaseTile(handle *TileHandle) error {
	err := handle.release()
	if err != nil {
		return err
	}

	if store.residentBytes.Load() > store.maxBytes.Load() {
		store.evictToBudget()
	}
	return nil
}

// removeLocked drops the tile from its shard, the shard must be locked
func (store *TileStore) removeLocked(shard *tileShard, tile *Tile) {
	delete(shard.tiles, tile.key)
	tile.detached.Store(true)

	store.residentBytes.Add(-tile.Size())
	store.residentTiles.Add(-1)
	store.getFileTiles(tile.key.File).resident.Add(-1)
}

// evictToBudget evicts unpinned tiles, oldest recency bucket first, when over budget
func (store *TileStore) evictToBudget() {
	if store.residentBytes.Load() <= store.maxBytes.Load() {
		return
	}

	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "TileStore",
		"function": "evictToBudget",
	})

	store.evictMutex.Lock()
	defer store.evictMutex.Unlock()

	maxBytes := store.maxBytes.Load()
	if store.residentBytes.Load() <= maxBytes {
		return
	}

	target := maxBytes - maxBytes/lowWaterDivisor
	currentEpoch := store.epoch.Load()

	buckets := [recencyBucketCount][]*Tile{}
	for _, shard := range store.shards {
		shard.mutex.RLock()
		for _, tile := range shard.tiles {
			if tile.refCount.Load() != 0 {
				continue
			}

			age := uint64(0)
			usedEpoch := tile.usedEpoch.Load()
			if currentEpoch > usedEpoch {
				age = currentEpoch - usedEpoch
			}

			if age >= recencyBucketCount {
				age = recencyBucketCount - 1
			}

			buckets[age] = append(buckets[age], tile)
		}
		shard.mutex.RUnlock()
	}

	evicted := 0
	var evictedBytes int64
	for age := recencyBucketCount - 1; age >= 0; age-- {
		for _, tile := range buckets[age] {
			if store.residentBytes.Load() <= target {
				break
			}

			shard := store.getShard(tile.key)
			shard.mutex.Lock()
			if resident, ok := shard.tiles[tile.key]; ok && resident == tile && tile.retire() {
				store.removeLocked(shard, tile)
				evicted++
				evictedBytes += tile.Size()
			}
			shard.mutex.Unlock()
		}
	}

	store.stats.tilesEvicted.Add(uint64(evicted))

	if store.residentBytes.Load() > maxBytes {
		logger.Debugf("All remaining tiles are pinned, %d bytes resident over budget %d", store.residentBytes.Load(), maxBytes)
	}

	if evicted > 0 {
		logger.Debugf("Evicted %d tiles (%d bytes)", evicted, evictedBytes)
	}
}

// InvalidateFile drops all tiles of the file. Pinned tiles stay readable through their handles.
// Decodes of the file already in flight do not insert their tiles.
func (store *TileStore) InvalidateFile(file FileID) int {
	store.getFileTiles(file).invalidations.Add(1)
	return store.invalidate(func(key TileKey) bool {
		return key.File == file
	})
}

// InvalidateAll drops all tiles
func (store *TileStore) InvalidateAll() int {
	store.allInvalidations.Add(1)
	return store.invalidate(func(key TileKey) bool {
		return true
	})
}

func (store *TileStore) invalidate(match func(key TileKey) bool) int {
	removed := 0
	for _, shard := range store.shards {
		shard.mutex.Lock()
		for key, tile := range shard.tiles {
			if !match(key) {
				continue
			}

			tile.retire()
			store.removeLocked(shard, tile)
			removed++
		}
		shard.mutex.Unlock()
	}

	store.stats.tilesInvalidated.Add(uint64(removed))
	return removed
}
