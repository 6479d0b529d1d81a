package cache

import (
	"sync/atomic"
	"weak"

	"github.com/rs/xid"
)

// lastTileRef remembers the last tile a goroutine used without keeping it reachable
type lastTileRef struct {
	key        TileKey
	tile       weak.Pointer[Tile]
	generation uint64
}

// ThreadInfo is the private state of one calling goroutine. It must not be shared
// between goroutines.
type ThreadInfo struct {
	id      string
	cacheID string

	// last tile shortcut, validated on every use
	last atomic.Pointer[lastTileRef]

	stats     threadStatistics
	temporary bool
	expired   atomic.Bool
}

func newThreadInfo(cacheID string, temporary bool) *ThreadInfo {
	return &ThreadInfo{
		id:        xid.New().String(),
		cacheID:   cacheID,
		temporary: temporary,
	}
}

// GetID returns the thread info id
func (info *ThreadInfo) GetID() string {
	return info.id
}

// lookupLast returns the remembered tile pinned, or nil if the key differs or the tile
// left the store
func (info *ThreadInfo) lookupLast(key TileKey) *Tile {
	last := info.last.Load()
	if last == nil || last.key != key {
		return nil
	}

	tile := last.tile.Value()
	if tile == nil {
		info.forget()
		return nil
	}

	if !tile.pin() {
		info.forget()
		return nil
	}

	if tile.detached.Load() || tile.generation != last.generation {
		tile.unpin()
		info.forget()
		return nil
	}

	return tile
}

func (info *ThreadInfo) remember(key TileKey, tile *Tile) {
	info.last.Store(&lastTileRef{
		key:        key,
		tile:       weak.Make(tile),
		generation: tile.generation,
	})
}

func (info *ThreadInfo) forget() {
	info.last.Store(nil)
}

// hasLastTile returns true if a tile is remembered and still reachable
func (info *ThreadInfo) hasLastTile() bool {
	last := info.last.Load()
	return last != nil && last.tile.Value() != nil
}
