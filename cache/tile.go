package cache

import (
	"sync/atomic"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/imageio"
)

// Tile is a decoded block of pixel data for one TileKey
type Tile struct {
	key        TileKey
	roi        imageio.ROI // pixel box and channel range
	format     imageio.BaseType
	data       []byte
	generation uint64
	// invalidation count of the file when the tile was decoded
	stamp uint64

	// refCount is the number of pins, -1 once the tile is retired by eviction
	refCount  atomic.Int32
	usedEpoch atomic.Uint64
	detached  atomic.Bool
}

func newTile(key TileKey, roi imageio.ROI, format imageio.BaseType, data []byte) *Tile {
	return &Tile{
		key:    key,
		roi:    roi,
		format: format,
		data:   data,
	}
}

// expectedTileBytes returns the byte length of a tile buffer for the roi
func expectedTileBytes(roi imageio.ROI, format imageio.BaseType) int {
	return roi.NPixels() * roi.NChannels() * format.Size()
}

// pin increments the reference count. It fails if the tile has been retired.
func (tile *Tile) pin() bool {
	for {
		count := tile.refCount.Load()
		if count < 0 {
			return false
		}

		if tile.refCount.CompareAndSwap(count, count+1) {
			return true
		}
	}
}

func (tile *Tile) unpin() int32 {
	return tile.refCount.Add(-1)
}

// retire marks an unpinned tile as no longer obtainable
func (tile *Tile) retire() bool {
	return tile.refCount.CompareAndSwap(0, -1)
}

func (tile *Tile) touch(epoch uint64) {
	if tile.usedEpoch.Load() != epoch {
		tile.usedEpoch.Store(epoch)
	}
}

// IsPinned returns true while a TileHandle holds the tile
func (tile *Tile) IsPinned() bool {
	return tile.refCount.Load() > 0
}

// Size returns the size of the pixel buffer
func (tile *Tile) Size() int64 {
	return int64(len(tile.data))
}

// TileHandle is a borrowed reference to a tile. It must be released exactly once.
type TileHandle struct {
	tile     *Tile
	released atomic.Bool
}

func newTileHandle(tile *Tile) *TileHandle {
	return &TileHandle{
		tile: tile,
	}
}

func (handle *TileHandle) release() error {
	if !handle.released.CompareAndSwap(false, true) {
		return commons.NewInvalidTileError("tile handle is already released")
	}

	handle.tile.unpin()
	return nil
}

// IsReleased returns true after the handle was released
func (handle *TileHandle) IsReleased() bool {
	return handle.released.Load()
}

// GetKey returns the key of the tile
func (handle *TileHandle) GetKey() TileKey {
	return handle.tile.key
}

// GetData returns the pixel data, ordered z, y, x, channel. The slice must not be modified.
func (handle *TileHandle) GetData() []byte {
	return handle.tile.data
}

// GetFormat returns the element format of the pixel data
func (handle *TileHandle) GetFormat() imageio.BaseType {
	return handle.tile.format
}

// GetROI returns the pixel box and channel range of the tile
func (handle *TileHandle) GetROI() imageio.ROI {
	return handle.tile.roi
}

func (handle *TileHandle) GetNChannels() int {
	return handle.tile.roi.NChannels()
}

// GetPixelOffset returns the byte offset of the pixel at x, y, z in GetData()
func (handle *TileHandle) GetPixelOffset(x int, y int, z int) int {
	roi := handle.tile.roi
	pixel := ((z-roi.ZBegin)*roi.Height()+(y-roi.YBegin))*roi.Width() + (x - roi.XBegin)
	return pixel * roi.NChannels() * handle.tile.format.Size()
}
