package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// FileID is a stable identifier of an interned filename
type FileID uint64

// TileKey identifies a cached tile. X, Y and Z are the pixel coordinates of the tile origin.
type TileKey struct {
	File     FileID
	Subimage uint32
	Miplevel uint32
	X        int32
	Y        int32
	Z        int32
	ChBegin  uint16
	ChEnd    uint16
}

// NewTileKey creates a TileKey
func NewTileKey(file FileID, subimage int, miplevel int, x int, y int, z int, chbegin int, chend int) TileKey {
	return TileKey{
		File:     file,
		Subimage: uint32(subimage),
		Miplevel: uint32(miplevel),
		X:        int32(x),
		Y:        int32(y),
		Z:        int32(z),
		ChBegin:  uint16(chbegin),
		ChEnd:    uint16(chend),
	}
}

// NChannels returns the number of channels the key covers
func (key TileKey) NChannels() int {
	return int(key.ChEnd) - int(key.ChBegin)
}

// Hash returns a 64bit hash of the key
func (key TileKey) Hash() uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(key.File))
	binary.LittleEndian.PutUint32(buf[8:], key.Subimage)
	binary.LittleEndian.PutUint32(buf[12:], key.Miplevel)
	binary.LittleEndian.PutUint32(buf[16:], uint32(key.X))
	binary.LittleEndian.PutUint32(buf[20:], uint32(key.Y))
	binary.LittleEndian.PutUint32(buf[24:], uint32(key.Z))
	binary.LittleEndian.PutUint16(buf[28:], key.ChBegin)
	binary.LittleEndian.PutUint16(buf[30:], key.ChEnd)
	return xxhash.Sum64(buf[:])
}

func (key TileKey) String() string {
	return fmt.Sprintf("file=%d sub=%d mip=%d origin=(%d,%d,%d) ch=[%d,%d)", key.File, key.Subimage, key.Miplevel, key.X, key.Y, key.Z, key.ChBegin, key.ChEnd)
}
