package cache

import (
	"sync/atomic"

	"github.com/cyverse/irodsfs-tilecache/imageio"
)

// FileRecord is a source image file known to the cache.
// Open state, specs, and error state are guarded by the FileRegistry mutex.
type FileRecord struct {
	id       FileID
	filename string

	file           imageio.ImageFile
	specs          [][]imageio.ImageSpec
	inFlight       int
	closeRequested bool
	broken         bool
	errMessage     string

	// handles replaced by an invalidation, closed when their decodes finish
	retiring map[imageio.ImageFile]int
	// number of cache calls using the record
	refs int

	// logical clock value of the last access
	lastAccess atomic.Uint64

	opens     atomic.Uint64
	tilesRead atomic.Uint64
	bytesRead atomic.Uint64
}

func newFileRecord(id FileID, filename string) *FileRecord {
	return &FileRecord{
		id:       id,
		filename: filename,
	}
}

// GetID returns the file id
func (record *FileRecord) GetID() FileID {
	return record.id
}

// GetFilename returns the interned filename
func (record *FileRecord) GetFilename() string {
	return record.filename
}

// GetLastAccess returns the logical time of the last access
func (record *FileRecord) GetLastAccess() uint64 {
	return record.lastAccess.Load()
}

func (record *FileRecord) isOpen() bool {
	return record.file != nil
}

// isUnused returns true if the record can be dropped from the registry
func (record *FileRecord) isUnused() bool {
	return record.file == nil && record.inFlight == 0 && len(record.retiring) == 0 && record.refs == 0
}

// isCloseable returns true if no decode is in flight
func (record *FileRecord) isCloseable() bool {
	return record.file != nil && record.inFlight == 0
}

func specsEqual(a [][]imageio.ImageSpec, b [][]imageio.ImageSpec) bool {
	if len(a) != len(b) {
		return false
	}

	for sub := range a {
		if len(a[sub]) != len(b[sub]) {
			return false
		}

		for mip := range a[sub] {
			if !a[sub][mip].Equal(&b[sub][mip]) {
				return false
			}
		}
	}
	return true
}
