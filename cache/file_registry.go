package cache

import (
	"sync"
	"sync/atomic"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/imageio"
	lrucache "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

// FileRegistry interns filenames and keeps at most maxOpenFiles files open.
// Files with decodes in flight are never closed by the budget, so the limit is exceeded
// only while every open file is busy.
type FileRegistry struct {
	decoder imageio.Decoder
	stats   *Statistics

	records     map[string]*FileRecord
	recordsByID map[FileID]*FileRecord
	lastID      FileID

	// open files in recency order, FileID -> *FileRecord
	openFiles    *lrucache.Cache
	openCapacity int
	maxOpenFiles int

	clock     atomic.Uint64
	openGroup singleflight.Group

	// called with the registry lock held when a reopened file reports different specs
	onSpecsChanged func(id FileID)
	// called with the registry lock held before a record is dropped, false keeps the record
	// because tiles of the file are resident
	forgetTiles func(id FileID) bool

	mutex sync.Mutex // mutex to access records, open states and openFiles
}

// NewFileRegistry creates a new FileRegistry
func NewFileRegistry(decoder imageio.Decoder, maxOpenFiles int, stats *Statistics) (*FileRegistry, error) {
	if maxOpenFiles <= 0 {
		return nil, commons.NewInvalidArgumentErrorf("max open files must be positive, got %d", maxOpenFiles)
	}

	openFiles, err := lrucache.New(maxOpenFiles)
	if err != nil {
		return nil, xerrors.Errorf("failed to create open file list: %w", err)
	}

	return &FileRegistry{
		decoder:      decoder,
		stats:        stats,
		records:      map[string]*FileRecord{},
		recordsByID:  map[FileID]*FileRecord{},
		lastID:       0,
		openFiles:    openFiles,
		openCapacity: maxOpenFiles,
		maxOpenFiles: maxOpenFiles,
	}, nil
}

// Resolve interns the filename and returns its id. It does not open the file.
func (registry *FileRegistry) Resolve(filename string) FileID {
	return registry.resolveRecord(filename).id
}

func (registry *FileRegistry) resolveRecord(filename string) *FileRecord {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if record, ok := registry.records[filename]; ok {
		return record
	}

	registry.lastID++
	record := newFileRecord(registry.lastID, filename)
	registry.records[filename] = record
	registry.recordsByID[record.id] = record
	return record
}

// retainRecord interns the filename and marks the record in use until releaseRecord
func (registry *FileRegistry) retainRecord(filename string) *FileRecord {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.records[filename]
	if !ok {
		registry.lastID++
		record = newFileRecord(registry.lastID, filename)
		registry.records[filename] = record
		registry.recordsByID[record.id] = record
	}

	record.refs++
	return record
}

// retainRecordByID marks the record of the id in use until releaseRecord, nil if unknown
func (registry *FileRegistry) retainRecordByID(id FileID) *FileRecord {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.recordsByID[id]
	if !ok {
		return nil
	}

	record.refs++
	return record
}

func (registry *FileRegistry) releaseRecord(record *FileRecord) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if record.refs > 0 {
		record.refs--
	}
}

// GetRecord returns the record for the id, nil if unknown
func (registry *FileRegistry) GetRecord(id FileID) *FileRecord {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return registry.recordsByID[id]
}

// GetRecordByName returns the record for the filename without interning it
func (registry *FileRegistry) GetRecordByName(filename string) *FileRecord {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return registry.records[filename]
}

// Open opens the file if it is not open yet
func (registry *FileRegistry) Open(id FileID) (*FileRecord, error) {
	record := registry.GetRecord(id)
	if record == nil {
		return nil, commons.NewInvalidArgumentErrorf("unknown file id %d", id)
	}

	err := registry.openRecord(record)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// openRecord opens the file through the decoder, concurrent opens of a file share one call
func (registry *FileRegistry) openRecord(record *FileRecord) error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileRegistry",
		"function": "openRecord",
	})

	_, err, _ := registry.openGroup.Do(record.filename, func() (interface{}, error) {
		registry.mutex.Lock()
		if record.isOpen() {
			registry.mutex.Unlock()
			return nil, nil
		}

		registry.shrinkLocked(registry.maxOpenFiles - 1)
		registry.mutex.Unlock()

		logger.Debugf("Opening image file %q", record.filename)

		file, err := registry.decoder.Open(record.filename)
		if err == nil {
			specs := file.GetSpecs()
			if len(specs) == 0 || len(specs[0]) == 0 {
				file.Close()
				err = commons.NewFormatError(record.filename, "file has no subimages")
			}
		}

		registry.mutex.Lock()
		defer registry.mutex.Unlock()

		if err != nil {
			record.broken = true
			record.errMessage = err.Error()
			registry.stats.openFailures.Add(1)
			logger.WithError(err).Debugf("Failed to open image file %q", record.filename)
			return nil, xerrors.Errorf("failed to open image file %q: %w", record.filename, err)
		}

		specs := file.GetSpecs()
		if record.specs != nil && !specsEqual(record.specs, specs) {
			logger.Infof("Image file %q changed since it was last opened, dropping its tiles", record.filename)
			if registry.onSpecsChanged != nil {
				registry.onSpecsChanged(record.id)
			}
		}

		registry.shrinkLocked(registry.maxOpenFiles - 1)

		record.file = file
		record.specs = specs
		record.broken = false
		record.errMessage = ""
		record.closeRequested = false
		record.opens.Add(1)
		registry.trackOpenLocked(record)

		registry.stats.filesOpened.Add(1)
		updatePeak(&registry.stats.peakOpenFiles, int64(registry.openFiles.Len()))
		return nil, nil
	})

	return err
}

func (registry *FileRegistry) trackOpenLocked(record *FileRecord) {
	if registry.openFiles.Len() >= registry.openCapacity {
		// every open file is busy, grow past the budget until one is released
		registry.openCapacity = registry.openFiles.Len() + 1
		registry.openFiles.Resize(registry.openCapacity)
	}

	registry.openFiles.Add(record.id, record)
}

// shrinkLocked closes least recently used idle files until at most limit files are open
func (registry *FileRegistry) shrinkLocked(limit int) {
	for registry.openFiles.Len() > limit {
		var victim *FileRecord
		for _, key := range registry.openFiles.Keys() {
			value, ok := registry.openFiles.Peek(key)
			if !ok {
				continue
			}

			if candidate := value.(*FileRecord); candidate.isCloseable() {
				victim = candidate
				break
			}
		}

		if victim == nil {
			return
		}

		registry.closeLocked(victim)
	}
}

func (registry *FileRegistry) closeLocked(record *FileRecord) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileRegistry",
		"function": "closeLocked",
	})

	if record.file == nil {
		return
	}

	logger.Debugf("Closing image file %q", record.filename)

	file := registry.detachLocked(record)

	err := file.Close()
	if err != nil {
		logger.WithError(err).Warnf("Failed to close image file %q", record.filename)
	}
	registry.stats.filesClosed.Add(1)
}

// detachLocked takes the handle out of the record and the open file list
func (registry *FileRegistry) detachLocked(record *FileRecord) imageio.ImageFile {
	file := record.file

	record.file = nil
	record.inFlight = 0
	record.closeRequested = false
	registry.openFiles.Remove(record.id)

	if registry.openCapacity > registry.maxOpenFiles && registry.openFiles.Len() <= registry.maxOpenFiles {
		registry.openCapacity = registry.maxOpenFiles
		registry.openFiles.Resize(registry.openCapacity)
	}
	return file
}

// closeRetiringLocked closes replaced handles, all of them with force or the idle ones otherwise
func (registry *FileRegistry) closeRetiringLocked(record *FileRecord, force bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "FileRegistry",
		"function": "closeRetiringLocked",
	})

	for file, inFlight := range record.retiring {
		if inFlight > 0 && !force {
			continue
		}

		logger.Debugf("Closing replaced handle of image file %q", record.filename)

		err := file.Close()
		if err != nil {
			logger.WithError(err).Warnf("Failed to close image file %q", record.filename)
		}

		delete(record.retiring, file)
		registry.stats.filesClosed.Add(1)
	}
}

// Acquire opens the file if needed and marks a decode in flight. Release with the returned
// file must follow.
func (registry *FileRegistry) Acquire(record *FileRecord) (imageio.ImageFile, error) {
	for {
		registry.mutex.Lock()
		if record.isOpen() {
			record.inFlight++
			record.lastAccess.Store(registry.clock.Add(1))
			registry.openFiles.Get(record.id)

			file := record.file
			registry.mutex.Unlock()
			return file, nil
		}
		registry.mutex.Unlock()

		err := registry.openRecord(record)
		if err != nil {
			return nil, err
		}
	}
}

// Release ends a decode started by Acquire
func (registry *FileRegistry) Release(record *FileRecord, file imageio.ImageFile) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if file != record.file {
		// the handle was replaced or force closed meanwhile
		if inFlight, ok := record.retiring[file]; ok {
			record.retiring[file] = inFlight - 1
			registry.closeRetiringLocked(record, false)
		}
		return
	}

	if record.inFlight > 0 {
		record.inFlight--
	}

	if record.inFlight > 0 {
		return
	}

	if record.closeRequested {
		registry.closeLocked(record)
		return
	}

	registry.shrinkLocked(registry.maxOpenFiles)
}

// GetSpecs returns the specs of the file, opening it if they are not known
func (registry *FileRegistry) GetSpecs(record *FileRecord) ([][]imageio.ImageSpec, error) {
	for {
		registry.mutex.Lock()
		if record.specs != nil {
			specs := record.specs
			registry.mutex.Unlock()
			return specs, nil
		}

		if record.isOpen() {
			record.specs = record.file.GetSpecs()
			specs := record.specs
			registry.mutex.Unlock()
			return specs, nil
		}
		registry.mutex.Unlock()

		err := registry.openRecord(record)
		if err != nil {
			return nil, err
		}
	}
}

// Close closes the file. It is deferred while decodes are in flight.
func (registry *FileRegistry) Close(id FileID) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.recordsByID[id]
	if !ok || !record.isOpen() {
		return
	}

	if record.inFlight > 0 {
		record.closeRequested = true
		return
	}

	registry.closeLocked(record)
}

// Invalidate drops the cached specs and error state of the file and closes it. With force,
// the file is closed even if decodes are in flight. Otherwise decodes in flight finish on the
// old handle and later decodes reopen the file.
func (registry *FileRegistry) Invalidate(id FileID, force bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.recordsByID[id]
	if !ok {
		return
	}

	registry.invalidateLocked(record, force)
}

// InvalidateAll invalidates every known file
func (registry *FileRegistry) InvalidateAll(force bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	for _, record := range registry.records {
		registry.invalidateLocked(record, force)
	}
}

func (registry *FileRegistry) invalidateLocked(record *FileRecord, force bool) {
	record.specs = nil
	record.broken = false
	record.errMessage = ""

	if force {
		registry.closeRetiringLocked(record, true)
	}

	if !record.isOpen() {
		return
	}

	if force || record.inFlight == 0 {
		registry.closeLocked(record)
		return
	}

	if record.retiring == nil {
		record.retiring = map[imageio.ImageFile]int{}
	}

	inFlight := record.inFlight
	file := registry.detachLocked(record)
	record.retiring[file] = inFlight
}

// Prune drops the record of the id if it is closed, unused and has no resident tiles
func (registry *FileRegistry) Prune(id FileID) bool {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.recordsByID[id]
	if !ok {
		return false
	}
	return registry.pruneLocked(record)
}

// PruneAll drops every record that is closed, unused and has no resident tiles.
// It returns the number of dropped records.
func (registry *FileRegistry) PruneAll() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	pruned := 0
	for _, record := range registry.records {
		if registry.pruneLocked(record) {
			pruned++
		}
	}
	return pruned
}

func (registry *FileRegistry) pruneLocked(record *FileRecord) bool {
	if !record.isUnused() {
		return false
	}

	if registry.forgetTiles != nil && !registry.forgetTiles(record.id) {
		return false
	}

	delete(registry.records, record.filename)
	delete(registry.recordsByID, record.id)
	return true
}

// GetRecordCount returns the number of known files
func (registry *FileRegistry) GetRecordCount() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return len(registry.records)
}

// CloseAll closes every open file. Without force, files with decodes in flight are closed
// when the decodes finish.
func (registry *FileRegistry) CloseAll(force bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	for _, record := range registry.records {
		if force {
			registry.closeRetiringLocked(record, true)
		}

		if !record.isOpen() {
			continue
		}

		if force || record.inFlight == 0 {
			registry.closeLocked(record)
			continue
		}

		record.closeRequested = true
	}
}

// IsOpen tests if the file is open
func (registry *FileRegistry) IsOpen(id FileID) bool {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.recordsByID[id]
	return ok && record.isOpen()
}

// GetError returns the error message of the last failed open of the file
func (registry *FileRegistry) GetError(id FileID) (bool, string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	record, ok := registry.recordsByID[id]
	if !ok {
		return false, ""
	}
	return record.broken, record.errMessage
}

// GetOpenFileCount returns the number of open files
func (registry *FileRegistry) GetOpenFileCount() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return registry.openFiles.Len()
}

// GetMaxOpenFiles returns the open file budget
func (registry *FileRegistry) GetMaxOpenFiles() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return registry.maxOpenFiles
}

// SetMaxOpenFiles changes the open file budget, closing idle files immediately if needed
func (registry *FileRegistry) SetMaxOpenFiles(maxOpenFiles int) error {
	if maxOpenFiles <= 0 {
		return commons.NewInvalidArgumentErrorf("max open files must be positive, got %d", maxOpenFiles)
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registry.maxOpenFiles = maxOpenFiles
	registry.shrinkLocked(maxOpenFiles)

	registry.openCapacity = maxOpenFiles
	if registry.openFiles.Len() > registry.openCapacity {
		registry.openCapacity = registry.openFiles.Len()
	}
	registry.openFiles.Resize(registry.openCapacity)
	return nil
}

// GetFileStatistics returns per file counters
func (registry *FileRegistry) GetFileStatistics() []FileStatistics {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	stats := make([]FileStatistics, 0, len(registry.records))
	for _, record := range registry.records {
		stats = append(stats, FileStatistics{
			Filename:  record.filename,
			Open:      record.isOpen(),
			Broken:    record.broken,
			Opens:     record.opens.Load(),
			TilesRead: record.tilesRead.Load(),
			BytesRead: record.bytesRead.Load(),
		})
	}
	return stats
}
