package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/imageio"
	"github.com/stretchr/testify/require"
)

// rampValue is the synthetic pixel value of every fake image
func rampValue(miplevel int, x int, y int, z int, c int) byte {
	return byte(x + 3*y + 5*z + 7*c + 11*miplevel)
}

type fakeImage struct {
	specs [][]imageio.ImageSpec
	// added to every pixel value, so rewritten files can be told apart
	version byte
}

// newRampImage creates a single subimage fake, tiled when tileSize > 0, with levels MIP levels
func newRampImage(width int, height int, nchannels int, tileSize int, levels int) *fakeImage {
	mips := []imageio.ImageSpec{}
	for level := 0; level < levels; level++ {
		spec := imageio.NewImageSpec(width, height, nchannels, imageio.UInt8)
		spec.TileWidth = tileSize
		spec.TileHeight = tileSize
		if tileSize > 0 {
			spec.TileDepth = 1
		}
		spec.Attributes["fileformat"] = "fake"
		spec.Attributes["Software"] = "ramp"
		mips = append(mips, spec)

		width = max(width/2, 1)
		height = max(height/2, 1)
	}

	return &fakeImage{
		specs: [][]imageio.ImageSpec{mips},
	}
}

type fakeDecoder struct {
	images      map[string]*fakeImage
	opens       map[string]int
	decodes     map[string]int
	failReads   map[string]int
	openDelay   time.Duration
	decodeDelay time.Duration
	openNow     int
	peakOpen    int
	readGate    chan struct{}
	readStarted chan struct{}
	mutex       sync.Mutex
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		images:    map[string]*fakeImage{},
		opens:     map[string]int{},
		decodes:   map[string]int{},
		failReads: map[string]int{},
	}
}

func (decoder *fakeDecoder) addImage(filename string, image *fakeImage) {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	decoder.images[filename] = image
}

func (decoder *fakeDecoder) removeImage(filename string) {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	delete(decoder.images, filename)
}

// failNextReads makes the next count reads of the file fail
func (decoder *fakeDecoder) failNextReads(filename string, count int) {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	decoder.failReads[filename] = count
}

// holdReads blocks every read until the returned function is called
func (decoder *fakeDecoder) holdReads() func() {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	gate := make(chan struct{})
	decoder.readGate = gate
	decoder.readStarted = make(chan struct{}, 64)

	once := sync.Once{}
	return func() {
		once.Do(func() {
			close(gate)
		})
	}
}

// waitForHeldRead waits until a read is blocked by holdReads
func (decoder *fakeDecoder) waitForHeldRead(t *testing.T) {
	t.Helper()

	decoder.mutex.Lock()
	started := decoder.readStarted
	decoder.mutex.Unlock()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no read started")
	}
}

func (decoder *fakeDecoder) getOpens(filename string) int {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	return decoder.opens[filename]
}

func (decoder *fakeDecoder) getDecodes(filename string) int {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	return decoder.decodes[filename]
}

func (decoder *fakeDecoder) getOpenNow() int {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	return decoder.openNow
}

func (decoder *fakeDecoder) getPeakOpen() int {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	return decoder.peakOpen
}

func (decoder *fakeDecoder) Open(filename string) (imageio.ImageFile, error) {
	if decoder.openDelay > 0 {
		time.Sleep(decoder.openDelay)
	}

	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()

	image, ok := decoder.images[filename]
	if !ok {
		return nil, commons.NewFileNotFoundError(filename)
	}

	decoder.opens[filename]++
	decoder.openNow++
	decoder.peakOpen = max(decoder.peakOpen, decoder.openNow)

	specs := make([][]imageio.ImageSpec, len(image.specs))
	for sub := range image.specs {
		for mip := range image.specs[sub] {
			specs[sub] = append(specs[sub], image.specs[sub][mip].Copy())
		}
	}

	return &fakeFile{
		decoder:  decoder,
		filename: filename,
		specs:    specs,
		version:  image.version,
	}, nil
}

type fakeFile struct {
	decoder  *fakeDecoder
	filename string
	specs    [][]imageio.ImageSpec
	version  byte
	closed   bool
	mutex    sync.Mutex
}

func (file *fakeFile) GetSpecs() [][]imageio.ImageSpec {
	return file.specs
}

func (file *fakeFile) ReadTile(subimage int, miplevel int, tile imageio.ROI) ([]byte, error) {
	decoder := file.decoder
	if decoder.decodeDelay > 0 {
		time.Sleep(decoder.decodeDelay)
	}

	decoder.mutex.Lock()
	gate := decoder.readGate
	started := decoder.readStarted
	decoder.mutex.Unlock()

	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
	}

	file.mutex.Lock()
	closed := file.closed
	file.mutex.Unlock()

	if closed {
		return nil, commons.NewDecodeError(file.filename, "file is closed")
	}

	decoder.mutex.Lock()
	decoder.decodes[file.filename]++
	if decoder.failReads[file.filename] > 0 {
		decoder.failReads[file.filename]--
		decoder.mutex.Unlock()
		return nil, commons.NewDecodeError(file.filename, "injected read failure")
	}
	decoder.mutex.Unlock()

	spec := &file.specs[subimage][miplevel]
	window := spec.DataWindow()

	buf := make([]byte, 0, tile.NPixels()*tile.NChannels())
	for z := tile.ZBegin; z < tile.ZEnd; z++ {
		for y := tile.YBegin; y < tile.YEnd; y++ {
			for x := tile.XBegin; x < tile.XEnd; x++ {
				inside := window.ContainsBox(imageio.NewROI(x, x+1, y, y+1, z, z+1, 0, 0))
				for c := tile.ChBegin; c < tile.ChEnd; c++ {
					if inside {
						buf = append(buf, rampValue(miplevel, x, y, z, c)+file.version)
					} else {
						buf = append(buf, 0)
					}
				}
			}
		}
	}
	return buf, nil
}

func (file *fakeFile) Close() error {
	file.mutex.Lock()
	defer file.mutex.Unlock()

	if file.closed {
		return nil
	}
	file.closed = true

	file.decoder.mutex.Lock()
	file.decoder.openNow--
	file.decoder.mutex.Unlock()
	return nil
}

// expectedRegion renders the ramp for the region as uint8
func expectedRegion(miplevel int, roi imageio.ROI) []byte {
	return expectedVersionRegion(miplevel, roi, 0)
}

// expectedVersionRegion renders the ramp of a rewritten image for the region as uint8
func expectedVersionRegion(miplevel int, roi imageio.ROI, version byte) []byte {
	buf := []byte{}
	for z := roi.ZBegin; z < roi.ZEnd; z++ {
		for y := roi.YBegin; y < roi.YEnd; y++ {
			for x := roi.XBegin; x < roi.XEnd; x++ {
				for c := roi.ChBegin; c < roi.ChEnd; c++ {
					buf = append(buf, rampValue(miplevel, x, y, z, c)+version)
				}
			}
		}
	}
	return buf
}

func newTestConfig() *commons.Config {
	config := commons.NewDefaultConfig()
	config.StatsLevel = 0
	config.PrintUncaughtErrors = false
	return config
}

func newTestCache(t *testing.T, decoder imageio.Decoder, configure func(config *commons.Config)) *ImageCache {
	t.Helper()

	config := newTestConfig()
	if configure != nil {
		configure(config)
	}

	cache, err := NewImageCache(config, decoder)
	require.NoError(t, err)

	t.Cleanup(func() {
		cache.Release()
	})
	return cache
}
