package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/cyverse/irodsfs-tilecache/utils"
	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	_ "image/gif"  // register GIF format decoder
	_ "image/jpeg" // register JPEG format decoder
	_ "image/png"  // register PNG format decoder

	_ "golang.org/x/image/bmp"  // register BMP format decoder
	_ "golang.org/x/image/tiff" // register TIFF format decoder
)

// ImagingDecoder decodes the standard raster formats (PNG, JPEG, GIF, BMP, TIFF).
// These formats are not natively tiled, so the whole image is decoded on the first tile
// request and kept until the file is closed.
type ImagingDecoder struct {
	autoMip atomic.Bool
}

// NewImagingDecoder creates a new ImagingDecoder. With autoMip, a box filtered MIP pyramid
// is synthesized for every file.
func NewImagingDecoder(autoMip bool) *ImagingDecoder {
	decoder := &ImagingDecoder{}
	decoder.autoMip.Store(autoMip)
	return decoder
}

// SetAutoMip changes MIP synthesis for files opened afterwards
func (decoder *ImagingDecoder) SetAutoMip(autoMip bool) {
	decoder.autoMip.Store(autoMip)
}

// Open reads the header of the file
func (decoder *ImagingDecoder) Open(filename string) (ImageFile, error) {
	logger := log.WithFields(log.Fields{
		"package":  "imageio",
		"struct":   "ImagingDecoder",
		"function": "Open",
	})

	f, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xerrors.Errorf("failed to open %q: %w", filename, commons.NewFileNotFoundError(filename))
		}
		return nil, xerrors.Errorf("failed to open %q: %w", filename, commons.NewFormatError(filename, err.Error()))
	}
	defer f.Close()

	config, formatName, err := image.DecodeConfig(f)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode header: %w", commons.NewFormatError(filename, err.Error()))
	}

	if config.Width <= 0 || config.Height <= 0 {
		return nil, commons.NewFormatError(filename, fmt.Sprintf("invalid resolution %dx%d", config.Width, config.Height))
	}

	nchannels := channelsForColorModel(config.ColorModel)

	autoMip := decoder.autoMip.Load()
	levels := []ImageSpec{}
	width := config.Width
	height := config.Height
	for {
		spec := NewImageSpec(width, height, nchannels, UInt8)
		spec.Attributes["fileformat"] = formatName
		spec.Attributes["oiio:BitsPerSample"] = 8
		levels = append(levels, spec)

		if !autoMip || (width == 1 && height == 1) {
			break
		}

		width = utils.MaxInt(width/2, 1)
		height = utils.MaxInt(height/2, 1)
	}

	logger.Debugf("Opened %s image %q, %dx%d, %d channels, %d miplevels", formatName, filename, config.Width, config.Height, nchannels, len(levels))

	return &imagingFile{
		path:   filename,
		specs:  [][]ImageSpec{levels},
		levels: make([]*image.NRGBA, len(levels)),
	}, nil
}

func channelsForColorModel(model color.Model) int {
	switch model {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.YCbCrModel, color.CMYKModel:
		return 3
	}
	return 4
}

type imagingFile struct {
	path   string
	specs  [][]ImageSpec
	levels []*image.NRGBA
	closed bool
	mutex  sync.Mutex // mutex to access levels and closed
}

func (file *imagingFile) GetSpecs() [][]ImageSpec {
	return file.specs
}

// getLevel decodes the base image or resizes the previous level
func (file *imagingFile) getLevel(miplevel int) (*image.NRGBA, error) {
	file.mutex.Lock()
	defer file.mutex.Unlock()

	if file.closed {
		return nil, commons.NewDecodeError(file.path, "file is closed")
	}

	if file.levels[miplevel] != nil {
		return file.levels[miplevel], nil
	}

	if file.levels[0] == nil {
		img, err := imaging.Open(file.path)
		if err != nil {
			return nil, commons.NewDecodeError(file.path, err.Error())
		}

		base := imaging.Clone(img)
		spec := &file.specs[0][0]
		if base.Bounds().Dx() != spec.Width || base.Bounds().Dy() != spec.Height {
			return nil, commons.NewDecodeError(file.path, fmt.Sprintf("decoded resolution %dx%d does not match header %dx%d", base.Bounds().Dx(), base.Bounds().Dy(), spec.Width, spec.Height))
		}

		file.levels[0] = base
	}

	for level := 1; level <= miplevel; level++ {
		if file.levels[level] == nil {
			spec := &file.specs[0][level]
			file.levels[level] = imaging.Resize(file.levels[level-1], spec.Width, spec.Height, imaging.Box)
		}
	}

	return file.levels[miplevel], nil
}

func (file *imagingFile) ReadTile(subimage int, miplevel int, tile ROI) ([]byte, error) {
	if subimage != 0 {
		return nil, commons.NewOutOfRangeErrorf(file.path, "subimage %d does not exist", subimage)
	}

	if miplevel < 0 || miplevel >= len(file.specs[0]) {
		return nil, commons.NewOutOfRangeErrorf(file.path, "miplevel %d does not exist", miplevel)
	}

	spec := &file.specs[0][miplevel]
	if tile.ChBegin < 0 || tile.ChEnd > spec.NChannels || tile.NChannels() <= 0 {
		return nil, commons.NewOutOfRangeErrorf(file.path, "channel range [%d,%d) is out of [0,%d)", tile.ChBegin, tile.ChEnd, spec.NChannels)
	}

	img, err := file.getLevel(miplevel)
	if err != nil {
		return nil, err
	}

	nchannels := tile.NChannels()
	buf := make([]byte, tile.NPixels()*nchannels)

	valid := tile.Intersect(spec.DataWindow())
	if valid.IsEmpty() {
		return buf, nil
	}

	// the data window holds a single depth slice at z = 0
	sliceOffset := -tile.ZBegin * tile.Height()
	for y := valid.YBegin; y < valid.YEnd; y++ {
		row := sliceOffset + y - tile.YBegin
		for x := valid.XBegin; x < valid.XEnd; x++ {
			srcOffset := img.PixOffset(x, y)
			dstOffset := (row*tile.Width() + x - tile.XBegin) * nchannels
			for c := 0; c < nchannels; c++ {
				buf[dstOffset+c] = img.Pix[srcOffset+nrgbaChannelIndex(spec.NChannels, tile.ChBegin+c)]
			}
		}
	}

	return buf, nil
}

// nrgbaChannelIndex maps a file channel to its component in an NRGBA pixel
func nrgbaChannelIndex(nchannels int, channel int) int {
	if nchannels == 1 {
		// gray, R == G == B
		return 0
	}
	return channel
}

func (file *imagingFile) Close() error {
	file.mutex.Lock()
	defer file.mutex.Unlock()

	file.closed = true
	for i := range file.levels {
		file.levels[i] = nil
	}
	return nil
}
