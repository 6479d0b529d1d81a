package imageio

import (
	"fmt"
	"math"

	"github.com/cyverse/irodsfs-tilecache/utils"
)

// ROI is a region of interest, a pixel box plus a channel range. End values are exclusive.
type ROI struct {
	XBegin  int
	XEnd    int
	YBegin  int
	YEnd    int
	ZBegin  int
	ZEnd    int
	ChBegin int
	ChEnd   int
}

// ROIAll returns an undefined ROI, meaning the whole image and all channels
func ROIAll() ROI {
	return ROI{
		XBegin: math.MinInt32,
	}
}

// NewROI creates a 3D ROI
func NewROI(xbegin int, xend int, ybegin int, yend int, zbegin int, zend int, chbegin int, chend int) ROI {
	return ROI{
		XBegin:  xbegin,
		XEnd:    xend,
		YBegin:  ybegin,
		YEnd:    yend,
		ZBegin:  zbegin,
		ZEnd:    zend,
		ChBegin: chbegin,
		ChEnd:   chend,
	}
}

// NewROI2D creates a ROI on the first depth slice
func NewROI2D(xbegin int, xend int, ybegin int, yend int, chbegin int, chend int) ROI {
	return NewROI(xbegin, xend, ybegin, yend, 0, 1, chbegin, chend)
}

// Defined returns false for ROIAll
func (roi ROI) Defined() bool {
	return roi.XBegin != math.MinInt32
}

func (roi ROI) Width() int {
	return roi.XEnd - roi.XBegin
}

func (roi ROI) Height() int {
	return roi.YEnd - roi.YBegin
}

func (roi ROI) Depth() int {
	return roi.ZEnd - roi.ZBegin
}

func (roi ROI) NChannels() int {
	return roi.ChEnd - roi.ChBegin
}

// NPixels returns the number of pixels, zero for an empty box
func (roi ROI) NPixels() int {
	if roi.Width() <= 0 || roi.Height() <= 0 || roi.Depth() <= 0 {
		return 0
	}
	return roi.Width() * roi.Height() * roi.Depth()
}

// IsEmpty tests if the region covers no pixel or no channel
func (roi ROI) IsEmpty() bool {
	return roi.NPixels() == 0 || roi.NChannels() <= 0
}

// ContainsBox tests if the pixel box of other lies within this ROI's pixel box
func (roi ROI) ContainsBox(other ROI) bool {
	return other.XBegin >= roi.XBegin && other.XEnd <= roi.XEnd &&
		other.YBegin >= roi.YBegin && other.YEnd <= roi.YEnd &&
		other.ZBegin >= roi.ZBegin && other.ZEnd <= roi.ZEnd
}

// Intersect returns the intersection of the pixel boxes, keeping this ROI's channel range
func (roi ROI) Intersect(other ROI) ROI {
	return ROI{
		XBegin:  utils.MaxInt(roi.XBegin, other.XBegin),
		XEnd:    utils.MinInt(roi.XEnd, other.XEnd),
		YBegin:  utils.MaxInt(roi.YBegin, other.YBegin),
		YEnd:    utils.MinInt(roi.YEnd, other.YEnd),
		ZBegin:  utils.MaxInt(roi.ZBegin, other.ZBegin),
		ZEnd:    utils.MinInt(roi.ZEnd, other.ZEnd),
		ChBegin: roi.ChBegin,
		ChEnd:   roi.ChEnd,
	}
}

func (roi ROI) String() string {
	if !roi.Defined() {
		return "<all>"
	}
	return fmt.Sprintf("x[%d,%d) y[%d,%d) z[%d,%d) ch[%d,%d)", roi.XBegin, roi.XEnd, roi.YBegin, roi.YEnd, roi.ZBegin, roi.ZEnd, roi.ChBegin, roi.ChEnd)
}

// ImageSpec describes one subimage/miplevel of an image file
type ImageSpec struct {
	// data window
	X      int
	Y      int
	Z      int
	Width  int
	Height int
	Depth  int

	// display window
	FullX      int
	FullY      int
	FullZ      int
	FullWidth  int
	FullHeight int
	FullDepth  int

	// 0 for untiled images
	TileWidth  int
	TileHeight int
	TileDepth  int

	NChannels    int
	Format       BaseType
	ChannelNames []string
	AlphaChannel int
	ZChannel     int

	Attributes map[string]interface{}
}

// NewImageSpec creates a 2D untiled ImageSpec with default channel names
func NewImageSpec(width int, height int, nchannels int, format BaseType) ImageSpec {
	spec := ImageSpec{
		Width:        width,
		Height:       height,
		Depth:        1,
		FullWidth:    width,
		FullHeight:   height,
		FullDepth:    1,
		NChannels:    nchannels,
		Format:       format,
		AlphaChannel: -1,
		ZChannel:     -1,
		Attributes:   map[string]interface{}{},
	}

	spec.ChannelNames = defaultChannelNames(nchannels)
	if nchannels >= 4 {
		spec.AlphaChannel = 3
	}

	return spec
}

func defaultChannelNames(nchannels int) []string {
	switch nchannels {
	case 1:
		return []string{"Y"}
	case 2:
		return []string{"Y", "A"}
	}

	names := make([]string, nchannels)
	rgba := []string{"R", "G", "B", "A"}
	for i := 0; i < nchannels; i++ {
		if i < len(rgba) {
			names[i] = rgba[i]
		} else {
			names[i] = fmt.Sprintf("channel%d", i)
		}
	}
	return names
}

// IsTiled returns true if the file stores pixels in tiles
func (spec *ImageSpec) IsTiled() bool {
	return spec.TileWidth > 0 && spec.TileHeight > 0
}

// PixelBytes returns the size of one pixel with all channels
func (spec *ImageSpec) PixelBytes() int {
	return spec.NChannels * spec.Format.Size()
}

// TileBytes returns the size of one native tile with all channels
func (spec *ImageSpec) TileBytes() int {
	return spec.TileWidth * spec.TileHeight * utils.MaxInt(spec.TileDepth, 1) * spec.PixelBytes()
}

// DataWindow returns the pixel data window with all channels
func (spec *ImageSpec) DataWindow() ROI {
	return NewROI(spec.X, spec.X+spec.Width, spec.Y, spec.Y+spec.Height, spec.Z, spec.Z+utils.MaxInt(spec.Depth, 1), 0, spec.NChannels)
}

// DisplayWindow returns the full (display) window with all channels
func (spec *ImageSpec) DisplayWindow() ROI {
	return NewROI(spec.FullX, spec.FullX+spec.FullWidth, spec.FullY, spec.FullY+spec.FullHeight, spec.FullZ, spec.FullZ+utils.MaxInt(spec.FullDepth, 1), 0, spec.NChannels)
}

// GetAttribute returns a named metadata attribute
func (spec *ImageSpec) GetAttribute(name string) (interface{}, bool) {
	if spec.Attributes == nil {
		return nil, false
	}
	value, ok := spec.Attributes[name]
	return value, ok
}

// Copy returns a deep copy of the spec
func (spec *ImageSpec) Copy() ImageSpec {
	copied := *spec

	copied.ChannelNames = make([]string, len(spec.ChannelNames))
	copy(copied.ChannelNames, spec.ChannelNames)

	copied.Attributes = make(map[string]interface{}, len(spec.Attributes))
	for key, value := range spec.Attributes {
		copied.Attributes[key] = value
	}

	return copied
}

// Equal compares geometry, format and channel layout; attributes are ignored
func (spec *ImageSpec) Equal(other *ImageSpec) bool {
	if spec.DataWindow() != other.DataWindow() || spec.DisplayWindow() != other.DisplayWindow() {
		return false
	}

	if spec.TileWidth != other.TileWidth || spec.TileHeight != other.TileHeight || spec.TileDepth != other.TileDepth {
		return false
	}

	if spec.Format != other.Format || len(spec.ChannelNames) != len(other.ChannelNames) {
		return false
	}

	for i := range spec.ChannelNames {
		if spec.ChannelNames[i] != other.ChannelNames[i] {
			return false
		}
	}

	return spec.AlphaChannel == other.AlphaChannel && spec.ZChannel == other.ZChannel
}
