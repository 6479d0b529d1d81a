package imageio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestROI(t *testing.T) {
	roi := NewROI2D(10, 20, 0, 5, 0, 3)

	assert.True(t, roi.Defined())
	assert.Equal(t, 10, roi.Width())
	assert.Equal(t, 5, roi.Height())
	assert.Equal(t, 1, roi.Depth())
	assert.Equal(t, 3, roi.NChannels())
	assert.Equal(t, 50, roi.NPixels())
	assert.False(t, roi.IsEmpty())

	assert.False(t, ROIAll().Defined())
	assert.Equal(t, "<all>", ROIAll().String())
}

func TestROIIntersect(t *testing.T) {
	window := NewROI2D(0, 64, 0, 64, 0, 4)
	tile := NewROI2D(48, 80, 48, 80, 0, 4)

	valid := tile.Intersect(window)
	assert.Equal(t, NewROI2D(48, 64, 48, 64, 0, 4), valid)

	outside := NewROI2D(100000, 100010, 0, 1, 0, 4)
	assert.True(t, outside.Intersect(window).IsEmpty())
	assert.False(t, window.ContainsBox(outside))
	assert.True(t, window.ContainsBox(valid))
}

func TestImageSpec(t *testing.T) {
	spec := NewImageSpec(64, 32, 4, UInt8)

	assert.False(t, spec.IsTiled())
	assert.Equal(t, 4, spec.PixelBytes())
	assert.Equal(t, []string{"R", "G", "B", "A"}, spec.ChannelNames)
	assert.Equal(t, 3, spec.AlphaChannel)
	assert.Equal(t, NewROI(0, 64, 0, 32, 0, 1, 0, 4), spec.DataWindow())

	spec.TileWidth = 16
	spec.TileHeight = 16
	spec.TileDepth = 1
	assert.True(t, spec.IsTiled())
	assert.Equal(t, 16*16*4, spec.TileBytes())

	gray := NewImageSpec(8, 8, 1, Float)
	assert.Equal(t, []string{"Y"}, gray.ChannelNames)
	assert.Equal(t, -1, gray.AlphaChannel)
}

func TestImageSpecCopy(t *testing.T) {
	spec := NewImageSpec(8, 8, 3, UInt16)
	spec.Attributes["fileformat"] = "png"

	copied := spec.Copy()
	copied.ChannelNames[0] = "X"
	copied.Attributes["fileformat"] = "tiff"

	assert.Equal(t, "R", spec.ChannelNames[0])
	assert.Equal(t, "png", spec.Attributes["fileformat"])
	assert.False(t, spec.Equal(&copied))

	again := spec.Copy()
	assert.True(t, spec.Equal(&again))
}
