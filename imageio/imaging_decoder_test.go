package imageio

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyverse/irodsfs-tilecache/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRampPNG writes an RGBA image where R = x, G = y, B = x + y and A = 255
func writeRampPNG(t *testing.T, dir string, name string, width int, height int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, png.Encode(f, img))
	return path
}

func writeGrayPNG(t *testing.T, dir string, name string, width int, height int) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 4)})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, png.Encode(f, img))
	return path
}

func TestImagingDecoderOpen(t *testing.T) {
	path := writeRampPNG(t, t.TempDir(), "ramp.png", 40, 24)

	decoder := NewImagingDecoder(false)
	file, err := decoder.Open(path)
	require.NoError(t, err)
	defer file.Close()

	specs := file.GetSpecs()
	require.Len(t, specs, 1)
	require.Len(t, specs[0], 1)

	spec := specs[0][0]
	assert.Equal(t, 40, spec.Width)
	assert.Equal(t, 24, spec.Height)
	assert.Equal(t, 4, spec.NChannels)
	assert.Equal(t, UInt8, spec.Format)
	assert.False(t, spec.IsTiled())
	assert.Equal(t, "png", spec.Attributes["fileformat"])
}

func TestImagingDecoderReadTile(t *testing.T) {
	path := writeRampPNG(t, t.TempDir(), "ramp.png", 40, 24)

	file, err := NewImagingDecoder(false).Open(path)
	require.NoError(t, err)
	defer file.Close()

	// tile hanging over the right edge, channels G and B only
	tile := NewROI2D(32, 48, 16, 32, 1, 3)
	buf, err := file.ReadTile(0, 0, tile)
	require.NoError(t, err)
	require.Len(t, buf, 16*16*2)

	// pixel (33, 17)
	offset := ((17-16)*16 + (33 - 32)) * 2
	assert.Equal(t, uint8(17), buf[offset])
	assert.Equal(t, uint8(50), buf[offset+1])

	// pixel (45, 17) is outside of the data window
	offset = ((17-16)*16 + (45 - 32)) * 2
	assert.Equal(t, uint8(0), buf[offset])
	assert.Equal(t, uint8(0), buf[offset+1])
}

func TestImagingDecoderGray(t *testing.T) {
	path := writeGrayPNG(t, t.TempDir(), "gray.png", 16, 4)

	file, err := NewImagingDecoder(false).Open(path)
	require.NoError(t, err)
	defer file.Close()

	spec := file.GetSpecs()[0][0]
	assert.Equal(t, 1, spec.NChannels)
	assert.Equal(t, []string{"Y"}, spec.ChannelNames)

	buf, err := file.ReadTile(0, 0, NewROI2D(0, 16, 0, 4, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, uint8(12), buf[3])
}

func TestImagingDecoderAutoMip(t *testing.T) {
	path := writeRampPNG(t, t.TempDir(), "ramp.png", 16, 8)

	file, err := NewImagingDecoder(true).Open(path)
	require.NoError(t, err)
	defer file.Close()

	levels := file.GetSpecs()[0]
	require.Len(t, levels, 5)
	assert.Equal(t, 8, levels[1].Width)
	assert.Equal(t, 4, levels[1].Height)
	assert.Equal(t, 1, levels[4].Width)
	assert.Equal(t, 1, levels[4].Height)

	buf, err := file.ReadTile(0, 4, NewROI2D(0, 1, 0, 1, 0, 4))
	require.NoError(t, err)
	assert.Len(t, buf, 4)
	assert.Equal(t, uint8(255), buf[3])

	_, err = file.ReadTile(0, 5, NewROI2D(0, 1, 0, 1, 0, 4))
	assert.True(t, commons.IsOutOfRangeError(err))
}

func TestImagingDecoderErrors(t *testing.T) {
	dir := t.TempDir()
	decoder := NewImagingDecoder(false)

	_, err := decoder.Open(filepath.Join(dir, "missing.png"))
	assert.True(t, commons.IsFileNotFoundError(err))

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))

	_, err = decoder.Open(garbage)
	assert.True(t, commons.IsFormatError(err))
}

func TestImagingDecoderReadAfterClose(t *testing.T) {
	path := writeRampPNG(t, t.TempDir(), "ramp.png", 8, 8)

	file, err := NewImagingDecoder(false).Open(path)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	_, err = file.ReadTile(0, 0, NewROI2D(0, 8, 0, 8, 0, 4))
	assert.True(t, commons.IsDecodeError(err))
}
