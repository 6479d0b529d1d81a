package cache

import (
	"github.com/cyverse/irodsfs-tilecache/imageio"
	"github.com/cyverse/irodsfs-tilecache/utils"
)

// tileLayout is the tile grid the cache uses for one subimage/miplevel
type tileLayout struct {
	spec   *imageio.ImageSpec
	width  int
	height int
	depth  int

	xGrid *utils.TileGridHelper
	yGrid *utils.TileGridHelper
	zGrid *utils.TileGridHelper
}

// newTileLayout uses native tiles of tiled files. Untiled files are split into
// autoTile x autoTile tiles, or cached as a single tile if autoTile is 0.
func newTileLayout(spec *imageio.ImageSpec, autoTile int) *tileLayout {
	width := spec.Width
	height := spec.Height
	depth := utils.MaxInt(spec.Depth, 1)

	if spec.IsTiled() {
		width = spec.TileWidth
		height = spec.TileHeight
		depth = utils.MaxInt(spec.TileDepth, 1)
	} else if autoTile > 0 {
		width = autoTile
		height = autoTile
		depth = 1
	}

	return &tileLayout{
		spec:   spec,
		width:  width,
		height: height,
		depth:  depth,
		xGrid:  utils.NewTileGridHelper(spec.X, width),
		yGrid:  utils.NewTileGridHelper(spec.Y, height),
		zGrid:  utils.NewTileGridHelper(spec.Z, depth),
	}
}

// containsPixel tests if the pixel lies within the data window
func (layout *tileLayout) containsPixel(x int, y int, z int) bool {
	return layout.spec.DataWindow().ContainsBox(imageio.NewROI(x, x+1, y, y+1, z, z+1, 0, 0))
}

// isTileOrigin tests if the coordinates are the origin of a tile on the grid
func (layout *tileLayout) isTileOrigin(x int, y int, z int) bool {
	if !layout.containsPixel(x, y, z) {
		return false
	}

	return layout.xGrid.IsTileStart(x) && layout.yGrid.IsTileStart(y) && layout.zGrid.IsTileStart(z)
}

// getTileOrigin rounds the pixel coordinates down to the origin of their tile
func (layout *tileLayout) getTileOrigin(x int, y int, z int) (int, int, int) {
	return layout.xGrid.GetTileStartForCoordinate(x), layout.yGrid.GetTileStartForCoordinate(y), layout.zGrid.GetTileStartForCoordinate(z)
}

// getTileROI returns the full tile box at the origin, it may extend past the data window
func (layout *tileLayout) getTileROI(x int, y int, z int, chbegin int, chend int) imageio.ROI {
	return imageio.NewROI(x, x+layout.width, y, y+layout.height, z, z+layout.depth, chbegin, chend)
}

func (layout *tileLayout) isValidChannelRange(chbegin int, chend int) bool {
	return chbegin >= 0 && chend <= layout.spec.NChannels && chbegin < chend
}
