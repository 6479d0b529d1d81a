package utils

// TileGridHelper maps pixel coordinates on one axis to tile indices.
// Tiles start at Origin and are TileSize pixels wide.
type TileGridHelper struct {
	Origin   int
	TileSize int
}

func NewTileGridHelper(origin int, tileSize int) *TileGridHelper {
	if tileSize <= 0 {
		tileSize = 1
	}

	return &TileGridHelper{
		Origin:   origin,
		TileSize: tileSize,
	}
}

// GetTileIDForCoordinate returns tile index
func (helper *TileGridHelper) GetTileIDForCoordinate(coord int) int {
	return FloorDiv(coord-helper.Origin, helper.TileSize)
}

// GetTileStartForTileID returns the first coordinate covered by the tile
func (helper *TileGridHelper) GetTileStartForTileID(tileID int) int {
	return helper.Origin + tileID*helper.TileSize
}

// GetTileStartForCoordinate rounds the coordinate down to its tile start
func (helper *TileGridHelper) GetTileStartForCoordinate(coord int) int {
	return helper.GetTileStartForTileID(helper.GetTileIDForCoordinate(coord))
}

// IsTileStart tests if the coordinate is aligned to a tile start
func (helper *TileGridHelper) IsTileStart(coord int) bool {
	return helper.GetTileStartForCoordinate(coord) == coord
}

// GetInTileOffsetAndLength returns in-tile offset and in-tile length
func (helper *TileGridHelper) GetInTileOffsetAndLength(coord int, length int) (int, int) {
	tileStart := helper.GetTileStartForCoordinate(coord)
	inTileOffset := coord - tileStart
	inTileLength := length
	if inTileLength > (helper.TileSize - inTileOffset) {
		inTileLength = helper.TileSize - inTileOffset
	}

	return inTileOffset, inTileLength
}

// GetFirstAndLastTileIDForRange returns first and last tile id for range [begin, end)
func (helper *TileGridHelper) GetFirstAndLastTileIDForRange(begin int, end int) (int, int) {
	first := helper.GetTileIDForCoordinate(begin)
	last := helper.GetTileIDForCoordinate(end - 1)
	if last < first {
		last = first
	}
	return first, last
}

// GetTileCount returns the number of tiles needed to cover length pixels from the origin
func (helper *TileGridHelper) GetTileCount(length int) int {
	return CeilDiv(length, helper.TileSize)
}
