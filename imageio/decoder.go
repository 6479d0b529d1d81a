package imageio

// Decoder opens image files. It is the collaborator the tile cache reads pixels through.
type Decoder interface {
	// Open reads the header of the file. It returns a FileNotFoundError if the file does not
	// exist and a FormatError if the header cannot be parsed.
	Open(filename string) (ImageFile, error)
}

// ImageFile is an opened image file.
// ReadTile may be called concurrently and may be called after Close, in which case it fails.
type ImageFile interface {
	// GetSpecs returns specs indexed by subimage, then miplevel
	GetSpecs() [][]ImageSpec

	// ReadTile decodes the pixel box and channel range of tile in the native format of the
	// subimage/miplevel. The result holds tile.NPixels() * tile.NChannels() values, pixels
	// outside of the data window are zero. Failures are DecodeErrors.
	ReadTile(subimage int, miplevel int, tile ROI) ([]byte, error)

	Close() error
}
