package imageio

import (
	"encoding/binary"
	"math"

	"github.com/cyverse/irodsfs-tilecache/commons"
)

// Pixel buffers are little-endian.

// ConvertValues converts count channel values from src (srcFormat) into dst (dstFormat).
// Integer values are normalized to [0, 1] ([-1, 1] when signed) when crossing to or from
// floating point, and clamped when narrowing.
func ConvertValues(dst []byte, dstFormat BaseType, src []byte, srcFormat BaseType, count int) error {
	if !dstFormat.IsValid() || !srcFormat.IsValid() {
		return commons.NewInvalidArgumentErrorf("cannot convert %s values to %s", srcFormat, dstFormat)
	}

	srcSize := srcFormat.Size()
	dstSize := dstFormat.Size()

	if len(src) < count*srcSize {
		return commons.NewInvalidArgumentErrorf("source buffer holds %d bytes, %d required", len(src), count*srcSize)
	}

	if len(dst) < count*dstSize {
		return commons.NewInvalidArgumentErrorf("destination buffer holds %d bytes, %d required", len(dst), count*dstSize)
	}

	if srcFormat == dstFormat {
		copy(dst[:count*dstSize], src[:count*srcSize])
		return nil
	}

	for i := 0; i < count; i++ {
		value := readNormalized(src[i*srcSize:], srcFormat)
		writeNormalized(dst[i*dstSize:], dstFormat, value)
	}

	return nil
}

func readNormalized(buf []byte, format BaseType) float64 {
	switch format {
	case UInt8:
		return float64(buf[0]) / math.MaxUint8
	case Int8:
		return math.Max(float64(int8(buf[0]))/math.MaxInt8, -1)
	case UInt16:
		return float64(binary.LittleEndian.Uint16(buf)) / math.MaxUint16
	case Int16:
		return math.Max(float64(int16(binary.LittleEndian.Uint16(buf)))/math.MaxInt16, -1)
	case UInt32:
		return float64(binary.LittleEndian.Uint32(buf)) / math.MaxUint32
	case Int32:
		return math.Max(float64(int32(binary.LittleEndian.Uint32(buf)))/math.MaxInt32, -1)
	case Float:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case Double:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	}
	return 0
}

func quantize(value float64, minValue float64, maxValue float64) float64 {
	scaled := math.Round(value * maxValue)
	if scaled < minValue {
		return minValue
	}
	if scaled > maxValue {
		return maxValue
	}
	return scaled
}

func writeNormalized(buf []byte, format BaseType, value float64) {
	switch format {
	case UInt8:
		buf[0] = uint8(quantize(value, 0, math.MaxUint8))
	case Int8:
		buf[0] = uint8(int8(quantize(value, -math.MaxInt8, math.MaxInt8)))
	case UInt16:
		binary.LittleEndian.PutUint16(buf, uint16(quantize(value, 0, math.MaxUint16)))
	case Int16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(quantize(value, -math.MaxInt16, math.MaxInt16))))
	case UInt32:
		binary.LittleEndian.PutUint32(buf, uint32(quantize(value, 0, math.MaxUint32)))
	case Int32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(quantize(value, -math.MaxInt32, math.MaxInt32))))
	case Float:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(value)))
	case Double:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(value))
	}
}
