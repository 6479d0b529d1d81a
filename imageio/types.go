package imageio

import (
	"strings"

	"github.com/cyverse/irodsfs-tilecache/commons"
)

// BaseType describes the element format of a pixel channel value
type BaseType int

const (
	Unknown BaseType = iota
	UInt8
	Int8
	UInt16
	Int16
	UInt32
	Int32
	Float
	Double
)

var baseTypeNames = map[BaseType]string{
	Unknown: "unknown",
	UInt8:   "uint8",
	Int8:    "int8",
	UInt16:  "uint16",
	Int16:   "int16",
	UInt32:  "uint32",
	Int32:   "int32",
	Float:   "float",
	Double:  "double",
}

// Size returns the size of one element in bytes
func (baseType BaseType) Size() int {
	switch baseType {
	case UInt8, Int8:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float:
		return 4
	case Double:
		return 8
	default:
		return 0
	}
}

// IsFloatingPoint returns true for float and double
func (baseType BaseType) IsFloatingPoint() bool {
	return baseType == Float || baseType == Double
}

// IsValid returns true for a known, sized element format
func (baseType BaseType) IsValid() bool {
	return baseType.Size() > 0
}

func (baseType BaseType) String() string {
	if name, ok := baseTypeNames[baseType]; ok {
		return name
	}
	return baseTypeNames[Unknown]
}

// ParseBaseType returns BaseType from its name, e.g., "uint8", "float"
func ParseBaseType(name string) (BaseType, error) {
	lname := strings.ToLower(strings.TrimSpace(name))
	switch lname {
	case "uint16", "ushort":
		return UInt16, nil
	case "int16", "short":
		return Int16, nil
	case "uint", "uint32":
		return UInt32, nil
	case "int", "int32":
		return Int32, nil
	case "half":
		return Unknown, commons.NewInvalidArgumentErrorf("pixel format %q is not supported", name)
	}

	for baseType, typeName := range baseTypeNames {
		if baseType != Unknown && typeName == lname {
			return baseType, nil
		}
	}

	return Unknown, commons.NewInvalidArgumentErrorf("unknown pixel format %q", name)
}
