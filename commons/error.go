package commons

import (
	"errors"
	"fmt"
)

// FileNotFoundError contains file not found error information
type FileNotFoundError struct {
	Path string
}

// NewFileNotFoundError creates an error for file not found error
func NewFileNotFoundError(path string) error {
	return &FileNotFoundError{
		Path: path,
	}
}

// Error returns error message
func (err *FileNotFoundError) Error() string {
	return fmt.Sprintf("image file %q not found", err.Path)
}

// Is tests type of error
func (err *FileNotFoundError) Is(other error) bool {
	_, ok := other.(*FileNotFoundError)
	return ok
}

// ToString stringifies the object
func (err *FileNotFoundError) ToString() string {
	return "<FileNotFoundError>"
}

// IsFileNotFoundError evaluates if the given error is file not found error
func IsFileNotFoundError(err error) bool {
	return errors.Is(err, &FileNotFoundError{})
}

// FormatError contains format error information, a decoder rejected the file header
type FormatError struct {
	Path   string
	Reason string
}

// NewFormatError creates FormatError struct
func NewFormatError(path string, reason string) error {
	return &FormatError{
		Path:   path,
		Reason: reason,
	}
}

// Error returns error message
func (err *FormatError) Error() string {
	return fmt.Sprintf("failed to read header of image file %q: %s", err.Path, err.Reason)
}

// Is tests type of error
func (err *FormatError) Is(other error) bool {
	_, ok := other.(*FormatError)
	return ok
}

// ToString stringifies the object
func (err *FormatError) ToString() string {
	return "<FormatError>"
}

// IsFormatError evaluates if the given error is format error
func IsFormatError(err error) bool {
	return errors.Is(err, &FormatError{})
}

// OutOfRangeError contains out of range error information
type OutOfRangeError struct {
	Path   string
	Reason string
}

// NewOutOfRangeError creates OutOfRangeError struct
func NewOutOfRangeError(path string, reason string) error {
	return &OutOfRangeError{
		Path:   path,
		Reason: reason,
	}
}

// NewOutOfRangeErrorf creates OutOfRangeError struct with a formatted reason
func NewOutOfRangeErrorf(path string, format string, v ...interface{}) error {
	return &OutOfRangeError{
		Path:   path,
		Reason: fmt.Sprintf(format, v...),
	}
}

// Error returns error message
func (err *OutOfRangeError) Error() string {
	return fmt.Sprintf("request for image file %q is out of range: %s", err.Path, err.Reason)
}

// Is tests type of error
func (err *OutOfRangeError) Is(other error) bool {
	_, ok := other.(*OutOfRangeError)
	return ok
}

// ToString stringifies the object
func (err *OutOfRangeError) ToString() string {
	return "<OutOfRangeError>"
}

// IsOutOfRangeError evaluates if the given error is out of range error
func IsOutOfRangeError(err error) bool {
	return errors.Is(err, &OutOfRangeError{})
}

// DecodeError contains decode error information, a read failed after the header was accepted
type DecodeError struct {
	Path   string
	Reason string
}

// NewDecodeError creates DecodeError struct
func NewDecodeError(path string, reason string) error {
	return &DecodeError{
		Path:   path,
		Reason: reason,
	}
}

// Error returns error message
func (err *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode pixels of image file %q: %s", err.Path, err.Reason)
}

// Is tests type of error
func (err *DecodeError) Is(other error) bool {
	_, ok := other.(*DecodeError)
	return ok
}

// ToString stringifies the object
func (err *DecodeError) ToString() string {
	return "<DecodeError>"
}

// IsDecodeError evaluates if the given error is decode error
func IsDecodeError(err error) bool {
	return errors.Is(err, &DecodeError{})
}

// InvalidTileError contains invalid tile error information
type InvalidTileError struct {
	Reason string
}

// NewInvalidTileError creates InvalidTileError struct
func NewInvalidTileError(reason string) error {
	return &InvalidTileError{
		Reason: reason,
	}
}

// Error returns error message
func (err *InvalidTileError) Error() string {
	return fmt.Sprintf("invalid tile: %s", err.Reason)
}

// Is tests type of error
func (err *InvalidTileError) Is(other error) bool {
	_, ok := other.(*InvalidTileError)
	return ok
}

// ToString stringifies the object
func (err *InvalidTileError) ToString() string {
	return "<InvalidTileError>"
}

// IsInvalidTileError evaluates if the given error is invalid tile error
func IsInvalidTileError(err error) bool {
	return errors.Is(err, &InvalidTileError{})
}

// AttributeNotFoundError contains attribute not found error information
type AttributeNotFoundError struct {
	Name string
}

// NewAttributeNotFoundError creates AttributeNotFoundError struct
func NewAttributeNotFoundError(name string) error {
	return &AttributeNotFoundError{
		Name: name,
	}
}

// Error returns error message
func (err *AttributeNotFoundError) Error() string {
	return fmt.Sprintf("attribute %q not found", err.Name)
}

// Is tests type of error
func (err *AttributeNotFoundError) Is(other error) bool {
	_, ok := other.(*AttributeNotFoundError)
	return ok
}

// ToString stringifies the object
func (err *AttributeNotFoundError) ToString() string {
	return "<AttributeNotFoundError>"
}

// IsAttributeNotFoundError evaluates if the given error is attribute not found error
func IsAttributeNotFoundError(err error) bool {
	return errors.Is(err, &AttributeNotFoundError{})
}

// InvalidArgumentError contains invalid argument error information
type InvalidArgumentError struct {
	Reason string
}

// NewInvalidArgumentError creates InvalidArgumentError struct
func NewInvalidArgumentError(reason string) error {
	return &InvalidArgumentError{
		Reason: reason,
	}
}

// NewInvalidArgumentErrorf creates InvalidArgumentError struct with a formatted reason
func NewInvalidArgumentErrorf(format string, v ...interface{}) error {
	return &InvalidArgumentError{
		Reason: fmt.Sprintf(format, v...),
	}
}

// Error returns error message
func (err *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s", err.Reason)
}

// Is tests type of error
func (err *InvalidArgumentError) Is(other error) bool {
	_, ok := other.(*InvalidArgumentError)
	return ok
}

// ToString stringifies the object
func (err *InvalidArgumentError) ToString() string {
	return "<InvalidArgumentError>"
}

// IsInvalidArgumentError evaluates if the given error is invalid argument error
func IsInvalidArgumentError(err error) bool {
	return errors.Is(err, &InvalidArgumentError{})
}

// CacheReleasedError is returned when a released cache is used
type CacheReleasedError struct {
	InstanceID string
}

// NewCacheReleasedError creates CacheReleasedError struct
func NewCacheReleasedError(instanceID string) error {
	return &CacheReleasedError{
		InstanceID: instanceID,
	}
}

// Error returns error message
func (err *CacheReleasedError) Error() string {
	return fmt.Sprintf("image cache %q is already released", err.InstanceID)
}

// Is tests type of error
func (err *CacheReleasedError) Is(other error) bool {
	_, ok := other.(*CacheReleasedError)
	return ok
}

// ToString stringifies the object
func (err *CacheReleasedError) ToString() string {
	return "<CacheReleasedError>"
}

// IsCacheReleasedError evaluates if the given error is cache released error
func IsCacheReleasedError(err error) bool {
	return errors.Is(err, &CacheReleasedError{})
}
