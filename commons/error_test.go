package commons

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"
)

func TestErrorKinds(t *testing.T) {
	notFound := NewFileNotFoundError("a.img")
	assert.True(t, IsFileNotFoundError(notFound))
	assert.False(t, IsFormatError(notFound))
	assert.Contains(t, notFound.Error(), "a.img")

	format := NewFormatError("b.img", "bad magic")
	assert.True(t, IsFormatError(format))
	assert.Contains(t, format.Error(), "bad magic")

	outOfRange := NewOutOfRangeErrorf("c.img", "x %d..%d", 100000, 100010)
	assert.True(t, IsOutOfRangeError(outOfRange))
	assert.Contains(t, outOfRange.Error(), "100000")

	decode := NewDecodeError("d.img", "truncated")
	assert.True(t, IsDecodeError(decode))
	assert.False(t, IsOutOfRangeError(decode))

	assert.True(t, IsInvalidTileError(NewInvalidTileError("size mismatch")))
	assert.True(t, IsAttributeNotFoundError(NewAttributeNotFoundError("foo")))
	assert.True(t, IsInvalidArgumentError(NewInvalidArgumentErrorf("bad %s", "buffer")))
	assert.True(t, IsCacheReleasedError(NewCacheReleasedError("x")))
}

func TestErrorKindsThroughWrapping(t *testing.T) {
	err := xerrors.Errorf("failed to get pixels: %w", NewOutOfRangeError("c.img", "region"))
	assert.True(t, IsOutOfRangeError(err))
	assert.False(t, IsDecodeError(err))

	var outOfRange *OutOfRangeError
	assert.ErrorAs(t, err, &outOfRange)
	assert.Equal(t, "c.img", outOfRange.Path)
}
