package bitpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackBitsAcrossByteBoundary(t *testing.T) {
	buf := make([]byte, 4)
	offset := 0
	PackBits(buf, &offset, 0b101, 3)
	PackBits(buf, &offset, 0b11111111, 8)
	PackBits(buf, &offset, 0b1, 1)
	assert.Equal(t, 12, offset)
	assert.Equal(t, uint32(0b101), GetBits(buf, 0, 3))
	assert.Equal(t, uint32(0xFF), GetBits(buf, 3, 8))
	assert.Equal(t, uint32(1), GetBits(buf, 11, 1))
}

func TestWriterSequentialFields(t *testing.T) {
	w := NewWriter(4)
	require.NoError(t, w.Pack(0xFFC2F, 20))
	require.NoError(t, w.Pack(0x3, 4))
	require.NoError(t, w.Pack(0x0, 8))
	assert.Equal(t, 32, w.Offset())
}

func TestPackRejectsOverflow(t *testing.T) {
	w := NewWriter(1)
	require.NoError(t, w.Pack(0xFF, 8))
	err := w.Pack(1, 1)
	assert.Error(t, err)
}

func TestPackRejectsBadWidth(t *testing.T) {
	w := NewWriter(4)
	assert.Error(t, w.Pack(0, 0))
	assert.Error(t, w.Pack(0, 33))
}

func TestPackMSBFirstMatchesKnownByte(t *testing.T) {
	// 0x11 packed as 8 bits should occupy byte 0 verbatim.
	buf := make([]byte, 1)
	offset := 0
	PackBits(buf, &offset, 0x11, 8)
	assert.Equal(t, byte(0x11), buf[0])
}
