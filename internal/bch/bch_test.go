package bch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIsDeterministic(t *testing.T) {
	payload := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x70, 0, 0, 0, 0, 0, 0}

	p1, err := Encode(B127_106_3, payload, 99)
	require.NoError(t, err)
	p2, err := Encode(B127_106_3, payload, 99)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestEncodeDiffersForDifferentPayloads(t *testing.T) {
	a := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x70, 0, 0, 0, 0, 0, 0}
	b := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x71, 0, 0, 0, 0, 0, 0}

	pa, err := Encode(B127_106_3, a, 99)
	require.NoError(t, err)
	pb, err := Encode(B127_106_3, b, 99)
	require.NoError(t, err)
	assert.NotEqual(t, pa, pb)
}

func TestParityBitsMatchesCode(t *testing.T) {
	assert.Equal(t, 21, ParityBits(B127_106_3))
	assert.Equal(t, 32, ParityBits(B255_223_4))
}

func TestEncodeThenVerifyZeroRemainder(t *testing.T) {
	tests := []struct {
		name        string
		code        Code
		payload     []byte
		payloadBits int
	}{
		{"short all zero", B127_106_3, make([]byte, 13), 99},
		{"short mixed", B127_106_3, []byte{0xFF, 0x00, 0xAB, 0xCD, 0x12, 0x34, 0x50, 0, 0, 0, 0, 0, 0}, 99},
		{"long all zero", B255_223_4, make([]byte, 27), 216},
		{"long mixed", B255_223_4, []byte{
			0xFF, 0x00, 0xAB, 0xCD, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC,
			0xDE, 0xF0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
			0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x00,
		}, 216},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parity, err := Encode(tt.code, tt.payload, tt.payloadBits)
			require.NoError(t, err)

			parityBits := ParityBits(tt.code)
			totalBits := tt.payloadBits + parityBits
			codeword := make([]byte, (totalBits+7)/8)
			copy(codeword, tt.payload)
			appendBits(codeword, tt.payloadBits, parity, parityBits)

			ok, err := Verify(tt.code, codeword, totalBits)
			require.NoError(t, err)
			assert.True(t, ok, "expected zero remainder after appending parity")
		})
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	payload := make([]byte, 13)
	payload[3] = 0xAB
	parity, err := Encode(B127_106_3, payload, 99)
	require.NoError(t, err)

	totalBits := 99 + ParityBits(B127_106_3)
	codeword := make([]byte, (totalBits+7)/8)
	copy(codeword, payload)
	appendBits(codeword, 99, parity, ParityBits(B127_106_3))

	codeword[0] ^= 0x80 // flip the leading payload bit

	ok, err := Verify(B127_106_3, codeword, totalBits)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncodeRejectsUnknownCode(t *testing.T) {
	_, err := Encode(Code(99), make([]byte, 16), 99)
	assert.Error(t, err)
}

func TestEncodeRejectsPayloadBitsBeyondBuffer(t *testing.T) {
	_, err := Encode(B127_106_3, make([]byte, 2), 99)
	assert.Error(t, err)
}

// appendBits writes the low nbits of value into dst MSB-first, starting at
// bit offset startBit.
func appendBits(dst []byte, startBit int, value uint32, nbits int) {
	for i := 0; i < nbits; i++ {
		bit := (value >> uint(nbits-1-i)) & 1
		pos := startBit + i
		byteIdx := pos / 8
		bitIdx := 7 - (pos % 8)
		if bit != 0 {
			dst[byteIdx] |= 1 << uint(bitIdx)
		}
	}
}
