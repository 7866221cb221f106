// Package bch implements the two systematic binary BCH encoders used by the
// Argos uplink frame builders: BCH(127,106,3) for the short packet and
// BCH(255,223,4) for the long packet. Both generator polynomials are the
// standard binary BCH generators for those code parameters (see generators
// below); encoding never shortens the parity — the output width is always
// exact.
package bch

import "fmt"

// Code identifies which of the two fixed BCH codes to use.
type Code int

const (
	// B127_106_3 produces 21 bits of parity over a 99-bit payload
	// (short packet: 127 total payload+parity bits).
	B127_106_3 Code = iota
	// B255_223_4 produces 32 bits of parity over a 216-bit payload
	// (long packet: 255 total payload+parity bits).
	B255_223_4
)

// generator holds the fixed generator polynomial for a code, expressed as
// the coefficients below the leading (implicit) x^parityBits term.
type generator struct {
	parityBits int
	taps       uint64 // generator polynomial with the leading 1 bit stripped
}

// Generator polynomials computed over GF(2^7) (primitive poly x^7+x+1)
// and GF(2^8) (primitive poly x^8+x^4+x^3+x^2+1) as the product of minimal
// polynomials of alpha^1..alpha^2t, the standard construction for a
// t-error-correcting binary BCH code. Values are fixed constants, not
// computed at runtime.
var generators = map[Code]generator{
	B127_106_3: {parityBits: 21, taps: 0x29301b &^ (1 << 21)},
	B255_223_4: {parityBits: 32, taps: 0x1ee5b42fd &^ (1 << 32)},
}

// ParityBits returns the fixed parity width for a code.
func ParityBits(c Code) int {
	return generators[c].parityBits
}

// Encode computes the systematic parity for payloadBits bits packed
// MSB-first starting at bit 0 of payload. It returns the parity as the low
// ParityBits(c) bits of the returned value. Encoding is deterministic: the
// same payload bits always yield the same parity.
func Encode(c Code, payload []byte, payloadBits int) (uint32, error) {
	g, ok := generators[c]
	if !ok {
		return 0, fmt.Errorf("bch: unknown code %d", c)
	}
	if payloadBits > len(payload)*8 {
		return 0, fmt.Errorf("bch: payloadBits %d exceeds buffer capacity %d bits", payloadBits, len(payload)*8)
	}

	var reg uint64
	mask := uint64(1)<<uint(g.parityBits) - 1

	for i := 0; i < payloadBits; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		inBit := (payload[byteIdx] >> uint(bitIdx)) & 1

		feedback := inBit ^ uint8((reg>>uint(g.parityBits-1))&1)
		reg = (reg << 1) & mask
		if feedback != 0 {
			reg ^= g.taps
		}
	}
	return uint32(reg), nil
}

// Verify divides the full payload+parity codeword by the generator and
// reports whether the remainder is zero, as required by the BCH property in
// the testable-properties section: appending the parity and re-dividing
// must yield remainder zero.
func Verify(c Code, codeword []byte, totalBits int) (bool, error) {
	g, ok := generators[c]
	if !ok {
		return false, fmt.Errorf("bch: unknown code %d", c)
	}
	if totalBits > len(codeword)*8 {
		return false, fmt.Errorf("bch: totalBits %d exceeds buffer capacity %d bits", totalBits, len(codeword)*8)
	}

	var reg uint64
	mask := uint64(1)<<uint(g.parityBits) - 1

	for i := 0; i < totalBits; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		inBit := (codeword[byteIdx] >> uint(bitIdx)) & 1

		feedback := inBit ^ uint8((reg>>uint(g.parityBits-1))&1)
		reg = (reg << 1) & mask
		if feedback != 0 {
			reg ^= g.taps
		}
	}
	return reg == 0, nil
}
