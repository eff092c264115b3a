package scopebus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Siglent descriptor block layout offsets (§4.2.2).
const (
	siglentPreambleSize        = 363
	siglentDescriptorLenOffset = 36
	siglentDataLenOffset       = 60
)

// SiglentBlockHeader is the parsed preamble of a Siglent waveform
// descriptor block.
type SiglentBlockHeader struct {
	DescriptorLength int
	DataLength       int
	HeaderSize       int // offset at which sample bytes begin
}

// parseSiglentPreamble reads the fixed 363-byte preamble and derives the
// sample offset: block_header_size = descriptor_length + 15.
func parseSiglentPreamble(preamble []byte) (SiglentBlockHeader, error) {
	if len(preamble) < siglentPreambleSize {
		return SiglentBlockHeader{}, fmt.Errorf("%w: preamble is %d bytes, need %d", ErrBadHeader, len(preamble), siglentPreambleSize)
	}
	descLen := int(binary.LittleEndian.Uint32(preamble[siglentDescriptorLenOffset:]))
	dataLen := int(binary.LittleEndian.Uint32(preamble[siglentDataLenOffset:]))
	return SiglentBlockHeader{
		DescriptorLength: descLen,
		DataLength:       dataLen,
		HeaderSize:       descLen + 15,
	}, nil
}

// decodeSiglentBlock converts signed int8 sample codes to volts at scale
// vdiv/25, offset by vertOffset.
func decodeSiglentBlock(payload []byte, vdiv, vertOffset float64) []float32 {
	out := make([]float32, len(payload))
	scale := vdiv / 25
	for i, b := range payload {
		code := int8(b)
		out[i] = float32(float64(code)*scale - vertOffset)
	}
	return out
}

// siglentDigits returns the suggested decimal digit count for a Siglent
// SPO waveform, derived from log10(vdiv) per §6 External Interfaces.
func siglentDigits(vdiv float64) int {
	if vdiv <= 0 {
		return 2
	}
	d := int(math.Ceil(-math.Log10(vdiv)))
	if d < 0 {
		d = 0
	}
	return d
}
