package scopebus

import (
	"bufio"
	"fmt"
	"strconv"
)

// readBlock488 parses an IEEE-488.2 "definite-length arbitrary block"
// response: '#' NDDDDDDDD, where N (a single ASCII digit 1-9) gives the
// count of decimal digits that follow, and those digits give the payload
// byte count. Payload is raw bytes followed by a trailing linefeed.
//
// It fails with ErrBadHeader if the first byte isn't '#', the length
// digit is '0' or non-numeric, or the stated length exceeds maxLen.
func readBlock488(r *bufio.Reader, maxLen int) ([]byte, error) {
	hash, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if hash != '#' {
		return nil, fmt.Errorf("%w: expected '#', got %q", ErrBadHeader, hash)
	}

	nDigit, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if nDigit < '1' || nDigit > '9' {
		return nil, fmt.Errorf("%w: digit count %q out of range 1-9", ErrBadHeader, nDigit)
	}
	numDigits := int(nDigit - '0')

	digits := make([]byte, numDigits)
	if _, err := readFull(r, digits); err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("%w: length digits %q: %v", ErrBadHeader, digits, err)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: zero-length block", ErrBadHeader)
	}
	if length > maxLen {
		return nil, fmt.Errorf("%w: block length %d exceeds cap %d", ErrBadHeader, length, maxLen)
	}

	payload := make([]byte, length)
	if _, err := readFull(r, payload); err != nil {
		return nil, err
	}
	// Trailing linefeed.
	if _, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return payload, nil
}

// discardShortBlock implements the DS2000 slow-timebase recovery policy
// for a block whose header overstates its own payload: the firmware
// declares N bytes but the line ends after fewer. readBlock488 already
// discards the common case (an honestly-short block whose length is
// merely less than the model's frame size) by reading exactly the
// declared length and letting the caller compare it against FrameSize;
// this helper is the codec-level primitive for the rarer case where the
// declared length itself doesn't hold, exercised directly by its own
// test. Policy is to discard length+1 bytes (including the trailing LF)
// and await the next header.
func discardShortBlock(r *bufio.Reader, length int) error {
	discard := length + 1
	buf := make([]byte, discard)
	_, err := readFull(r, buf)
	return err
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if m == 0 {
			return n, ErrShortRead
		}
	}
	return n, nil
}

// ieee4882Decode converts a single raw sample byte to volts for an
// IEEE-488.2 scope: volts = (b - vref) * (vdiv/25.6) - vertOffset.
func ieee4882Decode(b byte, vref int, vdiv, vertOffset float64) float32 {
	return float32((float64(int(b)-vref))*(vdiv/25.6) - vertOffset)
}

// legacyDecode converts a single raw sample byte to volts for a
// legacy-raw scope: volts = (128 - b) * (vdiv/25.6) - vertOffset.
func legacyDecode(b byte, vdiv, vertOffset float64) float32 {
	return float32((float64(128-int(b)))*(vdiv/25.6) - vertOffset)
}

// decodeAnalogBlock applies the per-sample transformation to a raw
// payload for the given protocol flavor.
func decodeAnalogBlock(flavor ProtocolFlavor, payload []byte, vref int, vdiv, vertOffset float64) []float32 {
	out := make([]float32, len(payload))
	for i, b := range payload {
		switch flavor {
		case FlavorIEEE4882:
			out[i] = ieee4882Decode(b, vref, vdiv, vertOffset)
		default:
			out[i] = legacyDecode(b, vdiv, vertOffset)
		}
	}
	return out
}
