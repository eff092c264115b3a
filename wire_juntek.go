package scopebus

import (
	"fmt"
	"strconv"
	"strings"
)

// Juntek textual protocol (§4.2.4): ":" insn digit{2} "=" value
// {"," value} "."? EOL, where insn in {w,r,a,b}.
type juntekInsn byte

const (
	insnWrite    juntekInsn = 'w'
	insnRead     juntekInsn = 'r'
	insnWaveform juntekInsn = 'a'
	insnSpecial  juntekInsn = 'b'
)

// juntekRequest formats a request line. index is always rendered as two
// digits and a trailing '.' is appended; the line terminator is left to
// the transport's Send.
func juntekRequest(insn juntekInsn, index int, values ...string) string {
	var b strings.Builder
	b.WriteByte(':')
	b.WriteByte(byte(insn))
	fmt.Fprintf(&b, "%02d", index)
	if len(values) > 0 {
		b.WriteByte('=')
		b.WriteString(strings.Join(values, ","))
	}
	b.WriteByte('.')
	return b.String()
}

// JuntekResponse is a parsed reply line.
type JuntekResponse struct {
	Insn   juntekInsn
	Index  int
	Values []string
	OK     bool // true for the shortened ":ok" write acknowledgement
}

// parseJuntekResponse tolerates a trailing <CR><LF> or bare <LF>, and the
// shortened ":ok" write-response form.
func parseJuntekResponse(line string) (JuntekResponse, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimSuffix(line, ".")
	if !strings.HasPrefix(line, ":") {
		return JuntekResponse{}, fmt.Errorf("%w: response %q missing ':'", ErrBadFormat, line)
	}
	body := line[1:]
	if body == "ok" {
		return JuntekResponse{OK: true}, nil
	}
	if len(body) < 3 {
		return JuntekResponse{}, fmt.Errorf("%w: response %q too short", ErrBadFormat, line)
	}
	insn := juntekInsn(body[0])
	idx, err := strconv.Atoi(body[1:3])
	if err != nil {
		return JuntekResponse{}, fmt.Errorf("%w: response %q bad index: %v", ErrBadFormat, line, err)
	}
	rest := body[3:]
	var values []string
	if strings.HasPrefix(rest, "=") {
		values = strings.Split(rest[1:], ",")
	}
	return JuntekResponse{Insn: insn, Index: idx, Values: values}, nil
}

// matchesRequest rejects responses whose opcode or index does not match
// what was requested, per §4.2.4.
func (r JuntekResponse) matchesRequest(insn juntekInsn, index int) error {
	if r.OK {
		return nil
	}
	if r.Insn != insn || r.Index != index {
		return fmt.Errorf("%w: expected %c%02d, got %c%02d", ErrBadFormat, insn, index, r.Insn, r.Index)
	}
	return nil
}

// Juntek scale encodings (§4.2.4). Each Encode/Decode pair round-trips
// within the tolerance documented in §8.

// juntekFrequencyScales maps a scale index to its multiplier over
// centi-Hz units.
var juntekFrequencyScales = []float64{1, 100, 10000}

// maxCentiHzDigits is the largest centi-Hz value a parameter's wire field
// can carry; encodeFrequency steps up the scale only once the finer one
// would overflow it.
const maxCentiHzDigits = 99999999

// encodeFrequency picks the finest scale that keeps the encoded centi-Hz
// value within the wire field's digit budget, returning the centi-Hz
// value and its scale index. Preferring the finest scale that fits, not
// the coarsest that applies, is what gives the 0.01Hz round-trip
// tolerance below 1MHz.
func encodeFrequency(hz float64) (centiHz int64, scaleIndex int) {
	for i, scale := range juntekFrequencyScales {
		c := int64(hz * 100 / scale)
		if c <= maxCentiHzDigits || i == len(juntekFrequencyScales)-1 {
			return c, i
		}
	}
	return int64(hz * 100), 0
}

func decodeFrequency(centiHz int64, scaleIndex int) float64 {
	if scaleIndex < 0 || scaleIndex >= len(juntekFrequencyScales) {
		scaleIndex = 0
	}
	return float64(centiHz) / 100 * juntekFrequencyScales[scaleIndex]
}

// encodeVoltageMillivolts / decodeVoltageMillivolts: voltages as mV.
func encodeVoltageMillivolts(volts float64) int64 { return int64(volts * 1000) }
func decodeVoltageMillivolts(mv int64) float64     { return float64(mv) / 1000 }

// Bias is encoded as centi-volts biased by +10V.
func encodeBiasCentivolts(volts float64) int64 {
	return int64((volts + 10) * 100)
}
func decodeBiasCentivolts(raw int64) float64 {
	return float64(raw)/100 - 10
}

// Duty cycle as per-mille (0-1000 representing 0-100.0%).
func encodeDutyPerMille(fraction float64) int64 { return int64(fraction * 1000) }
func decodeDutyPerMille(raw int64) float64       { return float64(raw) / 1000 }

// Phase as deci-degrees.
func encodePhaseDeciDegrees(degrees float64) int64 { return int64(degrees * 10) }
func decodePhaseDeciDegrees(raw int64) float64     { return float64(raw) / 10 }

// clampRange clamps v to [lo, hi], used by set operations that reject
// out-of-range physical values by clamping rather than erroring.
func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// JDSParameter identifies a two-digit write/read parameter index on a
// JDS6600-class DDS generator, per the waveform-index and per-channel
// settings that §8 scenario 4 exercises.
type JDSParameter int

const (
	JDSParamMaxFrequency JDSParameter = 0
	JDSParamSerial       JDSParameter = 1
	JDSParamCH1Waveform  JDSParameter = 21
	JDSParamCH2Waveform  JDSParameter = 22
)
