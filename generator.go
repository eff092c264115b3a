package scopebus

import (
	"fmt"
	"time"
)

const juntekTimeout = 1 * time.Second

// Generator drives a JDS6600-class Juntek DDS signal generator over its
// textual request/response protocol (§4.2.4). Unlike the scope families,
// a generator has no acquisition state machine: every field is read or
// written synchronously.
type Generator struct {
	Transport LineTransport
	Model     ModelDescriptor

	MaxFrequencyHz float64
	Serial         string
	CH1Waveform    int
	CH2Waveform    int
}

// OpenGenerator polls the generator's identifying parameters (serial
// number, max frequency) and returns a Generator ready for Set calls.
func OpenGenerator(t LineTransport, model ModelDescriptor) (*Generator, error) {
	g := &Generator{Transport: t, Model: model}

	maxFreqMHz, err := g.readParam(JDSParamMaxFrequency)
	if err != nil {
		return nil, err
	}
	g.MaxFrequencyHz = float64(maxFreqMHz) * 1e6 // max-frequency parameter is a plain MHz count

	serial, err := g.readParamString(JDSParamSerial)
	if err != nil {
		return nil, err
	}
	g.Serial = serial

	return g, nil
}

// request issues a request line and returns its parsed, request-matched
// response.
func (g *Generator) request(insn juntekInsn, index int, values ...string) (JuntekResponse, error) {
	if err := g.Transport.Send("%s", juntekRequest(insn, index, values...)); err != nil {
		return JuntekResponse{}, err
	}
	line, err := g.Transport.ReceiveLine(juntekTimeout)
	if err != nil {
		return JuntekResponse{}, err
	}
	resp, err := parseJuntekResponse(line)
	if err != nil {
		return JuntekResponse{}, err
	}
	if err := resp.matchesRequest(insn, index); err != nil {
		return JuntekResponse{}, err
	}
	return resp, nil
}

// readParam reads a numeric parameter's first value.
func (g *Generator) readParam(p JDSParameter) (int64, error) {
	resp, err := g.request(insnRead, int(p), "0")
	if err != nil {
		return 0, err
	}
	if len(resp.Values) == 0 {
		return 0, fmt.Errorf("%w: parameter %d: empty response", ErrBadFormat, p)
	}
	return parseInt64(resp.Values[0])
}

func (g *Generator) readParamString(p JDSParameter) (string, error) {
	resp, err := g.request(insnRead, int(p), "0")
	if err != nil {
		return "", err
	}
	if len(resp.Values) == 0 {
		return "", fmt.Errorf("%w: parameter %d: empty response", ErrBadFormat, p)
	}
	return resp.Values[0], nil
}

// SetWaveform writes a channel's waveform index (§8 scenario 4).
func (g *Generator) SetWaveform(channel int, index int) error {
	p := JDSParamCH1Waveform
	if channel == 1 {
		p = JDSParamCH2Waveform
	}
	resp, err := g.request(insnWrite, int(p), fmt.Sprintf("%d", index))
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%w: waveform write for channel %d not acknowledged", ErrBadFormat, channel)
	}
	if channel == 1 {
		g.CH2Waveform = index
	} else {
		g.CH1Waveform = index
	}
	return nil
}

func parseInt64(s string) (int64, error) {
	var v int64
	var neg bool
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q is not a decimal integer", ErrBadFormat, s)
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return v, nil
}
