package scopebus

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

// LineTransport is the line-oriented SCPI / textual-protocol contract
// from §4.1. Every method is bounded by its own timeout; no transport
// callback is permitted to block longer than the timeout it was given.
type LineTransport interface {
	// Send appends a newline and writes the whole buffer in one call.
	Send(format string, args ...any) error
	// ReceiveLine reads until a newline, or returns ErrTimeout.
	ReceiveLine(timeout time.Duration) (string, error)
	// GetBlock reads a §4.2.1 definite-length block, capped at maxLen
	// bytes of payload.
	GetBlock(timeout time.Duration, maxLen int) ([]byte, error)
	// ReadRaw reads exactly n bytes, for frame formats (e.g. the
	// legacy-raw waveform payload) that aren't delimited by a '#N' header.
	ReadRaw(timeout time.Duration, n int) ([]byte, error)
	// GetOPC issues *OPC? and blocks until "1" is returned.
	GetOPC(timeout time.Duration) error
	Close() error
}

// serialLine implements LineTransport over an RS-232 style serial port,
// tolerating an optional <CR> before <LF> and a trailing '.' the way the
// spec's serial transport does (§4.1).
type serialLine struct {
	t       *term.Term
	r       *bufio.Reader
	trimDot bool
}

// OpenSerial opens devicePath at baud and returns a LineTransport. Flush
// semantics are implemented with a raw TCFLSH ioctl since pkg/term does
// not expose one directly.
func OpenSerial(devicePath string, baud int) (LineTransport, error) {
	t, err := term.Open(devicePath, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, devicePath, err)
	}
	return &serialLine{t: t, r: bufio.NewReader(t), trimDot: true}, nil
}

// Flush discards any buffered input and output, per the serial transport's
// flush semantics (§4.1).
func (s *serialLine) Flush() error {
	fd := s.t.Fd()
	return unix.IoctlSetInt(int(fd), unix.TCFLSH, unix.TCIOFLUSH)
}

func (s *serialLine) Send(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	if _, err := s.t.Write([]byte(msg)); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *serialLine) ReceiveLine(timeout time.Duration) (string, error) {
	line, err := readLineWithDeadline(s.r, timeout)
	if err != nil {
		return "", err
	}
	if s.trimDot {
		line = strings.TrimSuffix(line, ".")
	}
	return line, nil
}

func (s *serialLine) GetBlock(timeout time.Duration, maxLen int) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := readBlock488(s.r, maxLen)
		ch <- result{data, err}
	}()
	select {
	case res := <-ch:
		return res.data, res.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

func (s *serialLine) GetOPC(timeout time.Duration) error {
	return pollOPC(s, timeout)
}

func (s *serialLine) ReadRaw(timeout time.Duration, n int) ([]byte, error) {
	buf := make([]byte, n)
	type result struct{ err error }
	ch := make(chan result, 1)
	go func() {
		_, err := readFull(s.r, buf)
		ch <- result{err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return buf, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

func (s *serialLine) Close() error {
	return s.t.Close()
}

// readLineWithDeadline reads a CRLF- or LF-terminated line, trimming any
// trailing CR.
func readLineWithDeadline(r *bufio.Reader, timeout time.Duration) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("%w: %v", ErrIO, res.err)
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

func pollOPC(t LineTransport, timeout time.Duration) error {
	if err := t.Send("*OPC?"); err != nil {
		return err
	}
	line, err := t.ReceiveLine(timeout)
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != "1" {
		return fmt.Errorf("%w: *OPC? returned %q", ErrBadFormat, line)
	}
	return nil
}

// usbControlCode identifies a DSLogic vendor control request, per §6
// ("request codes 0xB0-0xBC").
type usbControlCode byte

const (
	usbCtrlFPGAConfig   usbControlCode = 0xB1
	usbCtrlFPGASettings usbControlCode = 0xB2
	usbCtrlBitstream    usbControlCode = 0xB3
	usbCtrlStatus       usbControlCode = 0xBC
)

// USBTransport is the §4.1 USB bulk contract: control transfers for FPGA
// config/status and bulk in/out for bitstream upload and sample streaming.
type USBTransport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	closer func()

	bulkOutEndpoint int
	bulkInEndpoint  int
}

// OpenUSB opens the first device matching vid/pid and claims its default
// interface. Device enumeration beyond a direct VID/PID match is an
// external collaborator's job (§1); this is the minimal open path the
// acquisition engine itself needs.
func OpenUSB(vid, pid uint16, bulkOut, bulkIn int) (*USBTransport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: opening USB device %04x:%04x: %v", ErrIO, vid, pid, err)
	}
	_ = dev.SetAutoDetach(true)
	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: claiming interface: %v", ErrIO, err)
	}
	return &USBTransport{
		ctx: ctx, dev: dev, iface: iface, closer: closer,
		bulkOutEndpoint: bulkOut, bulkInEndpoint: bulkIn,
	}, nil
}

// ControlOut issues a vendor OUT control transfer, used for FPGA
// configuration and bitstream chunk delivery (§6).
func (u *USBTransport) ControlOut(ctx context.Context, req usbControlCode, value, index uint16, data []byte) error {
	_, err := u.dev.Control(
		gousb.ControlVendor|gousb.ControlOut|gousb.ControlInterface,
		byte(req), value, index, data,
	)
	if err != nil {
		return fmt.Errorf("%w: control out 0x%02x: %v", ErrIO, req, err)
	}
	return nil
}

// ControlIn issues a vendor IN control transfer, used for status and
// trigger-position descriptor reads.
func (u *USBTransport) ControlIn(ctx context.Context, req usbControlCode, value, index uint16, buf []byte) (int, error) {
	n, err := u.dev.Control(
		gousb.ControlVendor|gousb.ControlIn|gousb.ControlInterface,
		byte(req), value, index, buf,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: control in 0x%02x: %v", ErrIO, req, err)
	}
	return n, nil
}

// BulkOut returns the claimed OUT endpoint used for FPGA bitstream and
// TLV configuration uploads (endpoint 2 per §6).
func (u *USBTransport) BulkOut() (*gousb.OutEndpoint, error) {
	ep, err := u.iface.OutEndpoint(u.bulkOutEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: opening bulk out endpoint %d: %v", ErrIO, u.bulkOutEndpoint, err)
	}
	return ep, nil
}

// BulkIn returns the claimed IN endpoint used for the trigger descriptor
// and sample stream (endpoint 6 per §6).
func (u *USBTransport) BulkIn() (*gousb.InEndpoint, error) {
	ep, err := u.iface.InEndpoint(u.bulkInEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: opening bulk in endpoint %d: %v", ErrIO, u.bulkInEndpoint, err)
	}
	return ep, nil
}

func (u *USBTransport) Close() error {
	u.closer()
	err := u.dev.Close()
	u.ctx.Close()
	return err
}
