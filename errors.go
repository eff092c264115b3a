package scopebus

import "errors"

// Error taxonomy per the driver error handling design. Transport never
// retries; all retry policy lives in the acquisition state machine.
var (
	// ErrIO is a transport read/write failure or an unexpected device
	// disconnect. The state machine treats it as fatal for the current
	// acquisition: emit End and stop.
	ErrIO = errors.New("scopebus: transport i/o error")

	// ErrTimeout is a trigger-wait or block-available-wait that exceeded
	// its budget. Non-fatal: ScopeEngine.Run emits nothing for the frame
	// and retries it from ARM.
	ErrTimeout = errors.New("scopebus: timeout")

	// ErrShortRead indicates a transport read returned fewer bytes than
	// requested with no error; callers decide whether that is fatal.
	ErrShortRead = errors.New("scopebus: short read")

	// ErrBadHeader is a malformed IEEE-488.2 block header or DSLogic TLV
	// bracket. Fatal for the current frame.
	ErrBadHeader = errors.New("scopebus: bad block header")

	// ErrBadFormat is an unexpected opcode/index in a textual response
	// (Juntek) or an otherwise-unparseable payload. Fatal for the current
	// frame.
	ErrBadFormat = errors.New("scopebus: bad response format")

	// ErrUnsupported is a config-set value outside the model's
	// enumerated/clamped range, or a model absent from the catalog.
	// Returned synchronously; no device state changes.
	ErrUnsupported = errors.New("scopebus: unsupported value")

	// ErrInvalidState is an acquisition request on a closed instrument, or
	// a config-set against an unknown channel group.
	ErrInvalidState = errors.New("scopebus: invalid state")

	// ErrFirmware is *ESR? bit 0x10 after a single-shot stop, meaning the
	// firmware believes there is no usable waveform. Soft-recovered by
	// ScopeEngine.checkStop up to a bounded retry count, fatal thereafter.
	ErrFirmware = errors.New("scopebus: firmware reported no waveform")

	// ErrAborted is returned by TransferPool.Next when MaxEmptyTransfers
	// consecutive zero-payload transfers mark the device as stalled.
	ErrAborted = errors.New("scopebus: acquisition aborted")
)
