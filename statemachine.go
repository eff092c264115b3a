package scopebus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// State is one state of the §4.3 acquisition state machine.
type State int

const (
	StateIdle State = iota
	StateArm
	StateWaitTrigPos // DSLogic only: trigger-position descriptor fetch
	StateWaitTrigger
	StateReadBlock
	StateNextChannel
	StateFrameEnd
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArm:
		return "ARM"
	case StateWaitTrigPos:
		return "WAIT_TRIG_POS"
	case StateWaitTrigger:
		return "WAIT_TRIGGER"
	case StateReadBlock:
		return "READ_BLOCK"
	case StateNextChannel:
		return "NEXT_CHANNEL"
	case StateFrameEnd:
		return "FRAME_END"
	case StateStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

const (
	triggerPollInterval = 1 * time.Second
	triggerWaitTimeout  = 3 * time.Second
	acqBufferSize       = 4096 // max bytes/samples decoded per emitted packet, §4.3 step 4
	maxBlockLen         = 1 << 20
	maxESRRetries       = 4
	defaultPoolCap      = 64
)

// ScopeEngine drives the C3 state machine for the SCPI-dialect families
// (legacy-raw, ieee488.2-block, siglent-descriptor) over a LineTransport.
// DSLogic's USB pipeline has no line transport and is driven separately
// by DSLogicEngine.
type ScopeEngine struct {
	Transport LineTransport
	Applier   *ConfigApplier
	Mirror    *MirrorState
	Model     ModelDescriptor
	Sink      SessionSink
	Log       *log.Logger

	frame      int
	esrRetries int
}

// NewScopeEngine builds an engine bound to an already-open transport and
// polled mirror state. Log defaults to the package base logger; OpenScope
// narrows it to the instrument's own logger via the Log field.
func NewScopeEngine(t LineTransport, mirror *MirrorState, model ModelDescriptor, sink SessionSink) *ScopeEngine {
	return &ScopeEngine{
		Transport: t,
		Applier:   NewConfigApplier(t),
		Mirror:    mirror,
		Model:     model,
		Sink:      sink,
		Log:       baseLogger,
	}
}

func (e *ScopeEngine) emit(p Packet) { e.Sink.Emit(p) }

// Run drives frames until the mirror's frame limit is reached, emitting
// FrameBegin/FrameEnd pairs per frame and a final End, or returns the
// first fatal error encountered (steps 1-8).
func (e *ScopeEngine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			e.emit(framePacket(PacketEnd))
			return err
		}
		err := e.runFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				// Non-fatal: no packet has been emitted for this frame;
				// the loop retries the frame from ARM (§7).
				continue
			}
			e.emit(framePacket(PacketEnd))
			return err
		}
		e.frame++
		if e.Mirror.FrameLimit > 0 && e.frame >= e.Mirror.FrameLimit {
			e.emit(framePacket(PacketEnd))
			return nil
		}
	}
}

// runFrame executes one IDLE->ARM->WAIT_TRIGGER->READ_BLOCK*->NEXT_CHANNEL->FRAME_END
// cycle.
func (e *ScopeEngine) runFrame(ctx context.Context) error {
	if err := e.arm(ctx); err != nil {
		return err
	}

	switch {
	case e.Model.Series == "DS2000" && e.Mirror.DataSource != SourceLive:
		if err := e.waitSingleShotStop(ctx); err != nil {
			return err
		}
	case e.Mirror.DataSource == SourceMemory:
		if err := e.waitBlockAvailable(e.Mirror.SampleLimit); err != nil {
			return err
		}
	default:
		if err := e.waitTrigger(ctx); err != nil {
			return err
		}
	}
	e.Log.Info("trigger observed", "frame", e.frame)

	e.emit(framePacket(PacketFrameBegin))

	for i, ch := range e.Mirror.Analog {
		if !ch.Enable {
			continue
		}
		if err := e.readAnalogChannel(i); err != nil {
			return err
		}
	}
	if e.hasLogicEnabled() {
		if err := e.readLogicGroup(); err != nil {
			return err
		}
	}

	e.emit(framePacket(PacketFrameEnd))
	e.Log.Info("frame end", "frame", e.frame)
	return nil
}

func (e *ScopeEngine) hasLogicEnabled() bool {
	for _, p := range e.Mirror.Pods {
		if p.Enable {
			return true
		}
	}
	return false
}

// arm issues the device-specific start-acquisition command (step 1).
func (e *ScopeEngine) arm(ctx context.Context) error {
	e.Log.Info("arm", "source", e.Mirror.DataSource)
	if e.Model.Flavor == FlavorIEEE4882 || e.Model.Flavor == FlavorSiglentBlock {
		if err := e.Applier.Write(":WAV:FORM BYTE"); err != nil {
			return err
		}
		mode := "NORM"
		if e.Mirror.DataSource != SourceLive {
			mode = "RAW"
		}
		if err := e.Applier.Write(":WAV:MODE %s", mode); err != nil {
			return err
		}
	}
	if e.Mirror.DataSource == SourceLive {
		return e.Applier.Write(":RUN")
	}
	return e.Applier.Write(":SING")
}

// statusIsTriggered implements the §9 Open Question's literal reading of
// the legacy predicate: a status line starting with 'T' (triggered,
// triggered-and-displayed) or 'A' (auto) counts as triggered.
func statusIsTriggered(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "T") || strings.HasPrefix(line, "A")
}

// waitTrigger polls ":TRIG:STAT?" until it observes a non-triggered status
// followed by a triggered one (step 2), ensuring a genuinely new trigger
// rather than a stale one. At timebases under 50ms/div the poll is
// skipped in favor of a fixed sleep.
func (e *ScopeEngine) waitTrigger(ctx context.Context) error {
	if e.Mirror.Timebase < 50e-3 {
		sleepSeconds := 0.85 * e.Mirror.Timebase * float64(e.Model.HDivs)
		time.Sleep(time.Duration(sleepSeconds * float64(time.Second)))
		return nil
	}

	deadline := time.Now().Add(triggerWaitTimeout)
	sawNonTriggered := false
	for time.Now().Before(deadline) {
		if err := e.Transport.Send(":TRIG:STAT?"); err != nil {
			return err
		}
		line, err := e.Transport.ReceiveLine(triggerPollInterval)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return err
		}
		triggered := statusIsTriggered(line)
		if triggered && sawNonTriggered {
			return nil
		}
		if !triggered {
			sawNonTriggered = true
		}
	}
	return ErrTimeout
}

// waitSingleShotStop implements the DS2000 single-shot stop wait: poll
// until "Stopped", request the point count, then check for a firmware
// execution error and retry a bounded number of times.
func (e *ScopeEngine) waitSingleShotStop(ctx context.Context) error {
	deadline := time.Now().Add(triggerWaitTimeout)
	for {
		if err := e.Transport.Send(":TRIG:STAT?"); err != nil {
			return err
		}
		line, err := e.Transport.ReceiveLine(triggerPollInterval)
		if err == nil && strings.HasPrefix(strings.TrimSpace(line), "S") {
			break
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	if err := e.Applier.Write(":WAV:POIN %d", e.Model.FrameSize); err != nil {
		return err
	}
	if err := e.Transport.GetOPC(triggerWaitTimeout); err != nil {
		return err
	}
	return e.checkStop(ctx)
}

// checkStop reads *ESR? after a single-shot stop; bit 0x10 means the
// firmware believed there was no usable waveform, recovered by sleeping
// 500ms and reissuing :SING, bounded by maxESRRetries.
func (e *ScopeEngine) checkStop(ctx context.Context) error {
	if err := e.Transport.Send("*ESR?"); err != nil {
		return err
	}
	line, err := e.Transport.ReceiveLine(triggerWaitTimeout)
	if err != nil {
		return err
	}
	esr, _ := strconv.Atoi(strings.TrimSpace(line))
	if esr&0x10 != 0 {
		e.esrRetries++
		if e.esrRetries > maxESRRetries {
			return fmt.Errorf("%w: repeated execution error after single-shot", ErrFirmware)
		}
		time.Sleep(500 * time.Millisecond)
		if err := e.Applier.Write(":SING"); err != nil {
			return err
		}
		return e.waitSingleShotStop(ctx)
	}
	e.esrRetries = 0
	return nil
}

// waitBlockAvailable polls ":WAV:STAT?" until the first token is "IDLE" or
// the count reaches 1,000,000 (step: block-available wait for memory
// reads). Poll interval is 100ms under 15,000 samples, 1s otherwise.
func (e *ScopeEngine) waitBlockAvailable(sampleCount int) error {
	interval := 100 * time.Millisecond
	if sampleCount >= 15000 {
		interval = time.Second
	}
	for {
		if err := e.Transport.Send(":WAV:STAT?"); err != nil {
			return err
		}
		line, err := e.Transport.ReceiveLine(triggerWaitTimeout)
		if err != nil {
			return err
		}
		parts := strings.SplitN(strings.TrimSpace(line), ",", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == "IDLE" {
			return nil
		}
		if n, err := strconv.Atoi(parts[1]); err == nil && n >= 1000000 {
			return nil
		}
		time.Sleep(interval)
	}
}

// readAnalogChannel fetches and emits one analog channel's block for the
// current frame (steps 3-5), dispatching on protocol flavor.
func (e *ScopeEngine) readAnalogChannel(chIndex int) error {
	ch := e.Mirror.Analog[chIndex]
	vdiv := e.Model.Vdivs[ch.VdivIndex]
	ref := ChannelRef{Kind: ChannelAnalog, Index: chIndex}
	unit := ch.ProbeUnit
	if unit == "" {
		unit = "V"
	}

	switch e.Model.Flavor {
	case FlavorLegacyRaw:
		if err := e.Transport.Send(":WAV:DATA? CHAN%d", chIndex+1); err != nil {
			return err
		}
		payload, err := e.Transport.ReadRaw(triggerWaitTimeout, e.Model.FrameSize)
		if err != nil {
			return err
		}
		if _, err := e.Transport.ReadRaw(triggerWaitTimeout, 1); err != nil { // trailing LF
			return err
		}
		samples := decodeAnalogBlock(FlavorLegacyRaw, payload, 0, vdiv, ch.VertOffset)
		e.emitAnalogChunks(ref, QuantityVoltage, unit, 0, samples)
		return nil

	case FlavorSiglentBlock:
		if err := e.Applier.Write(":WAV:SOUR CHAN%d", chIndex+1); err != nil {
			return err
		}
		if err := e.Transport.Send(":WAV:DATA?"); err != nil {
			return err
		}
		for {
			payload, err := e.Transport.GetBlock(triggerWaitTimeout, maxBlockLen)
			if err != nil {
				return err
			}
			if len(payload) < siglentPreambleSize {
				e.Log.Warn("short preamble discarded", "channel", chIndex, "got", len(payload), "want", siglentPreambleSize)
				continue
			}
			hdr, err := parseSiglentPreamble(payload)
			if err != nil {
				return err
			}
			end := hdr.HeaderSize + hdr.DataLength
			if end > len(payload) {
				end = len(payload)
			}
			if hdr.HeaderSize > len(payload) {
				continue
			}
			samples := decodeSiglentBlock(payload[hdr.HeaderSize:end], vdiv, ch.VertOffset)
			digits := siglentDigits(vdiv)
			if e.Model.Caps.PodDigitsTwo {
				digits = 2
			}
			e.emitAnalogChunks(ref, QuantityVoltage, unit, digits, samples)
			return e.finishBlock()
		}

	default: // FlavorIEEE4882
		if err := e.Applier.Write(":WAV:SOUR CHAN%d", chIndex+1); err != nil {
			return err
		}
		if err := e.Transport.Send(":WAV:DATA?"); err != nil {
			return err
		}
		for {
			payload, err := e.Transport.GetBlock(triggerWaitTimeout, maxBlockLen)
			if err != nil {
				return err
			}
			if len(payload) < e.Model.FrameSize {
				// Short block (firmware quirk at slow timebases):
				// discarded, remain awaiting the next header.
				e.Log.Warn("short block discarded", "channel", chIndex, "got", len(payload), "want", e.Model.FrameSize)
				continue
			}
			samples := decodeAnalogBlock(FlavorIEEE4882, payload, ch.Reference, vdiv, ch.VertOffset)
			e.emitAnalogChunks(ref, QuantityVoltage, unit, 0, samples)
			return e.finishBlock()
		}
	}
}

func (e *ScopeEngine) finishBlock() error {
	if e.Mirror.DataSource != SourceLive {
		return e.Applier.Write(":WAV:END")
	}
	return nil
}

func (e *ScopeEngine) emitAnalogChunks(ref ChannelRef, q Quantity, unit string, digits int, samples []float32) {
	for i := 0; i < len(samples); i += acqBufferSize {
		end := i + acqBufferSize
		if end > len(samples) {
			end = len(samples)
		}
		e.emit(analogPacket(ref, q, unit, digits, samples[i:end]))
	}
}

// readLogicGroup fetches enabled POD groups and emits one Logic packet.
// With a single enabled POD, bytes pass straight through at unitsize=1;
// with two, bytes interleave per-sample with POD0 in the low byte (§8
// scenario 6).
func (e *ScopeEngine) readLogicGroup() error {
	var pods [][]byte
	for i, pod := range e.Mirror.Pods {
		if !pod.Enable {
			continue
		}
		if err := e.Applier.Write(":POD%d:DISP ON", i); err != nil {
			return err
		}
		if err := e.Transport.Send(":POD%d:DATA?", i); err != nil {
			return err
		}
		payload, err := e.Transport.GetBlock(triggerWaitTimeout, maxBlockLen)
		if err != nil {
			return err
		}
		pods = append(pods, payload)
	}
	if len(pods) == 0 {
		return nil
	}
	ref := ChannelRef{Kind: ChannelLogic, Index: 0}
	if len(pods) == 1 {
		e.emit(logicPacket(ref, 1, pods[0]))
		return nil
	}
	n := len(pods[0])
	if len(pods[1]) > n {
		n = len(pods[1])
	}
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		var lo, hi byte
		if i < len(pods[0]) {
			lo = pods[0][i]
		}
		if i < len(pods[1]) {
			hi = pods[1][i]
		}
		out = append(out, lo, hi)
	}
	e.emit(logicPacket(ref, 2, out))
	return nil
}

// DSLogicEngine drives the USB-class acquisition pipeline for DSLogic
// devices: a WAIT_TRIG_POS control read, then a continuous bulk-in stream
// split at the trigger boundary (C4) and packed into Logic packets.
type DSLogicEngine struct {
	USB        *USBTransport
	Model      ModelDescriptor
	Sink       SessionSink

	EnabledChannels []int
	SampleRate      float64
	SampleLimit     int
}

// waitTrigPos retrieves the trigger-position descriptor over the status
// control endpoint, giving the absolute sample index at which the
// trigger fired.
func (e *DSLogicEngine) waitTrigPos(ctx context.Context) (int, error) {
	buf := make([]byte, 4)
	n, err := e.USB.ControlIn(ctx, usbCtrlStatus, 0, 0, buf)
	if err != nil {
		return 0, err
	}
	if n < 4 {
		return 0, fmt.Errorf("%w: short trigger-position descriptor", ErrShortRead)
	}
	return int(binary.LittleEndian.Uint32(buf)), nil
}

// Run executes one DSLogic frame: WAIT_TRIG_POS, then stream-and-split
// until the sample budget is exhausted or the pool is aborted.
func (e *DSLogicEngine) Run(ctx context.Context) error {
	triggerPos, err := e.waitTrigPos(ctx)
	if err != nil {
		return err
	}

	sizing := ComputePoolSizing(e.SampleRate, len(e.EnabledChannels), defaultPoolCap)
	bulkIn, err := e.USB.BulkIn()
	if err != nil {
		return err
	}
	pool := NewTransferPool(ctx, sizing, func(rctx context.Context, buf []byte) (int, error) {
		return bulkIn.ReadContext(rctx, buf)
	})

	splitter := NewTriggerSplitter(triggerPos, 0)
	ref := ChannelRef{Kind: ChannelLogic, Index: 0}
	unitSize := 1
	if len(e.EnabledChannels) > 8 {
		unitSize = 2
	}

	e.Sink.Emit(framePacket(PacketFrameBegin))
	sent := 0
	for e.SampleLimit <= 0 || sent < e.SampleLimit {
		raw, err := pool.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrAborted) || ctx.Err() != nil {
				break
			}
			return err
		}
		if raw == nil {
			continue
		}
		samples, err := Deinterleave(raw, len(e.EnabledChannels))
		if err != nil {
			return err
		}
		res := splitter.Feed(samples)
		if res.Pre != nil {
			e.Sink.Emit(logicPacket(ref, unitSize, packSamples(res.Pre, unitSize)))
		}
		if res.Trigger {
			e.Sink.Emit(framePacket(PacketTrigger))
		}
		if len(res.Post) > 0 {
			e.Sink.Emit(logicPacket(ref, unitSize, packSamples(res.Post, unitSize)))
		}
		sent += len(samples)
	}
	if rem := splitter.Flush(); len(rem) > 0 {
		e.Sink.Emit(logicPacket(ref, unitSize, packSamples(rem, unitSize)))
	}

	pool.Abort()
	for pool.Submitted() > 0 {
		if _, err := pool.Next(ctx); err != nil {
			break
		}
	}
	e.Sink.Emit(framePacket(PacketFrameEnd))
	e.Sink.Emit(framePacket(PacketEnd))
	return nil
}

// packSamples packs deinterleaved samples little-endian at unitSize
// bytes/sample (1 for <=8 channels, 2 otherwise).
func packSamples(samples []uint16, unitSize int) []byte {
	out := make([]byte, len(samples)*unitSize)
	for i, s := range samples {
		if unitSize == 1 {
			out[i] = byte(s)
		} else {
			binary.LittleEndian.PutUint16(out[i*2:i*2+2], s)
		}
	}
	return out
}
