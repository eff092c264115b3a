package scopebus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// TransferHandle indexes into a TransferPool's arena, replacing the C
// driver's back-pointer cycle between transfer and device context (see
// DESIGN.md "Cyclic ownership").
type TransferHandle uint32

type transferRecord struct {
	buf    []byte
	inUse  bool
}

// PoolSizing computes the §4.4 derived constants for a DSLogic-class
// capture: number of in-flight transfers, bytes per transfer, and the
// per-transfer timeout.
type PoolSizing struct {
	NumTransfers     int
	PerTransferBytes int
	Timeout          time.Duration
}

// ComputePoolSizing implements:
//
//	block_size = enabledChannelCount * 512
//	per_transfer_size = ceil(10ms_worth / block_size) * block_size
//	num_transfers = min(poolCap, ceil(100ms_worth / per_transfer_size))
//	timeout = 1.25 * (total_buffer_size / per-ms-throughput)
func ComputePoolSizing(sampleRateHz float64, enabledChannelCount, poolCap int) PoolSizing {
	blockSize := enabledChannelCount * 512
	bytesPerSecond := sampleRateHz * float64(enabledChannelCount) / 8 // 1 bit/channel/sample, packed
	tenMsWorth := bytesPerSecond * 0.010
	hundredMsWorth := bytesPerSecond * 0.100

	perTransfer := ceilToMultiple(int(math.Ceil(tenMsWorth)), blockSize)
	if perTransfer <= 0 {
		perTransfer = blockSize
	}
	numTransfers := int(math.Ceil(hundredMsWorth / float64(perTransfer)))
	if numTransfers < 1 {
		numTransfers = 1
	}
	if numTransfers > poolCap {
		numTransfers = poolCap
	}

	totalBufferSize := float64(perTransfer * numTransfers)
	perMsThroughput := bytesPerSecond / 1000
	var timeoutMs float64
	if perMsThroughput > 0 {
		timeoutMs = 1.25 * (totalBufferSize / perMsThroughput)
	} else {
		timeoutMs = 1000
	}

	return PoolSizing{
		NumTransfers:     numTransfers,
		PerTransferBytes: perTransfer,
		Timeout:          time.Duration(timeoutMs) * time.Millisecond,
	}
}

func ceilToMultiple(v, multiple int) int {
	if multiple <= 0 {
		return v
	}
	return ((v + multiple - 1) / multiple) * multiple
}

// MaxEmptyTransfers is ~2x the pool size, per §4.4.
func MaxEmptyTransfers(numTransfers int) int { return 2 * numTransfers }

// TransferPool manages a ring of in-flight bulk-in reads against a
// gousb.InEndpoint-shaped source, without the libusb raw submit/cancel
// API's callback-with-shared-mutex pattern: each slot is read by its own
// goroutine, and completed payloads are handed to a single deinterleave
// worker one at a time via an unbuffered channel (see DESIGN.md "Async /
// callbacks").
type TransferPool struct {
	sizing PoolSizing
	read   func(ctx context.Context, buf []byte) (int, error)

	arena   []transferRecord
	mu      sync.Mutex

	completions chan completion
	emptyCount  int
	aborted     bool

	submitted int
}

type completion struct {
	handle TransferHandle
	data   []byte
	err    error
}

// NewTransferPool allocates the arena and starts one reader goroutine per
// slot, each repeatedly submitting a bulk-in read of sizing.PerTransferBytes.
func NewTransferPool(ctx context.Context, sizing PoolSizing, read func(context.Context, []byte) (int, error)) *TransferPool {
	p := &TransferPool{
		sizing:      sizing,
		read:        read,
		arena:       make([]transferRecord, sizing.NumTransfers),
		completions: make(chan completion),
	}
	for i := range p.arena {
		p.arena[i].buf = make([]byte, sizing.PerTransferBytes)
	}
	for i := 0; i < sizing.NumTransfers; i++ {
		p.mu.Lock()
		p.submitted++
		p.mu.Unlock()
		go p.runSlot(ctx, TransferHandle(i))
	}
	return p
}

func (p *TransferPool) runSlot(ctx context.Context, h TransferHandle) {
	for {
		select {
		case <-ctx.Done():
			p.free(h)
			return
		default:
		}
		rctx, cancel := context.WithTimeout(ctx, p.sizing.Timeout)
		buf := p.arena[h].buf
		n, err := p.read(rctx, buf)
		cancel()

		if p.isAborted() {
			p.free(h)
			return
		}

		select {
		case p.completions <- completion{handle: h, data: buf[:n], err: err}:
		case <-ctx.Done():
			p.free(h)
			return
		}
	}
}

func (p *TransferPool) isAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

func (p *TransferPool) free(TransferHandle) {
	p.mu.Lock()
	p.submitted--
	p.mu.Unlock()
}

// Next blocks until a transfer completes or the pool is aborted. A
// failed transfer with no payload counts as empty whatever its error
// (timeout, submission failure or device disappearance alike); Next
// returns nil, nil for it, and ErrAborted once MaxEmptyTransfers
// consecutive empties mark the device as stalled. Transfer errors are
// never returned as ErrIO. A failed transfer that carries payload yields
// that payload with a nil error.
func (p *TransferPool) Next(ctx context.Context) ([]byte, error) {
	select {
	case c := <-p.completions:
		if c.err != nil {
			if len(c.data) == 0 {
				p.emptyCount++
				if p.emptyCount >= MaxEmptyTransfers(p.sizing.NumTransfers) {
					p.Abort()
					return nil, ErrAborted
				}
				return nil, nil
			}
		} else {
			p.emptyCount = 0
		}
		return c.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abort cancels outstanding transfers and marks the pool aborted; callers
// should keep draining Next until Submitted() reaches zero before
// emitting End, per §5 cancellation ordering.
func (p *TransferPool) Abort() {
	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()
}

// Submitted returns the number of transfers still in flight.
func (p *TransferPool) Submitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted
}

// Deinterleave reshapes a raw buffer of consecutive 64-bit
// little-endian channel words into 16-bit samples. For each 64-sample
// aligned window, the device emits len(enabledChannels) consecutive
// words, lowest-indexed enabled channel first. Sample i's bit k is bit
// (i mod 64) of the k-th channel's word for window i/64 (§4.4).
func Deinterleave(raw []byte, enabledChannelCount int) ([]uint16, error) {
	const wordBytes = 8
	stride := enabledChannelCount * wordBytes
	if stride == 0 || len(raw)%stride != 0 {
		return nil, fmt.Errorf("%w: raw buffer of %d bytes not a multiple of stride %d", ErrBadFormat, len(raw), stride)
	}
	windows := len(raw) / stride
	samples := make([]uint16, windows*64)
	for w := 0; w < windows; w++ {
		base := w * stride
		for k := 0; k < enabledChannelCount; k++ {
			word := binary.LittleEndian.Uint64(raw[base+k*wordBytes : base+(k+1)*wordBytes])
			if word == 0 {
				continue
			}
			for i := 0; i < 64; i++ {
				if word&(1<<uint(i)) != 0 {
					samples[w*64+i] |= 1 << uint(k)
				}
			}
		}
	}
	return samples, nil
}

// TriggerSplitter implements the §4.4 trigger-offset splitting contract:
// the device returns a full ring buffer preceded by a trigger descriptor
// giving the absolute sample index at which the trigger fired. The
// splitter buffers pre-trigger samples internally, emits a Trigger
// marker at the boundary, then passes post-trigger samples straight
// through.
type TriggerSplitter struct {
	triggerPos     int
	sent           int
	emittedTrigger bool
	preBuffer      []uint16
}

// NewTriggerSplitter starts a splitter for a frame whose trigger fired at
// absolute sample index triggerPos, having already accounted for
// sentBefore samples from earlier transfers in this frame.
func NewTriggerSplitter(triggerPos, sentBefore int) *TriggerSplitter {
	return &TriggerSplitter{triggerPos: triggerPos, sent: sentBefore}
}

// SplitResult is what Feed produces for one chunk of deinterleaved
// samples: Pre (if non-nil) must be emitted as one Logic packet followed
// by a Trigger marker, then Post emitted as a Logic packet.
type SplitResult struct {
	Pre     []uint16
	Trigger bool
	Post    []uint16
}

// Feed processes one chunk of already-deinterleaved samples.
func (s *TriggerSplitter) Feed(samples []uint16) SplitResult {
	var res SplitResult
	remaining := samples
	if !s.emittedTrigger {
		preNeeded := s.triggerPos - s.sent
		if preNeeded < 0 {
			preNeeded = 0
		}
		if preNeeded >= len(remaining) {
			s.preBuffer = append(s.preBuffer, remaining...)
			s.sent += len(remaining)
			return res
		}
		preChunk := remaining[:preNeeded]
		s.preBuffer = append(s.preBuffer, preChunk...)
		res.Pre = s.preBuffer
		res.Trigger = true
		s.emittedTrigger = true
		remaining = remaining[preNeeded:]
	}
	s.sent += len(remaining)
	res.Post = remaining
	return res
}

// Flush returns any buffered pre-trigger samples that must be emitted as
// a final packet because the frame's sample budget ran out before a
// trigger boundary was observed.
func (s *TriggerSplitter) Flush() []uint16 {
	if s.emittedTrigger {
		return nil
	}
	return s.preBuffer
}
