package scopebus

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// interleave is the inverse of Deinterleave, used to build synthetic
// per-channel bit patterns for the round-trip property below.
func interleave(samples []uint16, enabledChannelCount int) []byte {
	windows := len(samples) / 64
	out := make([]byte, windows*enabledChannelCount*8)
	for w := 0; w < windows; w++ {
		base := w * enabledChannelCount * 8
		for k := 0; k < enabledChannelCount; k++ {
			var word uint64
			for i := 0; i < 64; i++ {
				if samples[w*64+i]&(1<<uint(k)) != 0 {
					word |= 1 << uint(i)
				}
			}
			binary.LittleEndian.PutUint64(out[base+k*8:base+(k+1)*8], word)
		}
	}
	return out
}

func TestDeinterleaveIsInverseOfInterleave(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		channels := rapid.IntRange(1, 4).Draw(t, "channels")
		windows := rapid.IntRange(1, 4).Draw(t, "windows")
		samples := rapid.SliceOfN(rapid.Uint16Range(0, uint16(1<<uint(channels))-1), windows*64, windows*64).Draw(t, "samples")

		raw := interleave(samples, channels)
		got, err := Deinterleave(raw, channels)
		require.NoError(t, err)
		assert.Equal(t, samples, got)
	})
}

func TestDeinterleaveRejectsMisalignedBuffer(t *testing.T) {
	_, err := Deinterleave(make([]byte, 5), 2)
	assert.True(t, errors.Is(err, ErrBadFormat))
}

// TestTriggerSplitterScenario reproduces the exact §8 boundary: a trigger
// at absolute sample 100, 50 samples already sent this frame, and a
// 150-sample chunk arriving — expect 50 pre-trigger samples, a trigger
// marker, then 100 post-trigger samples.
func TestTriggerSplitterScenario(t *testing.T) {
	s := NewTriggerSplitter(100, 50)
	samples := make([]uint16, 150)
	for i := range samples {
		samples[i] = uint16(i)
	}
	res := s.Feed(samples)
	require.Len(t, res.Pre, 50)
	assert.Equal(t, samples[:50], res.Pre)
	assert.True(t, res.Trigger)
	require.Len(t, res.Post, 100)
	assert.Equal(t, samples[50:], res.Post)
}

func TestTriggerSplitterAcrossMultipleChunks(t *testing.T) {
	s := NewTriggerSplitter(100, 0)
	first := make([]uint16, 60)
	res := s.Feed(first)
	assert.Nil(t, res.Pre)
	assert.False(t, res.Trigger)
	assert.Nil(t, res.Post)

	second := make([]uint16, 60)
	for i := range second {
		second[i] = uint16(1000 + i)
	}
	res = s.Feed(second)
	require.Len(t, res.Pre, 100)
	assert.True(t, res.Trigger)
	require.Len(t, res.Post, 20)
}

func TestTriggerSplitterFlushWhenBudgetExhaustedFirst(t *testing.T) {
	s := NewTriggerSplitter(1000, 0)
	s.Feed(make([]uint16, 64))
	rem := s.Flush()
	assert.Len(t, rem, 64)
}

func TestTriggerSplitterFlushIsNilAfterTrigger(t *testing.T) {
	s := NewTriggerSplitter(10, 0)
	s.Feed(make([]uint16, 20))
	assert.Nil(t, s.Flush())
}

func TestComputePoolSizingBlockAligned(t *testing.T) {
	sizing := ComputePoolSizing(100e6, 4, 64)
	blockSize := 4 * 512
	assert.Equal(t, 0, sizing.PerTransferBytes%blockSize)
	assert.GreaterOrEqual(t, sizing.NumTransfers, 1)
	assert.LessOrEqual(t, sizing.NumTransfers, 64)
	assert.Greater(t, sizing.Timeout, time.Duration(0))
}

func TestComputePoolSizingRespectsPoolCap(t *testing.T) {
	sizing := ComputePoolSizing(400e6, 16, 4)
	assert.Equal(t, 4, sizing.NumTransfers)
}

func TestMaxEmptyTransfers(t *testing.T) {
	assert.Equal(t, 20, MaxEmptyTransfers(10))
}

func TestTransferPoolNextAndAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 8)
	pool := NewTransferPool(ctx, PoolSizing{NumTransfers: 2, PerTransferBytes: 8, Timeout: 50 * time.Millisecond},
		func(rctx context.Context, buf []byte) (int, error) {
			select {
			case calls <- struct{}{}:
			default:
			}
			for i := range buf {
				buf[i] = 0xAB
			}
			return len(buf), nil
		})

	data, err := pool.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, data, 8)

	pool.Abort()
	deadline := time.Now().Add(2 * time.Second)
	for pool.Submitted() > 0 && time.Now().Before(deadline) {
		pool.Next(ctx)
	}
	assert.Equal(t, 0, pool.Submitted())
}
