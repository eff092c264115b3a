package scopebus

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSLogicTLVEncodeMarkers(t *testing.T) {
	cfg := DSLogicTLVConfig{Version: TLVVersion1, Mode: 1, Divider: 2, SampleCount: 100, ChannelEnable: 0xFF}
	data := cfg.Encode()
	require.NoError(t, ParseDSLogicTLV(data))
	assert.Equal(t, dslogicStartMarker, binary.LittleEndian.Uint32(data[:4]))
	assert.Equal(t, dslogicEndMarker, binary.LittleEndian.Uint32(data[len(data)-4:]))
}

func TestParseDSLogicTLVRejectsBadMarkers(t *testing.T) {
	err := ParseDSLogicTLV([]byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrBadHeader))

	good := DSLogicTLVConfig{Version: TLVVersion1}.Encode()
	corrupt := append([]byte{}, good...)
	corrupt[0] ^= 0xFF
	assert.True(t, errors.Is(ParseDSLogicTLV(corrupt), ErrBadHeader))
}

func TestTLVTagShiftsOnV2(t *testing.T) {
	v1 := tlvTag(TLVVersion1, varMode, 2)
	v2 := tlvTag(TLVVersion2, varMode, 2)
	assert.Equal(t, v1<<1, v2)
}

func TestDSLogicTLVChannelEnableWidthByVersion(t *testing.T) {
	cfg1 := DSLogicTLVConfig{Version: TLVVersion1, ChannelEnable: 0x1FFFF}
	cfg2 := DSLogicTLVConfig{Version: TLVVersion2, ChannelEnable: 0x1FFFF}

	data1 := cfg1.Encode()
	data2 := cfg2.Encode()
	// v2's wider channel-enable TLV carries two extra payload bytes
	// relative to v1's single 16-bit word.
	assert.Equal(t, len(data1)+2, len(data2))
}

func TestCompileTriggerEncodesThroughTLV(t *testing.T) {
	cfg := CompileTrigger(TLVVersion1, []TriggerStage{{Matches: []MatchKind{MatchRising}}}, 1)
	cfg.Mode = 1
	cfg.SampleCount = 1000
	data := cfg.Encode()
	require.NoError(t, ParseDSLogicTLV(data))
}
