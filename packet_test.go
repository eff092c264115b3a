package scopebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketKindString(t *testing.T) {
	cases := map[PacketKind]string{
		PacketFrameBegin: "FrameBegin",
		PacketFrameEnd:   "FrameEnd",
		PacketEnd:        "End",
		PacketAnalog:     "Analog",
		PacketLogic:      "Logic",
		PacketTrigger:    "Trigger",
		PacketKind(99):   "Unknown",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

func TestSinkFuncAdaptsPlainFunction(t *testing.T) {
	var got Packet
	var sink SessionSink = SinkFunc(func(p Packet) { got = p })
	sink.Emit(framePacket(PacketFrameBegin))
	assert.Equal(t, PacketFrameBegin, got.Kind)
}

func TestAnalogPacketConstructor(t *testing.T) {
	ref := ChannelRef{Kind: ChannelAnalog, Index: 1}
	p := analogPacket(ref, QuantityVoltage, "V", 3, []float32{1, 2, 3})
	require := assert.New(t)
	require.Equal(PacketAnalog, p.Kind)
	require.NotNil(p.Analog)
	require.Equal(ref, p.Analog.Source)
	require.Equal(3, p.Analog.Digits)
	require.Nil(p.Logic)
}

func TestLogicPacketConstructor(t *testing.T) {
	ref := ChannelRef{Kind: ChannelLogic, Index: 0}
	p := logicPacket(ref, 2, []byte{1, 2, 3, 4})
	assert.Equal(t, PacketLogic, p.Kind)
	assert.Equal(t, 2, p.Logic.UnitSize)
	assert.Nil(t, p.Analog)
}
