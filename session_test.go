package scopebus

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentStartStopLifecycle(t *testing.T) {
	payload := bytes.Repeat([]byte{0x80}, 600)
	raw := append(payload, '\n')
	transport := newMockTransport(raw)

	model := testModel()
	inst := OpenScope(transport, model, "SN123")
	require.NoError(t, inst.SetAnalogEnable(0, true))
	inst.SetFrameLimit(1)

	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, inst.Start(ctx, sink))
	assert.ErrorIs(t, inst.Start(ctx, sink), ErrInvalidState)

	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, p := range sink.packets {
			if p.Kind == PacketEnd {
				found = true
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("acquisition did not finish")
		case <-time.After(time.Millisecond):
		}
	}
	require.NoError(t, inst.Stop())
	assert.NoError(t, inst.Stop()) // no-op once stopped
}

func TestInstrumentSetVdivAppliesToMirrorAndDevice(t *testing.T) {
	transport := newMockTransport(nil)
	inst := OpenScope(transport, testModel(), "")

	require.NoError(t, inst.SetVdiv(0, 8))
	assert.Equal(t, 1.0, inst.Mirror().Model.Vdivs[inst.Mirror().Analog[0].VdivIndex])
	require.Len(t, transport.sentCmds, 1)
	assert.Contains(t, transport.sentCmds[0], "CHAN1:SCAL")
}

func TestInstrumentSetTriggerPositionAppliesOffset(t *testing.T) {
	transport := newMockTransport(nil)
	inst := OpenScope(transport, testModel(), "")

	require.NoError(t, inst.SetTriggerPosition(0.25))
	require.Len(t, transport.sentCmds, 1)
	assert.Contains(t, transport.sentCmds[0], "TIM:OFFS")
}

func TestInstrumentSetAnalogEnableTogglesDeviceDisplay(t *testing.T) {
	transport := newMockTransport(nil)
	inst := OpenScope(transport, testModel(), "")

	require.NoError(t, inst.SetAnalogEnable(1, true))
	assert.Contains(t, transport.sentCmds[0], "CHAN2:DISP ON")

	require.NoError(t, inst.SetAnalogEnable(1, false))
	assert.Contains(t, transport.sentCmds[1], "CHAN2:DISP OFF")
}

func TestInstrumentSetDataSourceRejectsUnsupportedMemory(t *testing.T) {
	transport := newMockTransport(nil)
	inst := OpenScope(transport, testModel(), "") // DS1102D has no MemorySource cap

	assert.ErrorIs(t, inst.SetDataSource(SourceMemory), ErrUnsupported)
	assert.NoError(t, inst.SetDataSource(SourceSegmented))
}

func TestConfigureTriggerRejectsNonDSLogic(t *testing.T) {
	transport := newMockTransport(nil)
	inst := OpenScope(transport, testModel(), "")

	err := inst.ConfigureTrigger(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEnabledLogicChannelsAndMask(t *testing.T) {
	m := NewMirror(testModel())
	logicEnable := make([]bool, m.Model.LogicChannels)
	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 0, true))
	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 1, true))

	channels := enabledLogicChannels(m)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, channels)
	assert.Equal(t, uint32(0xFF), channelEnableMask(channels))
}
