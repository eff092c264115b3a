package scopebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() ModelDescriptor {
	return ModelDescriptor{
		Vendor: "RIGOL TECHNOLOGIES", Model: "DS1102D", Series: "DS1000",
		Flavor: FlavorLegacyRaw, AnalogChannels: 2, LogicChannels: 16, PodSize: 8,
		MinTimebase: 2e-9, MaxTimebase: 50, MinVdiv: 0.002, HDivs: 12,
		MemoryDepth: 600, FrameSize: 600,
		Vdivs:     []float64{0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		Timebases: defaultTimebases(),
		Caps:      ModelCapabilities{DualPod: true},
	}
}

func TestSetTriggerPositionBoundary(t *testing.T) {
	m := NewMirror(testModel())
	require.NoError(t, m.SetTriggerPosition(0))
	require.NoError(t, m.SetTriggerPosition(1))
	require.NoError(t, m.SetTriggerPosition(0.5))
	assert.ErrorIs(t, m.SetTriggerPosition(-0.0001), ErrUnsupported)
	assert.ErrorIs(t, m.SetTriggerPosition(1.0001), ErrUnsupported)
}

func TestSetVdivRejectsOutOfRange(t *testing.T) {
	m := NewMirror(testModel())
	require.NoError(t, m.SetVdiv(0, 8))
	assert.Equal(t, 1.0, m.Model.Vdivs[m.Analog[0].VdivIndex])
	assert.ErrorIs(t, m.SetVdiv(0, 99), ErrUnsupported)
	assert.ErrorIs(t, m.SetVdiv(5, 0), ErrInvalidState)
}

func TestSetTimebaseEnumerated(t *testing.T) {
	m := NewMirror(testModel())
	require.NoError(t, m.SetTimebase(1e-3))
	assert.Equal(t, 1e-3, m.Timebase)
	assert.ErrorIs(t, m.SetTimebase(1.23456e-3), ErrUnsupported)
}

func TestSetTimebaseRangeModel(t *testing.T) {
	model := testModel()
	model.Timebases = nil
	model.MinTimebase = 1e-6
	model.MaxTimebase = 1
	m := NewMirror(model)
	require.NoError(t, m.SetTimebase(0.5))
	assert.ErrorIs(t, m.SetTimebase(2), ErrUnsupported)
	assert.ErrorIs(t, m.SetTimebase(1e-9), ErrUnsupported)
}

// TestPodEnableFollowsChannelOR verifies the §3/§8 invariant: a POD's
// enable flag equals the OR of its 8 channels' enables, including the
// dual-pod boundary where the 9th logic channel (index 8) lives in pod 1.
func TestPodEnableFollowsChannelOR(t *testing.T) {
	m := NewMirror(testModel())
	logicEnable := make([]bool, m.Model.LogicChannels)

	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 8, true))
	assert.False(t, m.Pods[0].Enable)
	assert.True(t, m.Pods[1].Enable)

	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 8, false))
	assert.False(t, m.Pods[1].Enable)

	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 0, true))
	assert.True(t, m.Pods[0].Enable)
	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 3, true))
	require.NoError(t, SetLogicChannelEnable(m, logicEnable, 0, false))
	assert.True(t, m.Pods[0].Enable, "channel 3 still enabled, pod must stay enabled")
}

func TestSetLogicChannelEnableUnknownChannel(t *testing.T) {
	m := NewMirror(testModel())
	logicEnable := make([]bool, m.Model.LogicChannels)
	assert.ErrorIs(t, SetLogicChannelEnable(m, logicEnable, -1, true), ErrInvalidState)
	assert.ErrorIs(t, SetLogicChannelEnable(m, logicEnable, 99, true), ErrInvalidState)
}

func TestTriggerOffsetSeconds(t *testing.T) {
	m := NewMirror(testModel())
	m.Timebase = 1e-3
	m.TriggerHPos = 0.5
	assert.Equal(t, 0.0, m.TriggerOffsetSeconds())
	m.TriggerHPos = 0
	assert.InDelta(t, 0.5*1e-3*12, m.TriggerOffsetSeconds(), 1e-12)
}
