package scopebus

import (
	"fmt"
	"time"
)

// Coupling is an analog channel's input coupling, device-dependent subset
// of this enumerated set.
type Coupling string

const (
	CouplingAC  Coupling = "AC"
	CouplingACL Coupling = "ACL"
	CouplingDC  Coupling = "DC"
	CouplingDCL Coupling = "DCL"
	CouplingGND Coupling = "GND"
)

// TriggerSlope selects which edge(s) arm the trigger.
type TriggerSlope string

const (
	SlopeRising  TriggerSlope = "rising"
	SlopeFalling TriggerSlope = "falling"
	SlopeEither  TriggerSlope = "either"
)

// AnalogChannelState mirrors one analog channel's configuration.
type AnalogChannelState struct {
	Enable      bool
	Coupling    Coupling
	VdivIndex   int
	VertOffset  float64 // volts
	Reference   int     // only meaningful for IEEE-488.2 scopes
	ProbeAtten  float64
	ProbeUnit   string // "V" or "A"
}

// PodState mirrors one logic POD group's configuration.
type PodState struct {
	Enable         bool
	ThresholdIndex int
	UserThreshold  float64 // volts
}

// MirrorState is the single writer/multi-reader configuration mirror for
// one open instrument (§3). The writer is the config-apply path; readers
// are the acquisition and list-config paths.
type MirrorState struct {
	Model ModelDescriptor

	Analog []AnalogChannelState
	Pods   []PodState

	Timebase        float64
	TriggerHPos     float64 // fraction [0,1] of screen width
	TriggerSource   string
	TriggerSlope    TriggerSlope
	TriggerLevel    float64
	TriggerPattern  string

	SampleRate   float64
	FrameLimit   int
	SampleLimit  int
	DataSource   DataSource
	WaitMode     waitMode
}

// NewMirror builds a mirror for model with every channel/POD disabled
// and at index 0, as if freshly polled from a reset instrument.
func NewMirror(model ModelDescriptor) *MirrorState {
	m := &MirrorState{
		Model:      model,
		Analog:     make([]AnalogChannelState, model.AnalogChannels),
		Pods:       make([]PodState, model.PodCount()),
		Timebase:   model.MinTimebase,
		DataSource: SourceLive,
	}
	for i := range m.Analog {
		m.Analog[i] = AnalogChannelState{Coupling: CouplingDC, ProbeAtten: 1, ProbeUnit: "V"}
	}
	return m
}

// TriggerOffsetSeconds converts the mirrored horizontal trigger position
// (a fraction of screen width) to seconds, per §3:
// (0.5 - pos) * timebase * num_hdivs.
func (m *MirrorState) TriggerOffsetSeconds() float64 {
	return (0.5 - m.TriggerHPos) * m.Timebase * float64(m.Model.HDivs)
}

// SetTriggerPosition validates pos is in [0,1] and updates the mirror.
// Values outside that range are ErrUnsupported, per §8 boundary
// behaviors.
func (m *MirrorState) SetTriggerPosition(pos float64) error {
	if pos < 0.0 || pos > 1.0 {
		return fmt.Errorf("%w: trigger position %v outside [0,1]", ErrUnsupported, pos)
	}
	m.TriggerHPos = pos
	return nil
}

// SetVdiv validates idx against the model's enumerated vdiv list and
// updates the channel's mirrored value.
func (m *MirrorState) SetVdiv(channel, idx int) error {
	if channel < 0 || channel >= len(m.Analog) {
		return fmt.Errorf("%w: unknown analog channel %d", ErrInvalidState, channel)
	}
	if idx < 0 || idx >= len(m.Model.Vdivs) {
		return fmt.Errorf("%w: vdiv index %d out of range", ErrUnsupported, idx)
	}
	m.Analog[channel].VdivIndex = idx
	return nil
}

// SetTimebase validates value against the model's enumerated timebase
// list (or its min/max range, if no discrete list is given).
func (m *MirrorState) SetTimebase(value float64) error {
	if len(m.Model.Timebases) > 0 {
		for _, tb := range m.Model.Timebases {
			if tb == value {
				m.Timebase = value
				return nil
			}
		}
		return fmt.Errorf("%w: timebase %v not in model's enumerated set", ErrUnsupported, value)
	}
	if value < m.Model.MinTimebase || (m.Model.MaxTimebase > 0 && value > m.Model.MaxTimebase) {
		return fmt.Errorf("%w: timebase %v outside [%v,%v]", ErrUnsupported, value, m.Model.MinTimebase, m.Model.MaxTimebase)
	}
	m.Timebase = value
	return nil
}

// SetCoupling validates coupling against the model's supported subset.
func (m *MirrorState) SetCoupling(channel int, c Coupling, allowed []Coupling) error {
	if channel < 0 || channel >= len(m.Analog) {
		return fmt.Errorf("%w: unknown analog channel %d", ErrInvalidState, channel)
	}
	ok := false
	for _, a := range allowed {
		if a == c {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: coupling %q not supported on this model", ErrUnsupported, c)
	}
	m.Analog[channel].Coupling = c
	return nil
}

// SetAnalogEnable sets an analog channel's enable flag. The invariant
// analog_channels[i].enabled == channel[i].enabled (§3) is maintained by
// the caller keeping a parallel ChannelDescriptor list in sync; this
// method only updates the mirror side.
func (m *MirrorState) SetAnalogEnable(channel int, enable bool) error {
	if channel < 0 || channel >= len(m.Analog) {
		return fmt.Errorf("%w: unknown analog channel %d", ErrInvalidState, channel)
	}
	m.Analog[channel].Enable = enable
	return nil
}

// SetLogicChannelEnable enables or disables a single logic channel
// (0-based across all PODs) and maintains the POD-enable coordination
// invariant from §3/§8: a POD's enable flag equals the OR of its 8
// channels' enables. logicEnable is the full per-channel enable vector,
// mutated in place.
func SetLogicChannelEnable(m *MirrorState, logicEnable []bool, channel int, enable bool) error {
	if channel < 0 || channel >= len(logicEnable) {
		return fmt.Errorf("%w: unknown logic channel %d", ErrInvalidState, channel)
	}
	logicEnable[channel] = enable
	pod := channel / m.Model.PodSize
	if pod >= len(m.Pods) {
		return fmt.Errorf("%w: channel %d has no POD on this model", ErrInvalidState, channel)
	}
	anyEnabled := false
	base := pod * m.Model.PodSize
	for i := base; i < base+m.Model.PodSize && i < len(logicEnable); i++ {
		if logicEnable[i] {
			anyEnabled = true
			break
		}
	}
	m.Pods[pod].Enable = anyEnabled
	return nil
}

// waitMode is the acquisition wait mode mirrored per §3.
type waitMode int

const (
	waitIdle waitMode = iota
	waitArm
	waitTrigger
	waitTrigPos
	waitReadBlock
	waitNextChannel
	waitFrameEnd
)

// ConfigApplier issues the device command corresponding to a mirror
// write. The apply layer sleeps unconditionally after every write it
// issues, since some instruments (e.g. DS1052E) scramble state without a
// 100ms idle gap between successive writes (§4.5).
type ConfigApplier struct {
	Transport LineTransport
	interDelay time.Duration
}

// NewConfigApplier returns an applier with the §4.5 default 100ms
// inter-command gap.
func NewConfigApplier(t LineTransport) *ConfigApplier {
	return &ConfigApplier{Transport: t, interDelay: 100 * time.Millisecond}
}

// Write sends a command and then sleeps the inter-command gap.
func (a *ConfigApplier) Write(format string, args ...any) error {
	if err := a.Transport.Send(format, args...); err != nil {
		return err
	}
	time.Sleep(a.interDelay)
	return nil
}
