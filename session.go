package scopebus

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Instrument is the uniform driver contract §1 describes: given an
// already-open transport identified against the catalog, it configures
// acquisition parameters, drives a capture cycle, and delivers typed
// packets onto a SessionSink until a frame/sample limit is reached.
// Device enumeration, session-bus plumbing and application-facing config
// marshalling are external collaborators (§1) this type does not own.
type Instrument struct {
	mu     sync.Mutex
	model  ModelDescriptor
	mirror *MirrorState
	log    *log.Logger

	scope   *ScopeEngine
	dslogic *DSLogicEngine

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenScope opens a line-transport instrument (legacy-raw, IEEE-488.2, or
// Siglent descriptor-block) whose model has already been resolved via
// Catalog.Lookup. The mirror starts at its reset defaults; callers poll
// fields they need via the config-get path before relying on them (§4.5).
func OpenScope(t LineTransport, model ModelDescriptor, serial string) *Instrument {
	mirror := NewMirror(model)
	scope := NewScopeEngine(t, mirror, model, nil)
	scope.Log = instrumentLogger(model.Vendor, serial)
	return &Instrument{
		model:  model,
		mirror: mirror,
		log:    scope.Log,
		scope:  scope,
	}
}

// OpenDSLogic opens a DSLogic-class USB logic analyzer.
func OpenDSLogic(usb *USBTransport, model ModelDescriptor, serial string) *Instrument {
	mirror := NewMirror(model)
	return &Instrument{
		model:   model,
		mirror:  mirror,
		log:     instrumentLogger(model.Vendor, serial),
		dslogic: &DSLogicEngine{USB: usb, Model: model},
	}
}

// Model returns the instrument's static catalog descriptor.
func (i *Instrument) Model() ModelDescriptor { return i.model }

// Mirror returns the live configuration mirror for read-only inspection
// (config-get serves from this without device I/O, per §4.5).
func (i *Instrument) Mirror() *MirrorState { return i.mirror }

// Start begins acquisition in its own goroutine, delivering packets to
// sink until the frame/sample limit is reached or Stop cancels it. It
// returns ErrInvalidState if an earlier Start has not been followed by
// Stop, even when that acquisition has already finished on its own, per
// the invariant that config-set and acquisition never run concurrently
// (§5).
func (i *Instrument) Start(ctx context.Context, sink SessionSink) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return fmt.Errorf("%w: acquisition already running", ErrInvalidState)
	}
	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.done = make(chan struct{})

	go func() {
		defer close(i.done)
		var err error
		switch {
		case i.dslogic != nil:
			i.dslogic.Sink = sink
			i.dslogic.EnabledChannels = enabledLogicChannels(i.mirror)
			i.dslogic.SampleRate = i.mirror.SampleRate
			i.dslogic.SampleLimit = i.mirror.SampleLimit
			err = i.dslogic.Run(runCtx)
		case i.scope != nil:
			i.scope.Sink = sink
			err = i.scope.Run(runCtx)
		}
		if err != nil && runCtx.Err() == nil {
			i.log.Error("acquisition stopped", "err", err)
		}
	}()
	return nil
}

// Stop implements acquisition_stop (§5): cancel the running context and
// block until the acquisition goroutine has observed it and emitted End.
// Calling Stop when nothing is running is a no-op.
func (i *Instrument) Stop() error {
	i.mu.Lock()
	cancel := i.cancel
	done := i.done
	i.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	i.mu.Lock()
	i.cancel = nil
	i.done = nil
	i.mu.Unlock()
	return nil
}

func enabledLogicChannels(m *MirrorState) []int {
	var out []int
	for podIdx, pod := range m.Pods {
		if !pod.Enable {
			continue
		}
		base := podIdx * m.Model.PodSize
		for k := 0; k < m.Model.PodSize; k++ {
			out = append(out, base+k)
		}
	}
	return out
}

func channelEnableMask(channels []int) uint32 {
	var mask uint32
	for _, c := range channels {
		if c < 32 {
			mask |= 1 << uint(c)
		}
	}
	return mask
}

// SetVdiv validates and applies a vertical scale change to both the
// mirror and the live device (§4.5).
func (i *Instrument) SetVdiv(channel, idx int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.mirror.SetVdiv(channel, idx); err != nil {
		return err
	}
	if i.scope == nil {
		return nil
	}
	return i.scope.Applier.Write(":CHAN%d:SCAL %.6e", channel+1, i.model.Vdivs[idx])
}

// SetTimebase validates and applies a horizontal scale change.
func (i *Instrument) SetTimebase(value float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.mirror.SetTimebase(value); err != nil {
		return err
	}
	if i.scope == nil {
		return nil
	}
	return i.scope.Applier.Write(":TIM:SCAL %.6e", value)
}

// SetTriggerPosition validates pos and writes the derived offset in
// seconds to the device.
func (i *Instrument) SetTriggerPosition(pos float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.mirror.SetTriggerPosition(pos); err != nil {
		return err
	}
	if i.scope == nil {
		return nil
	}
	return i.scope.Applier.Write(":TIM:OFFS %.6f", i.mirror.TriggerOffsetSeconds())
}

// SetAnalogEnable toggles an analog channel's enable flag, maintaining
// the analog_channels[i].enabled == channel[i].enabled invariant (§3).
func (i *Instrument) SetAnalogEnable(channel int, enable bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.mirror.SetAnalogEnable(channel, enable); err != nil {
		return err
	}
	if i.scope == nil {
		return nil
	}
	onOff := "OFF"
	if enable {
		onOff = "ON"
	}
	return i.scope.Applier.Write(":CHAN%d:DISP %s", channel+1, onOff)
}

// SetFrameLimit sets the frame limit consulted by Run.
func (i *Instrument) SetFrameLimit(n int) {
	i.mu.Lock()
	i.mirror.FrameLimit = n
	i.mu.Unlock()
}

// SetSampleLimit sets the per-frame sample budget.
func (i *Instrument) SetSampleLimit(n int) {
	i.mu.Lock()
	i.mirror.SampleLimit = n
	i.mu.Unlock()
}

// SetDataSource validates and applies the capture data source, rejecting
// "memory" on models lacking ModelCapabilities.MemorySource.
func (i *Instrument) SetDataSource(s DataSource) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if s == SourceMemory && !i.model.Caps.MemorySource {
		return fmt.Errorf("%w: model does not support memory data source", ErrUnsupported)
	}
	i.mirror.DataSource = s
	return nil
}

// ConfigureTrigger compiles a logic trigger and uploads it to the DSLogic
// FPGA over the bulk-out endpoint (§4.2.3, §4.7). It is only valid on
// DSLogic-class instruments.
func (i *Instrument) ConfigureTrigger(ctx context.Context, stages []TriggerStage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dslogic == nil {
		return fmt.Errorf("%w: trigger compiler only applies to DSLogic-class devices", ErrInvalidState)
	}
	version := TLVVersion1
	if i.model.Caps.ChannelEnable32 {
		version = TLVVersion2
	}
	enabled := enabledLogicChannels(i.mirror)
	cfg := CompileTrigger(version, stages, len(enabled))
	cfg.ChannelEnable = channelEnableMask(enabled)

	out, err := i.dslogic.USB.BulkOut()
	if err != nil {
		return err
	}
	if _, err := out.WriteContext(ctx, cfg.Encode()); err != nil {
		return fmt.Errorf("%w: uploading trigger TLV: %v", ErrIO, err)
	}
	return nil
}
