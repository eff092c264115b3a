package scopebus

// PacketKind tags the variant carried by a Packet. The session bus is the
// external collaborator this engine emits onto; SessionSink is the only
// contract it needs from that collaborator.
type PacketKind int

const (
	PacketFrameBegin PacketKind = iota
	PacketFrameEnd
	PacketEnd
	PacketAnalog
	PacketLogic
	PacketTrigger
)

func (k PacketKind) String() string {
	switch k {
	case PacketFrameBegin:
		return "FrameBegin"
	case PacketFrameEnd:
		return "FrameEnd"
	case PacketEnd:
		return "End"
	case PacketAnalog:
		return "Analog"
	case PacketLogic:
		return "Logic"
	case PacketTrigger:
		return "Trigger"
	default:
		return "Unknown"
	}
}

// Quantity is the physical quantity an Analog packet's samples represent.
type Quantity int

const (
	QuantityVoltage Quantity = iota
	QuantityCurrent
)

// ChannelRef identifies the channel or POD group a packet originated
// from.
type ChannelRef struct {
	Kind  ChannelKind
	Index int // 0-based within its kind
}

// AnalogPacket carries one chunk of a channel's waveform, already
// converted to physical units by the per-sample transformation (§4.4 of
// the spec).
type AnalogPacket struct {
	Source   ChannelRef
	Quantity Quantity
	Unit     string // "V" or "A"
	Digits   int    // suggested decimal digit count for display
	Samples  []float32
}

// LogicPacket carries one chunk of deinterleaved digital samples, packed
// little-endian at UnitSize bytes per sample (1 for a single POD, 2 for
// dual-POD or DSLogic).
type LogicPacket struct {
	Source   ChannelRef
	UnitSize int
	Data     []byte
}

// Packet is the envelope delivered to the session bus. Exactly one of the
// payload fields is populated, selected by Kind; FrameBegin, FrameEnd,
// End and Trigger carry no payload.
type Packet struct {
	Kind   PacketKind
	Analog *AnalogPacket
	Logic  *LogicPacket
}

// SessionSink is the session-bus collaborator. Session-bus plumbing,
// application-facing config marshalling and device enumeration are all
// explicitly out of scope for this engine (§1); SessionSink is the only
// interface it needs against that external system.
type SessionSink interface {
	Emit(Packet)
}

// SinkFunc adapts a plain function to SessionSink.
type SinkFunc func(Packet)

func (f SinkFunc) Emit(p Packet) { f(p) }

func framePacket(kind PacketKind) Packet { return Packet{Kind: kind} }

func analogPacket(ref ChannelRef, q Quantity, unit string, digits int, samples []float32) Packet {
	return Packet{
		Kind: PacketAnalog,
		Analog: &AnalogPacket{
			Source:   ref,
			Quantity: q,
			Unit:     unit,
			Digits:   digits,
			Samples:  samples,
		},
	}
}

func logicPacket(ref ChannelRef, unitSize int, data []byte) Packet {
	return Packet{
		Kind: PacketLogic,
		Logic: &LogicPacket{
			Source:   ref,
			UnitSize: unitSize,
			Data:     data,
		},
	}
}
