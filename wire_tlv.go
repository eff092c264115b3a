package scopebus

import (
	"encoding/binary"
	"fmt"
)

// DSLogic FPGA configuration framing (§4.2.3).
const (
	dslogicStartMarker uint32 = 0xF5A5F5A5
	dslogicEndMarker   uint32 = 0xFA5AFA5A
)

// dslogicVariable identifies a TLV field by its variable_id.
type dslogicVariable byte

const (
	varMode             dslogicVariable = 0
	varDivider          dslogicVariable = 1
	varSampleCount      dslogicVariable = 2
	varTriggerPosition  dslogicVariable = 3
	varTriggerGlobal    dslogicVariable = 4
	varChannelEnable    dslogicVariable = 5
	varTriggerStageBase dslogicVariable = 6 // 16 stages x 10 words each follow
)

// DSLogicTLVVersion selects the wire layout: v1 has a 16-bit channel
// enable word, v2 has a 32-bit word and a shifted tag.
type DSLogicTLVVersion int

const (
	TLVVersion1 DSLogicTLVVersion = iota
	TLVVersion2
)

const (
	TriggerStageCount = 16
	TriggerWordsPerStage = 10
)

// DSLogicTLVConfig is the packed struct sent as a single bulk transfer,
// bracketed by the start/end markers.
type DSLogicTLVConfig struct {
	Version         DSLogicTLVVersion
	Mode            uint32
	Divider         uint32
	SampleCount     uint32
	TriggerPosition uint32
	TriggerGlobal   uint32
	ChannelEnable   uint32 // only the low 16 bits are meaningful under v1
	TriggerStages   [TriggerStageCount][TriggerWordsPerStage]uint16
}

// tlvTag encodes (variable_id << 8) | word_count on v1. On v2 the tag is
// shifted left by one additional bit position to make room for the wider
// channel-enable field, per §4.2.3.
func tlvTag(version DSLogicTLVVersion, v dslogicVariable, wordCount byte) uint16 {
	tag := uint16(v)<<8 | uint16(wordCount)
	if version == TLVVersion2 {
		tag <<= 1
	}
	return tag
}

func putTLV(buf []byte, version DSLogicTLVVersion, v dslogicVariable, words []uint16) []byte {
	tag := tlvTag(version, v, byte(len(words)))
	out := make([]byte, 2+2*len(words))
	binary.LittleEndian.PutUint16(out[0:2], tag)
	for i, w := range words {
		binary.LittleEndian.PutUint16(out[2+2*i:4+2*i], w)
	}
	return append(buf, out...)
}

func uint32Words(x uint32) []uint16 {
	return []uint16{uint16(x), uint16(x >> 16)}
}

// Encode serializes the configuration into the bulk transfer payload
// expected by the FPGA, little-endian regardless of host byte order.
func (c DSLogicTLVConfig) Encode() []byte {
	buf := make([]byte, 0, 256)
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, dslogicStartMarker)
	buf = append(buf, hdr...)

	buf = putTLV(buf, c.Version, varMode, uint32Words(c.Mode))
	buf = putTLV(buf, c.Version, varDivider, uint32Words(c.Divider))
	buf = putTLV(buf, c.Version, varSampleCount, uint32Words(c.SampleCount))
	buf = putTLV(buf, c.Version, varTriggerPosition, uint32Words(c.TriggerPosition))
	buf = putTLV(buf, c.Version, varTriggerGlobal, uint32Words(c.TriggerGlobal))

	if c.Version == TLVVersion2 {
		buf = putTLV(buf, c.Version, varChannelEnable, uint32Words(c.ChannelEnable))
	} else {
		buf = putTLV(buf, c.Version, varChannelEnable, []uint16{uint16(c.ChannelEnable)})
	}

	for stage := 0; stage < TriggerStageCount; stage++ {
		tag := dslogicVariable(byte(varTriggerStageBase) + byte(stage))
		buf = putTLV(buf, c.Version, tag, c.TriggerStages[stage][:])
	}

	end := make([]byte, 4)
	binary.LittleEndian.PutUint32(end, dslogicEndMarker)
	buf = append(buf, end...)
	return buf
}

// ParseDSLogicTLV validates framing markers of a previously-encoded
// configuration buffer, mainly useful for tests and loopback diagnostics.
func ParseDSLogicTLV(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: TLV frame too short", ErrBadHeader)
	}
	start := binary.LittleEndian.Uint32(data[:4])
	end := binary.LittleEndian.Uint32(data[len(data)-4:])
	if start != dslogicStartMarker {
		return fmt.Errorf("%w: bad start marker 0x%08x", ErrBadHeader, start)
	}
	if end != dslogicEndMarker {
		return fmt.Errorf("%w: bad end marker 0x%08x", ErrBadHeader, end)
	}
	return nil
}
