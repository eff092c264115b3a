package scopebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBitsTable(t *testing.T) {
	cases := []struct {
		name              string
		kind              MatchKind
		mask, value, edge bool
	}{
		{"zero", MatchZero, false, false, false},
		{"one", MatchOne, false, true, false},
		{"rising", MatchRising, false, true, true},
		{"falling", MatchFalling, false, false, true},
		{"edge", MatchEdge, true, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mask, value, edge := matchBits(c.kind)
			assert.Equal(t, c.mask, mask)
			assert.Equal(t, c.value, value)
			assert.Equal(t, c.edge, edge)
		})
	}
}

func TestCompileStageWordsLowAndHighHalf(t *testing.T) {
	stage := TriggerStage{Matches: make([]MatchKind, 20)}
	stage.Matches[0] = MatchOne     // low half, bit 0
	stage.Matches[17] = MatchEdge   // high half, bit 1

	words := compileStageWords(stage)
	assert.Equal(t, uint16(0), words[0]) // mask0: bit0 is MatchOne, no mask bit
	assert.Equal(t, uint16(1), words[2]) // value0 bit0
	assert.Equal(t, uint16(2), words[1]) // mask1 bit1 (17-16=1)
	assert.Equal(t, uint16(2), words[5]) // edge1 bit1
}

func TestCompileTriggerGlobalVersionEncoding(t *testing.T) {
	assert.Equal(t, uint32(3)<<4|1, compileTriggerGlobal(TLVVersion1, 3, 1))
	assert.Equal(t, uint32(16)<<8|2, compileTriggerGlobal(TLVVersion2, 16, 2))
}

func TestCompileTriggerFillsUnusedStagesWithIdentity(t *testing.T) {
	cfg := CompileTrigger(TLVVersion1, []TriggerStage{{Matches: []MatchKind{MatchOne}}}, 1)
	identity := [TriggerWordsPerStage]uint16{0xFFFF, 0xFFFF}
	assert.Equal(t, identity, cfg.TriggerStages[1])
	assert.NotEqual(t, identity, cfg.TriggerStages[0])
	assert.Equal(t, uint32(1)<<4|1, cfg.TriggerGlobal)
}
