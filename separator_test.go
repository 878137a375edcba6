package armdisasm

import (
	"testing"

	"github.com/chriskillpack/armdisasm/decoder"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeBL(addr, target uint32) (uint16, uint16) {
	d := int32(target) - int32(addr) - 4
	v25 := uint32(d) & 0x1ffffff
	s := (v25 >> 24) & 1
	imm10 := (v25 >> 12) & 0x3ff
	imm11 := (v25 >> 1) & 0x7ff
	hw1 := uint16(0xF000) | uint16(s<<10) | uint16(imm10)
	hw2 := uint16(0xD000) | uint16(1<<13) | uint16(1<<11) | uint16(imm11)
	return hw1, hw2
}

func le16(v uint16) (byte, byte) { return byte(v), byte(v >> 8) }

func newTestState(t *testing.T, code []byte) *pipelineState {
	t.Helper()
	im := NewImage(code, 0)
	dec := decoder.Thumb{}
	log := logrus.New().WithField("test", true)
	s := newPipelineState(im, dec, log)
	s.dmap = linearDisassemble(im, dec, 0)
	s.codeStartAddress = 0
	s.codeEndAddress = uint32(len(code))
	return s
}

func TestHandleARMSwitch8(t *testing.T) {
	code := make([]byte, 32)
	code[0], code[1] = le16(0xB430) // PUSH {R4,R5}  (helper entry, addr 0)
	code[2], code[3] = le16(0x4674) // MOV R4, LR    (addr 2)
	code[4], code[5] = le16(0xBF00) // NOP           (addr 4)
	code[6], code[7] = le16(0xBF00) // NOP           (addr 6)
	hw1, hw2 := encodeBL(8, 0)      // BL helper (addr 0)  (addr 8)
	code[8], code[9] = le16(hw1)
	code[10], code[11] = le16(hw2)
	code[12] = 0x03 // N=3
	code[13] = 0x02
	code[14] = 0x04
	code[15] = 0x06
	code[16] = 0x08

	s := newTestState(t, code)
	discoverSwitchHelpers(s)
	fn, ok := s.replaceFns[0]
	require.True(t, ok)
	assert.Equal(t, SwitchKindARM8, fn.Kind)

	mainSweep(s)

	rec, ok := s.switches[8]
	require.True(t, ok)
	assert.Equal(t, SwitchKindARM8, rec.Kind)
	assert.Equal(t, []uint32{16, 20, 24, 28}, rec.Targets)

	for a := uint32(12); a < 17; a += 2 {
		slot, ok := s.dmap.Get(a)
		require.True(t, ok)
		assert.True(t, slot.IsData, "addr %d should be data", a)
	}
}

func TestHandleTableBranch(t *testing.T) {
	code := make([]byte, 20)
	code[0], code[1] = le16(0x2005) // MOVS R0, #5      addr 0
	code[2], code[3] = le16(0x2803) // CMP R0, #3       addr 2
	code[4], code[5] = le16(0xD800) // BHI #0 (to 8)    addr 4
	code[6], code[7] = le16(0xE8DF) // TBB [PC, R0]      addr 6
	code[8], code[9] = le16(0x0000)
	code[10] = 0x02
	code[11] = 0x04
	code[12] = 0x06
	code[13] = 0x08

	s := newTestState(t, code)
	mainSweep(s)

	rec, ok := s.switches[6]
	require.True(t, ok)
	assert.Equal(t, SwitchKindTableBranch, rec.Kind)
	assert.EqualValues(t, 3, rec.CompareValue)
	assert.Equal(t, []uint32{14, 18, 22, 26}, rec.Targets)

	for a := uint32(10); a < 14; a += 2 {
		slot, ok := s.dmap.Get(a)
		require.True(t, ok)
		assert.True(t, slot.IsData)
	}
}

func TestDiscoverDataSegment(t *testing.T) {
	code := make([]byte, 0x410)
	// Reset handler at addr 0: LDR R0,[PC,#4] ; LDR R1,[PC,#8] ; NOP...
	code[0], code[1] = le16(0x4801) // LDR R0, [PC, #4]   addr 0 -> pc=(0+4)&^3=4, target=4+4=8
	code[2], code[3] = le16(0x4902) // LDR R1, [PC, #8]   addr 2 -> pc=(2+4)&^3=4, target=4+8=12
	code[4], code[5] = le16(0xBF00) // NOP
	code[6], code[7] = le16(0xBF00) // NOP
	putWord(code, 8, 0x00000400)    // source (in-image file offset)
	putWord(code, 12, 0x20000000)   // dest (RAM, out of image)
	// .data initializer bytes stored (big-endian, as this firmware's linker
	// emits them) at the source offset in flash.
	code[0x400], code[0x401], code[0x402], code[0x403] = 0xAA, 0xBB, 0xCC, 0xDD

	s := newTestState(t, code)
	discoverDataSegment(s)

	assert.EqualValues(t, 0x400-2, s.codeEndAddress)
	slot, ok := s.dmap.Get(0x400)
	require.True(t, ok)
	assert.True(t, slot.IsData)

	word, ok := s.dataRegion[0x20000000]
	require.True(t, ok)
	assert.EqualValues(t, 0xAABBCCDD, word)
}

func TestInlineAddressPassMarksBXTarget(t *testing.T) {
	code := make([]byte, 0x40)
	code[0], code[1] = le16(0x4801) // LDR R0, [PC, #4]  addr 0 -> target=8
	code[2], code[3] = le16(0x4700) // BX R0             addr 2
	putWord(code, 8, 0x21)          // loaded literal, Thumb bit set, strips to 0x20

	s := newTestState(t, code)
	inlineAddressPass(s)

	for _, a := range []uint32{0x20, 0x22} {
		slot, ok := s.dmap.Get(a)
		require.True(t, ok)
		assert.True(t, slot.IsData, "addr %#x should be data", a)
	}
}
