package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUnconditionalBranch(t *testing.T) {
	// B .-2 (self-branch): 0xE7FE
	ins := Thumb{}.Decode([]byte{0xFE, 0xE7}, 0x1000)
	require.Equal(t, OpB, ins.Op)
	require.Len(t, ins.Operands, 1)
	assert.EqualValues(t, 0x1000, ins.Operands[0].Imm)
}

func TestDecodeConditionalBranchHS(t *testing.T) {
	// BHS is cond=0x2 (CS/HS); encoding 0xD2xx
	ins := Thumb{}.Decode([]byte{0x00, 0xD2}, 0x2000)
	require.Equal(t, OpB, ins.Op)
	assert.Equal(t, HS, ins.Cond)
}

func TestDecodePCRelativeLoad(t *testing.T) {
	// LDR R0, [PC, #4]: 0x4801
	ins := Thumb{}.Decode([]byte{0x01, 0x48}, 0x100)
	require.Equal(t, OpLDR, ins.Op)
	require.Len(t, ins.Operands, 2)
	assert.Equal(t, R0, ins.Operands[0].Reg)
	assert.Equal(t, PC, ins.Operands[1].Base)
	assert.EqualValues(t, 4, ins.Operands[1].Disp)
}

func TestDecodeBX(t *testing.T) {
	// BX LR: 0x4770
	ins := Thumb{}.Decode([]byte{0x70, 0x47}, 0x10)
	require.Equal(t, OpBX, ins.Op)
	assert.Equal(t, LR, ins.Operands[0].Reg)
}

func TestDecodePush(t *testing.T) {
	// PUSH {R4, R5, LR}: 0xB530
	ins := Thumb{}.Decode([]byte{0x30, 0xB5}, 0x0)
	require.Equal(t, OpPUSH, ins.Op)
	regs := make([]Register, 0, len(ins.Operands))
	for _, o := range ins.Operands {
		regs = append(regs, o.Reg)
	}
	assert.Contains(t, regs, R4)
	assert.Contains(t, regs, R5)
	assert.Contains(t, regs, LR)
}

func TestIs32BitPrefix(t *testing.T) {
	assert.True(t, Is32BitPrefix(0xF000))
	assert.True(t, Is32BitPrefix(0xE8A0))
	assert.False(t, Is32BitPrefix(0x4770))
}

func TestDecodeTBB(t *testing.T) {
	// TBB [R0, R1]: hw1=0xE8D0 Rn=0, hw2=0xF001 op=0000 Rm=1
	ins := Thumb{}.Decode([]byte{0xD0, 0xE8, 0x01, 0xF0}, 0x200)
	require.Equal(t, OpTBB, ins.Op)
	require.Len(t, ins.Operands, 1)
	assert.Equal(t, R0, ins.Operands[0].Base)
	assert.Equal(t, R1, ins.Operands[0].Index)
}

func TestDecodeMOVW(t *testing.T) {
	// MOVW R0, #0x1234: hw1=0xF240 imm4=1,i=0  hw2 = imm3:Rd:imm8 -> imm3=2,Rd=0,imm8=0x34
	// choose imm16=0x1234 -> imm4=1 i=0 imm3=2 imm8=0x34
	hw1 := uint16(0xF240) | 0x0001
	hw2 := uint16(0x0000) | (0x2 << 12) | 0x34
	ins := Thumb{}.Decode([]byte{byte(hw1), byte(hw1 >> 8), byte(hw2), byte(hw2 >> 8)}, 0x300)
	require.Equal(t, OpMOVW, ins.Op)
	assert.EqualValues(t, 0x1234, ins.Operands[1].Imm)
}

func TestNEONMisdecodeFlag(t *testing.T) {
	ins := Thumb{}.Decode([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0x400)
	assert.True(t, IsNEONMnemonic(ins.Mnemonic))
}

func TestDecodeInvalidShortBuffer(t *testing.T) {
	ins := Thumb{}.Decode([]byte{0xF0}, 0x0)
	assert.Equal(t, OpInvalid, ins.Op)
}
