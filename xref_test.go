package armdisasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBranchTargetsDirect(t *testing.T) {
	code := make([]byte, 16)
	// addr0: NOP (branch target)
	code[0], code[1] = le16(0xBF00)
	// addr2: BL addr0
	hw1, hw2 := encodeBL(2, 0)
	code[2], code[3] = le16(hw1)
	code[4], code[5] = le16(hw2)

	s := newTestState(t, code)
	resolveBranchTargets(s)

	target, ok := s.dmap.Get(0)
	require.True(t, ok)
	require.Contains(t, target.XrefFrom, uint32(2))
}

func TestResolveBranchTargetsSelfBranchNoXref(t *testing.T) {
	code := make([]byte, 4)
	code[0], code[1] = le16(0xE7FE) // B .-2 self-targeting branch at addr 0

	s := newTestState(t, code)
	resolveBranchTargets(s)

	slot, ok := s.dmap.Get(0)
	require.True(t, ok)
	assert.Empty(t, slot.XrefFrom)
}

func TestResolveBranchTargetRejectsDataLanding(t *testing.T) {
	code := make([]byte, 16)
	// addr0 marked as data directly (no decoded instruction)
	hw1, hw2 := encodeBL(2, 0)
	code[2], code[3] = le16(hw1)
	code[4], code[5] = le16(hw2)

	s := newTestState(t, code)
	s.dmap.MarkData(0)
	resolveBranchTargets(s)

	slot, ok := s.dmap.Get(0)
	require.True(t, ok)
	assert.Empty(t, slot.XrefFrom)
}

func TestAnnotateLastInsnAddressSkipsNop(t *testing.T) {
	code := make([]byte, 8)
	code[0], code[1] = le16(0x4674) // MOV R4, LR  (substantive, addr 0)
	code[2], code[3] = le16(0xBF00) // NOP          addr 2
	code[4], code[5] = le16(0xBF00) // NOP          addr 4
	code[6], code[7] = le16(0x4674) // MOV R4, LR   addr 6

	s := newTestState(t, code)
	annotateLastInsnAddress(s)

	slot, ok := s.dmap.Get(6)
	require.True(t, ok)
	require.True(t, slot.HasLastInsnAddr)
	assert.EqualValues(t, 0, slot.LastInsnAddress)
}

func TestDetectArchitectureARMv7M(t *testing.T) {
	code := make([]byte, 8)
	// UDIV R0, R1, R2 - Thumb-2 divide, ARMv7-M only
	code[0], code[1] = le16(0xECB1)
	code[2], code[3] = le16(0xF0F2)

	s := newTestState(t, code)
	detectArchitecture(s)
	assert.Equal(t, ArchARMv7M, s.arch)
}
