package armdisasm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putWord(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

func minimalVectorTableImage() []byte {
	buf := make([]byte, 1024)
	putWord(buf, 0, 0x20000400) // initial_sp
	putWord(buf, 4, 0x00000101) // reset (thumb bit set)
	for _, ve := range vectorOffsets {
		if ve.Slot == SlotInitialSP || ve.Slot == SlotReset {
			continue
		}
		putWord(buf, ve.Offset, 0x00000121)
	}
	return buf
}

func TestReadVectorTableValid(t *testing.T) {
	buf := minimalVectorTableImage()
	im := NewImage(buf, 0)

	vt, ok := readVectorTable(im)
	require.True(t, ok)
	assert.EqualValues(t, 0x20000400, vt.Slots[SlotInitialSP])
	assert.EqualValues(t, 0x100, vt.Slots[SlotReset])
	assert.EqualValues(t, 0x120, vt.Slots[SlotNMI])
}

func TestReadVectorTableOddInitialSPFails(t *testing.T) {
	buf := minimalVectorTableImage()
	putWord(buf, 0, 0x20000401) // odd stack pointer
	im := NewImage(buf, 0)

	_, ok := readVectorTable(im)
	assert.False(t, ok)
}

func TestReadVectorTableEvenResetFails(t *testing.T) {
	buf := minimalVectorTableImage()
	putWord(buf, 4, 0x00000100) // even, no thumb bit
	im := NewImage(buf, 0)

	_, ok := readVectorTable(im)
	assert.False(t, ok)
}

func TestInterruptHandlerAddressesExcludesSPResetSysTick(t *testing.T) {
	buf := minimalVectorTableImage()
	putWord(buf, 56, 0x00000141) // systick, distinct from the other handlers
	im := NewImage(buf, 0)
	vt, ok := readVectorTable(im)
	require.True(t, ok)

	handlers := vt.InterruptHandlerAddresses()
	assert.NotContains(t, handlers, uint32(0x20000400))
	assert.NotContains(t, handlers, uint32(0x100))
	assert.NotContains(t, handlers, uint32(0x140))
	assert.Contains(t, handlers, uint32(0x120))
}
