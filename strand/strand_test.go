package strand

import (
	"encoding/binary"
	"testing"

	"github.com/chriskillpack/armdisasm/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImage struct {
	base uint32
	data []byte
}

func (f *fakeImage) Bytes(addr uint32, n int) ([]byte, bool) {
	if addr < f.base {
		return nil, false
	}
	off := int(addr - f.base)
	if off+n > len(f.data) {
		return nil, false
	}
	return f.data[off : off+n], true
}

func TestTraceMovImmThenStop(t *testing.T) {
	// MOVS R0, #5 (0x2005) at 0x0, then a stop address at 0x2.
	img := &fakeImage{data: []byte{0x05, 0x20}}
	tr := New(img)
	st, err := tr.Trace(0, []uint32{2}, State{}, false)
	require.NoError(t, err)
	v, ok := st.Get(decoder.R0)
	require.True(t, ok)
	assert.EqualValues(t, 5, v)
}

func TestTraceLdrPcRelative(t *testing.T) {
	// LDR R0, [PC, #0] at address 0, followed by the literal word at 4.
	var buf []byte
	buf = append(buf, 0x00, 0x48) // LDR R0, [PC, #0]
	buf = append(buf, 0x00, 0x00) // padding to keep PC (addr+4) aligned at 4
	word := make([]byte, 4)
	binary.LittleEndian.PutUint32(word, 0xdeadbeef)
	buf = append(buf, word...)

	img := &fakeImage{data: buf}
	tr := New(img)
	st, err := tr.Trace(0, []uint32{2}, State{}, false)
	require.NoError(t, err)
	v, ok := st.Get(decoder.R0)
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, v)
}

func TestTraceStopsOnBranch(t *testing.T) {
	// B .-2 self branch (0xE7FE) immediately.
	img := &fakeImage{data: []byte{0xFE, 0xE7}}
	tr := New(img)
	_, err := tr.Trace(0, []uint32{100}, State{}, false)
	require.Error(t, err)
}

func TestTraceRespectPathFollowsConditionalBranch(t *testing.T) {
	// BCS .+4 (target=4) at 0, then a MOV R0,#9 at 2 that only a
	// fall-through trace would see, then MOV R0,#7 at 4, stop at 6.
	var buf []byte
	buf = append(buf, 0x00, 0xD2) // BCS #0 (pc=4, target=4)
	buf = append(buf, 0x09, 0x20) // MOVS R0, #9
	buf = append(buf, 0x07, 0x20) // MOVS R0, #7
	img := &fakeImage{data: buf}

	tr := New(img)
	st, err := tr.Trace(0, []uint32{6}, State{}, true)
	require.NoError(t, err)
	v, ok := st.Get(decoder.R0)
	require.True(t, ok)
	assert.EqualValues(t, 7, v)
}

func TestTraceRespectPathFalseStopsOnConditionalBranch(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x00, 0xD2) // BCS #0 (pc=4, target=4)
	buf = append(buf, 0x09, 0x20) // MOVS R0, #9
	buf = append(buf, 0x07, 0x20) // MOVS R0, #7
	img := &fakeImage{data: buf}

	tr := New(img)
	_, err := tr.Trace(0, []uint32{6}, State{}, false)
	require.Error(t, err)
}
