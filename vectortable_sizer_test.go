package armdisasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeVectorTableMultiEntry(t *testing.T) {
	buf := make([]byte, 300)
	putWord(buf, 60, 101)        // odd, entry=100 (< size): accepted
	putWord(buf, 64, 105)        // odd, entry=104: accepted
	putWord(buf, 68, 0)          // unused: skipped
	putWord(buf, 72, 0xFFFFFFFF) // unused: skipped
	putWord(buf, 76, 200)        // even: terminates the scan

	im := NewImage(buf, 0)
	size := sizeVectorTable(im, 0)
	assert.EqualValues(t, 76, size)
}

func TestSizeVectorTableStopsOnOutOfRangeEntry(t *testing.T) {
	buf := make([]byte, 300)
	putWord(buf, 60, 601) // odd, entry=600, outside [60, len(buf))

	im := NewImage(buf, 0)
	size := sizeVectorTable(im, 0)
	assert.EqualValues(t, 60, size)
}
