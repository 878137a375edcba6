package armdisasm

// sizeVectorTable implements the Vector Table Sizer (§4.4). It starts at
// file offset 60 (the 15-entry minimum) and scans successive 4-byte words
// until one fails the "looks like a handler" test, capping the scan at
// 1024 entries. Returns the table size in bytes (base-relative), which
// added to the code base becomes code_start_address.
func sizeVectorTable(im *Image, base uint32) uint32 {
	size := uint32(im.Size())
	off := uint32(FirstIRQOffset)

	const maxEntries = 1024
	count := 0
	for count < maxEntries {
		if off+4 > size {
			break
		}
		word, ok := im.Word32(off)
		if !ok {
			break
		}
		if word == 0 || word == 0xffffffff {
			off += 4
			count++
			continue
		}
		if word%2 == 0 {
			break
		}
		entry := (word &^ 1)
		if entry < base {
			break
		}
		// entry is word with the Thumb bit already stripped, i.e. word-1;
		// original_source/argxtract/core/disassembler.py:351 computes this
		// same relative offset as entry-1-base from the raw (unstripped)
		// word in one subtraction - entry-base here is the equivalent.
		rel := int64(entry) - int64(base)
		if rel < FirstIRQOffset || rel >= int64(size) {
			break
		}
		off += 4
		count++
	}

	return off
}
