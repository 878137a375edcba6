package armdisasm

// readVectorTable implements the Vector Table Reader (§4.1). The table is
// always read from file offset 0; the Code-Base Estimator never needs a
// second read since the table lives at file offset 0 regardless of the
// runtime load address.
func readVectorTable(im *Image) (VectorTable, bool) {
	vt := VectorTable{Slots: make(map[VectorSlot]uint32, len(vectorOffsets))}

	for _, ve := range vectorOffsets {
		word, ok := im.Word32(ve.Offset)
		if !ok {
			return VectorTable{}, false
		}

		switch ve.Slot {
		case SlotInitialSP:
			if word == 0 || word%2 != 0 {
				return VectorTable{}, false
			}
		case SlotReset:
			if word == 0 || word%2 == 0 {
				return VectorTable{}, false
			}
			word = word &^ 1
		default:
			if word != 0 {
				if word%2 == 0 {
					return VectorTable{}, false
				}
				word = word &^ 1
			}
		}
		vt.Slots[ve.Slot] = word
	}

	return vt, true
}
