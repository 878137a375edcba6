package armdisasm

import "github.com/chriskillpack/armdisasm/decoder"

// linearDisassemble implements the Linear Disassembler (§4.3): a dense,
// byte-by-byte decode of the image from code_start onward, in skip-data
// mode, with the NEON misinterpretation repair heuristic applied as each
// instruction is produced.
func linearDisassemble(im *Image, dec decoder.Decoder, codeStart uint32) *DisassemblyMap {
	m := NewDisassemblyMap()

	size := uint32(im.Size())
	end := im.VirtualAddr(size)

	for addr := codeStart; addr+2 <= end; {
		code, ok := im.Bytes(addr, 4)
		if !ok {
			code, ok = im.Bytes(addr, 2)
			if !ok {
				break
			}
		}
		ins := dec.Decode(code, addr)

		if ins.Len == 4 && decoder.IsNEONMnemonic(ins.Mnemonic) {
			repairNEONMisinterpretation(m, im, dec, addr)
			addr += 2
			continue
		}

		insCopy := ins
		m.Set(&DecodedSlot{Addr: addr, Insn: &insCopy})

		if ins.Len == 0 {
			addr += 2
		} else {
			addr += uint32(ins.Len)
		}
	}

	return m
}

// repairNEONMisinterpretation splits a suspect 4-byte NEON-mnemonic decode
// into overlapping re-decodes: a 2-byte one at addr, a 2-byte one at addr+2,
// and a 4-byte candidate spanning addr+2 joined with the following slot's
// first two bytes. The map holds one slot per address, so only one
// interpretation of addr+2 is kept: the 4-byte candidate when it is not
// itself NEON-looking, otherwise the 2-byte decode. Later passes do not
// choose between alternative decodes.
func repairNEONMisinterpretation(m *DisassemblyMap, im *Image, dec decoder.Decoder, addr uint32) {
	if code, ok := im.Bytes(addr, 2); ok {
		ins := dec.Decode(code, addr)
		m.Set(&DecodedSlot{Addr: addr, Insn: &ins})
	}
	if code, ok := im.Bytes(addr+2, 2); ok {
		ins := dec.Decode(code, addr+2)
		m.Set(&DecodedSlot{Addr: addr + 2, Insn: &ins})
	}
	if code, ok := im.Bytes(addr+2, 4); ok {
		ins := dec.Decode(code, addr+2)
		if ins.Len == 4 && !decoder.IsNEONMnemonic(ins.Mnemonic) {
			// Plausible alternate 4-byte decode starting one halfword in,
			// recorded last-write-wins over the 2-byte decode above; not
			// recorded if it itself looks like another NEON
			// misinterpretation, to avoid an unbounded repair cascade.
			m.Set(&DecodedSlot{Addr: addr + 2, Insn: &ins})
		}
	}
}
