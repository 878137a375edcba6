package armdisasm

import (
	"github.com/chriskillpack/armdisasm/decoder"
)

// estimateCodeBase implements the Code-Base Estimator (§4.2). It scans a
// scratch disassembly of the raw image at base 0 to collect self-targeting
// branch idioms, correlates them against the vector table's interrupt
// handler addresses by shared low hex digits, and returns the inferred
// application code base.
func estimateCodeBase(im *Image, vt VectorTable, dec decoder.Decoder) (uint32, bool) {
	handlers := dedupUint32(vt.InterruptHandlerAddresses())
	defaultHandler, hasDefault := estimateDefaultHandler(im, vt, handlers)
	if hasDefault {
		handlers = dedupUint32(append(handlers, defaultHandler))
	}

	selfBranches := scanSelfTargetingBranches(im, dec)
	if len(selfBranches) == 0 || len(handlers) == 0 {
		return 0, false
	}

	reset := vt.Slots[SlotReset]
	size := uint32(im.Size())

	for _, mask := range []uint32{0xfff, 0xff} {
		candidates := make(map[uint32]int)
		for _, h := range handlers {
			for _, s := range selfBranches {
				if (h & mask) != (s & mask) {
					continue
				}
				base := h - s
				if reset < base || reset >= base+size {
					continue
				}
				candidates[base]++
			}
		}
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) == 1 {
			for base := range candidates {
				return base, true
			}
		}

		maxCount := 0
		for _, c := range candidates {
			if c > maxCount {
				maxCount = c
			}
		}
		var tied []uint32
		for base, c := range candidates {
			if c == maxCount {
				tied = append(tied, base)
			}
		}
		if len(tied) == 1 {
			return tied[0], true
		}

		// Several candidates share the top frequency: §4.2 step 5 breaks the
		// tie deterministically by re-matching using only the default
		// handler, first at 3-hex-digit precision then at 2, rather than an
		// arbitrary (map-order) pick among the tied bases.
		if hasDefault {
			if base, ok := matchDefaultHandlerOnly(defaultHandler, selfBranches, reset, size); ok {
				return base, true
			}
		}
		return sortedMin(tied), true
	}

	return 0, false
}

// matchDefaultHandlerOnly implements the §4.2 step-5 tie-break: repeat the
// handler/self-branch correlation using only the default handler, first at
// 3-hex-digit precision then at 2, returning the first accepted base in
// self-branch address order (selfBranches is already produced by a linear,
// increasing-address scan, so this is deterministic).
func matchDefaultHandlerOnly(defaultHandler uint32, selfBranches []uint32, reset, size uint32) (uint32, bool) {
	for _, mask := range []uint32{0xfff, 0xff} {
		for _, s := range selfBranches {
			if (defaultHandler & mask) != (s & mask) {
				continue
			}
			base := defaultHandler - s
			if reset < base || reset >= base+size {
				continue
			}
			return base, true
		}
	}
	return 0, false
}

func sortedMin(vs []uint32) uint32 {
	min := vs[0]
	for _, v := range vs[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func dedupUint32(in []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(in))
	out := in[:0:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// estimateDefaultHandler finds the interrupt-handler value recurring most
// often (>=2 times) in the vector table; failing that, scans vector slots
// past the declared 15-entry minimum for plausible handler values.
func estimateDefaultHandler(im *Image, vt VectorTable, handlers []uint32) (uint32, bool) {
	counts := make(map[uint32]int)
	for _, h := range vt.InterruptHandlerAddresses() {
		counts[h]++
	}
	bestCount := 0
	for _, c := range counts {
		if c > bestCount {
			bestCount = c
		}
	}
	if bestCount >= 2 {
		var tied []uint32
		for h, c := range counts {
			if c == bestCount {
				tied = append(tied, h)
			}
		}
		return sortedMin(tied), true
	}

	var lo, hi uint32
	if len(handlers) > 0 {
		lo, hi = handlers[0], handlers[0]
		for _, h := range handlers {
			if h < lo {
				lo = h
			}
			if h > hi {
				hi = h
			}
		}
	}
	size := uint32(im.Size())
	for off := uint32(FirstIRQOffset); off+4 <= size && off < FirstIRQOffset+4*1024; off += 4 {
		word, ok := im.Word32(off)
		if !ok || word == 0 || word%2 == 0 {
			continue
		}
		addr := word &^ 1
		if (lo == 0 && hi == 0) || (addr+size >= lo && addr <= hi+size) {
			return addr, true
		}
	}
	return 0, false
}

// scanSelfTargetingBranches walks a scratch disassembly of the image at
// base 0 looking for (a) a direct B/BL whose immediate target equals its
// own address, and (b) LDR Rx,[PC,#imm] immediately followed by BX Rx whose
// loaded target (Thumb bit stripped) equals the BX instruction's address.
// Addresses returned are raw file offsets.
func scanSelfTargetingBranches(im *Image, dec decoder.Decoder) []uint32 {
	var out []uint32
	scratch := &Image{raw: rawBytes(im), AppCodeBase: 0}

	size := uint32(scratch.Size())
	for addr := uint32(0); addr+2 <= size; {
		code, ok := scratch.Bytes(addr, 4)
		if !ok {
			code, ok = scratch.Bytes(addr, 2)
			if !ok {
				break
			}
		}
		ins := dec.Decode(code, addr)

		switch ins.Op {
		case decoder.OpB, decoder.OpBL:
			if len(ins.Operands) == 1 && ins.Operands[0].Kind == decoder.OperandImm {
				if uint32(ins.Operands[0].Imm) == addr {
					out = append(out, addr)
				}
			}
		case decoder.OpLDR:
			if len(ins.Operands) == 2 && ins.Operands[1].Base == decoder.PC {
				next := addr + uint32(ins.Len)
				nextCode, ok := scratch.Bytes(next, 2)
				if ok {
					nins := dec.Decode(nextCode, next)
					if nins.Op == decoder.OpBX && len(nins.Operands) == 1 &&
						nins.Operands[0].Reg == ins.Operands[0].Reg {
						loadAddr := (addr + 4) &^ 3
						loadAddr = uint32(int32(loadAddr) + ins.Operands[1].Disp)
						if word, ok := scratch.Word32(loadAddr); ok {
							if (word &^ 1) == next {
								out = append(out, next)
							}
						}
					}
				}
			}
		}

		if ins.Len == 0 {
			addr += 2
		} else {
			addr += uint32(ins.Len)
		}
	}
	return out
}

func rawBytes(im *Image) []byte {
	b, _ := im.Bytes(im.AppCodeBase, im.Size())
	return b
}
