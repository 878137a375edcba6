package decoder

import "encoding/binary"

// Thumb is the production Decoder: Thumb-1 (16-bit) with Thumb-2 (32-bit)
// extension, little-endian. It always runs in "skip data" mode: malformed
// or unrecognized encodings decode to an OpInvalid instruction rather than
// panicking, so the caller can treat any two-byte-aligned offset as a
// decode candidate.
type Thumb struct{}

// Is32BitPrefix reports whether a first halfword begins a 32-bit Thumb-2
// encoding, per the standard rule: bits 15:11 are 0b11101, 0b11110 or
// 0b11111.
func Is32BitPrefix(hw1 uint16) bool {
	top5 := hw1 >> 11
	return top5 == 0b11101 || top5 == 0b11110 || top5 == 0b11111
}

// Decode implements Decoder.
func (Thumb) Decode(code []byte, addr uint32) Instruction {
	if len(code) < 2 {
		return Instruction{Addr: addr, Op: OpInvalid, Mnemonic: "invalid", Len: 2}
	}
	hw1 := binary.LittleEndian.Uint16(code)

	if Is32BitPrefix(hw1) {
		if len(code) < 4 {
			return Instruction{Addr: addr, Op: OpInvalid, Mnemonic: "invalid", Len: 2}
		}
		hw2 := binary.LittleEndian.Uint16(code[2:])
		return decodeThumb2(hw1, hw2, addr)
	}

	return decodeThumb1(hw1, addr)
}

// IsNEONMnemonic reports whether an instruction's rendered mnemonic begins
// with the 'v' letter Capstone-style NEON/VFP decodes use. Thumb-2 has no
// legitimate NEON encodings on a Cortex-M0/M3/M4 target without an FPU
// extension; a 'v'-prefixed decode in firmware code is a strong signal that
// the bytes are actually inline data that happened to decode as a plausible
// instruction.
func IsNEONMnemonic(mnemonic string) bool {
	return len(mnemonic) > 0 && (mnemonic[0] == 'v' || mnemonic[0] == 'V')
}
