package decoder

// itSuffix renders the T/E suffix letters of an IT instruction's mnemonic
// from its 4-bit mask field and first condition, per the standard IT-block
// encoding: the lowest set bit in mask marks the end of the block, and each
// bit above it signals Then (matches firstcond's low bit) or Else.
func itSuffix(mask uint16, firstCond Condition) string {
	firstBit := uint16(firstCond) & 1
	lsb := 0
	for lsb = 0; lsb < 4; lsb++ {
		if mask&(1<<uint(lsb)) != 0 {
			break
		}
	}
	suffix := ""
	for p := 3; p > lsb; p-- {
		bit := (mask >> uint(p)) & 1
		if bit == firstBit {
			suffix += "T"
		} else {
			suffix += "E"
		}
	}
	return suffix
}

// decodeThumb1 decodes a 16-bit Thumb instruction. The dispatch order
// mirrors the conventional Thumb-1 format table: most bit-specific patterns
// first, falling through to the more general formats. Formats that carry no
// information the pipeline needs (shifts, ALU register ops, most load/store
// forms) are still decoded into an Instruction, tagged OpOther. Bit patterns
// that match none of the cases below fall through to OpInvalid; these
// include unencoded patterns and some valid formats this decoder does not
// list, such as SP-relative load/store (format 11).
func decodeThumb1(opcode uint16, addr uint32) Instruction {
	ins := Instruction{Addr: addr, Len: 2, Cond: CondAL, Raw: uint32(opcode)}

	switch {
	case opcode&0xff00 == 0xbf00 && opcode&0x000f == 0x0000:
		// Format 18-ish NOP (MOV R8, R8 is the canonical Thumb NOP, but the
		// encoded "nop" hint instruction 0xBF00 is used when present).
		ins.Op = OpNOP
		ins.Mnemonic = "NOP"

	case opcode&0xff00 == 0xbf00:
		// IT (if-then), v7-M only. firstcond in bits 7:4, mask in bits 3:0.
		// A mask whose low bits spell a trailing "e" (else) pattern is
		// recognized upstream by inspecting the rendered mnemonic.
		cond := Condition((opcode >> 4) & 0xf)
		ins.Op = OpIT
		ins.Mnemonic = "IT" + itSuffix(opcode&0xf, cond)
		ins.Cond = cond

	case opcode&0xf800 == 0xf000 || opcode&0xf800 == 0xf800:
		// BL/BLX prefix or suffix halfword of a 32-bit Thumb-2 instruction.
		// Callers are expected to recognize the 32-bit prefix before
		// reaching here (see Decode); if we get here it's a lone suffix
		// halfword with no matching prefix, which is not independently
		// decodable.
		ins.Op = OpInvalid
		ins.Mnemonic = "invalid"

	case opcode&0xff87 == 0x4700:
		// Format 5: BX Rm
		rm := Register((opcode >> 3) & 0xf)
		ins.Op = OpBX
		ins.Mnemonic = "BX"
		ins.Operands = []Operand{RegOperand(rm)}

	case opcode&0xff87 == 0x4780:
		// Format 5: BLX Rm
		rm := Register((opcode >> 3) & 0xf)
		ins.Op = OpBLX
		ins.Mnemonic = "BLX"
		ins.Operands = []Operand{RegOperand(rm)}

	case opcode&0xfc00 == 0x4400:
		// Format 5: ADD/CMP/MOV with high registers
		op := (opcode >> 8) & 0x3
		hi1 := (opcode >> 7) & 0x1
		hi2 := (opcode >> 6) & 0x1
		rs := Register((opcode&0x38)>>3) | Register(hi2<<3)
		rd := Register(opcode&0x7) | Register(hi1<<3)
		switch op {
		case 0:
			ins.Op = OpADD
			ins.Mnemonic = "ADD"
		case 1:
			ins.Op = OpCMP
			ins.Mnemonic = "CMP"
		case 2:
			ins.Op = OpMOV
			ins.Mnemonic = "MOV"
		default:
			ins.Op = OpOther
			ins.Mnemonic = "other"
		}
		ins.Operands = []Operand{RegOperand(rd), RegOperand(rs)}

	case opcode&0xf800 == 0x4800:
		// Format 6: LDR Rd, [PC, #imm]
		rd := Register((opcode >> 8) & 0x7)
		imm := int32(opcode&0xff) << 2
		ins.Op = OpLDR
		ins.Mnemonic = "LDR"
		ins.Operands = []Operand{RegOperand(rd), MemOperand(PC, imm)}

	case opcode&0xf600 == 0xb400:
		// Format 14: PUSH {reglist}{LR}
		regs := RegList(opcode & 0xff)
		if opcode&0x0100 != 0 {
			regs = append(regs, LR)
		}
		ins.Op = OpPUSH
		ins.Mnemonic = "PUSH"
		for _, r := range regs {
			ins.Operands = append(ins.Operands, RegOperand(r))
		}

	case opcode&0xf600 == 0xbc00:
		// Format 14: POP {reglist}{PC}
		regs := RegList(opcode & 0xff)
		if opcode&0x0100 != 0 {
			regs = append(regs, PC)
		}
		ins.Op = OpPOP
		ins.Mnemonic = "POP"
		for _, r := range regs {
			ins.Operands = append(ins.Operands, RegOperand(r))
		}

	case opcode&0xf500 == 0xb100:
		// Format 10 extension (v6): CBZ/CBNZ Rn, label
		rn := Register(opcode & 0x7)
		i := (opcode >> 9) & 0x1
		imm5 := (opcode >> 3) & 0x1f
		offset := int32(i<<6|imm5<<1) & 0x7f
		target := int32(addr) + 4 + offset
		if opcode&0x0800 != 0 {
			ins.Op = OpCBNZ
			ins.Mnemonic = "CBNZ"
		} else {
			ins.Op = OpCBZ
			ins.Mnemonic = "CBZ"
		}
		ins.Operands = []Operand{RegOperand(rn), ImmOperand(target)}

	case opcode&0xf000 == 0xd000 && (opcode>>8)&0xf != 0xf:
		// Format 16: conditional branch
		cond := Condition((opcode >> 8) & 0xf)
		imm8 := int32(int8(opcode & 0xff))
		target := int32(addr) + 4 + imm8*2
		ins.Op = OpB
		ins.Mnemonic = "B" + cond.String()
		ins.Cond = cond
		ins.Operands = []Operand{ImmOperand(target)}

	case opcode&0xff00 == 0xdf00:
		// Format 17: SWI
		ins.Op = OpOther
		ins.Mnemonic = "SWI"
		ins.Operands = []Operand{ImmOperand(int32(opcode & 0xff))}

	case opcode&0xf800 == 0xe000:
		// Format 18: unconditional branch
		imm11 := int32(opcode & 0x7ff)
		if imm11&0x400 != 0 {
			imm11 -= 0x800
		}
		target := int32(addr) + 4 + imm11*2
		ins.Op = OpB
		ins.Mnemonic = "B"
		ins.Cond = CondAL
		ins.Operands = []Operand{ImmOperand(target)}

	case opcode&0xf000 == 0xa000:
		// Format 12: ADR/ADD Rd, PC|SP, #imm
		rd := Register((opcode >> 8) & 0x7)
		imm := int32(opcode&0xff) << 2
		if opcode&0x0800 == 0 {
			ins.Op = OpADR
			ins.Mnemonic = "ADR"
			ins.Operands = []Operand{RegOperand(rd), MemOperand(PC, imm)}
		} else {
			ins.Op = OpADD
			ins.Mnemonic = "ADD"
			ins.Operands = []Operand{RegOperand(rd), RegOperand(SP), ImmOperand(imm)}
		}

	case opcode&0xf000 == 0x6000:
		// Format 9: LDR/STR Rd, [Rb, #imm]
		rd := Register(opcode & 0x7)
		rb := Register((opcode >> 3) & 0x7)
		imm := int32((opcode>>6)&0x1f) << 2
		if opcode&0x0800 != 0 {
			ins.Op = OpLDR
			ins.Mnemonic = "LDR"
		} else {
			ins.Op = OpOther
			ins.Mnemonic = "STR"
		}
		ins.Operands = []Operand{RegOperand(rd), MemOperand(rb, imm)}

	case opcode&0xf000 == 0x7000:
		// Format 9: LDRB/STRB Rd, [Rb, #imm]
		rd := Register(opcode & 0x7)
		rb := Register((opcode >> 3) & 0x7)
		imm := int32((opcode >> 6) & 0x1f)
		if opcode&0x0800 != 0 {
			ins.Op = OpLDRB
			ins.Mnemonic = "LDRB"
		} else {
			ins.Op = OpOther
			ins.Mnemonic = "STRB"
		}
		ins.Operands = []Operand{RegOperand(rd), MemOperand(rb, imm)}

	case opcode&0xf000 == 0x8000:
		// Format 10: LDRH/STRH Rd, [Rb, #imm]
		rd := Register(opcode & 0x7)
		rb := Register((opcode >> 3) & 0x7)
		imm := int32((opcode>>6)&0x1f) << 1
		if opcode&0x0800 != 0 {
			ins.Op = OpLDRH
			ins.Mnemonic = "LDRH"
		} else {
			ins.Op = OpOther
			ins.Mnemonic = "STRH"
		}
		ins.Operands = []Operand{RegOperand(rd), MemOperand(rb, imm)}

	case opcode&0xf200 == 0x5000:
		// Format 8: LDRSB/LDRSH/LDR/LDRH register-offset
		ro := Register((opcode >> 6) & 0x7)
		rb := Register((opcode >> 3) & 0x7)
		rd := Register(opcode & 0x7)
		opbits := (opcode >> 10) & 0x3
		switch opbits {
		case 0:
			ins.Op = OpOther
			ins.Mnemonic = "STR"
		case 1:
			ins.Op = OpLDRSB
			ins.Mnemonic = "LDRSB"
		case 2:
			ins.Op = OpLDR
			ins.Mnemonic = "LDR"
		case 3:
			ins.Op = OpLDRSH
			ins.Mnemonic = "LDRSH"
		}
		ins.Operands = []Operand{RegOperand(rd), MemIndexOperand(rb, ro, 0)}

	case opcode&0xf000 == 0xc000:
		// Format 15: LDMIA/STMIA Rb!, {reglist}
		rb := Register((opcode >> 8) & 0x7)
		regs := RegList(opcode & 0xff)
		if opcode&0x0800 != 0 {
			ins.Op = OpLDR
			ins.Mnemonic = "LDMIA"
		} else {
			ins.Op = OpOther
			ins.Mnemonic = "STMIA"
		}
		ins.Operands = append(ins.Operands, RegOperand(rb))
		for _, r := range regs {
			ins.Operands = append(ins.Operands, RegOperand(r))
		}

	case opcode&0xff00 == 0xb000:
		// Format 13: ADD/SUB SP, #imm
		imm := int32(opcode&0x7f) << 2
		if opcode&0x0080 != 0 {
			ins.Op = OpSUB
			ins.Mnemonic = "SUB"
		} else {
			ins.Op = OpADD
			ins.Mnemonic = "ADD"
		}
		ins.Operands = []Operand{RegOperand(SP), ImmOperand(imm)}

	case opcode&0xe000 == 0x2000:
		// Format 3: MOV/CMP/ADD/SUB Rd, #imm
		rd := Register((opcode >> 8) & 0x7)
		imm := int32(opcode & 0xff)
		switch (opcode >> 11) & 0x3 {
		case 0:
			ins.Op = OpMOVS
			ins.Mnemonic = "MOVS"
		case 1:
			ins.Op = OpCMP
			ins.Mnemonic = "CMP"
		case 2:
			ins.Op = OpADD
			ins.Mnemonic = "ADD"
		case 3:
			ins.Op = OpSUB
			ins.Mnemonic = "SUB"
		}
		ins.Operands = []Operand{RegOperand(rd), ImmOperand(imm)}

	case opcode&0xf800 == 0x1800 || opcode&0xf800 == 0x1a00:
		// Format 2: ADD/SUB Rd, Rs, Rn|#imm
		rd := Register(opcode & 0x7)
		rs := Register((opcode >> 3) & 0x7)
		rnOrImm := (opcode >> 6) & 0x7
		if opcode&0x0400 != 0 {
			ins.Op = OpSUB
			ins.Mnemonic = "SUB"
		} else {
			ins.Op = OpADD
			ins.Mnemonic = "ADD"
		}
		if opcode&0x0200 != 0 {
			ins.Operands = []Operand{RegOperand(rd), RegOperand(rs), ImmOperand(int32(rnOrImm))}
		} else {
			ins.Operands = []Operand{RegOperand(rd), RegOperand(rs), RegOperand(Register(rnOrImm))}
		}

	case opcode&0xf800 == 0x1c00:
		// Degenerate Format 2 overlap guard, unreachable given ordering
		// above; kept for clarity of the format table.
		ins.Op = OpOther
		ins.Mnemonic = "other"

	case opcode&0xe000 == 0x0000:
		// Format 1: move shifted register (LSL/LSR/ASR)
		rd := Register(opcode & 0x7)
		rs := Register((opcode >> 3) & 0x7)
		imm := int32((opcode >> 6) & 0x1f)
		ins.Op = OpOther
		ins.Mnemonic = "shift"
		ins.Operands = []Operand{RegOperand(rd), RegOperand(rs), ImmOperand(imm)}

	case opcode&0xfc00 == 0x4000:
		// Format 4: ALU operations
		rd := Register(opcode & 0x7)
		rs := Register((opcode >> 3) & 0x7)
		switch (opcode >> 6) & 0xf {
		case 0xd:
			ins.Op = OpOther
			ins.Mnemonic = "MUL"
		default:
			ins.Op = OpOther
			ins.Mnemonic = "alu"
		}
		ins.Operands = []Operand{RegOperand(rd), RegOperand(rs)}

	case opcode&0xfc00 == 0xb800 || opcode&0xfe00 == 0xba00:
		// Format 11-ish sign/zero extend and byte-reverse (v6 extensions)
		rd := Register(opcode & 0x7)
		rm := Register((opcode >> 3) & 0x7)
		ins.Op = OpOther
		ins.Mnemonic = "extend"
		ins.Operands = []Operand{RegOperand(rd), RegOperand(rm)}

	default:
		ins.Op = OpInvalid
		ins.Mnemonic = "invalid"
	}

	return ins
}
