package decoder

// decodeThumb2 decodes a 32-bit Thumb-2 instruction given both halfwords of
// its encoding (hw1 is the first halfword already seen by the caller, hw2
// the second). Dispatch follows the three top-level groups from the
// "Thumb-2 Supplement" 32-bit instruction encoding table: op1 (bits 12:11 of
// hw1) selects among load/store multiple, load/store dual/exclusive/table
// branch, data processing (shifted register or immediate), coprocessor, and
// branch/misc-control groups. Only the forms the reconstruction pipeline
// needs are fully decoded; everything else becomes OpOther.
func decodeThumb2(hw1, hw2 uint16, addr uint32) Instruction {
	ins := Instruction{Addr: addr, Len: 4, Cond: CondAL, Raw: uint32(hw1)<<16 | uint32(hw2)}

	op1 := (hw1 >> 11) & 0x3
	op2 := (hw1 >> 4) & 0x7f

	switch {
	case op1 == 0x3 && hw1&0xec00 == 0xec00:
		// Coprocessor / Advanced SIMD / floating-point instruction space.
		// Cortex-M0/M3 firmware has no legitimate encodings here; bytes
		// that land on this pattern are almost always inline data (commonly
		// runs of 0xff) masquerading as a NEON-ish mnemonic. Decoded as
		// OpOther with a 'v'-prefixed mnemonic so the misinterpretation
		// repair pass in the pipeline can recognize and re-split it.
		// Gated on op1==3: the mask alone also matches op1==1 multiply/divide
		// encodings (both fix bits 15,14,13,11 via the 32-bit prefix), which
		// must fall through to the multiply/divide case below instead.
		ins.Op = OpOther
		ins.Mnemonic = "vundefined"

	case op1 == 0x2 && hw1&0x8000 != 0 && hw2&0x8000 != 0:
		// Branch/BL with 32-bit immediate (long branch with link / B.W)
		decodeThumb2Branch(hw1, hw2, addr, &ins)

	case op1 == 0x1 && op2&0x64 == 0x00:
		// Load/store multiple
		decodeThumb2LoadStoreMultiple(hw1, hw2, addr, &ins)

	case op1 == 0x1 && op2&0x64 == 0x04:
		// Load/store dual, load/store exclusive, table branch
		decodeThumb2LoadStoreDoubleEtc(hw1, hw2, addr, &ins)

	case op1 == 0x1 && op2&0x20 == 0x20:
		// Data processing (shifted register)
		ins.Op = OpOther
		ins.Mnemonic = "dpreg32"

	case op1 == 0x1 && op2&0x40 == 0x40:
		// Coprocessor / multiply / long multiply / divide
		decodeThumb2Multiply(hw1, hw2, addr, &ins)

	case op1 == 0x2 && hw2&0x8000 == 0:
		// Data processing, immediate (AND/ORR/EOR/ADD/SUB/CMP/MOV/MOVT/MOVW...)
		decodeThumb2DataProcessingImm(hw1, hw2, addr, &ins)

	case op1 == 0x3:
		decodeThumb2LoadStoreSingle(hw1, hw2, addr, &ins)

	default:
		ins.Op = OpOther
		ins.Mnemonic = "thumb2"
	}

	return ins
}

func decodeThumb2Branch(hw1, hw2 uint16, addr uint32, ins *Instruction) {
	s := uint32((hw1 >> 10) & 1)
	j1 := uint32((hw2 >> 13) & 1)
	j2 := uint32((hw2 >> 11) & 1)
	imm10 := uint32(hw1 & 0x3ff)
	imm11 := uint32(hw2 & 0x7ff)
	link := hw2&0x4000 != 0

	i1 := (j1 ^ s) ^ 1
	i2 := (j2 ^ s) ^ 1
	imm32 := (s << 24) | (i1 << 23) | (i2 << 22) | (imm10 << 12) | (imm11 << 1)
	if s != 0 {
		imm32 |= 0xfe000000
	}
	target := int32(addr) + 4 + int32(imm32)

	if link {
		ins.Op = OpBL
		ins.Mnemonic = "BL"
	} else {
		ins.Op = OpB
		ins.Mnemonic = "B.W"
	}
	ins.Operands = []Operand{ImmOperand(target)}
}

func decodeThumb2LoadStoreMultiple(hw1, hw2 uint16, addr uint32, ins *Instruction) {
	rn := Register(hw1 & 0xf)
	l := hw1&0x0010 != 0
	regs := RegList(hw2)
	if l {
		ins.Op = OpLDR
		ins.Mnemonic = "LDM.W"
	} else {
		ins.Op = OpOther
		ins.Mnemonic = "STM.W"
	}
	ins.Operands = append(ins.Operands, RegOperand(rn))
	for _, r := range regs {
		ins.Operands = append(ins.Operands, RegOperand(r))
	}
}

func decodeThumb2LoadStoreDoubleEtc(hw1, hw2 uint16, addr uint32, ins *Instruction) {
	p := hw1&0x0100 != 0
	u := hw1&0x0080 != 0
	w := hw1&0x0020 != 0
	l := hw1&0x0010 != 0
	rn := Register(hw1 & 0xf)

	if p || w {
		rt := Register((hw2 >> 12) & 0xf)
		rt2 := Register((hw2 >> 8) & 0xf)
		imm32 := int32(hw2&0xff) << 2
		if !u {
			imm32 = -imm32
		}
		if l {
			ins.Op = OpLDRD
			ins.Mnemonic = "LDRD"
		} else {
			ins.Op = OpOther
			ins.Mnemonic = "STRD"
		}
		ins.Operands = []Operand{RegOperand(rt), RegOperand(rt2), MemOperand(rn, imm32)}
		return
	}

	// Load/store exclusive byte/halfword/doubleword, and table branch.
	op := (hw2 >> 4) & 0xf
	switch op {
	case 0x0:
		rm := Register(hw2 & 0xf)
		ins.Op = OpTBB
		ins.Mnemonic = "TBB"
		ins.Operands = []Operand{MemIndexOperand(rn, rm, 0)}
	case 0x1:
		rm := Register(hw2 & 0xf)
		ins.Op = OpTBH
		ins.Mnemonic = "TBH"
		ins.Operands = []Operand{MemIndexOperand(rn, rm, 1)}
	default:
		ins.Op = OpOther
		ins.Mnemonic = "ldstrex"
	}
}

func decodeThumb2Multiply(hw1, hw2 uint16, addr uint32, ins *Instruction) {
	op2hi := (hw1 >> 4) & 0x7
	rn := Register(hw1 & 0xf)
	rd := Register((hw2 >> 8) & 0xf)
	rm := Register(hw2 & 0xf)

	if op2hi >= 0x2 && hw1&0x0080 != 0 {
		// 64-bit multiply/divide group; UDIV is op2 bits (hw2 7:4) == 0xf
		// with hw1 op bits 0b011, matching the reference decoder's own
		// field extraction.
		rdlo := Register((hw2 >> 12) & 0xf)
		op2 := (hw2 >> 4) & 0xf
		opField := (hw1 >> 4) & 0x7
		switch {
		case opField == 0x3 && op2 == 0xf:
			ins.Op = OpUDIV
			ins.Mnemonic = "UDIV"
			ins.Operands = []Operand{RegOperand(rd), RegOperand(rn), RegOperand(rm)}
			return
		case opField == 0x2 && op2 == 0x0:
			ins.Op = OpOther
			ins.Mnemonic = "UMULL"
			ins.Operands = []Operand{RegOperand(rdlo), RegOperand(rd), RegOperand(rn), RegOperand(rm)}
			return
		}
	}

	ins.Op = OpOther
	ins.Mnemonic = "mul32"
	ins.Operands = []Operand{RegOperand(rd), RegOperand(rn), RegOperand(rm)}
}

func decodeThumb2DataProcessingImm(hw1, hw2 uint16, addr uint32, ins *Instruction) {
	i := uint32((hw1 >> 10) & 1)
	op := (hw1 >> 4) & 0x1f
	rn := Register(hw1 & 0xf)
	rd := Register((hw2 >> 8) & 0xf)
	imm3 := uint32((hw2 >> 12) & 0x7)
	imm8 := uint32(hw2 & 0xff)

	switch {
	case hw1&0xfbf0 == 0xf240 && op&0x1 == 0:
		// MOVW Rd, #imm16  (T3): imm4:i:imm3:imm8
		imm4 := uint32(hw1 & 0xf)
		imm16 := (imm4 << 12) | (i << 11) | (imm3 << 8) | imm8
		ins.Op = OpMOVW
		ins.Mnemonic = "MOVW"
		ins.Operands = []Operand{RegOperand(rd), ImmOperand(int32(imm16))}

	case hw1&0xfbf0 == 0xf2c0:
		// MOVT Rd, #imm16
		imm4 := uint32(hw1 & 0xf)
		imm16 := (imm4 << 12) | (i << 11) | (imm3 << 8) | imm8
		ins.Op = OpMOVT
		ins.Mnemonic = "MOVT"
		ins.Operands = []Operand{RegOperand(rd), ImmOperand(int32(imm16))}

	case rn == 0xf && op == 0b00010:
		// MOV (immediate), T2/T3 form with Rn==PC used as "no first operand"
		imm12 := (i << 11) | (imm3 << 8) | imm8
		ins.Op = OpMOV
		ins.Mnemonic = "MOV"
		ins.Operands = []Operand{RegOperand(rd), ImmOperand(int32(imm12))}

	case op == 0b01101 && rd == 0xf:
		// CMP (immediate), T2 (Rd==PC/1111 signals compare-only per ARM enc.)
		imm12 := (i << 11) | (imm3 << 8) | imm8
		ins.Op = OpCMP
		ins.Mnemonic = "CMP"
		ins.Operands = []Operand{RegOperand(rn), ImmOperand(int32(imm12))}

	case op == 0b01000 || op == 0b10000:
		// ADD (immediate), T3/T4
		imm12 := (i << 11) | (imm3 << 8) | imm8
		ins.Op = OpADD
		ins.Mnemonic = "ADD.W"
		ins.Operands = []Operand{RegOperand(rd), RegOperand(rn), ImmOperand(int32(imm12))}

	default:
		ins.Op = OpOther
		ins.Mnemonic = "dpimm32"
		ins.Operands = []Operand{RegOperand(rd), RegOperand(rn)}
	}
}

func decodeThumb2LoadStoreSingle(hw1, hw2 uint16, addr uint32, ins *Instruction) {
	op1 := (hw1 >> 5) & 0x7 // selects byte/halfword/word and signedness
	l := hw1&0x0010 != 0
	rn := Register(hw1 & 0xf)
	rt := Register((hw2 >> 12) & 0xf)

	if rn == PC {
		// Literal pool load, PC-relative: +/-imm12.
		imm12 := int32(hw2 & 0xfff)
		if hw1&0x0080 == 0 {
			imm12 = -imm12
		}
		ins.Operands = []Operand{RegOperand(rt), MemOperand(PC, imm12)}
	} else {
		imm12 := int32(hw2 & 0xfff)
		ins.Operands = []Operand{RegOperand(rt), MemOperand(rn, imm12)}
	}

	switch {
	case !l:
		ins.Op = OpOther
		ins.Mnemonic = "STR.W"
	case op1&0x3 == 0x0:
		ins.Op = OpLDRB
		ins.Mnemonic = "LDRB.W"
	case op1&0x3 == 0x1:
		ins.Op = OpLDRH
		ins.Mnemonic = "LDRH.W"
	case op1&0x3 == 0x2:
		ins.Op = OpLDR
		ins.Mnemonic = "LDR.W"
	default:
		ins.Op = OpOther
		ins.Mnemonic = "ldrsb.w"
	}
}
