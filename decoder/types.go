// Package decoder implements a Thumb/Thumb-2 instruction decoder for ARM
// Cortex-M firmware images. It is deliberately narrow: it decodes enough of
// the instruction set for a static reconstruction pipeline to recognize
// branches, loads, and the handful of opcodes involved in compiler switch
// idioms. It does not attempt full ISA coverage or semantic execution.
package decoder

import "fmt"

// Register identifies one of the sixteen Thumb general-purpose registers,
// including the aliased SP, LR and PC.
type Register int8

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC

	NoRegister Register = -1
)

func (r Register) String() string {
	switch r {
	case SP:
		return "SP"
	case LR:
		return "LR"
	case PC:
		return "PC"
	case NoRegister:
		return ""
	default:
		return fmt.Sprintf("R%d", int(r))
	}
}

// Opcode identifies the decoded operation. The pipeline only inspects a
// handful of these directly; everything else the decoder recognizes but the
// pipeline does not specifically care about is folded into OpOther so that
// the decode is total over well-formed Thumb encodings.
type Opcode int

const (
	OpInvalid Opcode = iota
	OpOther
	OpB
	OpBL
	OpBX
	OpBLX
	OpIT
	OpCMP
	OpLDR
	OpLDRB
	OpLDRH
	OpLDRSB
	OpLDRSH
	OpLDRD
	OpADR
	OpADD
	OpSUB
	OpMOV
	OpMOVS
	OpMOVT
	OpMOVW
	OpPUSH
	OpPOP
	OpNOP
	OpCBZ
	OpCBNZ
	OpTBB
	OpTBH
	OpUDIV
)

var opcodeNames = map[Opcode]string{
	OpInvalid: "invalid",
	OpOther:   "other",
	OpB:       "B",
	OpBL:      "BL",
	OpBX:      "BX",
	OpBLX:     "BLX",
	OpIT:      "IT",
	OpCMP:     "CMP",
	OpLDR:     "LDR",
	OpLDRB:    "LDRB",
	OpLDRH:    "LDRH",
	OpLDRSB:   "LDRSB",
	OpLDRSH:   "LDRSH",
	OpLDRD:    "LDRD",
	OpADR:     "ADR",
	OpADD:     "ADD",
	OpSUB:     "SUB",
	OpMOV:     "MOV",
	OpMOVS:    "MOVS",
	OpMOVT:    "MOVT",
	OpMOVW:    "MOVW",
	OpPUSH:    "PUSH",
	OpPOP:     "POP",
	OpNOP:     "NOP",
	OpCBZ:     "CBZ",
	OpCBNZ:    "CBNZ",
	OpTBB:     "TBB",
	OpTBH:     "TBH",
	OpUDIV:    "UDIV",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return "other"
}

// IsBranch reports whether the opcode is one of the direct or indirect
// branch forms the cross-reference annotator cares about.
func (o Opcode) IsBranch() bool {
	switch o {
	case OpB, OpBL, OpBX, OpBLX, OpCBZ, OpCBNZ:
		return true
	default:
		return false
	}
}

// Condition is an ARM condition code. Thumb-1 only attaches a condition to
// the conditional branch encoding (format 16) and to IT, whose Cond is its
// first condition; everywhere else the pipeline treats an instruction as
// unconditional (AL).
type Condition int8

const (
	CondEQ Condition = iota
	CondNE
	CondCS // HS
	CondCC // LO
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI
	CondLS
	CondGE
	CondLT
	CondGT
	CondLE
	CondAL
	CondInvalid
)

// HS is the mnemonic alias used by the spec for CondCS (unsigned >=).
const HS = CondCS

func (c Condition) String() string {
	names := [...]string{"EQ", "NE", "HS", "LO", "MI", "PL", "VS", "VC", "HI", "LS", "GE", "LT", "GT", "LE", "AL", "INVALID"}
	if int(c) >= 0 && int(c) < len(names) {
		return names[c]
	}
	return "INVALID"
}

// OperandKind distinguishes the shape of an Operand.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
)

// Operand is a single decoded instruction operand. Memory operands carry a
// base register and either an immediate displacement or an index register
// (mutually exclusive, per Thumb addressing modes), plus an optional shift
// amount for the rare register-shifted forms.
type Operand struct {
	Kind OperandKind

	Reg Register

	Imm int32

	Base     Register
	HasIndex bool
	Index    Register
	Disp     int32
	Shift    uint8
}

func RegOperand(r Register) Operand { return Operand{Kind: OperandReg, Reg: r} }
func ImmOperand(v int32) Operand    { return Operand{Kind: OperandImm, Imm: v} }
func MemOperand(base Register, disp int32) Operand {
	return Operand{Kind: OperandMem, Base: base, Disp: disp}
}
func MemIndexOperand(base, index Register, shift uint8) Operand {
	return Operand{Kind: OperandMem, Base: base, HasIndex: true, Index: index, Shift: shift}
}

// Instruction is the unit the pipeline consumes from the decoder. Len is
// either 2 or 4 (Thumb-1 halfword, or Thumb-2 32-bit). Mnemonic carries the
// decoder's best-effort textual rendering, used by the NEON
// misinterpretation repair heuristic, by the separator's IT trailing-else
// check, and by human-readable output.
type Instruction struct {
	Addr     uint32
	Op       Opcode
	Mnemonic string
	Cond     Condition
	Operands []Operand
	Len      uint8
	Raw      uint32
}

// RegList decodes a PUSH/POP/LDM/STM register bitmask (bit i => register i)
// into the corresponding list of registers, in ascending order.
func RegList(mask uint16) []Register {
	var regs []Register
	for i := 0; i < 16; i++ {
		if mask&(1<<uint(i)) != 0 {
			regs = append(regs, Register(i))
		}
	}
	return regs
}

// Decoder is the abstraction the pipeline is coded against. Implementations
// always decode in skip-data mode: a failed decode returns an OpInvalid
// instruction rather than an error.
type Decoder interface {
	// Decode decodes the instruction whose encoding starts at code[0],
	// assuming it is loaded at virtual address addr. code must have at
	// least 2 bytes; if a 4-byte encoding is indicated but fewer than 4
	// bytes are available, Decode returns an OpInvalid, 2-byte instruction.
	Decode(code []byte, addr uint32) Instruction
}
