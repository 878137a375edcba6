// Package strand implements a narrow forward register-value tracer used to
// resolve the small instruction chains compilers emit ahead of an indirect
// PC-write switch dispatch. It is not a general-purpose ARM interpreter: it
// understands only the handful of data-movement opcodes (MOV, MOVT, MOVW,
// ADD, LDR variants, ADR) that those chains are built from, simulated
// forward from a start address until a stop address is reached or the
// simulation runs out of recognizable instructions.
package strand

import (
	"encoding/binary"
	"fmt"

	"github.com/chriskillpack/armdisasm/decoder"
)

// Flags is the condition-flag snapshot threaded through a trace. Only the
// carry flag is consulted by the opcodes this tracer simulates.
type Flags struct {
	Carry bool
}

// Reader supplies raw image bytes for instruction fetch and for resolving
// PC-relative and absolute memory loads during the trace. It is satisfied
// by the pipeline's Image type.
type Reader interface {
	// Bytes returns n bytes of the image starting at virtual address
	// addr, or false if the range is not resident in the image.
	Bytes(addr uint32, n int) ([]byte, bool)
}

// State is a register snapshot: index i holds register i (R0..R12, SP, LR,
// PC at indices 13, 14, 15), with Known[i] indicating whether register i
// has a known value.
type State struct {
	Regs [16]uint32
	Known [16]bool
	Flags Flags
}

// Set assigns a known value to a register.
func (s *State) Set(r decoder.Register, v uint32) {
	s.Regs[r] = v
	s.Known[r] = true
}

// Get returns a register's value and whether it is known.
func (s *State) Get(r decoder.Register) (uint32, bool) {
	return s.Regs[r], s.Known[r]
}

// Tracer runs a forward simulation over an image using the production
// Thumb decoder.
type Tracer struct {
	Image   Reader
	Decoder decoder.Decoder
}

// New builds a Tracer over img using the production Thumb/Thumb-2 decoder.
func New(img Reader) *Tracer {
	return &Tracer{Image: img, Decoder: decoder.Thumb{}}
}

// RespectPath controls whether the tracer follows only the fall-through
// instruction stream (false) or additionally follows a conditional B to its
// taken target (true), on the assumption that the gating CMP the pipeline
// already found makes that the live path toward the stop address. BL, BX,
// BLX, CBZ, CBNZ and unconditional B always end the trace regardless of
// this flag: the pipeline only asks it to resolve straight-line register
// chains, not general control flow.
type RespectPath bool

// ErrNoPath is returned when the trace runs off the end of recognizable
// instructions before reaching any stop address.
type ErrNoPath struct {
	LastAddr uint32
}

func (e *ErrNoPath) Error() string {
	return fmt.Sprintf("strand: no path to a stop address found (last address 0x%x)", e.LastAddr)
}

// Trace runs the simulation starting at start, with the given initial
// register and flag snapshot, until an address in stops is reached or no
// further progress can be made. It returns the register state observed at
// the first stop address reached.
func (t *Tracer) Trace(start uint32, stops []uint32, initial State, respectPath RespectPath) (State, error) {
	stopSet := make(map[uint32]bool, len(stops))
	for _, s := range stops {
		stopSet[s] = true
	}

	state := initial
	addr := start
	const maxSteps = 64 // bounds runaway traces; real chains are a handful of instructions

	for i := 0; i < maxSteps; i++ {
		if stopSet[addr] {
			return state, nil
		}

		code, ok := t.Image.Bytes(addr, 4)
		if !ok {
			code, ok = t.Image.Bytes(addr, 2)
			if !ok {
				return state, &ErrNoPath{LastAddr: addr}
			}
		}
		ins := t.Decoder.Decode(code, addr)

		next, stop := t.step(&state, ins, respectPath)
		if stop {
			if stopSet[ins.Addr] {
				return state, nil
			}
			return state, &ErrNoPath{LastAddr: addr}
		}
		addr = next
	}

	return state, &ErrNoPath{LastAddr: addr}
}

// step applies the effect of a single instruction to state, returning the
// next address to fetch and whether the trace should stop (because it hit
// control flow this tracer does not follow). When respectPath is true, a
// conditional B is followed to its taken target rather than ending the
// trace; every other control-flow opcode always ends it.
func (t *Tracer) step(state *State, ins decoder.Instruction, respectPath RespectPath) (next uint32, stop bool) {
	state.Set(decoder.PC, ins.Addr+4)

	switch ins.Op {
	case decoder.OpMOV, decoder.OpMOVS:
		if len(ins.Operands) == 2 {
			dst := ins.Operands[0].Reg
			switch ins.Operands[1].Kind {
			case decoder.OperandImm:
				state.Set(dst, uint32(ins.Operands[1].Imm))
			case decoder.OperandReg:
				if v, ok := state.Get(ins.Operands[1].Reg); ok {
					state.Set(dst, v)
				}
			}
		}

	case decoder.OpMOVW:
		dst := ins.Operands[0].Reg
		v, _ := state.Get(dst)
		v = (v &^ 0xffff) | uint32(ins.Operands[1].Imm)&0xffff
		state.Set(dst, v)

	case decoder.OpMOVT:
		dst := ins.Operands[0].Reg
		v, _ := state.Get(dst)
		v = (v & 0xffff) | (uint32(ins.Operands[1].Imm)&0xffff)<<16
		state.Set(dst, v)

	case decoder.OpADD:
		if len(ins.Operands) == 2 {
			dst := ins.Operands[0].Reg
			if base, ok := state.Get(dst); ok {
				if ins.Operands[1].Kind == decoder.OperandImm {
					state.Set(dst, base+uint32(ins.Operands[1].Imm))
				}
			}
		} else if len(ins.Operands) == 3 {
			dst := ins.Operands[0].Reg
			base, baseOK := state.Get(ins.Operands[1].Reg)
			if baseOK {
				switch ins.Operands[2].Kind {
				case decoder.OperandImm:
					state.Set(dst, base+uint32(ins.Operands[2].Imm))
				case decoder.OperandReg:
					if rhs, ok := state.Get(ins.Operands[2].Reg); ok {
						state.Set(dst, base+rhs)
					}
				}
			}
		}

	case decoder.OpADR:
		dst := ins.Operands[0].Reg
		mem := ins.Operands[1]
		pc := (ins.Addr + 4) &^ 3
		state.Set(dst, uint32(int32(pc)+mem.Disp))

	case decoder.OpLDR:
		if len(ins.Operands) == 2 && ins.Operands[1].Kind == decoder.OperandMem {
			mem := ins.Operands[1]
			var addr uint32
			if mem.Base == decoder.PC {
				addr = uint32(int32((ins.Addr+4)&^3) + mem.Disp)
			} else if base, ok := state.Get(mem.Base); ok {
				if mem.HasIndex {
					if idx, ok2 := state.Get(mem.Index); ok2 {
						addr = base + (idx << mem.Shift)
					} else {
						return ins.Addr + uint32(ins.Len), true
					}
				} else {
					addr = uint32(int32(base) + mem.Disp)
				}
			} else {
				return ins.Addr + uint32(ins.Len), true
			}
			if raw, ok := t.Image.Bytes(addr, 4); ok {
				state.Set(ins.Operands[0].Reg, binary.LittleEndian.Uint32(raw))
			}
		}

	case decoder.OpB:
		if respectPath && ins.Cond != decoder.CondAL && len(ins.Operands) == 1 &&
			ins.Operands[0].Kind == decoder.OperandImm {
			return uint32(ins.Operands[0].Imm), false
		}
		return ins.Addr, true

	case decoder.OpBL, decoder.OpBX, decoder.OpBLX, decoder.OpCBZ, decoder.OpCBNZ,
		decoder.OpInvalid, decoder.OpTBB, decoder.OpTBH:
		return ins.Addr, true

	default:
		// Opcodes this tracer doesn't simulate leave register state
		// unchanged; the trace continues on the fall-through path so long
		// as it isn't control flow, matching "respect path" semantics for
		// the straight-line chains this is designed for.
	}

	return ins.Addr + uint32(ins.Len), false
}
