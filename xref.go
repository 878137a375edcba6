package armdisasm

import "github.com/chriskillpack/armdisasm/decoder"

// annotateCrossReferences implements the Cross-Reference & Terminator
// Annotator (§4.6): it resolves every branch's target, records the reverse
// xref_from edge on the target slot, sweeps forward tracking the address of
// the last non-trivial instruction seen, and classifies the architecture
// variant from the instructions the separator left standing.
func annotateCrossReferences(s *pipelineState) {
	resolveBranchTargets(s)
	annotateLastInsnAddress(s)
	detectArchitecture(s)
}

// resolveBranchTargets walks every decoded instruction, resolves direct
// (B/BL) and register-indirect (BX/BLX) targets, and appends the source
// address to the target slot's xref_from set. A branch whose target is
// missing or marked as data, or a BL that lands on an implausible call
// entry point (directly on POP, another BL, BLX, BX, or a conditional B),
// is left unresolved and flagged as errored. A branch to its own address
// (e.g. an idle loop "B .") records no xref.
func resolveBranchTargets(s *pipelineState) {
	for _, addr := range s.dmap.Addresses() {
		slot, ok := s.dmap.Get(addr)
		if !ok || slot.IsData || slot.Insn == nil {
			continue
		}
		ins := slot.Insn
		if !ins.Op.IsBranch() {
			continue
		}

		target, ok := branchTarget(s, addr, ins)
		if !ok {
			continue
		}
		if target == addr {
			continue
		}
		if !plausibleBranchTarget(s, target, ins.Op == decoder.OpBL) {
			s.markErrored(addr)
			continue
		}

		tslot, ok := s.dmap.Get(target)
		if !ok {
			continue
		}
		if tslot.XrefFrom == nil {
			tslot.XrefFrom = make(map[uint32]struct{})
		}
		tslot.XrefFrom[addr] = struct{}{}
	}
}

// branchTarget resolves a branch instruction's destination. B/BL carry an
// absolute immediate operand already. BX/BLX take a register operand; this
// walks back one decoded slot looking for a PC-relative LDR into that same
// register, the idiom compilers use to load a computed-but-constant branch
// target (e.g. interworking veneers).
func branchTarget(s *pipelineState, addr uint32, ins *decoder.Instruction) (uint32, bool) {
	switch ins.Op {
	case decoder.OpB, decoder.OpBL, decoder.OpCBZ, decoder.OpCBNZ:
		if len(ins.Operands) == 0 {
			return 0, false
		}
		last := ins.Operands[len(ins.Operands)-1]
		if last.Kind != decoder.OperandImm {
			return 0, false
		}
		return uint32(last.Imm), true

	case decoder.OpBX, decoder.OpBLX:
		if len(ins.Operands) != 1 || ins.Operands[0].Kind != decoder.OperandReg {
			return 0, false
		}
		reg := ins.Operands[0].Reg
		if addr < 2 {
			return 0, false
		}
		prevSlot, ok := s.dmap.Get(addr - 2)
		if !ok || prevSlot.Insn == nil {
			prevSlot, ok = s.dmap.Get(addr - 4)
			if !ok || prevSlot.Insn == nil {
				return 0, false
			}
		}
		pins := prevSlot.Insn
		if pins.Op != decoder.OpLDR || len(pins.Operands) != 2 {
			return 0, false
		}
		if pins.Operands[0].Kind != decoder.OperandReg || pins.Operands[0].Reg != reg {
			return 0, false
		}
		if pins.Operands[1].Kind != decoder.OperandMem || pins.Operands[1].Base != decoder.PC {
			return 0, false
		}
		target := pcRelTarget(pins.Addr, pins.Operands[1].Disp)
		val, ok := s.image.Word32(target)
		if !ok {
			return 0, false
		}
		return val &^ 1, true
	}
	return 0, false
}

func plausibleBranchTarget(s *pipelineState, target uint32, isCall bool) bool {
	slot, ok := s.dmap.Get(target)
	if !ok || slot.IsData || slot.Insn == nil {
		return false
	}
	if !isCall {
		return true
	}
	ins := slot.Insn
	switch ins.Op {
	case decoder.OpPOP, decoder.OpBL, decoder.OpBLX, decoder.OpBX:
		return false
	case decoder.OpB:
		if ins.Cond != decoder.CondAL {
			return false
		}
	}
	return true
}

// annotateLastInsnAddress sweeps the code region in address order, skipping
// NOPs and self-MOVs (MOV Rx, Rx - the other encoding of NOP this decoder
// keeps distinct), and records on every slot the address of the most
// recent substantive instruction seen. This lets a later consumer find "the
// real last instruction before here" without re-walking past padding.
func annotateLastInsnAddress(s *pipelineState) {
	var last uint32
	haveLast := false

	for addr := s.codeStartAddress; addr < s.codeEndAddress; addr += 2 {
		slot, ok := s.dmap.Get(addr)
		if !ok {
			continue
		}
		if haveLast {
			slot.LastInsnAddress = last
			slot.HasLastInsnAddr = true
		}
		if slot.IsData || slot.Insn == nil {
			continue
		}
		if slot.Insn.Addr != addr {
			continue
		}
		if isPaddingInsn(slot.Insn) {
			continue
		}
		last, haveLast = addr, true
	}
}

func isPaddingInsn(ins *decoder.Instruction) bool {
	if ins.Op == decoder.OpNOP {
		return true
	}
	if ins.Op == decoder.OpMOV && len(ins.Operands) == 2 &&
		ins.Operands[0].Kind == decoder.OperandReg && ins.Operands[1].Kind == decoder.OperandReg &&
		ins.Operands[0].Reg == ins.Operands[1].Reg {
		return true
	}
	return false
}

// detectArchitecture classifies the image as ARMv7-M if any surviving
// (non-data) instruction in the code region used a Thumb-2-only opcode this
// decoder specifically recognizes (UDIV, TBB, TBH); otherwise it is left at
// the ARMv6-M default set in newPipelineState.
func detectArchitecture(s *pipelineState) {
	for addr := s.codeStartAddress; addr < s.codeEndAddress; addr += 2 {
		slot, ok := s.dmap.Get(addr)
		if !ok || slot.IsData || slot.Insn == nil || slot.Insn.Addr != addr {
			continue
		}
		switch slot.Insn.Op {
		case decoder.OpUDIV, decoder.OpTBB, decoder.OpTBH:
			s.arch = ArchARMv7M
			return
		}
	}
}
