package armdisasm

import "github.com/chriskillpack/armdisasm/decoder"

// VectorSlot names a Cortex-M vector table entry.
type VectorSlot string

const (
	SlotInitialSP  VectorSlot = "initial_sp"
	SlotReset      VectorSlot = "reset"
	SlotNMI        VectorSlot = "nmi"
	SlotHardFault  VectorSlot = "hardfault"
	SlotMemManage  VectorSlot = "memmanage"
	SlotBusFault   VectorSlot = "busfault"
	SlotUsageFault VectorSlot = "usagefault"
	SlotReserved7  VectorSlot = "reserved7"
	SlotSVCall     VectorSlot = "svcall"
	SlotDebugMon   VectorSlot = "debugmon"
	SlotReserved10 VectorSlot = "reserved10"
	SlotPendSV     VectorSlot = "pendsv"
	SlotReserved12 VectorSlot = "reserved12"
	SlotReserved13 VectorSlot = "reserved13"
	SlotSysTick    VectorSlot = "systick"
)

// vectorOffsets is the compile-time table of slot name to file offset, the
// 15-entry Cortex-M0 minimum (offsets 0 through 56). External interrupt
// vectors begin at offset 60 and are discovered by the Vector Table Sizer,
// not listed here.
var vectorOffsets = []struct {
	Slot   VectorSlot
	Offset uint32
}{
	{SlotInitialSP, 0},
	{SlotReset, 4},
	{SlotNMI, 8},
	{SlotHardFault, 12},
	{SlotMemManage, 16},
	{SlotBusFault, 20},
	{SlotUsageFault, 24},
	{SlotReserved7, 28},
	{SlotSVCall, 32},
	{SlotDebugMon, 36},
	{SlotReserved10, 40},
	{SlotPendSV, 44},
	{SlotReserved12, 48},
	{SlotReserved13, 52},
	{SlotSysTick, 56},
}

// FirstIRQOffset is the file offset of the first external-interrupt vector,
// the boundary the Vector Table Sizer scans past.
const FirstIRQOffset = 60

// VectorTable is the parsed reset/SP/handler table. Handler addresses are
// stored with the Thumb bit stripped.
type VectorTable struct {
	Slots      map[VectorSlot]uint32
	Interrupts []uint32 // external interrupt handlers, in table order
}

// InterruptHandlerAddresses returns the vector table entries excluding
// initial_sp, reset and systick, per §4.2 step 1.
func (vt *VectorTable) InterruptHandlerAddresses() []uint32 {
	var out []uint32
	for slot, addr := range vt.Slots {
		if slot == SlotInitialSP || slot == SlotReset || slot == SlotSysTick {
			continue
		}
		if addr != 0 {
			out = append(out, addr)
		}
	}
	out = append(out, vt.Interrupts...)
	return out
}

// DecodedSlot is one entry of the DisassemblyMap.
type DecodedSlot struct {
	Addr             uint32
	Insn             *decoder.Instruction
	IsData           bool
	XrefFrom         map[uint32]struct{}
	LastInsnAddress  uint32
	HasLastInsnAddr  bool
}

// DisassemblyMap is the ordered address -> DecodedSlot map built by the
// Linear Disassembler and mutated by the Data/Code Separator and
// Cross-Reference Annotator. Addresses are always even.
type DisassemblyMap struct {
	slots map[uint32]*DecodedSlot
	order []uint32 // ascending, maintained lazily; see Addresses()
	dirty bool
}

// NewDisassemblyMap creates an empty map.
func NewDisassemblyMap() *DisassemblyMap {
	return &DisassemblyMap{slots: make(map[uint32]*DecodedSlot)}
}

// Get returns the slot at addr, if any.
func (m *DisassemblyMap) Get(addr uint32) (*DecodedSlot, bool) {
	s, ok := m.slots[addr]
	return s, ok
}

// Set inserts or replaces the slot at addr.
func (m *DisassemblyMap) Set(s *DecodedSlot) {
	if _, exists := m.slots[s.Addr]; !exists {
		m.dirty = true
	}
	m.slots[s.Addr] = s
}

// Delete removes the slot at addr. Range invalidation before a re-decode
// marks slots as data instead (see invalidateAndRedecode).
func (m *DisassemblyMap) Delete(addr uint32) {
	delete(m.slots, addr)
	m.dirty = true
}

// Len reports the number of slots.
func (m *DisassemblyMap) Len() int { return len(m.slots) }

// Addresses returns every key in ascending order.
func (m *DisassemblyMap) Addresses() []uint32 {
	if m.dirty || m.order == nil {
		m.order = m.order[:0]
		for a := range m.slots {
			m.order = append(m.order, a)
		}
		sortUint32s(m.order)
		m.dirty = false
	}
	return m.order
}

func sortUint32s(a []uint32) {
	// Insertion sort is adequate: DisassemblyMap sizes are bounded by
	// firmware image size (low tens of thousands of slots at most), and
	// Addresses() is called a handful of times per pipeline run, not per
	// instruction.
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && a[j] > v {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

// MarkData overwrites or creates a slot as a data byte/halfword, clearing
// any previously decoded instruction.
func (m *DisassemblyMap) MarkData(addr uint32) {
	m.Set(&DecodedSlot{Addr: addr, IsData: true})
}

// SwitchKind is a tagged variant identifying a recognized dispatch idiom.
type SwitchKind int

const (
	SwitchKindARM8 SwitchKind = iota
	SwitchKindGNUThumb
	SwitchKindTableBranch
	SwitchKindPCWrite
)

func (k SwitchKind) String() string {
	switch k {
	case SwitchKindARM8:
		return "arm_switch8"
	case SwitchKindGNUThumb:
		return "gnu_thumb"
	case SwitchKindTableBranch:
		return "table_branch"
	case SwitchKindPCWrite:
		return "pc_write"
	default:
		return "unknown"
	}
}

// GNUSubtype further tags SwitchKindGNUThumb records with the entry-width
// and signedness the helper's first load instruction selects.
type GNUSubtype int

const (
	GNUSubtypeNone GNUSubtype = iota
	GNUSubtypeSQI             // case_sqi: signed byte
	GNUSubtypeUQI             // case_uqi: unsigned byte
	GNUSubtypeSHI             // case_shi: signed halfword
	GNUSubtypeUHI             // case_uhi: unsigned halfword
	GNUSubtypeSI              // case_si: word
)

func (g GNUSubtype) String() string {
	switch g {
	case GNUSubtypeSQI:
		return "case_sqi"
	case GNUSubtypeUQI:
		return "case_uqi"
	case GNUSubtypeSHI:
		return "case_shi"
	case GNUSubtypeUHI:
		return "case_uhi"
	case GNUSubtypeSI:
		return "case_si"
	default:
		return ""
	}
}

// SwitchRecord describes one recognized switch dispatch site.
type SwitchRecord struct {
	Kind       SwitchKind
	GNUSub     GNUSubtype
	DispatchAt uint32

	TableStart uint32
	TableEnd   uint32
	Targets    []uint32

	CompareValue int32
	CompareReg   decoder.Register
	CompareAddr  uint32
	BranchAddr   uint32
}

// NewARM8Switch builds a SwitchKindARM8 record; GNUSub is always zero for
// this kind, enforced by construction rather than left to the caller.
func NewARM8Switch(dispatchAt, tableStart, tableEnd uint32, targets []uint32) SwitchRecord {
	return SwitchRecord{Kind: SwitchKindARM8, DispatchAt: dispatchAt, TableStart: tableStart, TableEnd: tableEnd, Targets: targets}
}

// NewGNUThumbSwitch builds a SwitchKindGNUThumb record; sub must be
// non-zero.
func NewGNUThumbSwitch(dispatchAt, tableStart, tableEnd uint32, targets []uint32, sub GNUSubtype) SwitchRecord {
	return SwitchRecord{Kind: SwitchKindGNUThumb, GNUSub: sub, DispatchAt: dispatchAt, TableStart: tableStart, TableEnd: tableEnd, Targets: targets}
}

// NewTableBranchSwitch builds a SwitchKindTableBranch (TBB/TBH) record.
func NewTableBranchSwitch(dispatchAt, tableStart, tableEnd uint32, targets []uint32) SwitchRecord {
	return SwitchRecord{Kind: SwitchKindTableBranch, DispatchAt: dispatchAt, TableStart: tableStart, TableEnd: tableEnd, Targets: targets}
}

// NewPCWriteSwitch builds a SwitchKindPCWrite record for an indirect
// register-computed PC write gated by a comparison.
func NewPCWriteSwitch(dispatchAt uint32, targets []uint32) SwitchRecord {
	return SwitchRecord{Kind: SwitchKindPCWrite, DispatchAt: dispatchAt, Targets: targets}
}

// ReplaceFunctions maps a recognized helper's entry address to its kind
// (and, for GNU helpers, its subtype).
type ReplaceFunctions map[uint32]struct {
	Kind   SwitchKind
	GNUSub GNUSubtype
}

// DataRegion maps a runtime RAM address to a 4-byte big-endian word read
// from the firmware's embedded .data initializer image.
type DataRegion map[uint32]uint32

// Architecture tags the detected ARM variant.
type Architecture string

const (
	ArchARMv6M Architecture = "ARMv6-M"
	ArchARMv7M Architecture = "ARMv7-M"
)

// AnalysisReport is the frozen, serializable pipeline output bundle.
type AnalysisReport struct {
	VectorTable VectorTable
	Slots       []DecodedSlot

	Switches         map[uint32]SwitchRecord
	ReplaceFunctions ReplaceFunctions
	DataRegion       DataRegion

	AppCodeBase      uint32
	VectorTableSize  uint32
	CodeStartAddress uint32
	CodeEndAddress   uint32

	ErroredInstructions []uint32
	Architecture        Architecture
}
