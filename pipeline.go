// Package armdisasm reconstructs an annotated disassembly from a raw,
// stripped ARM Cortex-M (Thumb/Thumb-2) firmware image: it estimates the
// load address, locates and sizes the vector table, separates code from
// inline data across several heuristic passes, recognizes compiler switch
// dispatch idioms, and cross-references branches against their targets.
package armdisasm

import (
	"context"
	"fmt"

	"github.com/chriskillpack/armdisasm/decoder"
	"github.com/chriskillpack/armdisasm/strand"
	"github.com/sirupsen/logrus"
)

// pipelineState is the single mutable artifact threaded through the six
// reconstruction stages, replacing the module-level global state a direct
// port of the original would otherwise keep. Each stage method takes
// *pipelineState as its only mutable parameter and is expected to leave it
// consistent for the next stage; nothing downstream of stage 6 mutates it.
type pipelineState struct {
	image   *Image
	decoder decoder.Decoder
	tracer  *strand.Tracer
	log     *logrus.Entry

	vectorTable VectorTable
	dmap        *DisassemblyMap

	vectorTableSize  uint32
	codeStartAddress uint32
	codeEndAddress   uint32

	replaceFns ReplaceFunctions
	switches   map[uint32]SwitchRecord
	dataRegion DataRegion

	errored map[uint32]struct{}

	arch Architecture
}

func newPipelineState(im *Image, dec decoder.Decoder, log *logrus.Entry) *pipelineState {
	return &pipelineState{
		image:      im,
		decoder:    dec,
		tracer:     strand.New(im),
		log:        log,
		dmap:       NewDisassemblyMap(),
		replaceFns: make(ReplaceFunctions),
		switches:   make(map[uint32]SwitchRecord),
		dataRegion: make(DataRegion),
		errored:    make(map[uint32]struct{}),
		arch:       ArchARMv6M,
	}
}

func (s *pipelineState) markErrored(addr uint32) {
	s.errored[addr] = struct{}{}
}

// invalidateAndRedecode implements the Design Notes' "invalidate range +
// redecode tail" operation: every slot address in [from, to) is marked as
// data, and if to is itself two-byte aligned and within the image, the
// instruction starting there is redecoded (with the NEON misinterpretation
// repair applied, as in the linear sweep) so the sweep resumes on a valid
// head.
func (s *pipelineState) invalidateAndRedecode(from, to uint32) {
	for a := from; a < to; a += 2 {
		s.dmap.MarkData(a)
	}
	if to%2 != 0 {
		return
	}
	if code, ok := s.image.Bytes(to, 4); ok {
		ins := s.decoder.Decode(code, to)
		if ins.Len == 4 && decoder.IsNEONMnemonic(ins.Mnemonic) {
			repairNEONMisinterpretation(s.dmap, s.image, s.decoder, to)
			return
		}
		s.dmap.Set(&DecodedSlot{Addr: to, Insn: &ins})
	} else if code, ok := s.image.Bytes(to, 2); ok {
		ins := s.decoder.Decode(code, to)
		s.dmap.Set(&DecodedSlot{Addr: to, Insn: &ins})
	}
}

// Config carries the options a caller (typically the CLI) can set to
// override or steer the pipeline, grounded on the teacher's own
// Disassembler struct fields (MaxBytes/Offset/BranchAdjust/CodeAddrs): a
// plain struct populated by flag parsing, no separate config-file layer.
type Config struct {
	// ForcedBase, if non-nil, is used instead of running the Code-Base
	// Estimator.
	ForcedBase *uint32

	// Logger receives structured progress/diagnostic output. A
	// logrus.StandardLogger() compatible default is used if nil.
	Logger *logrus.Logger
}

// Pipeline is the orchestrator: it sequences the six reconstruction stages
// (plus the added orchestration layer, §4.7) against one explicit state
// value per run.
type Pipeline struct {
	cfg Config
}

// NewPipeline constructs a Pipeline with the given configuration.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Pipeline{cfg: cfg}
}

// Run executes the full reconstruction pipeline over program and returns
// the frozen AnalysisReport. ctx is checked for cancellation between
// stages only, consistent with the single-threaded batch model (§5).
func (p *Pipeline) Run(ctx context.Context, program []byte) (*AnalysisReport, error) {
	log := p.cfg.Logger.WithField("component", "pipeline")

	im := NewImage(program, 0)
	dec := decoder.Thumb{}
	state := newPipelineState(im, dec, log)

	vt, ok := readVectorTable(im)
	if !ok {
		return nil, fmt.Errorf("vector table read at base 0: %w", ErrVectorTableInvalid)
	}
	state.vectorTable = vt
	log.WithField("reset", fmt.Sprintf("0x%08x", vt.Slots[SlotReset])).Info("vector table parsed")

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	base := uint32(0)
	if p.cfg.ForcedBase != nil {
		base = *p.cfg.ForcedBase
	} else {
		estimated, ok := estimateCodeBase(im, vt, dec)
		if !ok {
			return nil, ErrCodeBaseUnresolved
		}
		base = estimated
	}
	log.WithField("app_code_base", fmt.Sprintf("0x%08x", base)).Info("code base resolved")

	im.AppCodeBase = base
	state.image = im
	state.tracer = strand.New(im)

	reset := vt.Slots[SlotReset]
	if !im.InRange(reset) {
		return nil, fmt.Errorf("reset=0x%08x, base=0x%08x: %w", reset, base, ErrResetOutOfRange)
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	codeStart := im.VirtualAddr(FirstIRQOffset)
	state.dmap = linearDisassemble(im, dec, codeStart)
	log.WithField("slots", state.dmap.Len()).Info("linear disassembly complete")

	tableSizeOff := sizeVectorTable(im, base)
	state.vectorTableSize = tableSizeOff
	state.codeStartAddress = im.VirtualAddr(tableSizeOff)
	state.codeEndAddress = im.VirtualAddr(uint32(im.Size()))
	log.WithFields(logrus.Fields{
		"vector_table_size":  tableSizeOff,
		"code_start_address": fmt.Sprintf("0x%08x", state.codeStartAddress),
	}).Info("vector table sized")

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	separateDataFromCode(state)
	log.WithField("errored", len(state.errored)).Info("data/code separation complete")

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	annotateCrossReferences(state)
	log.Info("cross-reference annotation complete")

	report := buildReport(state)
	return report, nil
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func buildReport(s *pipelineState) *AnalysisReport {
	addrs := s.dmap.Addresses()
	slots := make([]DecodedSlot, 0, len(addrs))
	for _, a := range addrs {
		slot, _ := s.dmap.Get(a)
		slots = append(slots, *slot)
	}

	errored := make([]uint32, 0, len(s.errored))
	for a := range s.errored {
		errored = append(errored, a)
	}
	sortUint32s(errored)

	return &AnalysisReport{
		VectorTable:         s.vectorTable,
		Slots:               slots,
		Switches:            s.switches,
		ReplaceFunctions:    s.replaceFns,
		DataRegion:          s.dataRegion,
		AppCodeBase:         s.image.AppCodeBase,
		VectorTableSize:     s.vectorTableSize,
		CodeStartAddress:    s.codeStartAddress,
		CodeEndAddress:      s.codeEndAddress,
		ErroredInstructions: errored,
		Architecture:        s.arch,
	}
}
