package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/chriskillpack/armdisasm"
	"github.com/sirupsen/logrus"
)

func runDisasm(file string, forcedBase int64, hasBase bool, jsonOut bool, logLevel string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger.SetLevel(level)

	cfg := armdisasm.Config{Logger: logger}
	if hasBase {
		base := uint32(forcedBase)
		cfg.ForcedBase = &base
	}

	report, err := armdisasm.NewPipeline(cfg).Run(context.Background(), data)
	if err != nil {
		return err
	}

	if jsonOut {
		return writeJSON(os.Stdout, report)
	}
	writeText(os.Stdout, report)
	return nil
}

func writeJSON(w io.Writer, report *armdisasm.AnalysisReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeText(w io.Writer, report *armdisasm.AnalysisReport) {
	fmt.Fprintf(w, "Architecture       %s\n", report.Architecture)
	fmt.Fprintf(w, "App code base      0x%08X\n", report.AppCodeBase)
	fmt.Fprintf(w, "Vector table size  %d bytes\n", report.VectorTableSize)
	fmt.Fprintf(w, "Code start         0x%08X\n", report.CodeStartAddress)
	fmt.Fprintf(w, "Code end           0x%08X\n", report.CodeEndAddress)
	fmt.Fprintf(w, "Switch tables      %d\n", len(report.Switches))
	fmt.Fprintf(w, "Errored insns      %d\n\n", len(report.ErroredInstructions))

	for _, slot := range report.Slots {
		if slot.IsData || slot.Insn == nil {
			continue
		}
		ins := slot.Insn
		fmt.Fprintf(w, "%08X:  %-8s\n", ins.Addr, ins.Mnemonic)
	}
}
