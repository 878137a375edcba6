package armdisasm

import "errors"

// Fatal pipeline errors (§7: halts the pipeline). Checkable with errors.Is.
var (
	ErrImageTooSmall      = errors.New("armdisasm: image too small to hold a vector table")
	ErrVectorTableInvalid = errors.New("armdisasm: vector table failed validation at every candidate base")
	ErrCodeBaseUnresolved = errors.New("armdisasm: could not resolve an application code base")
	ErrResetOutOfRange    = errors.New("armdisasm: reset handler address falls outside the derived code range")
)
