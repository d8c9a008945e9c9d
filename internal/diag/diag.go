// Package diag implements the diagnostic contract named in spec section 6:
// every diagnostic is a (severity, id, args) triple, accumulated through a
// phase and checked at the barrier. Formatting and colorization of these
// diagnostics into human-readable text is an external collaborator's job
// (spec section 1); this package only carries the typed payload and the
// accumulation/failure-flag discipline from spec section 7.
package diag

import (
	"fmt"
	"sync"
)

// Severity is the severity of a Diagnostic.
type Severity int

const (
	Verbose Severity = iota
	Note
	Warning
	CriticalWarning
	Error
	Fatal
	Internal
)

func (s Severity) String() string {
	switch s {
	case Verbose:
		return "verbose"
	case Note:
		return "note"
	case Warning:
		return "warning"
	case CriticalWarning:
		return "critical-warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// IsFailure reports whether a diagnostic of this severity sets the
// module-failure flag (spec section 7).
func (s Severity) IsFailure() bool {
	return s == Error || s == Fatal || s == Internal
}

// Group names a warning class that can be enabled or disabled independently
// (spec section 6).
type Group string

const (
	GroupLinkerScript    Group = "linker-script"
	GroupArchiveFile     Group = "archive-file"
	GroupCommandLine     Group = "command-line"
	GroupZeroSized       Group = "zero-sized-sections"
	GroupAttributeMix    Group = "attribute-mix"
	GroupWholeArchive    Group = "whole-archive"
	GroupScriptMemory    Group = "linker-script-memory"
	GroupBadDotAssign    Group = "bad-dot-assignments"
)

// ID identifies the kind of diagnostic, e.g. "multiple-definition".
type ID string

// A Diagnostic is one (severity, id, args) triple, optionally attached to a
// named input/section/symbol for context.
type Diagnostic struct {
	Severity Severity
	ID       ID
	Group    Group // empty if this diagnostic isn't warning-gated
	Args     []any
	Subject  string // input, section, or symbol name this diagnostic concerns
}

func (d *Diagnostic) Error() string {
	if d.Subject != "" {
		return fmt.Sprintf("%s: %s: %s %v", d.Severity, d.Subject, d.ID, d.Args)
	}
	return fmt.Sprintf("%s: %s %v", d.Severity, d.ID, d.Args)
}

// An Engine accumulates diagnostics across a phase and tracks the
// module-failure flag. Emission is behind a single mutex (spec section 5)
// so that message order reflects causality even when callers run in
// parallel worker threads.
type Engine struct {
	mu       sync.Mutex
	records  []*Diagnostic
	failed   bool
	disabled map[Group]bool
}

// NewEngine creates an Engine with all warning groups enabled.
func NewEngine() *Engine {
	return &Engine{disabled: make(map[Group]bool)}
}

// SetGroupEnabled toggles whether diagnostics tagged with group are recorded.
func (e *Engine) SetGroupEnabled(g Group, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled[g] = !enabled
}

// Emit records d. If d's group is disabled, it is dropped (unless d is a
// failure severity, which is never gated by a warning group).
func (e *Engine) Emit(d *Diagnostic) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d.Group != "" && e.disabled[d.Group] && !d.Severity.IsFailure() {
		return
	}
	e.records = append(e.records, d)
	if d.Severity.IsFailure() {
		e.failed = true
	}
}

// Failed reports whether any accumulated diagnostic set the module-failure
// flag. Workers check this at loop heads to cancel promptly (spec section 5).
func (e *Engine) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Records returns a snapshot of all diagnostics emitted so far, in emission
// order.
func (e *Engine) Records() []*Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Diagnostic, len(e.records))
	copy(out, e.records)
	return out
}
