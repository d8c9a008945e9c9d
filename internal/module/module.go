// Package module implements the Module leaf of spec.md section 2 item 13
// and the state machine of section 4.7: the top-level container holding
// every other package's state for one link, plus the monotonic state
// transitions that gate which operations are legal when.
package module

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerconfig"
	"github.com/eld-project/eld/internal/linkerscript"
	"github.com/eld-project/eld/internal/sectionmap"
	"github.com/eld-project/eld/internal/symbol"
)

// State is one of the Module's monotonic link states (spec.md section 2
// item 13). Transitions only ever move forward, in the sequence given by
// order below, which differs from this declaration order.
type State int

const (
	StateInitializing State = iota
	StateBeforeLayout
	StateCreatingSections
	StateAfterLayout
	StateCreatingSegments
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateBeforeLayout:
		return "beforeLayout"
	case StateCreatingSections:
		return "creatingSections"
	case StateAfterLayout:
		return "afterLayout"
	case StateCreatingSegments:
		return "creatingSegments"
	default:
		return "unknown"
	}
}

// order gives each State's position in the sequence the pipeline visits
// them, for the monotonicity check; it is not the same as the int value of
// State, which follows the declaration order above and is otherwise an
// implementation detail.
var order = map[State]int{
	StateInitializing:    0,
	StateCreatingSections: 1,
	StateBeforeLayout:    2,
	StateAfterLayout:     3,
	StateCreatingSegments: 4,
}

// PhaseTiming records one pipeline phase's duration, grounding
// SPEC_FULL.md section C's timing-slice supplement. Duration is supplied
// by the caller (internal/pipeline) rather than measured here, since this
// package may not call time.Now (it must stay deterministic for tests).
type PhaseTiming struct {
	Phase    string
	Duration int64 // nanoseconds
}

// Segment is one PHDRS program-header entry, populated during
// StateCreatingSegments (spec.md section 4.4 "Segments").
type Segment struct {
	Type   string
	Flags  uint32
	Sections []*fragment.Section
	Offset, VAddr, PAddr, FileSize, MemSize, Align uint64
}

// CommonSymbol is a tentative definition awaiting allocation (spec.md
// section 4.7 phase 7: "allocateCommonSymbols").
type CommonSymbol struct {
	Name  string
	Size  uint64
	Align uint64
	Sec   *fragment.Section // nil until allocated
}

// Module is the top-level container (spec.md section 2 item 13): every
// other package's per-link state hangs off of it, and its State field
// gates which operations are legal.
type Module struct {
	mu    sync.Mutex
	state State

	Config *linkerconfig.Config
	Script *linkerscript.Script
	Names  *symbol.NamePool
	Diag   *diag.Engine
	Log    *slog.Logger

	Inputs []*input.Input
	Files  []*input.File

	SectionMap *sectionmap.Map
	Layout     *sectionmap.Layout

	CommonSymbols []*CommonSymbol
	MergeStrings  map[string]*fragment.MergeStringTable // keyed by owning output section name

	// RelocData records plugin-observable relocation outcomes, guarded by
	// its own mutex per spec.md section 5 ("Relocation data recording...
	// uses a per-module mutex") rather than Module's own mu, since it is
	// written from parallel apply workers while mu guards state/failure.
	relocDataMu sync.Mutex
	RelocData   []RelocDataEntry

	Segments []*Segment

	Timings []PhaseTiming

	// PreserveForLTO collects bitcode symbols marked "preserve for LTO"
	// (spec.md section 4.1 rule 6; SPEC_FULL.md section C).
	PreserveForLTO []string

	// BuildID is the checksum computed by the engine after the writer
	// stages section bytes but before finalization (spec.md section 6:
	// "Any checksums (build-id SHA1/MD5/UUID/FAST) are computed by the
	// engine... but before finalization"). Empty when Config.BuildID is
	// BuildIDNone.
	BuildID []byte

	failed bool
}

// SetBuildID records the computed build-id bytes.
func (m *Module) SetBuildID(id []byte) {
	m.mu.Lock()
	m.BuildID = id
	m.mu.Unlock()
}

// RelocDataEntry is one plugin-observable relocation application outcome.
type RelocDataEntry struct {
	Section *fragment.Section
	Symbol  string
	Overflow bool
}

// New creates a Module in StateInitializing, wiring together the
// already-constructed NamePool and diagnostic engine (spec.md section 4.7
// phase 1: "create internal inputs... set state = initializing").
func New(cfg *linkerconfig.Config, script *linkerscript.Script, d *diag.Engine, names *symbol.NamePool, log *slog.Logger) *Module {
	if log == nil {
		log = slog.Default()
	}
	return &Module{
		state:        StateInitializing,
		Config:       cfg,
		Script:       script,
		Names:        names,
		Diag:         d,
		Log:          log,
		MergeStrings: make(map[string]*fragment.MergeStringTable),
	}
}

// State returns the Module's current state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the Module to to, failing if to is not strictly later
// than the current state (spec.md section 2 item 13: "State transitions
// are monotonic").
func (m *Module) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order[to] <= order[m.state] {
		return fmt.Errorf("module: illegal transition %s -> %s (not monotonic)", m.state, to)
	}
	m.Log.Debug("module state transition", "from", m.state.String(), "to", to.String())
	m.state = to
	return nil
}

// RequireState fails fast if the Module is not currently in want, guarding
// operations that spec.md section 2 item 13 says "are only legal in
// specific states" (e.g. relocation apply requires afterLayout).
func (m *Module) RequireState(want State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != want {
		return fmt.Errorf("module: operation requires state %s, currently %s", want, m.state)
	}
	return nil
}

// Fail marks the Module's failure flag (spec.md section 5 "Cancellation":
// "on any fatal diagnostic, the module sets a failure flag; workers check
// it at loop heads and exit promptly").
func (m *Module) Fail() {
	m.mu.Lock()
	m.failed = true
	m.mu.Unlock()
}

// Failed reports whether Fail has been called, or the diagnostic engine
// has already accumulated a failure-severity record.
func (m *Module) Failed() bool {
	m.mu.Lock()
	f := m.failed
	m.mu.Unlock()
	return f || m.Diag.Failed()
}

// AddInput registers a newly created Input, assigning it the next ordinal
// in command-line order (spec.md section 2 item 2).
func (m *Module) AddInput(in *input.Input) {
	m.mu.Lock()
	in.Ordinal = len(m.Inputs)
	m.Inputs = append(m.Inputs, in)
	m.mu.Unlock()
}

// AddFile registers a classified InputFile.
func (m *Module) AddFile(f *input.File) {
	m.mu.Lock()
	m.Files = append(m.Files, f)
	m.mu.Unlock()
}

// RecordTiming appends one phase's duration (SPEC_FULL.md section C:
// timing slices).
func (m *Module) RecordTiming(phase string, nanos int64) {
	m.mu.Lock()
	m.Timings = append(m.Timings, PhaseTiming{Phase: phase, Duration: nanos})
	m.mu.Unlock()
}

// RecordRelocData appends a plugin-observable relocation outcome under
// its own mutex (spec.md section 5).
func (m *Module) RecordRelocData(e RelocDataEntry) {
	m.relocDataMu.Lock()
	m.RelocData = append(m.RelocData, e)
	m.relocDataMu.Unlock()
}

// AddCommonSymbol registers a tentative definition pending allocation
// (spec.md section 4.7 phase 7).
func (m *Module) AddCommonSymbol(name string, size, align uint64) *CommonSymbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := &CommonSymbol{Name: name, Size: size, Align: align}
	m.CommonSymbols = append(m.CommonSymbols, cs)
	return cs
}

// MergeTableFor returns (creating if necessary) the merge-string table for
// the output section named outSec (spec.md section 4.7 phase 4:
// "doMergeStrings").
func (m *Module) MergeTableFor(outSec string) *fragment.MergeStringTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.MergeStrings[outSec]
	if !ok {
		t = fragment.NewMergeStringTable()
		m.MergeStrings[outSec] = t
	}
	return t
}

// AddSegment appends a computed PHDRS segment (spec.md section 4.4
// "Segments").
func (m *Module) AddSegment(seg *Segment) {
	m.mu.Lock()
	m.Segments = append(m.Segments, seg)
	m.mu.Unlock()
}

// PreservedForLTO records a bitcode symbol name marked "preserve for LTO"
// (SPEC_FULL.md section C).
func (m *Module) PreservedForLTO(name string) {
	m.mu.Lock()
	m.PreserveForLTO = append(m.PreserveForLTO, name)
	m.mu.Unlock()
}
