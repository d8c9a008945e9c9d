// Package pipeline implements the Object Linker leaf of spec.md section 2
// item 13 and section 4.7: the phased driver that sequences every other
// package's operation across a barrier-per-phase pipeline. Every phase runs
// its work sequentially: runParallel, an errgroup fan-out bounded by a
// golang.org/x/sync/semaphore worker count, is defined here but no phase
// calls it, and linkerconfig.Config.ParallelPhases is not read.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/eld-project/eld/internal/arch"
	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/gc"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerscript"
	"github.com/eld-project/eld/internal/module"
	"github.com/eld-project/eld/internal/obj"
	"github.com/eld-project/eld/internal/relocator"
	"github.com/eld-project/eld/internal/sectionmap"
	"github.com/eld-project/eld/internal/trampoline"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Writer is the external collaborator spec.md section 6 names: it receives
// the finished, laid-out image and serializes it. Declared here (rather
// than imported from package writer) so that writer can depend on pipeline
// types without an import cycle; internal/writer's concrete type satisfies
// this trivially.
type Writer interface {
	Write(mod *module.Module) error
}

// Pipeline drives one link from initialize through emitOutput.
type Pipeline struct {
	Mod    *module.Module
	Arch   *arch.Arch
	Reloc  relocator.Relocator
	Tramp  trampoline.Factory
	Out    Writer

	archive *archiveSource
	sem     *semaphore.Weighted

	internal *input.File // the KindInternal linker-generated input

	// mergeCarriers maps an output-section name to the one input
	// fragment.Section per name whose fragment list actually carries the
	// deduplicated MergeStringTable (spec.md section 4.7 phase 4); every
	// other merge-string section feeding the same output name is
	// MergeAbsorbed and contributes no bytes of its own.
	mergeCarriers map[string]*fragment.Section

	// pendingRelocs is built once by phaseScanRelocations and consumed by
	// phaseApplyRelocations (spec.md section 4.5/4.7 phases 8 and 11).
	pendingRelocs []*relocator.PendingReloc

	// gotSlots/pltSlots record the address assigned to each symbol's GOT/
	// PLT entry, decided during scanRelocations and consulted during
	// applyRelocations through a relocator.Env (spec.md section 4.5).
	gotSlots map[string]uint64
	pltSlots map[string]uint64

	// gotFrags records the GOT-entry fragment synthesized for each symbol
	// name needing one, so finalizeSymbolValues can fill its 8-byte value
	// once the symbol's own address is known (spec.md section 4.5).
	gotFrags map[string]*fragment.Fragment

	// addrMap answers address -> output-section queries for
	// checkCrossRefs (spec.md section 4.7 phase 9.5), built during layout.
	addrMap *sectionmap.AddressMap

	// islandCache records, per output section, the branch island already
	// synthesized for a given final target address, so repeated over-range
	// relocations to the same destination from within one section reuse a
	// single stub rather than growing one per call site (spec.md section
	// 4.6: "search the output section of R's place for an existing
	// reusable island for T with a compatible addend").
	islandCache map[*fragment.Section]map[uint64]*trampoline.Island

	// islandCounter gives each output section its own stable counter for
	// the deterministic "<targetSymbol>@island@<n>" trampoline naming
	// scheme (spec.md section 4.6).
	islandCounter map[*fragment.Section]int
}

// archiveSource holds the pieces every archive.Parser built during
// phaseReadAndProcessInput shares: the diagnostic sink and the --wrap set
// (spec.md section 4.2; SPEC_FULL.md section C).
type archiveSource struct {
	diag  *diag.Engine
	wraps map[string]bool
}

// New builds a Pipeline for one link. Config.Threads <= 0 selects hardware
// concurrency (runtime.NumCPU()).
func New(mod *module.Module, a *arch.Arch, rl relocator.Relocator, tf trampoline.Factory, out Writer) *Pipeline {
	threads := mod.Config.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &Pipeline{
		Mod:   mod,
		Arch:  a,
		Reloc: rl,
		Tramp: tf,
		Out:   out,
		sem:   semaphore.NewWeighted(int64(threads)),
	}
}

// phase runs fn, recording its wall-clock duration as a PhaseTiming
// (SPEC_FULL.md section C) regardless of outcome, and stops the pipeline
// the first time a phase returns an error (spec.md section 4.7: "each a
// barrier across all inputs").
func (p *Pipeline) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.Mod.RecordTiming(name, time.Since(start).Nanoseconds())
	p.Mod.Log.Debug("phase complete", "phase", name, "failed", p.Mod.Failed(), "err", err)
	if err != nil {
		p.Mod.Fail()
		return fmt.Errorf("pipeline: phase %s: %w", name, err)
	}
	if p.Mod.Failed() {
		return fmt.Errorf("pipeline: phase %s: module failure flag set", name)
	}
	return nil
}

// Run executes every phase of spec.md section 4.7 in order, stopping (and
// writing nothing, per spec.md section 7: "Nothing is written on failure")
// the first time one fails.
func (p *Pipeline) Run(ctx context.Context) error {
	phases := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"initialize", p.phaseInitialize},
		{"readAndProcessInput", p.phaseReadAndProcessInput},
		{"addSymbols", p.phaseAddSymbols},
		{"doMergeStrings", p.phaseMergeStrings},
		{"runGarbageCollection", p.phaseGC},
		{"mergeSections", p.phaseMergeSections},
		{"allocateCommonSymbols", p.phaseAllocateCommonSymbols},
		{"scanRelocations", p.phaseScanRelocations},
		{"layout", p.phaseLayout},
		{"createSegments", p.phaseCreateSegments},
		{"checkCrossRefs", p.phaseCheckCrossRefs},
		{"finalizeSymbolValues", p.phaseFinalizeSymbolValues},
		{"applyRelocations", p.phaseApplyRelocations},
		{"emitOutput", p.phaseEmitOutput},
	}
	for _, ph := range phases {
		if err := p.phase(ph.name, func() error { return ph.fn(ctx) }); err != nil {
			return err
		}
	}
	return nil
}

// phaseInitialize creates the linker-generated internal input that common
// symbols, script-defined symbols, and trampolines attach to (spec.md
// section 4.7 phase 1).
func (p *Pipeline) phaseInitialize(context.Context) error {
	p.internal = input.NewInternal("<linker-generated>")
	p.Mod.AddFile(p.internal)
	return nil
}

// runParallel fans fn out over items under the pipeline's semaphore-bounded
// worker pool using errgroup, the fan-out/fan-in pattern spec.md section 5
// names for every independently-togglable parallel work unit. enabled lets
// a caller fall back to sequential execution when the corresponding
// ParallelPhases bit is off.
func runParallel[T any](ctx context.Context, sem *semaphore.Weighted, enabled bool, items []T, fn func(context.Context, T) error) error {
	if !enabled {
		for _, it := range items {
			if err := fn(ctx, it); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, it := range items {
		it := it
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			return fn(gctx, it)
		})
	}
	return g.Wait()
}

// edgesFor builds a gc.EdgeFunc over every relocation recorded against
// every live input file, following spec.md section 4.3: "one per
// relocation in s whose resolved symbol has a section", plus Retain/KEEP
// edges already folded into fragment.Section.Retain by the section map.
func (p *Pipeline) edgesFor() gc.EdgeFunc {
	bySection := make(map[*fragment.Section][]*fragment.Section)
	for _, f := range p.Mod.Files {
		for sec, relocs := range f.Relocs {
			for _, r := range relocs {
				if r.Symbol == obj.NoSym {
					continue
				}
				target := p.resolveRelocTargetSection(f, r)
				if target != nil {
					bySection[sec] = append(bySection[sec], target)
				}
			}
		}
	}
	return func(s *fragment.Section) []*fragment.Section { return bySection[s] }
}

func (p *Pipeline) resolveRelocTargetSection(f *input.File, r input.Reloc) *fragment.Section {
	if int(r.Symbol) < 0 || int(r.Symbol) >= len(f.LocalSyms) {
		return nil
	}
	info, ok := f.LocalSyms[r.Symbol].(interface{ DefiningSection() *fragment.Section })
	if !ok {
		return nil
	}
	return info.DefiningSection()
}

// linkerscriptOrDefault returns mod.Script, or an empty script when none was
// supplied; with no SECTIONS rules, the section map places every input
// section by its default name-canonicalization rules (spec.md section 4.4:
// "the ordered list of output-section descriptors from the script (or a
// synthesized default map)").
func (p *Pipeline) linkerscriptOrDefault() *linkerscript.Script {
	if p.Mod.Script != nil {
		return p.Mod.Script
	}
	return &linkerscript.Script{}
}

// newSectionMap constructs the section map used by mergeSections and
// layout, sized for the module's orphan-handling policy (spec.md section
// 4.4).
func (p *Pipeline) newSectionMap() *sectionmap.Map {
	return sectionmap.NewMap(p.linkerscriptOrDefault(), p.Mod.Diag, p.Mod.Config.OrphanHandling)
}

var _ = diag.Error // referenced indirectly by sibling files in this package
