package sectionmap

import (
	"fmt"

	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/linkerscript"
)

// Layout assigns addresses, file offsets, and sizes to every output
// section in script order (spec.md section 4.4: "before-layout symbols are
// finalized, then every output section is walked in script order,
// advancing the location counter"). It implements linkerscript.Env against
// its own in-progress state so DotExpr/SymbolExpr/ADDR/SIZEOF resolve
// against values already assigned earlier in the same walk.
type Layout struct {
	Script  *linkerscript.Script
	Regions map[string][2]uint64 // name -> (origin, length), from ApplyMemoryRegions

	dot     uint64
	symbols map[string]uint64
	addrs   map[string]uint64
	loads   map[string]uint64
	sizes   map[string]uint64
	headersSize uint64

	// regionCursor tracks the next free address within each MEMORY region,
	// independent of the global location counter, so two output sections
	// placed in different regions don't collide.
	regionCursor map[string]uint64
}

// NewLayout creates a Layout starting the location counter at base (the
// image's load address absent any ". = " assignment).
func NewLayout(script *linkerscript.Script, regions map[string][2]uint64, base, headersSize uint64) *Layout {
	l := &Layout{
		Script:       script,
		Regions:      regions,
		dot:          base,
		symbols:      map[string]uint64{},
		addrs:        map[string]uint64{},
		loads:        map[string]uint64{},
		sizes:        map[string]uint64{},
		headersSize:  headersSize,
		regionCursor: map[string]uint64{},
	}
	for name, rl := range regions {
		l.regionCursor[name] = rl[0]
	}
	return l
}

func (l *Layout) Dot() uint64 { return l.dot }
func (l *Layout) Symbol(name string) (uint64, bool) {
	v, ok := l.symbols[name]
	return v, ok
}
func (l *Layout) SectionAddr(name string) (uint64, bool)     { v, ok := l.addrs[name]; return v, ok }
func (l *Layout) SectionLoadAddr(name string) (uint64, bool) { v, ok := l.loads[name]; return v, ok }
func (l *Layout) SectionSize(name string) (uint64, bool)     { v, ok := l.sizes[name]; return v, ok }
func (l *Layout) RegionOrigin(name string) (uint64, bool)    { r, ok := l.Regions[name]; return r[0], ok }
func (l *Layout) RegionLength(name string) (uint64, bool)    { r, ok := l.Regions[name]; return r[1], ok }
func (l *Layout) SizeofHeaders() uint64                      { return l.headersSize }
func (l *Layout) Constant(name string) (uint64, bool) {
	switch name {
	case "MAXPAGESIZE":
		return 0x1000, true
	case "COMMONPAGESIZE":
		return 0x1000, true
	default:
		return 0, false
	}
}

// AssignSection lays out sec starting at the current location counter
// (or, if region is non-empty, the region's cursor), updating the
// location counter/region cursor past sec's end. align overrides sec's own
// alignment when non-zero (an ALIGN(n) output-section attribute).
func (l *Layout) AssignSection(sec *fragment.Section, region string, align uint64) {
	if align == 0 {
		align = sec.Align
	}
	if align == 0 {
		align = 1
	}

	start := l.dot
	if region != "" {
		start = l.regionCursor[region]
	}
	start = alignUp(start, align)

	var offset uint64
	var size uint64
	for _, f := range sec.Fragments() {
		falign := f.Align
		if falign == 0 {
			falign = 1
		}
		aligned := alignUp(offset, falign)
		f.PaddingSize = aligned - offset
		f.Offset = aligned
		offset = aligned + f.Size
	}
	size = offset

	sec.Addr = start
	sec.Size = size
	l.addrs[sec.Name] = start
	l.loads[sec.Name] = start
	l.sizes[sec.Name] = size

	end := start + size
	if region != "" {
		l.regionCursor[region] = end
	} else {
		l.dot = end
	}
}

// ApplyDotAssign evaluates and applies a top-level or in-section `. = expr`
// / `. += expr` command.
func (l *Layout) ApplyDotAssign(a *linkerscript.Assign) error {
	v, err := linkerscript.Eval(a.Expr, l)
	if err != nil {
		return fmt.Errorf("sectionmap: dot assignment: %w", err)
	}
	l.dot = v
	return nil
}

// ApplySymbolAssign evaluates a SYMBOL = expr / PROVIDE(...) command,
// recording the result for later DEFINED()/symbol lookups. PROVIDE only
// takes effect if the symbol isn't already defined elsewhere; since this
// Layout only tracks script-defined symbols, the caller is responsible for
// checking the global symbol table first and skipping the call for a
// PROVIDE whose name already resolved (spec.md section 4.1/4.4).
func (l *Layout) ApplySymbolAssign(a *linkerscript.Assign) error {
	v, err := linkerscript.Eval(a.Expr, l)
	if err != nil {
		return fmt.Errorf("sectionmap: assignment to %s: %w", a.Name, err)
	}
	l.symbols[a.Name] = v
	return nil
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
