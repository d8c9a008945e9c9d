// Package symbol implements the Resolve Info / Symbol and Name Pool leaves
// of spec.md section 2 (items 5-6) and the resolver contract of section
// 4.1. The bit-packed flags style mirrors the teacher's obj.SymFlags
// (internal/obj/sym.go); the resolution precedence itself has no teacher
// analogue (the teacher package is read-only and never merges symbols
// across files) and is grounded instead on
// original_source/lib/SymbolResolver/{ResolveInfo,StaticResolver}.cpp.
package symbol

import (
	"fmt"

	"github.com/eld-project/eld/internal/fragment"
)

// Binding is the symbol binding (spec.md section 3).
type Binding uint8

const (
	BindLocal Binding = iota
	BindWeak
	BindGlobal
	BindAbsolute
)

func (b Binding) String() string {
	switch b {
	case BindLocal:
		return "local"
	case BindWeak:
		return "weak"
	case BindGlobal:
		return "global"
	case BindAbsolute:
		return "absolute"
	default:
		return "unknown"
	}
}

// rank orders bindings for override purposes: global > weak > undefined
// (spec.md section 4.1 rule 2). Absolute symbols behave like defines.
func (b Binding) rank() int {
	switch b {
	case BindGlobal, BindAbsolute:
		return 2
	case BindWeak:
		return 1
	default:
		return 0
	}
}

// Desc is the symbol's definedness (spec.md section 3).
type Desc uint8

const (
	DescUndefined Desc = iota
	DescDefined
	DescCommon
)

// Visibility is the symbol visibility, ordered least to most constrained
// (spec.md section 4.1 rule 5: default < protected < hidden < internal).
type Visibility uint8

const (
	VisDefault Visibility = iota
	VisProtected
	VisHidden
	VisInternal
)

// combineVisibility returns the more constrained of a and b (rule 5: always take the
// most constrained visibility, independent of which candidate won
// resolution).
func combineVisibility(a, b Visibility) Visibility {
	if a > b {
		return a
	}
	return b
}

// Type is the symbol's type (spec.md section 3).
type Type uint8

const (
	TypeNoType Type = iota
	TypeObject
	TypeFunction
	TypeSection
	TypeFile
	TypeCommonBlock
	TypeTLS
)

// Source distinguishes a regular-object symbol from a dynamic-object (.so)
// symbol (spec.md section 3 and section 4.1 rule 3).
type Source uint8

const (
	SourceRegular Source = iota
	SourceDynamic
)

// Flags is a bit-packed set of ResolveInfo flags (spec.md section 3).
type Flags uint16

const (
	FlagIsSymbol Flags = 1 << iota
	FlagExportToDyn
	FlagPatchable
	FlagBitcode
	FlagPreserveForLTO
	FlagReferencedByCommon
	FlagShouldIgnore
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Origin identifies the InputFile a ResolveInfo/LDSymbol came from. The
// concrete type lives in package input; symbol only needs a stable name for
// diagnostics, so it depends on an interface rather than importing input
// (which in turn depends on symbol for the NamePool it populates).
type Origin interface {
	// InputPath names the input for diagnostics (e.g. "libfoo.a(bar.o)").
	InputPath() string
	// Ordinal is the input's command-line ordinal, used as the final,
	// deterministic tiebreaker a few resolution rules need.
	Ordinal() int
}

// ResolveInfo is the canonical per-name resolution state (spec.md section
// 3). Exactly one ResolveInfo exists per non-local name in a Module's
// NamePool; local symbols each get their own ResolveInfo (not shared).
type ResolveInfo struct {
	Name    string
	Binding Binding
	Desc    Desc
	Vis     Visibility
	Type    Type
	Source  Source
	Flags   Flags

	Size  uint64
	Value uint64

	// Origin is the InputFile that currently wins resolution for this name.
	Origin Origin

	// Out is this ResolveInfo's output symbol handle, updated atomically on
	// resolution override (spec.md section 3 invariants). It is nil until
	// the first InsertNonLocal/InsertLocal call creates it.
	Out *LDSymbol

	// Alias names another ResolveInfo this one is an alias of (e.g. a
	// VERSION script `sym@VER` alias), or "" if none.
	Alias string

	// DefFrag is the (fragment, offset) this candidate was read from, set
	// at ingest for a defined symbol. It survives resolution even when this
	// ResolveInfo loses (the NamePool keeps the winner's DefFrag via Out),
	// so package pipeline can always recover "where did this candidate come
	// from" for diagnostics regardless of which candidate won.
	DefFrag fragment.Ref
}

func (r *ResolveInfo) String() string {
	return fmt.Sprintf("%s[%s,%s,%s]", r.Name, r.Binding, r.descString(), r.Source)
}

func (r *ResolveInfo) descString() string {
	switch r.Desc {
	case DescUndefined:
		return "undef"
	case DescDefined:
		return "defined"
	case DescCommon:
		return "common"
	default:
		return "?"
	}
}

func (s Source) String() string {
	if s == SourceDynamic {
		return "dynamic"
	}
	return "regular"
}

// LDSymbol is the canonical symbol instance that participates in output
// (spec.md section 3): a fragment reference plus the bookkeeping the
// section map and writer need.
type LDSymbol struct {
	Info *ResolveInfo

	FragRef     fragment.Ref
	Value       uint64
	SectionIdx  int32 // SHN_ABS/SHN_UNDEF/SHN_COMMON or an output section index
	SymbolIndex uint32

	ShouldIgnore bool
}

// DefiningSection returns the fragment.Section this symbol's winning
// definition lives in, or nil for an undefined, absolute, or not-yet
// allocated (common) symbol. Used by the garbage collector (spec.md
// section 4.3) to turn a resolved relocation target into a reachability
// edge.
func (r *ResolveInfo) DefiningSection() *fragment.Section {
	if r.Desc != DescDefined || r.DefFrag.Frag == nil {
		return nil
	}
	return r.DefFrag.Frag.Section
}

// NewResolveInfo constructs a fresh ResolveInfo with no Out symbol yet.
func NewResolveInfo(name string, binding Binding, desc Desc, vis Visibility, typ Type, src Source) *ResolveInfo {
	return &ResolveInfo{Name: name, Binding: binding, Desc: desc, Vis: vis, Type: typ, Source: src, Flags: FlagIsSymbol}
}
