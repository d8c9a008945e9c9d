// Package input implements the Input and Input File leaves of spec.md
// section 2 (items 2-3): a named handle with an attribute set and an
// ordinal assigned in command-line order, resolving to a Memory Area, and
// the tagged variant over it that classifies what kind of object the bytes
// turned out to be.
//
// Per spec.md section 9's design notes, InputFile is modeled as a tagged
// variant (a Kind enum plus kind-specific payload fields) rather than as an
// interface-per-kind hierarchy, the same style used for fragment.Section
// and fragment.Fragment.
package input

import (
	"fmt"

	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/memarea"
	"github.com/eld-project/eld/internal/obj"
)

// Attrs is the small attribute set every Input carries (spec.md section 3).
type Attrs struct {
	AsNeeded     bool
	WholeArchive bool
	PreferStatic bool // false = prefer shared, matching -Bstatic/-Bdynamic
	JustSymbols  bool
	PatchBase    bool
}

// Input is a named handle with an ordinal assigned in command-line order
// (spec.md section 3). Its lifetime is the Module's.
type Input struct {
	Ordinal      int
	Path         string
	ResolvedPath string
	Attrs        Attrs

	Area *memarea.Area
}

func (in *Input) InputPath() string { return in.Path }
func (in *Input) Ordinal_() int     { return in.Ordinal }

// Kind is the InputFile tagged variant discriminator (spec.md section 3).
type Kind int

const (
	KindELFRelocatable Kind = iota
	KindELFDynamic
	KindELFExecutable
	KindArchive
	KindArchiveMember
	KindBitcode
	KindLinkerScript
	KindSymDef
	KindBinary
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindELFRelocatable:
		return "elf-relocatable"
	case KindELFDynamic:
		return "elf-dynamic"
	case KindELFExecutable:
		return "elf-executable"
	case KindArchive:
		return "archive"
	case KindArchiveMember:
		return "archive-member"
	case KindBitcode:
		return "bitcode"
	case KindLinkerScript:
		return "linker-script"
	case KindSymDef:
		return "sym-def"
	case KindBinary:
		return "binary"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Reloc is a relocation read from an ELF relocatable section, identical in
// shape to obj.Reloc but additionally able to carry a resolved symbol once
// the scan phase has processed it (spec.md section 4.5).
type Reloc struct {
	obj.Reloc

	// Section is the fragment.Section the relocation applies to.
	Section *fragment.Section
}

// File is the tagged-variant InputFile (spec.md section 3). Exactly the
// payload fields relevant to Kind are populated; the rest are zero.
type File struct {
	Kind  Kind
	Owner *Input // nil for Kind == KindInternal

	// Sections this file contributed, in file order. Owned by this File.
	Sections []*fragment.Section

	// LocalSyms indexes this file's local-and-global symbol table by its
	// raw obj.SymID, used to resolve relocation symbol references during
	// scan (populated at ingest; spec.md section 4.7 phase 2). The
	// *symbol.ResolveInfo element type is declared generically as `any`
	// here to avoid an import cycle (package symbol does not depend on
	// input, so the concrete type assertion lives in the caller, in
	// package pipeline).
	LocalSyms []any

	// Relocs holds every relocation read from this file's sections,
	// grouped by the fragment.Section they apply to.
	Relocs map[*fragment.Section][]Reloc

	// raw is the underlying obj.File for an ELF-kind input, or nil.
	raw obj.File

	// ArchiveIndex is populated for Kind == KindArchive.
	ArchiveIndex *ArchiveIndex

	// MemberName is the name of this member within its owning archive, for
	// Kind == KindArchiveMember (e.g. "bar.o" within "libfoo.a(bar.o)").
	MemberName string

	// SymDefs holds name->value pairs for Kind == KindSymDef (a file that
	// contributes symbol values without code or data, GLOSSARY).
	SymDefs map[string]uint64

	// Pulled records whether an archive member has already been included
	// in the link (spec.md section 4.2).
	Pulled bool

	// localSymtab is this file's *symtab.Table (address/name lookup over
	// its own raw obj.Sym list), built at ingest. Declared `any` for the
	// same reason as LocalSyms: package input has no need to depend on
	// symtab's concrete type, only to carry it for the pipeline package
	// that built it.
	localSymtab any
}

// SetLocalSymtab installs this file's per-file symbol lookup table, built
// once at ingest (pipeline.ingestFile).
func (f *File) SetLocalSymtab(t any) { f.localSymtab = t }

// LocalSymtab returns the per-file symbol lookup table installed by
// SetLocalSymtab, or nil.
func (f *File) LocalSymtab() any { return f.localSymtab }

func (f *File) String() string {
	if f.Owner != nil {
		return fmt.Sprintf("%s(%s)", f.Owner.Path, f.Kind)
	}
	return fmt.Sprintf("<%s>", f.Kind)
}

// InputPath implements symbol.Origin.
func (f *File) InputPath() string {
	if f.MemberName != "" && f.Owner != nil {
		return fmt.Sprintf("%s(%s)", f.Owner.Path, f.MemberName)
	}
	if f.Owner != nil {
		return f.Owner.Path
	}
	return fmt.Sprintf("<%s>", f.Kind)
}

// Ordinal implements symbol.Origin.
func (f *File) Ordinal() int {
	if f.Owner == nil {
		return -1
	}
	return f.Owner.Ordinal
}

// RawELF returns the underlying obj.File reader for an ELF-kind input.
func (f *File) RawELF() obj.File { return f.raw }

// SetRawELF installs the underlying obj.File reader, called once by the
// ingest step that classifies and opens an Input.
func (f *File) SetRawELF(of obj.File) { f.raw = of }

// NewInternal creates a KindInternal InputFile for linker-generated content
// (script-defined symbols, common-symbol sections, trampolines, and so on;
// spec.md section 4.7 phase 1).
func NewInternal(name string) *File {
	return &File{Kind: KindInternal, MemberName: name, Relocs: make(map[*fragment.Section][]Reloc)}
}
