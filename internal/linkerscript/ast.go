// Package linkerscript implements the Linker Script Engine leaf of spec.md
// section 2 item 8: a lexer, recursive-descent parser, and expression
// evaluator for the script subset named in spec.md section 6.
package linkerscript

// Script is a fully parsed linker script.
type Script struct {
	Entry        string
	Output       string
	OutputFormat []string // default, big-endian, little-endian variants
	OutputArch   string
	SearchDirs   []string
	Startup      string
	Inputs       []InputSpec
	Externs      []string
	Asserts      []Assert

	Memory   []MemoryRegion
	Phdrs    []Phdr
	Sections *SectionsCmd
	Version  *VersionNode

	// TopLevelAssigns are SYMBOL = expr; statements outside SECTIONS,
	// which run before layout (spec.md section 4.4).
	TopLevelAssigns []*Assign
}

// InputSpec is one entry of an INPUT/GROUP command, possibly wrapped in
// AS_NEEDED.
type InputSpec struct {
	Name     string
	AsNeeded bool
	Group    []InputSpec // members of a GROUP(...) or AS_NEEDED(...) list; nil for a plain name
}

// Assert is an ASSERT(expr, message) command.
type Assert struct {
	Expr    Expr
	Message string
}

// MemoryRegion is one `name (attrs) : ORIGIN = expr, LENGTH = expr;` entry.
type MemoryRegion struct {
	Name   string
	Attrs  string
	Origin Expr
	Length Expr
}

// Phdr is one `name TYPE [FLAGS(n)] [AT(expr)] [FILEHDR] [PHDRS];` entry.
type Phdr struct {
	Name    string
	Type    string
	Flags   Expr
	At      Expr
	FileHdr bool
	PhdrsHdr bool
}

// SectionsCmd is the body of a SECTIONS { ... } block: an ordered list of
// output-section descriptors interleaved with top-level assignments.
type SectionsCmd struct {
	Items []SectionsItem
}

// SectionsItem is either an *OutputSectionDesc or an *Assign, appearing in
// source order inside SECTIONS { ... }.
type SectionsItem interface{ sectionsItem() }

// OutputSectionDesc is one `<name> [vma] [TYPE] : [AT(lma)] [ALIGN(n)]
// [SUBALIGN(n)] { ... } [>region] [AT>region] [:phdr...] [=fill]` rule
// (spec.md section 6).
type OutputSectionDesc struct {
	Name    string
	Address Expr // nil if not given
	Type    string
	AtLMA   Expr
	Align   Expr
	SubAlign Expr
	Items   []OutputSectionItem
	VMARegion string
	LMARegion string
	Phdrs     []string
	Fill      Expr

	// Discard is true for the special `/DISCARD/ : { ... }` section.
	Discard bool
}

func (*OutputSectionDesc) sectionsItem() {}
func (*Assign) sectionsItem()            {}

// OutputSectionItem is the tagged variant of everything that can appear
// inside an output section's `{ ... }` body.
type OutputSectionItem interface{ outputSectionItem() }

// InputSectionSpec is `<file-pattern>(<section-pattern>...)`, optionally
// wrapped in KEEP(...) and/or EXCLUDE_FILE(...), with a SORT modifier.
type InputSectionSpec struct {
	FilePattern    string
	ExcludeFiles   []string
	SectionPatterns []string
	Keep           bool
	Sort           SortKind
}

func (*InputSectionSpec) outputSectionItem() {}

// SortKind is the SORT_BY_* modifier on an input-section spec (spec.md
// section 6).
type SortKind int

const (
	SortNone SortKind = iota
	SortByName
	SortByAlignment
	SortByInitPriority
	// SortByNameThenAlignment models the nested
	// SORT_BY_NAME(SORT_BY_ALIGNMENT(...)) (or vice versa) form; spec.md
	// section 9 open questions flags this combination as
	// under-specified in the source, so this engine pins the precedence
	// down explicitly — see eval.go's SortInputSections doc comment.
	SortByNameThenAlignment
	SortByAlignmentThenName
)

// DataCommand is a BYTE/SHORT/LONG/QUAD data command.
type DataCommand struct {
	Width int // 1, 2, 4, or 8 bytes
	Value Expr
}

func (*DataCommand) outputSectionItem() {}

// FillCommand is a `FILL(expr)` command, changing the fill pattern for
// subsequent padding within the same output section.
type FillCommand struct{ Value Expr }

func (*FillCommand) outputSectionItem() {}

// DotAssign is `. = expr;` or `. += expr;` inside an output section.
type DotAssign struct {
	Op   string // "=" or "+="
	Expr Expr
}

func (*DotAssign) outputSectionItem() {}

// Assign is a `SYMBOL = expr;`/`PROVIDE(...)`/`PROVIDE_HIDDEN(...)`/`HIDDEN(...)`
// assignment, usable both at top level and inside a SECTIONS item/rule.
type Assign struct {
	Name     string
	Expr     Expr
	Provide  bool
	Hidden   bool
}

func (*Assign) outputSectionItem() {}

// VersionNode is a simplified VERSION { ... } tree: an ordered list of
// version tags, each with global/local wildcard pattern lists. The
// anonymous (unnamed) version, if present, is Tags[0] with Name == "".
type VersionNode struct {
	Tags []VersionTag
}

type VersionTag struct {
	Name    string
	Parents []string
	Global  []string
	Local   []string
}
