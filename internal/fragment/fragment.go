// Package fragment implements the Section/Fragment/FragmentRef leaves of
// spec.md section 3 and section 2 item 4. Sections own an ordered list of
// fragments; every byte of output eventually comes from walking some
// section's fragment list. The section/flag modeling follows the
// bit-packed-flags style of the teacher's obj.SectionFlags
// (internal/obj/obj.go), generalized from a read-only view to the mutable,
// multi-input-file-merging view the link engine needs.
package fragment

import "fmt"

// SectionKind is the tagged kind of a Section (spec.md section 3).
type SectionKind int

const (
	KindRegular SectionKind = iota
	KindMergeString
	KindRelocation
	KindGroup
	KindCommon
	KindNoBits
	KindNote
	KindNull
	KindTarget
	KindDiscard
)

// Flags is a bit-packed set of ELF-derived section flags.
type Flags uint32

const (
	FlagAlloc Flags = 1 << iota
	FlagWrite
	FlagExecInstr
	FlagMerge
	FlagStrings
	FlagGroup
	FlagTLS
	FlagExclude
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ID identifies a Section within its owning Module, assigned when the
// section is created.
type ID uint32

// A Section owns a linked list of Fragments (spec.md section 2 item 4 and
// section 3). It is the unit the garbage collector marks live/dead and the
// unit the section map assigns to an output section.
type Section struct {
	ID ID

	Name      string
	Kind      SectionKind
	Flags     Flags
	Type      uint32 // raw ELF sh_type, kept for pass-through of unknown types
	EntSize   uint64
	Align     uint64
	Size      uint64 // logical size; authoritative until fragments are finalized
	Offset    uint64 // output file offset, assigned exactly once at afterLayout
	Addr      uint64 // output VMA, assigned exactly once at afterLayout
	Link      uint32
	Info      uint32

	// OwnerInputPath names the InputFile this section was read from (or a
	// synthetic name for linker-generated sections), for diagnostics.
	OwnerInputPath string

	// MatchedRule is set by the section map once an output rule has claimed
	// this input section (spec.md section 4.4). It is nil for output
	// sections themselves and for sections not yet matched.
	MatchedRule any

	fragments []*Fragment

	// Ignore marks a section excluded by garbage collection or /DISCARD/;
	// its fragments are excluded from layout and its defined symbols are
	// marked should-ignore (spec.md section 4.3).
	Ignore bool

	// Reached is set by the garbage collector's mark phase.
	Reached bool

	// Retain corresponds to SHF_GNU_RETAIN / KEEP(...): the section is a GC
	// root regardless of reachability.
	Retain bool

	// MergeOffsets maps this section's own pre-merge string offsets to
	// their deduplicated offset within the shared MergeStringTable for
	// MergeOutput (spec.md section 4.7 phase 4: "doMergeStrings"), set for
	// every Kind == KindMergeString section regardless of whether it ended
	// up the carrier.
	MergeOffsets map[uint64]uint64
	// MergeOutput names the output section this merge-string section's
	// content was interned into.
	MergeOutput string
	// IsMergeCarrier marks the one Kind == KindMergeString section per
	// output-section name that actually carries the shared, deduplicated
	// table as its own fragment content; every other merge-string section
	// feeding the same output name is MergeAbsorbed instead.
	IsMergeCarrier bool
	// MergeAbsorbed marks a merge-string section whose content has been
	// folded into another section's (the carrier's) shared table; the
	// section map skips placing it directly.
	MergeAbsorbed bool
}

func (s *Section) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.OwnerInputPath)
}

// Fragments returns the section's fragment list in layout order.
func (s *Section) Fragments() []*Fragment { return s.fragments }

// AddFragment appends f to s's fragment list and sets f's owner. Per
// spec.md section 5, fragment lists are only mutated by the phase that owns
// them (ingest appends, layout may splice in stub fragments, apply never
// mutates the list), so this is not itself synchronized.
func (s *Section) AddFragment(f *Fragment) {
	f.Section = s
	s.fragments = append(s.fragments, f)
}

// InsertFragmentAfter splices f into s's fragment list immediately after
// the fragment at index i (used by the branch-island factory, spec.md
// section 4.6, to place a stub past the first region fragment following the
// over-range relocation's fragment).
func (s *Section) InsertFragmentAfter(i int, f *Fragment) {
	f.Section = s
	s.fragments = append(s.fragments, nil)
	copy(s.fragments[i+2:], s.fragments[i+1:])
	s.fragments[i+1] = f
}

// ReplaceFragments swaps s's entire fragment list for fs, used by
// doMergeStrings to collapse a merge-string carrier section's raw-bytes
// fragment into a single FragMergeString fragment once every input section
// feeding the same output name has interned its content (spec.md section
// 4.7 phase 4).
func (s *Section) ReplaceFragments(fs []*Fragment) {
	for _, f := range fs {
		f.Section = s
	}
	s.fragments = fs
}

// IndexOf returns the index of f in s's fragment list, or -1.
func (s *Section) IndexOf(f *Fragment) int {
	for i, g := range s.fragments {
		if g == f {
			return i
		}
	}
	return -1
}

// FragmentKind is the tagged kind of a Fragment (spec.md section 3).
type FragmentKind int

const (
	FragRegion FragmentKind = iota
	FragFill
	FragMergeString
	FragStub
	FragTarget
	FragPLT
	FragGOT
	FragEHFrameHdr
	FragRegionTable
	FragBuildID
	FragTiming
)

// A Fragment is a contiguous, alignment-aware chunk of output bytes
// (GLOSSARY). Exactly one of the kind-specific payload fields below is
// meaningful, selected by Kind.
type Fragment struct {
	Kind FragmentKind

	// Section is the owning Section, set by Section.AddFragment.
	Section *Section

	Align       uint64
	PaddingSize uint64 // alignment gap recorded by layout, for diagnostics
	Offset      uint64 // offset within Section, assigned late (at layout)
	Size        uint64

	// Region holds the verbatim bytes for FragRegion and FragStub (a
	// synthesized trampoline's code bytes) fragments.
	Region []byte

	// FillValue/FillSize describe a FragFill fragment (BYTE/SHORT/LONG/QUAD
	// data commands and inter-rule script fills, spec.md section 4.4).
	FillValue uint64
	FillSize  int

	// MergeStrings holds the dedup table for a FragMergeString fragment:
	// content -> merged offset within the fragment.
	MergeStrings *MergeStringTable

	// StubTarget/StubReloc describe a FragStub (trampoline) fragment: which
	// symbol it jumps to and which relocation(s) it still needs applied to
	// its own body (spec.md section 4.6).
	StubTarget string
	StubRelocs []any // *relocator.PendingReloc, kept untyped to avoid an import cycle

	// RegionTable holds (section-name-offset, region-index) pairs for a
	// FragRegionTable fragment (SPEC_FULL.md section C).
	RegionTable []RegionTableEntry

	// BuildIDSize is the reserved size of a FragBuildID fragment; its bytes
	// are filled in by the writer after staging (spec.md section 6).
	BuildIDSize int

	// TimingName/TimingNanos describe a FragTiming accounting fragment
	// (SPEC_FULL.md section C); it never contributes output bytes.
	TimingName  string
	TimingNanos int64
}

// RegionTableEntry is one row of a region-table fragment.
type RegionTableEntry struct {
	SectionNameOffset uint32
	RegionIndex       uint32
}

// MergeStringTable deduplicates strings within one SHF_MERGE|SHF_STRINGS
// output section (spec.md section 4.7 phase 4).
type MergeStringTable struct {
	offsets map[string]uint64
	order   []string
	size    uint64
}

// NewMergeStringTable creates an empty table.
func NewMergeStringTable() *MergeStringTable {
	return &MergeStringTable{offsets: make(map[string]uint64)}
}

// Intern returns the merged offset for s, inserting it (and growing the
// table) if this is the first time s has been seen.
func (t *MergeStringTable) Intern(s string) uint64 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := t.size
	t.offsets[s] = off
	t.order = append(t.order, s)
	t.size += uint64(len(s)) + 1 // + NUL
	return off
}

// Size returns the total byte size of the deduplicated table.
func (t *MergeStringTable) Size() uint64 { return t.size }

// Bytes renders the deduplicated table in insertion order, NUL-terminated.
func (t *MergeStringTable) Bytes() []byte {
	out := make([]byte, 0, t.size)
	for _, s := range t.order {
		out = append(out, s...)
		out = append(out, 0)
	}
	return out
}

// Ref = (Fragment*, offset), spec.md section 3. The zero value is the Null
// sentinel (no target); Discard is a distinguished non-zero sentinel for a
// reference whose target section was dropped by GC or /DISCARD/.
type Ref struct {
	Frag   *Fragment
	Offset uint64

	discard bool
}

// Null is the FragmentRef sentinel meaning "no target" (absolute or
// undefined symbols).
var Null = Ref{}

// Discard is the FragmentRef sentinel meaning "target section was dropped".
var Discard = Ref{discard: true}

// IsNull reports whether r is the Null sentinel.
func (r Ref) IsNull() bool { return r.Frag == nil && !r.discard }

// IsDiscard reports whether r is the Discard sentinel.
func (r Ref) IsDiscard() bool { return r.discard }

// Addr computes the absolute output address of r, given that r.Frag's
// owning Section has already been assigned its final Addr (only valid
// after the afterLayout state transition, spec.md section 3 invariants).
func (r Ref) Addr() uint64 {
	if r.Frag == nil {
		return 0
	}
	return r.Frag.Section.Addr + r.Frag.Offset + r.Offset
}
