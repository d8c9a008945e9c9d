package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/eld-project/eld/internal/archive"
	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/gc"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerconfig"
	"github.com/eld-project/eld/internal/linkerscript"
	"github.com/eld-project/eld/internal/memarea"
	"github.com/eld-project/eld/internal/module"
	"github.com/eld-project/eld/internal/obj"
	"github.com/eld-project/eld/internal/relocator"
	"github.com/eld-project/eld/internal/sectionmap"
	"github.com/eld-project/eld/internal/symbol"
	"github.com/eld-project/eld/internal/trampoline"
)

const (
	archiveMagic = "!<arch>\n"
	thinMagic    = "!<thin>\n"
)

// phaseReadAndProcessInput implements spec.md section 4.7 phase 2: open
// every input in command-line order, classifying archives/symbol-definition
// files/object files, and seed -u/--require-defined names into the name
// pool before any archive is scanned so a later archive member defining one
// of them is pulled on the very first pass (spec.md section 4.2).
func (p *Pipeline) phaseReadAndProcessInput(ctx context.Context) error {
	p.archive = &archiveSource{diag: p.Mod.Diag, wraps: make(map[string]bool)}
	for _, name := range p.Mod.Config.WrapSymbols {
		p.Mod.Names.SetWrap(name)
		p.archive.wraps[name] = true
	}

	for _, name := range p.Mod.Config.ForceUndefined {
		if p.Mod.Names.FindInfo(name) != nil {
			continue
		}
		info := symbol.NewResolveInfo(name, symbol.BindGlobal, symbol.DescUndefined, symbol.VisDefault, symbol.TypeNoType, symbol.SourceRegular)
		p.Mod.Names.InsertNonLocal(info, &symbol.LDSymbol{Info: info, SectionIdx: 0}, false)
	}

	for _, in := range p.Mod.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.readOneInput(in); err != nil {
			return err
		}
	}

	for _, grp := range p.scriptGroups() {
		if err := grp.Resolve(p.archivesOf, p.pullArchive); err != nil {
			return err
		}
	}
	return nil
}

// scriptGroups walks the linker script's INPUT(...)/GROUP(...) commands
// (already parsed into linkerscript.Script.Inputs by the script parser) and
// builds one input.Group per top-level GROUP(...) entry (a GROUP(...) nested
// inside another is folded into the outer group by buildGroup), matching
// each member InputSpec to the *input.Input the driver
// already resolved and placed in p.Mod.Inputs by name (SPEC_FULL.md section
// C: "Group reader"). A plain INPUT(...) list with no GROUP(...) produces no
// groups, since spec.md section 4.2's default left-to-right archive scan
// already covers it without the extra re-scan pass GROUP(...) exists for.
func (p *Pipeline) scriptGroups() []*input.Group {
	if p.Mod.Script == nil {
		return nil
	}
	var groups []*input.Group
	var walk func(specs []linkerscript.InputSpec)
	walk = func(specs []linkerscript.InputSpec) {
		for _, spec := range specs {
			if spec.Group != nil && !spec.AsNeeded {
				groups = append(groups, p.buildGroup(spec.Group))
			}
		}
	}
	walk(p.Mod.Script.Inputs)
	return groups
}

func (p *Pipeline) buildGroup(specs []linkerscript.InputSpec) *input.Group {
	g := &input.Group{}
	for _, spec := range specs {
		if spec.Group != nil {
			// A GROUP(...) nested inside another GROUP(...) contributes its
			// own members to the outer group's re-scan set rather than
			// becoming a second, independently-resolved group.
			nested := p.buildGroup(spec.Group)
			g.Members = append(g.Members, nested.Members...)
			g.AsNeeded = append(g.AsNeeded, nested.AsNeeded...)
			continue
		}
		in := p.findInputByName(spec.Name)
		if in == nil {
			continue
		}
		g.Members = append(g.Members, in)
		g.AsNeeded = append(g.AsNeeded, spec.AsNeeded)
	}
	return g
}

func (p *Pipeline) findInputByName(name string) *input.Input {
	for _, in := range p.Mod.Inputs {
		if in.Path == name || in.ResolvedPath == name {
			return in
		}
	}
	return nil
}

// archivesOf returns the archive Files already read for member (readArchive,
// called from the main input loop above, already indexed and did the first
// pull pass over it).
func (p *Pipeline) archivesOf(member *input.Input) []*input.File {
	var out []*input.File
	for _, f := range p.Mod.Files {
		if f.Kind == input.KindArchive && f.Owner == member {
			out = append(out, f)
		}
	}
	return out
}

// pullArchive re-runs one more Pull pass over arc, adding any newly pulled
// member to the module and registering its symbols, matching the pull done
// by readArchive itself (input.Group.Resolve calls this repeatedly until a
// full pass over the group makes no further progress).
func (p *Pipeline) pullArchive(arc *input.File) (bool, error) {
	parser := &archive.Parser{
		Diag:  p.archive.diag,
		Open:  p.openMember(arc.Owner),
		Wraps: archive.WrapSet(p.archive.wraps),
	}
	pulled, err := parser.Pull(arc, p.Mod.Names)
	if err != nil {
		return false, err
	}
	for _, f := range pulled {
		p.Mod.AddFile(f)
	}
	return len(pulled) > 0, nil
}

func (p *Pipeline) readOneInput(in *input.Input) error {
	raw, err := in.Area.Bytes()
	if err != nil {
		return fmt.Errorf("pipeline: reading %s: %w", in.Path, err)
	}

	switch {
	case bytes.HasPrefix(raw, []byte(archiveMagic)), bytes.HasPrefix(raw, []byte(thinMagic)):
		return p.readArchive(in)
	case in.Attrs.JustSymbols:
		return p.readSymDef(in, raw)
	default:
		f, err := ingestFile(in)
		if err != nil {
			return err
		}
		if in.Attrs.PatchBase {
			p.applyPatchBaseFile(f)
		}
		p.Mod.AddFile(f)
		registerSymbols(f, p.Mod)
		return nil
	}
}

// readSymDef handles a -R/--just-symbols input: its defined symbols are
// pulled into the link as absolute values without contributing any
// sections, fragments, or relocations of their own (spec.md section 4.2).
// The expected text form is one "name value" pair per line, value in
// decimal or 0x-prefixed hex; blank lines and #-prefixed comments are
// skipped.
func (p *Pipeline) readSymDef(in *input.Input, raw []byte) error {
	f := &input.File{Kind: input.KindSymDef, Owner: in, Relocs: make(map[*fragment.Section][]input.Reloc)}
	f.SymDefs = make(map[string]uint64)

	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			continue
		}
		f.SymDefs[fields[0]] = v
	}

	p.Mod.AddFile(f)
	for name, value := range f.SymDefs {
		info := symbol.NewResolveInfo(name, symbol.BindGlobal, symbol.DescDefined, symbol.VisDefault, symbol.TypeNoType, symbol.SourceRegular)
		info.Value = value
		info.Origin = f
		ld := &symbol.LDSymbol{Info: info, Value: value, SectionIdx: -1}
		p.Mod.Names.InsertNonLocal(info, ld, false)
	}
	return nil
}

// readArchive implements the iterative-pull loop of spec.md section 4.2:
// index the archive's armap once, then repeatedly pull members that define
// a currently-undefined name until a pass pulls nothing.
func (p *Pipeline) readArchive(in *input.Input) error {
	idx, err := archive.ReadIndex(in.Area, nil)
	if err != nil {
		return fmt.Errorf("pipeline: indexing archive %s: %w", in.Path, err)
	}
	arc := &input.File{Kind: input.KindArchive, Owner: in, ArchiveIndex: idx, Relocs: make(map[*fragment.Section][]input.Reloc)}
	p.Mod.AddFile(arc)

	parser := &archive.Parser{
		Diag:  p.archive.diag,
		Open:  p.openMember(in),
		Wraps: archive.WrapSet(p.archive.wraps),
	}

	var pulled []*input.File
	if in.Attrs.WholeArchive {
		pulled, err = parser.PullWholeArchive(arc)
	} else {
		pulled, err = parser.Pull(arc, p.Mod.Names)
	}
	if err != nil {
		return err
	}
	for _, f := range pulled {
		p.Mod.AddFile(f)
	}
	return nil
}

// openMember returns the archive.Opener that reads one member's bytes (from
// the owning archive's own area, or from an external file for a thin
// archive member) and ingests them, registering the member's symbols into
// the name pool immediately so later passes of the same Pull see up-to-date
// resolution state (spec.md section 4.2).
func (p *Pipeline) openMember(owner *input.Input) archive.Opener {
	return func(m *input.Member) (*input.File, error) {
		var raw []byte
		var err error
		if m.ExternalPath != "" {
			raw, err = memarea.Open(m.ExternalPath).Bytes()
		} else {
			raw, err = owner.Area.Bytes()
			if err == nil {
				if m.Offset < 0 || m.Size < 0 || m.Offset+m.Size > int64(len(raw)) {
					return nil, fmt.Errorf("pipeline: archive member %s(%s) out of range", owner.Path, m.Name)
				}
				raw = raw[m.Offset : m.Offset+m.Size]
			}
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: reading archive member %s(%s): %w", owner.Path, m.Name, err)
		}
		f, err := ingestBytes(raw, owner, m.Name)
		if err != nil {
			return nil, err
		}
		registerSymbols(f, p.Mod)
		return f, nil
	}
}

func (p *Pipeline) applyPatchBaseFile(f *input.File) {
	for _, raw := range f.LocalSyms {
		info, ok := raw.(*symbol.ResolveInfo)
		if !ok || info.Binding == symbol.BindLocal || info.Desc != symbol.DescDefined {
			continue
		}
		symbol.ApplyPatchBase(info, info.Flags.Has(symbol.FlagPatchable))
	}
}

// phaseAddSymbols implements spec.md section 4.7 phase 3: walk the fully
// resolved name pool, flag --dynamic-list names for export, and report
// every symbol still undefined per the configured unresolved-symbol policy.
func (p *Pipeline) phaseAddSymbols(context.Context) error {
	dynList := make(map[string]bool, len(p.Mod.Config.DynamicList))
	for _, n := range p.Mod.Config.DynamicList {
		dynList[n] = true
	}
	for _, name := range p.Mod.Names.Names() {
		info := p.Mod.Names.FindInfo(name)
		if info == nil {
			continue
		}
		if dynList[name] {
			info.Flags |= symbol.FlagExportToDyn
		}
		if info.Flags.Has(symbol.FlagPreserveForLTO) {
			p.Mod.PreservedForLTO(name)
		}
		if info.Desc == symbol.DescUndefined && info.Binding != symbol.BindWeak {
			p.reportUnresolved(info)
		}
	}
	return nil
}

func (p *Pipeline) reportUnresolved(info *symbol.ResolveInfo) {
	switch p.Mod.Config.Unresolved {
	case linkerconfig.UnresolvedIgnoreAll:
		return
	case linkerconfig.UnresolvedIgnoreInSharedLibs:
		if info.Source == symbol.SourceDynamic {
			return
		}
	case linkerconfig.UnresolvedIgnoreInObjectFiles:
		if info.Source == symbol.SourceRegular {
			return
		}
	}
	sev := diag.Error
	if !p.Mod.Config.NoUndefined {
		sev = diag.Warning
	}
	p.Mod.Diag.Emit(&diag.Diagnostic{
		Severity: sev,
		ID:       "undefined-symbol",
		Group:    diag.GroupCommandLine,
		Subject:  info.Name,
	})
}

// phaseMergeStrings implements spec.md section 4.7 phase 4: every
// SHF_MERGE|SHF_STRINGS section feeding the same output-section name shares
// one deduplicated fragment.MergeStringTable. The first such section seen
// per output name becomes the carrier (its own fragment list collapses to
// a single FragMergeString fragment over the shared table); every other
// one is MergeAbsorbed and contributes no bytes of its own. Every defined
// symbol pointing into an absorbed (or the carrier's own, pre-collapse)
// region is retargeted to its deduplicated offset within the carrier.
func (p *Pipeline) phaseMergeStrings(context.Context) error {
	p.mergeCarriers = make(map[string]*fragment.Section)

	for _, f := range p.Mod.Files {
		for _, sec := range f.Sections {
			if sec.Kind != fragment.KindMergeString || len(sec.Fragments()) != 1 {
				continue
			}
			region := sec.Fragments()[0].Region
			outName := sectionmap.CanonicalOutputName(sec.Name)
			table := p.Mod.MergeTableFor(outName)

			sec.MergeOutput = outName
			sec.MergeOffsets = internStrings(table, region)

			if _, ok := p.mergeCarriers[outName]; !ok {
				sec.IsMergeCarrier = true
				p.mergeCarriers[outName] = sec
			} else {
				sec.MergeAbsorbed = true
			}
		}
	}

	for outName, carrier := range p.mergeCarriers {
		table := p.Mod.MergeTableFor(outName)
		carrier.Size = table.Size()
		f := &fragment.Fragment{Kind: fragment.FragMergeString, MergeStrings: table, Size: table.Size(), Align: 1}
		carrier.ReplaceFragments([]*fragment.Fragment{f})
	}

	for _, f := range p.Mod.Files {
		for i, raw := range f.LocalSyms {
			info, ok := raw.(*symbol.ResolveInfo)
			if !ok || info.Desc != symbol.DescDefined || info.Type == symbol.TypeSection {
				continue
			}
			sec := info.DefiningSection()
			if sec == nil || sec.Kind != fragment.KindMergeString {
				continue
			}
			merged, ok := sec.MergeOffsets[info.DefFrag.Offset]
			if !ok {
				continue
			}
			carrier := p.mergeCarriers[sec.MergeOutput]
			info.DefFrag = fragment.Ref{Frag: carrier.Fragments()[0], Offset: merged}
			f.LocalSyms[i] = info
		}
	}
	return nil
}

// internStrings splits a NUL-terminated string-table region into its
// individual strings and interns each into table, returning the map from
// this section's own original offset to the table's deduplicated offset.
func internStrings(table *fragment.MergeStringTable, region []byte) map[uint64]uint64 {
	offsets := make(map[uint64]uint64)
	start := 0
	for i, b := range region {
		if b != 0 {
			continue
		}
		s := string(region[start:i])
		offsets[uint64(start)] = table.Intern(s)
		start = i + 1
	}
	return offsets
}

// phaseGC implements spec.md section 4.3/4.7 phase 5: mark every section
// reachable from the entry point (or every section, with --gc-sections
// off), and flag everything else Ignore so later phases skip it.
func (p *Pipeline) phaseGC(context.Context) error {
	var all []*fragment.Section
	for _, f := range p.Mod.Files {
		all = append(all, f.Sections...)
	}

	var roots []*fragment.Section
	if !p.Mod.Config.GCSections {
		roots = all
	} else {
		roots = p.gcRoots()
	}

	c := gc.Collector{Edges: p.edgesFor()}
	result := c.Run(all, roots)
	if p.Mod.Config.PrintGCSections {
		for _, s := range result.Ignored {
			p.Mod.Diag.Emit(&diag.Diagnostic{Severity: diag.Note, ID: "gc-sections-removed", Subject: s.String()})
		}
	}
	return nil
}

func (p *Pipeline) gcRoots() []*fragment.Section {
	var roots []*fragment.Section
	add := func(name string) {
		if info := p.Mod.Names.FindInfo(name); info != nil {
			if sec := info.DefiningSection(); sec != nil {
				roots = append(roots, sec)
			}
		}
	}
	entry := p.Mod.Config.Entry
	if entry == "" {
		entry = "_start"
	}
	add(entry)
	for _, n := range p.Mod.Config.ForceUndefined {
		add(n)
	}
	for _, n := range p.Mod.Config.DynamicList {
		add(n)
	}
	return roots
}

// phaseMergeSections implements spec.md section 4.4/4.7 phase 6: place
// every live input section into its output section per the linker script
// (or the orphan-handling default), skipping sections GC dropped and
// sections a merge-string section's content was absorbed into another.
// Merge-string sections bypass the Ignore check entirely: GC runs before
// this phase sets Ignore/Reached on every section unconditionally, but a
// merge-string carrier/absorbed pairing was already decided in
// phaseMergeStrings and must survive regardless of the GC verdict on the
// (now collapsed) carrier fragment itself.
func (p *Pipeline) phaseMergeSections(context.Context) error {
	p.Mod.SectionMap = p.newSectionMap()

	for _, f := range p.Mod.Files {
		for _, sec := range f.Sections {
			if sec.MergeAbsorbed {
				continue
			}
			if sec.Kind != fragment.KindMergeString && sec.Ignore {
				continue
			}
			out, ok := p.Mod.SectionMap.Place(f, sec)
			if !ok {
				continue
			}
			for _, frag := range sec.Fragments() {
				out.AddFragment(frag)
			}
		}
	}
	return nil
}

// phaseAllocateCommonSymbols implements spec.md section 4.7 phase 7: every
// still-common symbol (one no regular definition overrode) gets a
// synthetic NOBITS section sized/aligned from the symbol, recorded on the
// module's CommonSymbols ledger (SPEC_FULL.md section C accounting) and
// placed into the section map like any other input section.
func (p *Pipeline) phaseAllocateCommonSymbols(context.Context) error {
	for _, name := range p.Mod.Names.Names() {
		info := p.Mod.Names.FindInfo(name)
		if info == nil || info.Desc != symbol.DescCommon {
			continue
		}
		align := commonAlign(info)
		cs := p.Mod.AddCommonSymbol(name, info.Size, align)

		sec := &fragment.Section{
			Name:           "COMMON." + name,
			Kind:           fragment.KindNoBits,
			OwnerInputPath: p.internal.InputPath(),
			Size:           info.Size,
			Align:          align,
			Flags:          fragment.FlagAlloc | fragment.FlagWrite,
		}
		sec.AddFragment(&fragment.Fragment{Kind: fragment.FragFill, Size: info.Size, Align: align})
		p.internal.Sections = append(p.internal.Sections, sec)
		cs.Sec = sec

		info.Desc = symbol.DescDefined
		info.DefFrag = fragment.Ref{Frag: sec.Fragments()[0]}
		if info.Out != nil {
			info.Out.FragRef = info.DefFrag
		}

		out, ok := p.Mod.SectionMap.Place(p.internal, sec)
		if ok {
			for _, frag := range sec.Fragments() {
				out.AddFragment(frag)
			}
		}
	}
	return nil
}

// commonAlign recovers a common symbol's requested alignment, stashed in
// ResolveInfo.Value by the resolver's common/common merge convention
// (internal/symbol/resolver.go); a symbol whose alignment was never set
// this way (Value == 0) gets the minimum, 1-byte alignment.
func commonAlign(info *symbol.ResolveInfo) uint64 {
	if info.Value == 0 {
		return 1
	}
	return info.Value
}

// phaseScanRelocations implements spec.md section 4.5/4.7 phase 8: build a
// relocator.PendingReloc per live relocation and run the architecture's
// Scan over all of them to decide which symbols need a GOT and/or PLT
// entry, then synthesize those entries as linker-generated sections.
func (p *Pipeline) phaseScanRelocations(context.Context) error {
	if p.Reloc == nil {
		return fmt.Errorf("pipeline: no relocator configured for target architecture")
	}

	var relocs []*relocator.PendingReloc
	for _, f := range p.Mod.Files {
		for sec, rs := range f.Relocs {
			if sec.Ignore && sec.Kind != fragment.KindMergeString {
				continue
			}
			for _, r := range rs {
				pr, ok := p.buildPendingReloc(f, sec, r)
				if ok {
					relocs = append(relocs, pr)
				}
			}
		}
	}

	needs, errs := relocator.ScanAll(p.Reloc, relocs)
	if len(errs) > 0 {
		return errs[0]
	}

	p.gotSlots = make(map[string]uint64)
	p.pltSlots = make(map[string]uint64)
	p.gotFrags = make(map[string]*fragment.Fragment)
	gotSec := &fragment.Section{Name: ".got", Kind: fragment.KindRegular, Flags: fragment.FlagAlloc | fragment.FlagWrite, OwnerInputPath: p.internal.InputPath(), Align: 8}
	pltSec := &fragment.Section{Name: ".plt", Kind: fragment.KindRegular, Flags: fragment.FlagAlloc | fragment.FlagExecInstr, OwnerInputPath: p.internal.InputPath(), Align: 16}

	names := make([]string, 0, len(needs))
	for n := range needs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		n := needs[name]
		if n.NeedsGOT {
			f := &fragment.Fragment{Kind: fragment.FragGOT, Size: 8, Align: 8}
			gotSec.AddFragment(f)
			p.gotSlots[name] = uint64(len(gotSec.Fragments())-1) * 8
			p.gotFrags[name] = f
		}
		if n.NeedsPLT {
			f := &fragment.Fragment{Kind: fragment.FragPLT, Size: 16, Align: 16}
			pltSec.AddFragment(f)
			p.pltSlots[name] = uint64(len(pltSec.Fragments())-1) * 16
		}
	}
	if len(gotSec.Fragments()) > 0 {
		p.internal.Sections = append(p.internal.Sections, gotSec)
		if out, ok := p.Mod.SectionMap.Place(p.internal, gotSec); ok {
			for _, frag := range gotSec.Fragments() {
				out.AddFragment(frag)
			}
		}
	}
	if len(pltSec.Fragments()) > 0 {
		p.internal.Sections = append(p.internal.Sections, pltSec)
		if out, ok := p.Mod.SectionMap.Place(p.internal, pltSec); ok {
			for _, frag := range pltSec.Fragments() {
				out.AddFragment(frag)
			}
		}
	}

	p.pendingRelocs = relocs
	return nil
}

// buildPendingReloc translates one ingest-time input.Reloc, recorded
// against owner (the input section it was read from), into the
// architecture-neutral relocator.PendingReloc the scan/apply stages work
// over. r.Addr is absolute within owner's original, unmodified address
// space (ingest.go populates fragment.Section.Addr with the input section's
// original sh_addr), so the byte offset to apply at is r.Addr - owner.Addr;
// the single fragment returned by applyFragmentFor stands in for owner's
// whole original byte range, matching how relocator.Relocator.Apply
// implementations (internal/relocator/amd64.go) index directly into that
// fragment's Region by byte offset.
func (p *Pipeline) buildPendingReloc(f *input.File, owner *fragment.Section, r input.Reloc) (*relocator.PendingReloc, bool) {
	applyOffset := r.Addr - owner.Addr

	if r.Symbol == obj.NoSym {
		return &relocator.PendingReloc{
			Type:    r.Type,
			Addend:  r.Addend,
			ApplyAt: fragment.Ref{Frag: applyFragmentFor(owner), Offset: applyOffset},
		}, true
	}
	if int(r.Symbol) >= len(f.LocalSyms) {
		return nil, false
	}
	info, ok := f.LocalSyms[r.Symbol].(*symbol.ResolveInfo)
	if !ok {
		return nil, false
	}

	pr := &relocator.PendingReloc{Type: r.Type, Addend: r.Addend, SymName: info.Name}
	pr.ApplyAt = fragment.Ref{Frag: applyFragmentFor(owner), Offset: applyOffset}

	if info.Desc == symbol.DescUndefined || info.DefiningSection() == nil {
		pr.Value = info.Value
		return pr, true
	}

	if info.Type == symbol.TypeSection {
		if sec := info.DefiningSection(); sec.Kind == fragment.KindMergeString {
			origOffset := info.Value + uint64(r.Addend)
			if merged, ok := sec.MergeOffsets[origOffset]; ok {
				carrier := p.mergeCarriers[sec.MergeOutput]
				pr.Target = fragment.Ref{Frag: carrier.Fragments()[0], Offset: merged}
				pr.Addend = 0
				return pr, true
			}
		}
	}

	if info.Out != nil {
		pr.Target = info.Out.FragRef
	} else {
		pr.Target = info.DefFrag
	}
	return pr, true
}

// applyFragmentFor returns the fragment that stands in for sec's whole
// original byte range when building a PendingReloc.ApplyAt (sec always has
// exactly one ingest-time fragment, a FragRegion or FragFill, until layout
// may later splice stub fragments in after it).
func applyFragmentFor(sec *fragment.Section) *fragment.Fragment {
	if fs := sec.Fragments(); len(fs) > 0 {
		return fs[0]
	}
	return &fragment.Fragment{Section: sec}
}

// phaseLayout implements spec.md section 4.4/4.6/4.7 phase 9: assign every
// output section an address, evaluate every script/standard symbol that
// depends on section addresses, then repeatedly insert branch islands for
// any relocation that falls out of architecture range, re-running layout
// after each pass since a newly inserted stub can itself push a later
// section out of range for some other call site (spec.md section 4.6).
func (p *Pipeline) phaseLayout(ctx context.Context) error {
	script := p.linkerscriptOrDefault()

	for pass := 0; ; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		regions, err := sectionmap.ApplyMemoryRegions(script, constEnv{})
		if err != nil {
			return err
		}
		layout := sectionmap.NewLayout(script, regions, 0x400000, 0)
		p.Mod.Layout = layout

		for _, sec := range p.Mod.SectionMap.Outputs() {
			region := regionFor(script, sec.Name)
			layout.AssignSection(sec, region, 0)
			p.checkRegionOverflow(layout, region, sec)
		}
		p.evalScriptSymbols(script, layout)

		if p.Mod.Failed() {
			break
		}

		if p.Reloc == nil || p.Tramp == nil {
			break
		}
		inserted, err := p.insertTrampolines()
		if err != nil {
			return err
		}
		if !inserted || pass > 8 {
			break
		}
	}

	p.addrMap = sectionmap.NewAddressMap(p.Mod.SectionMap.Outputs())
	return p.Mod.Transition(module.StateAfterLayout)
}

// checkRegionOverflow implements spec.md section 4.4 "A region that
// overflows is a fatal diagnostic" and section 8 scenario 6: after sec has
// been assigned its address within region, verify it still fits inside the
// region's declared ORIGIN+LENGTH, emitting a fatal diagnostic naming the
// region and the byte overage if not.
func (p *Pipeline) checkRegionOverflow(layout *sectionmap.Layout, region string, sec *fragment.Section) {
	if region == "" {
		return
	}
	origin, ok := layout.RegionOrigin(region)
	if !ok {
		return
	}
	length, _ := layout.RegionLength(region)
	limit := origin + length
	end := sec.Addr + sec.Size
	if end <= limit {
		return
	}
	p.Mod.Diag.Emit(&diag.Diagnostic{
		Severity: diag.Fatal,
		ID:       "region-overflow",
		Group:    diag.GroupScriptMemory,
		Subject:  region,
		Args:     []any{end - limit},
	})
}

// ELF program-header p_flags bits (spec.md section 4.4 "Segments (PHDRS)").
const (
	pfExecute uint32 = 1 << iota
	pfWrite
	pfRead
)

// phaseCreateSegments implements spec.md section 4.7 phase 9/section 4.4
// "Segments (PHDRS)": now that every output section has its final address
// and size, group the allocated ones into PT_LOAD segments by contiguous
// {alloc, same-flags} runs, plus the target-specific default mapping's
// PT_GNU_STACK, PT_GNU_RELRO, and PT_TLS entries.
func (p *Pipeline) phaseCreateSegments(context.Context) error {
	outs := p.Mod.SectionMap.Outputs()

	var run []*fragment.Section
	flushLoad := func() {
		if len(run) == 0 {
			return
		}
		p.Mod.AddSegment(buildLoadSegment(run))
		run = nil
	}
	for _, sec := range outs {
		if !sec.Flags.Has(fragment.FlagAlloc) {
			flushLoad()
			continue
		}
		if len(run) > 0 && segmentFlags(run[0]) != segmentFlags(sec) {
			flushLoad()
		}
		run = append(run, sec)
	}
	flushLoad()

	if tls := sectionsWithFlag(outs, fragment.FlagTLS); len(tls) > 0 {
		p.Mod.AddSegment(buildSpanSegment("PT_TLS", tls))
	}
	if relro := sectionsByPrefix(outs, ".data.rel.ro"); len(relro) > 0 {
		p.Mod.AddSegment(buildSpanSegment("PT_GNU_RELRO", relro))
	}
	p.Mod.AddSegment(&module.Segment{Type: "PT_GNU_STACK", Flags: pfRead | pfWrite, Align: 0x10})

	return p.Mod.Transition(module.StateCreatingSegments)
}

// segmentFlags derives a PT_LOAD segment's p_flags from one of its member
// sections; every alloc section is at least readable.
func segmentFlags(sec *fragment.Section) uint32 {
	f := pfRead
	if sec.Flags.Has(fragment.FlagWrite) {
		f |= pfWrite
	}
	if sec.Flags.Has(fragment.FlagExecInstr) {
		f |= pfExecute
	}
	return f
}

// sectionsWithFlag returns every allocated output section carrying flag, in
// layout order (used for PT_TLS, spanning .tdata/.tbss's FlagTLS sections).
func sectionsWithFlag(outs []*fragment.Section, flag fragment.Flags) []*fragment.Section {
	var out []*fragment.Section
	for _, sec := range outs {
		if sec.Flags.Has(fragment.FlagAlloc) && sec.Flags.Has(flag) {
			out = append(out, sec)
		}
	}
	return out
}

// sectionsByPrefix returns every allocated output section whose name has
// prefix (used for PT_GNU_RELRO's ".data.rel.ro" sections).
func sectionsByPrefix(outs []*fragment.Section, prefix string) []*fragment.Section {
	var out []*fragment.Section
	for _, sec := range outs {
		if sec.Flags.Has(fragment.FlagAlloc) && strings.HasPrefix(sec.Name, prefix) {
			out = append(out, sec)
		}
	}
	return out
}

// buildLoadSegment computes one PT_LOAD's header fields from its member
// sections, already addressed by the layout phase (spec.md section 4.4:
// "compute p_offset, p_vaddr, p_paddr, p_filesz, p_memsz, p_flags,
// p_align"). p_filesz stops at the end of the last non-NOBITS section in
// the run, since NOBITS (.bss-like) content occupies memory but not file
// bytes; p_offset mirrors p_vaddr, since nothing upstream of this phase
// tracks a separate output file offset (the ELF container layer, out of
// this package's scope per spec.md section 1, owns final file placement).
func buildLoadSegment(run []*fragment.Section) *module.Segment {
	seg := &module.Segment{
		Type:     "PT_LOAD",
		Flags:    segmentFlags(run[0]),
		Sections: append([]*fragment.Section(nil), run...),
		VAddr:    run[0].Addr,
		PAddr:    run[0].Addr,
		Offset:   run[0].Addr,
		Align:    0x1000,
	}
	var memEnd, fileEnd uint64
	for _, sec := range run {
		end := sec.Addr + sec.Size
		if end > memEnd {
			memEnd = end
		}
		if sec.Kind != fragment.KindNoBits && end > fileEnd {
			fileEnd = end
		}
		if sec.Align > seg.Align {
			seg.Align = sec.Align
		}
	}
	seg.MemSize = memEnd - seg.VAddr
	seg.FileSize = fileEnd - seg.VAddr
	return seg
}

// buildSpanSegment builds a non-PT_LOAD segment (PT_TLS, PT_GNU_RELRO) that
// spans a specific subset of already-addressed sections rather than a
// contiguous run.
func buildSpanSegment(typ string, secs []*fragment.Section) *module.Segment {
	seg := &module.Segment{
		Type:     typ,
		Flags:    segmentFlags(secs[0]),
		Sections: append([]*fragment.Section(nil), secs...),
		VAddr:    secs[0].Addr,
		PAddr:    secs[0].Addr,
		Offset:   secs[0].Addr,
		Align:    1,
	}
	var memEnd, fileEnd uint64
	for _, sec := range secs {
		end := sec.Addr + sec.Size
		if end > memEnd {
			memEnd = end
		}
		if sec.Kind != fragment.KindNoBits && end > fileEnd {
			fileEnd = end
		}
		if sec.Align > seg.Align {
			seg.Align = sec.Align
		}
	}
	seg.MemSize = memEnd - seg.VAddr
	seg.FileSize = fileEnd - seg.VAddr
	return seg
}

// constEnv evaluates MEMORY-region-definition expressions (spec.md section
// 4.4), which by construction cannot reference section addresses, output
// symbols, or SIZEOF_HEADERS (those aren't known yet at that point), hence
// every accessor besides the trivial ones returns "not found".
type constEnv struct{}

func (constEnv) Dot() uint64                           { return 0 }
func (constEnv) Symbol(string) (uint64, bool)          { return 0, false }
func (constEnv) SectionAddr(string) (uint64, bool)     { return 0, false }
func (constEnv) SectionLoadAddr(string) (uint64, bool) { return 0, false }
func (constEnv) SectionSize(string) (uint64, bool)     { return 0, false }
func (constEnv) RegionOrigin(string) (uint64, bool)    { return 0, false }
func (constEnv) RegionLength(string) (uint64, bool)    { return 0, false }
func (constEnv) SizeofHeaders() uint64                 { return 0 }
func (constEnv) Constant(string) (uint64, bool)        { return 0, false }

func regionFor(script *linkerscript.Script, outName string) string {
	if script == nil || script.Sections == nil {
		return ""
	}
	for _, item := range script.Sections.Items {
		if desc, ok := item.(*linkerscript.OutputSectionDesc); ok && desc.Name == outName {
			return desc.VMARegion
		}
	}
	return ""
}

// evalScriptSymbols evaluates every top-level and in-section Assign/PROVIDE
// in script, then defines the standard end-of-image symbols ld scripts
// conventionally provide (spec.md section 4.6: "_end", "_edata",
// "__bss_start").
func (p *Pipeline) evalScriptSymbols(script *linkerscript.Script, layout *sectionmap.Layout) {
	for _, a := range script.TopLevelAssigns {
		p.applyScriptAssign(a, layout)
	}
	if script.Sections != nil {
		for _, item := range script.Sections.Items {
			if a, ok := item.(*linkerscript.Assign); ok {
				p.applyScriptAssign(a, layout)
			}
		}
	}

	p.defineStandardSymbol("_edata", layout.Dot())
	p.defineStandardSymbol("__bss_start", layout.Dot())
	p.defineStandardSymbol("_end", layout.Dot())
}

func (p *Pipeline) applyScriptAssign(a *linkerscript.Assign, layout *sectionmap.Layout) {
	if a.Provide && p.Mod.Names.FindInfo(a.Name) != nil {
		return
	}
	if err := layout.ApplySymbolAssign(a); err != nil {
		p.Mod.Diag.Emit(&diag.Diagnostic{Severity: diag.Error, ID: "bad-script-assignment", Group: diag.GroupBadDotAssign, Subject: a.Name, Args: []any{err.Error()}})
		return
	}
	v, _ := layout.Symbol(a.Name)
	p.defineStandardSymbol(a.Name, v)
}

func (p *Pipeline) defineStandardSymbol(name string, value uint64) {
	if existing := p.Mod.Names.FindInfo(name); existing != nil && existing.Desc == symbol.DescDefined {
		return
	}
	info := symbol.NewResolveInfo(name, symbol.BindGlobal, symbol.DescDefined, symbol.VisDefault, symbol.TypeNoType, symbol.SourceRegular)
	info.Value = value
	info.Origin = p.internal
	ld := &symbol.LDSymbol{Info: info, Value: value, SectionIdx: -1}
	p.Mod.Names.InsertNonLocal(info, ld, false)
}

// insertTrampolines walks every pending relocation and, wherever the
// architecture's branch-range check fails, synthesizes a branch island
// right after the call site's fragment and retargets the relocation at it
// (spec.md section 4.6). It reports whether any island was inserted this
// pass, since one pass's insertion can move later sections.
func (p *Pipeline) insertTrampolines() (bool, error) {
	inserted := false
	for _, r := range p.pendingRelocs {
		if r.ApplyAt.IsNull() || r.Target.IsNull() || r.Target.IsDiscard() {
			continue
		}
		addr := r.ApplyAt.Addr()
		target := r.Target.Addr() + uint64(r.Addend)
		if p.Tramp.InRange(addr, target) {
			continue
		}
		sec := r.ApplyAt.Frag.Section
		island, isNew := p.islandFor(sec, target)
		if isNew {
			if err := trampoline.InsertAfterCallSite(sec, r.ApplyAt.Frag, island, p.Arch); err != nil {
				return false, err
			}
			p.nameIsland(sec, island, r.SymName)
		}
		r.Target = fragment.Ref{Frag: island.Frag}
		r.Addend = 0
		inserted = true
	}
	return inserted, nil
}

// islandFor returns sec's already-synthesized branch island targeting addr,
// if this pass (or an earlier one) already built one there, so that two
// over-range call sites in the same section referencing the same final
// address share a stub instead of each growing their own (spec.md section
// 4.6). isNew reports whether the caller still needs to splice and name the
// returned island.
func (p *Pipeline) islandFor(sec *fragment.Section, addr uint64) (island *trampoline.Island, isNew bool) {
	if p.islandCache == nil {
		p.islandCache = make(map[*fragment.Section]map[uint64]*trampoline.Island)
	}
	cache := p.islandCache[sec]
	if cache == nil {
		cache = make(map[uint64]*trampoline.Island)
		p.islandCache[sec] = cache
	}
	if existing, ok := cache[addr]; ok {
		return existing, false
	}
	island = trampoline.Build(p.Tramp, addr)
	cache[addr] = island
	return island, true
}

// nameIsland registers a local symbol for a freshly spliced island so it is
// nameable in diagnostics and map files, following spec.md section 4.6's
// deterministic naming scheme: "<targetSymbol>@island@<n> with a stable
// counter per output section".
func (p *Pipeline) nameIsland(sec *fragment.Section, island *trampoline.Island, targetSymbol string) {
	if p.islandCounter == nil {
		p.islandCounter = make(map[*fragment.Section]int)
	}
	n := p.islandCounter[sec]
	p.islandCounter[sec] = n + 1
	if targetSymbol == "" {
		targetSymbol = "anon"
	}
	name := fmt.Sprintf("%s@island@%d", targetSymbol, n)

	info := symbol.NewResolveInfo(name, symbol.BindLocal, symbol.DescDefined, symbol.VisDefault, symbol.TypeFunction, symbol.SourceRegular)
	info.Origin = p.internal
	info.DefFrag = fragment.Ref{Frag: island.Frag}
	ld := &symbol.LDSymbol{Info: info, FragRef: info.DefFrag}
	p.Mod.Names.InsertLocal(info, ld)
}

// phaseCheckCrossRefs implements spec.md section 4.7 phase 9.5: verify
// every relocation's resolved target address actually falls within some
// placed output section (catching a reference into a /DISCARD/-ed or
// otherwise dropped section that slipped past GC, e.g. via KEEP()).
func (p *Pipeline) phaseCheckCrossRefs(context.Context) error {
	for _, r := range p.pendingRelocs {
		if r.Target.IsNull() || r.Target.IsDiscard() {
			continue
		}
		addr := r.Target.Addr()
		if p.addrMap.Find(addr) == nil {
			p.Mod.Diag.Emit(&diag.Diagnostic{
				Severity: diag.Error,
				ID:       "cross-reference-outside-image",
				Subject:  r.SymName,
				Args:     []any{addr},
			})
		}
	}
	return nil
}

// phaseFinalizeSymbolValues implements spec.md section 4.7 phase 10: every
// symbol's LDSymbol output record gets its final Value/SectionIdx, and
// every synthesized GOT entry's 8 bytes are filled with the now-known
// address of the symbol it was created for.
func (p *Pipeline) phaseFinalizeSymbolValues(context.Context) error {
	for _, name := range p.Mod.Names.Names() {
		info := p.Mod.Names.FindInfo(name)
		if info == nil || info.Out == nil {
			continue
		}
		ld := info.Out
		switch {
		case info.Binding == symbol.BindAbsolute:
			ld.Value = info.Value
			ld.SectionIdx = -1
		case info.Desc == symbol.DescUndefined:
			ld.SectionIdx = 0
		default:
			if sec := info.DefiningSection(); sec != nil {
				ld.Value = info.DefFrag.Addr()
				ld.SectionIdx = int32(outputIndex(p.Mod.SectionMap, sec))
			}
		}
	}
	for _, f := range p.Mod.Files {
		for _, raw := range f.LocalSyms {
			info, ok := raw.(*symbol.ResolveInfo)
			if !ok || info.Binding != symbol.BindLocal || info.Out == nil {
				continue
			}
			info.Out.Value = info.DefFrag.Addr()
		}
	}

	p.fillGOTEntries()
	return nil
}

// fillGOTEntries writes each synthesized GOT fragment's 8-byte,
// little-endian slot with the final resolved address of the symbol it was
// created for (spec.md section 4.5); a still-undefined weak symbol's slot
// is left zero, the conventional "null function pointer" GOT convention.
func (p *Pipeline) fillGOTEntries() {
	for name, frag := range p.gotFrags {
		info := p.Mod.Names.FindInfo(name)
		if info == nil || info.Out == nil {
			continue
		}
		buf := make([]byte, 8)
		v := info.Out.Value
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * uint(i)))
		}
		frag.Region = buf
	}
}

func outputIndex(m *sectionmap.Map, sec *fragment.Section) int {
	for i, out := range m.Outputs() {
		if out == sec {
			return i + 1
		}
	}
	return 0
}

// phaseApplyRelocations implements spec.md section 4.7 phase 11: run the
// architecture's Apply over every pending relocation, resolving GOT/PLT
// addresses referenced mid-formula through the relocator.Env indirection.
// It records one RelocDataEntry per applied relocation onto the module's
// RelocData ledger (spec.md section 6: "a plugin may want to observe which
// relocations overflowed"), rather than delegating to relocator.ApplyAll
// directly, since that ledger needs the per-relocation outcome ApplyAll
// itself only reports through diagnostics.
func (p *Pipeline) phaseApplyRelocations(context.Context) error {
	env := relocator.Env{
		GOTAddr: func(name string) (uint64, bool) { v, ok := p.gotSlots[name]; return p.resolveSlotAddr(".got", v, ok) },
		PLTAddr: func(name string) (uint64, bool) { v, ok := p.pltSlots[name]; return p.resolveSlotAddr(".plt", v, ok) },
	}
	for _, r := range p.pendingRelocs {
		frag := r.ApplyAt.Frag
		if frag == nil || frag.Region == nil {
			continue
		}
		diagnostic := p.Reloc.Apply(r, env, frag.Region)
		if diagnostic != nil {
			p.Mod.Diag.Emit(diagnostic)
		}
		p.Mod.RecordRelocData(module.RelocDataEntry{
			Section:  frag.Section,
			Symbol:   r.SymName,
			Overflow: diagnostic != nil,
		})
	}
	return nil
}

func (p *Pipeline) resolveSlotAddr(outName string, offsetInSlotSection uint64, ok bool) (uint64, bool) {
	if !ok {
		return 0, false
	}
	for _, sec := range p.Mod.SectionMap.Outputs() {
		if sec.Name == outName {
			return sec.Addr + offsetInSlotSection, true
		}
	}
	return 0, false
}

// phaseEmitOutput implements spec.md section 4.7 phase 12/section 6: hand
// the finished, laid-out module to the configured Writer.
func (p *Pipeline) phaseEmitOutput(context.Context) error {
	if p.Out == nil {
		return fmt.Errorf("pipeline: no writer configured")
	}
	return p.Out.Write(p.Mod)
}
