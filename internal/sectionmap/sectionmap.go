// Package sectionmap implements the Section Mapper leaf named in spec.md
// section 2 item 10: matching every input section against a linker script
// (or the engine's built-in default rules) to build the output section
// list, then assigning addresses/offsets to it (spec.md section 4.4).
package sectionmap

import (
	"fmt"
	"strings"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerconfig"
	"github.com/eld-project/eld/internal/linkerscript"
)

// Discarded is the sentinel *fragment.Section returned by Place for an
// input section matched by a /DISCARD/ rule. Callers drop fragments placed
// here instead of emitting them.
var Discarded = &fragment.Section{Name: "/DISCARD/", Kind: fragment.KindDiscard}

// rule is one flattened (output descriptor, input-section spec) pairing in
// script order; OutputSectionDesc.Items may hold several specs, each
// producing its own rule so first-match-wins can be evaluated spec-wide
// rather than per-output-section.
type rule struct {
	desc *linkerscript.OutputSectionDesc
	spec *linkerscript.InputSectionSpec
}

// Map owns the growing output-section list and the script-derived (or
// default) placement rules used to grow it.
type Map struct {
	Script *linkerscript.Script
	Diag   *diag.Engine
	Orphan linkerconfig.OrphanHandling

	rules   []rule
	order   []string
	byName  map[string]*fragment.Section
}

// NewMap builds a Map. script may be nil, in which case every input section
// is placed by the engine's default name-canonicalization rules (spec.md
// section 6: "absent a script, the engine behaves as if a minimal default
// script were supplied").
func NewMap(script *linkerscript.Script, d *diag.Engine, orphan linkerconfig.OrphanHandling) *Map {
	m := &Map{Script: script, Diag: d, Orphan: orphan, byName: map[string]*fragment.Section{}}
	if script != nil && script.Sections != nil {
		for _, item := range script.Sections.Items {
			desc, ok := item.(*linkerscript.OutputSectionDesc)
			if !ok {
				continue
			}
			for _, oi := range desc.Items {
				if spec, ok := oi.(*linkerscript.InputSectionSpec); ok {
					m.rules = append(m.rules, rule{desc: desc, spec: spec})
				}
			}
		}
	}
	return m
}

// outputFor returns (creating if necessary) the *fragment.Section for name,
// preserving first-seen order.
func (m *Map) outputFor(name string) *fragment.Section {
	if s, ok := m.byName[name]; ok {
		return s
	}
	s := &fragment.Section{Name: name, Kind: fragment.KindRegular}
	m.byName[name] = s
	m.order = append(m.order, name)
	return s
}

// Outputs returns every output section created so far, in first-seen order.
func (m *Map) Outputs() []*fragment.Section {
	out := make([]*fragment.Section, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.byName[n])
	}
	return out
}

// Place matches one input section (owned by file) against the rule set and
// appends it (as a fragment) to the output section it belongs to, returning
// that output section. It returns Discarded (with ok=false) for a
// /DISCARD/ match.
func (m *Map) Place(file *input.File, sec *fragment.Section) (out *fragment.Section, ok bool) {
	base := memberBaseName(file)

	for _, r := range m.rules {
		if !matchFile(r.spec, base) {
			continue
		}
		if !matchAnySection(r.spec, sec.Name) {
			continue
		}
		if r.spec.Keep {
			sec.Retain = true
		}
		if r.desc.Discard {
			return Discarded, false
		}
		out = m.outputFor(r.desc.Name)
		out.Flags |= sec.Flags
		return out, true
	}

	out = m.placeOrphan(sec)
	out.Flags |= sec.Flags
	return out, true
}

// placeOrphan applies the engine's default canonicalization and the
// configured orphan-section policy (spec.md section 4.4 edge cases) when no
// script rule claimed the section.
func (m *Map) placeOrphan(sec *fragment.Section) *fragment.Section {
	name := CanonicalOutputName(sec.Name)
	if m.Orphan == linkerconfig.OrphanWarn || m.Orphan == linkerconfig.OrphanError {
		if m.Diag != nil {
			sev := diag.Warning
			if m.Orphan == linkerconfig.OrphanError {
				sev = diag.Error
			}
			m.Diag.Emit(&diag.Diagnostic{
				Severity: sev,
				ID:       "orphan-section-placement",
				Group:    diag.GroupScriptMemory,
				Subject:  sec.Name,
				Args:     []any{sec.Name, name},
			})
		}
	}
	return m.outputFor(name)
}

func memberBaseName(file *input.File) string {
	if file == nil {
		return ""
	}
	if file.MemberName != "" {
		return file.MemberName
	}
	if file.Owner != nil {
		idx := strings.LastIndexByte(file.Owner.Path, '/')
		return file.Owner.Path[idx+1:]
	}
	return ""
}

func matchFile(spec *linkerscript.InputSectionSpec, base string) bool {
	for _, ex := range spec.ExcludeFiles {
		if linkerscript.MatchPattern(ex, base) {
			return false
		}
	}
	if spec.FilePattern == "" {
		return true
	}
	return linkerscript.MatchPattern(spec.FilePattern, base)
}

func matchAnySection(spec *linkerscript.InputSectionSpec, name string) bool {
	if len(spec.SectionPatterns) == 0 {
		return true
	}
	for _, p := range spec.SectionPatterns {
		if linkerscript.MatchPattern(p, name) {
			return true
		}
	}
	return false
}

// canonicalGroups lists the GNU-ld-compatible default output section names,
// in the order a minimal default script would emit them, each matched by a
// dotted-name prefix (".text.foo" folds into ".text").
var canonicalGroups = []string{
	".init", ".text", ".fini", ".rodata",
	".init_array", ".fini_array", ".preinit_array",
	".data.rel.ro", ".data", ".tdata", ".tbss", ".bss",
	".got", ".got.plt", ".plt",
	".eh_frame_hdr", ".eh_frame",
	".comment", ".debug_info", ".debug_line", ".debug_abbrev", ".debug_str", ".debug_ranges",
}

// CanonicalOutputName folds an input section name into the default output
// section it belongs to absent any script rule, matching GNU ld's built-in
// linker script behavior (e.g. ".text.hot" and ".text.unlikely" both fold
// into ".text"; an unrecognized name is kept as its own output section).
func CanonicalOutputName(name string) string {
	for _, g := range canonicalGroups {
		if name == g || strings.HasPrefix(name, g+".") {
			return g
		}
	}
	return name
}

// ApplyMemoryRegions resolves every MEMORY region referenced by name into a
// concrete (origin, length) pair, returning an error for an undefined
// region (spec.md section 6 edge cases: referencing an undeclared region is
// a script error, not a silent default).
func ApplyMemoryRegions(script *linkerscript.Script, env linkerscript.Env) (map[string][2]uint64, error) {
	out := make(map[string][2]uint64, len(script.Memory))
	for _, r := range script.Memory {
		origin, err := linkerscript.Eval(r.Origin, env)
		if err != nil {
			return nil, fmt.Errorf("sectionmap: region %s: %w", r.Name, err)
		}
		length, err := linkerscript.Eval(r.Length, env)
		if err != nil {
			return nil, fmt.Errorf("sectionmap: region %s: %w", r.Name, err)
		}
		out[r.Name] = [2]uint64{origin, length}
	}
	return out, nil
}
