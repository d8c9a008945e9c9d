// Package gc implements the Garbage Collector leaf of spec.md section 2
// item 9 and section 4.3: from a root set, reach live sections over
// symbol-relocation edges.
package gc

import "github.com/eld-project/eld/internal/fragment"

// EdgeFunc returns every section that s has a live edge to: one per
// relocation in s whose resolved symbol has a section (spec.md section
// 4.3), plus any script-declared KEEP edge or backend-provided edge (e.g.
// exception-table -> code) the caller chooses to fold in here.
type EdgeFunc func(s *fragment.Section) []*fragment.Section

// Collector marks sections live by traversing EdgeFunc from a root set.
type Collector struct {
	Edges EdgeFunc
}

// Result summarizes one collection pass, for diagnostics/--print-gc-sections.
type Result struct {
	Reached []*fragment.Section
	Ignored []*fragment.Section
}

// Run marks every section reachable from roots (plus every section with
// Retain set, spec.md section 4.3: "sections marked SHF_GNU_RETAIN") as
// live, and marks every other section in all as Ignore.
//
// Run may be invoked twice per spec.md section 4.3 ("GC may be invoked
// twice: once on regular sections, once restricted to common symbols
// allocated separately") — callers do this by calling Run once per section
// universe (regular sections, then the separately-allocated common
// sections), each with its own root set and edge function.
func (c *Collector) Run(all, roots []*fragment.Section) Result {
	reached := make(map[*fragment.Section]bool, len(all))

	var stack []*fragment.Section
	push := func(s *fragment.Section) {
		if s == nil || reached[s] {
			return
		}
		reached[s] = true
		stack = append(stack, s)
	}

	for _, s := range roots {
		push(s)
	}
	for _, s := range all {
		if s.Retain {
			push(s)
		}
	}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, t := range c.Edges(s) {
			push(t)
		}
	}

	res := Result{}
	for _, s := range all {
		s.Reached = reached[s]
		if s.Reached {
			s.Ignore = false
			res.Reached = append(res.Reached, s)
		} else {
			s.Ignore = true
			res.Ignored = append(res.Ignored, s)
		}
	}
	return res
}
