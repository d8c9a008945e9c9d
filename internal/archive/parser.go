// Package archive implements the Archive Parser leaf of spec.md section 2
// item 7 and section 4.2: the classical iterative member-pull algorithm
// over an armap, plus the --wrap and mixed ELF/bitcode edge cases.
//
// There is no teacher analogue for archive semantics (aclements/go-obj
// reads one object file at a time); the iterative-pull contract here is
// grounded on original_source/lib/Readers/ArchiveParser.cpp.
package archive

import (
	"fmt"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/symbol"
)

// Opener loads and classifies a single archive member into an *input.File,
// given its raw bytes. It is supplied by the caller (package pipeline) so
// this package doesn't need to import the ELF/bitcode reading layer
// directly.
type Opener func(member *input.Member) (*input.File, error)

// Resolver is the subset of *symbol.NamePool the parser needs: just enough
// to ask "is this name currently undefined (or common, pending a common
// definition)".
type Resolver interface {
	FindInfo(name string) *symbol.ResolveInfo
}

// WrapSet reports whether a --wrap is active for a given real symbol name
// (spec.md section 4.2 edge cases): "pull the archive member only when
// __real_S is still undefined".
type WrapSet map[string]bool

// Parser runs the iterative pull loop described in spec.md section 4.2.
type Parser struct {
	Diag  *diag.Engine
	Open  Opener
	Wraps WrapSet
}

// Pull scans arc's armap repeatedly, queuing and opening members whose
// symbols satisfy an undefined (or common-referenced) incumbent in res,
// until a full pass over the armap queues nothing new. It returns the
// newly-pulled members, in the order they were opened.
//
// whole-archive handling is the caller's responsibility: when an Input has
// the WholeArchive attribute, every member should be pulled directly
// without calling Pull (spec.md section 4.2: "either include every member
// (whole-archive) or run the classical iterative pull").
func (p *Parser) Pull(arc *input.File, res Resolver) ([]*input.File, error) {
	idx := arc.ArchiveIndex
	if idx == nil {
		return nil, fmt.Errorf("archive: %s has no index", arc)
	}

	var pulled []*input.File
	for {
		progressed := false
		idx.Passes++

		for name, memberOrdinals := range idx.Symbols {
			info := res.FindInfo(name)
			needsPull := info != nil && (info.Desc == symbol.DescUndefined ||
				(info.Desc == symbol.DescCommon && p.armapSymbolIsCommon(idx, memberOrdinals)))

			if !needsPull {
				continue
			}
			if p.Wraps[name] && !p.wrapStillUndefined(name, res) {
				// --wrap: only pull when __real_S is still undefined.
				continue
			}

			for _, mi := range memberOrdinals {
				m := idx.Members[mi]
				if m.File != nil {
					continue // already pulled
				}
				f, err := p.Open(m)
				if err != nil {
					return pulled, fmt.Errorf("archive: pulling %s(%s): %w", arc, m.Name, err)
				}
				m.File = f
				f.Kind = input.KindArchiveMember
				f.MemberName = m.Name
				f.Owner = arc.Owner
				pulled = append(pulled, f)
				progressed = true

				if p.isRepeated(idx, m) {
					p.Diag.Emit(&diag.Diagnostic{
						Severity: diag.Warning,
						ID:       "repeated-archive-member",
						Group:    diag.GroupArchiveFile,
						Subject:  arc.String(),
						Args:     []any{m.Name},
					})
				}
			}
		}

		if !progressed {
			break
		}
	}
	return pulled, nil
}

// armapSymbolIsCommon reports whether any member listed for this armap
// symbol is not yet pulled. The armap carries no symbol types, so whether
// that member defines the symbol as common is not checked: a common
// incumbent pulls any unpulled member listed under its name.
func (p *Parser) armapSymbolIsCommon(idx *input.ArchiveIndex, ordinals []int) bool {
	for _, mi := range ordinals {
		if idx.Members[mi].File == nil {
			return true
		}
	}
	return false
}

func (p *Parser) wrapStillUndefined(name string, res Resolver) bool {
	real := res.FindInfo("__real_" + name)
	return real == nil || real.Desc == symbol.DescUndefined
}

// isRepeated reports whether m's content hash matches an already-pulled
// member of the same archive (spec.md section 4.2 edge cases).
func (p *Parser) isRepeated(idx *input.ArchiveIndex, m *input.Member) bool {
	if m.ContentHash == [20]byte{} {
		return false
	}
	count := 0
	for _, other := range idx.Members {
		if other.File != nil && other.ContentHash == m.ContentHash {
			count++
		}
	}
	return count > 1
}

// PullWholeArchive opens every member of arc unconditionally, for Inputs
// marked whole-archive.
func (p *Parser) PullWholeArchive(arc *input.File) ([]*input.File, error) {
	idx := arc.ArchiveIndex
	var pulled []*input.File
	for _, m := range idx.Members {
		if m.File != nil {
			continue
		}
		f, err := p.Open(m)
		if err != nil {
			return pulled, fmt.Errorf("archive: whole-archive pulling %s(%s): %w", arc, m.Name, err)
		}
		m.File = f
		f.Kind = input.KindArchiveMember
		f.MemberName = m.Name
		f.Owner = arc.Owner
		pulled = append(pulled, f)
	}
	return pulled, nil
}
