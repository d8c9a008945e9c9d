package symbol

import (
	"fmt"

	"github.com/eld-project/eld/internal/diag"
)

// InsertResult is the triple every resolution call returns (spec.md section
// 4.1): the surviving ResolveInfo, whether the name already existed, and
// whether this call's candidate overrode the incumbent.
type InsertResult struct {
	Info     *ResolveInfo
	Existed  bool
	Overrode bool
}

// InsertNonLocal resolves candidate against whatever currently wins for
// candidate.Name, applying the precedence rules of spec.md section 4.1 in
// order. The non-local insert path is serialized via NamePool's single
// mutex (spec.md section 5).
//
// isPostLTO distinguishes a second resolution pass run after bitcode has
// been compiled down to real code (relevant only to rule 6); regular links
// always pass false.
func (np *NamePool) InsertNonLocal(candidate *ResolveInfo, ld *LDSymbol, isPostLTO bool) (InsertResult, *diag.Diagnostic) {
	name := candidate.Name
	np.mu.Lock()
	defer np.mu.Unlock()

	incumbent, existed := np.byName[name]
	if !existed {
		candidate.Out = ld
		np.lockedInsert(name, candidate)
		np.lockedRecord(name, candidate.Origin, candidate, true)
		return InsertResult{candidate, false, true}, nil
	}

	winner, overrode, d := resolvePair(incumbent, candidate, isPostLTO)
	if winner == candidate {
		candidate.Out = incumbent.Out // the Out handle is updated in place, not replaced
		if candidate.Out == nil {
			candidate.Out = ld
		}
	}
	// Rule 5: visibility always combines to the most constrained,
	// independent of which candidate won.
	winner.Vis = combineVisibility(incumbent.Vis, candidate.Vis)

	np.lockedInsert(name, winner)
	np.lockedRecord(name, candidate.Origin, candidate, overrode)

	return InsertResult{winner, true, overrode}, d
}

// resolvePair applies rules 1-4 and 6 of spec.md section 4.1 to decide
// whether candidate overrides incumbent. It returns the winning
// *ResolveInfo (== incumbent or == candidate), whether an override
// happened, and an optional diagnostic (set only for the fatal
// multiple-definition case; callers downgrade to a warning themselves when
// --allow-multiple-definition is set, per spec.md section 7).
func resolvePair(incumbent, candidate *ResolveInfo, isPostLTO bool) (winner *ResolveInfo, overrode bool, d *diag.Diagnostic) {
	// Rule 6: bitcode preservation. If the incumbent is a bitcode
	// definition and the candidate is undefined, keep the incumbent and
	// mark it for LTO preservation instead of overriding.
	if !isPostLTO && incumbent.Desc == DescDefined && incumbent.Flags.Has(FlagBitcode) && candidate.Desc == DescUndefined {
		incumbent.Flags |= FlagPreserveForLTO
		return incumbent, false, nil
	}

	// Rule 4: common merging.
	if incumbent.Desc == DescCommon && candidate.Desc == DescCommon {
		w := resolveCommonCommon(incumbent, candidate)
		return w, w != incumbent, nil
	}
	if incumbent.Desc == DescCommon && candidate.Desc == DescDefined {
		incumbent.Flags |= FlagReferencedByCommon
		return candidate, true, nil
	}
	if incumbent.Desc == DescDefined && candidate.Desc == DescCommon {
		candidate.Flags |= FlagReferencedByCommon
		return incumbent, false, nil
	}

	// Rule 1: type guard for defined-vs-defined.
	if incumbent.Desc == DescDefined && candidate.Desc == DescDefined {
		iWeak := incumbent.Binding == BindWeak
		cWeak := candidate.Binding == BindWeak
		switch {
		case iWeak && !cWeak:
			return candidate, true, nil // strong overrides weak, silently
		case !iWeak && cWeak:
			return incumbent, false, nil // strong wins, silently
		case iWeak && cWeak:
			return incumbent, false, nil // two weaks: first wins
		default:
			// Rule 3: a regular-object define only "overrides" a
			// dynamic-object define of equal rank; it is not a conflict.
			if incumbent.Source == SourceDynamic && candidate.Source == SourceRegular {
				return candidate, true, nil
			}
			if incumbent.Source == SourceRegular && candidate.Source == SourceDynamic {
				return incumbent, false, nil // dyn entry retained only for symtab emission
			}
			return incumbent, false, &diag.Diagnostic{
				Severity: diag.Error,
				ID:       "multiple-definition",
				Subject:  incumbent.Name,
				Args:     []any{incumbent.Origin, candidate.Origin},
			}
		}
	}

	// Rule 2 ranks undefined below every definition, whatever its binding.
	if candidate.Desc == DescUndefined && incumbent.Desc != DescUndefined {
		return incumbent, false, nil
	}
	if incumbent.Desc == DescUndefined && candidate.Desc != DescUndefined {
		return candidate, true, nil
	}

	// Rule 2: binding rank, with rule 3's source tiebreak at equal rank.
	iRank, cRank := incumbent.Binding.rank(), candidate.Binding.rank()
	switch {
	case cRank > iRank:
		return candidate, true, nil
	case cRank < iRank:
		return incumbent, false, nil
	default:
		if incumbent.Source == SourceDynamic && candidate.Source == SourceRegular {
			return candidate, true, nil
		}
		return incumbent, false, nil
	}
}

// resolveCommonCommon applies rule 4's common+common tiebreak: larger size
// wins, then stricter (larger) alignment, then first-seen.
func resolveCommonCommon(incumbent, candidate *ResolveInfo) *ResolveInfo {
	if candidate.Size > incumbent.Size {
		return candidate
	}
	if candidate.Size < incumbent.Size {
		return incumbent
	}
	// Sizes equal; the "alignment" of a common symbol is stashed in Value
	// by convention (spec.md doesn't name a separate field, and Value is
	// otherwise unused for a common symbol until allocation).
	if candidate.Value > incumbent.Value {
		return candidate
	}
	return incumbent
}

// AddSharedLibSymbol inserts a symbol contributed by a dynamic (.so) input.
// This is just InsertNonLocal with Source fixed to SourceDynamic; it is
// named separately because it's the entry point §4.1 calls out for shared
// objects specifically (they never contribute local symbols or commons).
func (np *NamePool) AddSharedLibSymbol(info *ResolveInfo, ld *LDSymbol) (InsertResult, *diag.Diagnostic) {
	info.Source = SourceDynamic
	return np.InsertNonLocal(info, ld, false)
}

func (r *ResolveInfo) validate() error {
	if r.Name == "" {
		return fmt.Errorf("symbol: empty name")
	}
	return nil
}
