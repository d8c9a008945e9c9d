package symbol

// PatchBaseResult describes what a patch-base input's global defined symbol
// became, per spec.md section 6 and SPEC_FULL.md section C.
type PatchBaseResult int

const (
	// PatchBaseSymDefProvide: the symbol becomes a sym-def "provide"
	// (patchable: true) — a name/value pair the final image can satisfy
	// without the original definition being present.
	PatchBaseSymDefProvide PatchBaseResult = iota
	// PatchBaseAbsolute: the symbol becomes a plain absolute symbol
	// (patchable: false).
	PatchBaseAbsolute
)

// ApplyPatchBase converts info, a global defined symbol from the
// patch-base input, into either a sym-def provide or an absolute symbol,
// following spec.md section 4.1 rule 7 and section 6: "Patchable symbols
// get absolute PLT entries so the final image can be patched by
// redirecting through them."
//
// wasPatchable records whether the original build marked this symbol
// patchable (this is carried on the symbol from the original compilation;
// the link engine itself doesn't decide it).
func ApplyPatchBase(info *ResolveInfo, wasPatchable bool) PatchBaseResult {
	info.Binding = BindAbsolute
	if wasPatchable {
		info.Flags |= FlagPatchable
		return PatchBaseSymDefProvide
	}
	info.Flags &^= FlagPatchable
	return PatchBaseAbsolute
}
