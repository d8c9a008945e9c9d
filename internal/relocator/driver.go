package relocator

import "github.com/eld-project/eld/internal/diag"

// ForArch returns the Relocator implementation for a target architecture
// name ("amd64", "386"), or nil if unsupported.
func ForArch(name string) Relocator {
	switch name {
	case "amd64", "x86-64", "x86_64":
		return AMD64{}
	case "386", "i386", "x86":
		return I386{}
	default:
		return nil
	}
}

// ScanAll runs Scan over every pending relocation, accumulating the union
// of auxiliary-storage needs per distinct symbol name (spec.md section 4.5:
// "scan may run concurrently across sections, since each relocation's
// classification is independent").
func ScanAll(rl Relocator, relocs []*PendingReloc) (map[string]ScanResult, []error) {
	needs := make(map[string]ScanResult)
	var errs []error
	for _, r := range relocs {
		res, err := rl.Scan(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prev := needs[r.SymName]
		prev.NeedsGOT = prev.NeedsGOT || res.NeedsGOT
		prev.NeedsPLT = prev.NeedsPLT || res.NeedsPLT
		prev.NeedsCopy = prev.NeedsCopy || res.NeedsCopy
		needs[r.SymName] = prev
	}
	return needs, errs
}

// ApplyAll runs Apply over every pending relocation against its owning
// fragment's byte region, emitting every diagnostic to d rather than
// stopping at the first one (spec.md section 4.5/4.7 phase 3: apply keeps
// going after an overflow so every bad relocation in a link is reported).
func ApplyAll(rl Relocator, relocs []*PendingReloc, env Env, d *diag.Engine) {
	for _, r := range relocs {
		frag := r.ApplyAt.Frag
		if frag == nil || frag.Region == nil {
			continue
		}
		if diagnostic := rl.Apply(r, env, frag.Region); diagnostic != nil {
			d.Emit(diagnostic)
		}
	}
}
