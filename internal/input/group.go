package input

// Group models a linker-script GROUP(...)/AS_NEEDED(...) construct (spec.md
// section 6): a set of member Inputs that should be treated as if they were
// re-scanned together until resolution stabilizes, exactly mirroring the
// outer archive pull loop of spec.md section 4.2 but scoped to the group's
// own member list (SPEC_FULL.md section C).
type Group struct {
	// Members are the Inputs making up this GROUP(...) in script order.
	Members []*Input

	// AsNeeded marks a member that should only remain linked if it actually
	// satisfied at least one undefined reference (spec.md section 6:
	// AS_NEEDED). The engine's driver resolves the attribute onto the
	// member's own Input.Attrs; this slice only remembers which indices were
	// wrapped in AS_NEEDED for diagnostics/unused-dependency warnings.
	AsNeeded []bool
}

// PullFunc attempts one additional pass of archive-member pulling for a
// single archive File, returning whether it queued at least one new member
// (mirroring archive.Parser.Pull, scoped to one archive instead of the
// whole link).
type PullFunc func(archive *File) (progressed bool, err error)

// Resolve repeats pull across every archive member of g until a full pass
// over the group makes no further progress, matching spec.md section 4.2's
// "repeat until the set stabilizes" but scoped to this group's members
// rather than the whole link (SPEC_FULL.md section C: "Group reader").
func (g *Group) Resolve(archivesOf func(*Input) []*File, pull PullFunc) error {
	for {
		progressed := false
		for _, member := range g.Members {
			for _, arc := range archivesOf(member) {
				p, err := pull(arc)
				if err != nil {
					return err
				}
				progressed = progressed || p
			}
		}
		if !progressed {
			return nil
		}
	}
}
