package pipeline

import (
	"testing"

	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerscript"
	"github.com/eld-project/eld/internal/module"
	"github.com/eld-project/eld/internal/symbol"
	"github.com/stretchr/testify/require"
)

func TestInternStringsDeduplicatesAcrossCalls(t *testing.T) {
	table := fragment.NewMergeStringTable()
	region := []byte("foo\x00bar\x00foo\x00")

	offsets := internStrings(table, region)

	require.Len(t, offsets, 3) // three NUL-terminated entries at offsets 0, 4, 8
	require.Equal(t, offsets[0], offsets[8]) // both "foo" occurrences dedupe to the same merged offset
	require.NotEqual(t, offsets[0], offsets[4])
}

func TestCommonAlignFallsBackToOneWhenUnset(t *testing.T) {
	info := symbol.NewResolveInfo("counter", symbol.BindGlobal, symbol.DescCommon, symbol.VisDefault, symbol.TypeObject, symbol.SourceRegular)
	require.EqualValues(t, 1, commonAlign(info))

	info.Value = 16
	require.EqualValues(t, 16, commonAlign(info))
}

func TestApplyFragmentForReturnsSectionsFirstFragment(t *testing.T) {
	sec := &fragment.Section{Name: ".text"}
	region := &fragment.Fragment{Kind: fragment.FragRegion, Size: 8}
	sec.AddFragment(region)

	require.Same(t, region, applyFragmentFor(sec))
}

func TestApplyFragmentForEmptySectionReturnsStandIn(t *testing.T) {
	sec := &fragment.Section{Name: ".bss"}
	got := applyFragmentFor(sec)
	require.NotNil(t, got)
	require.Same(t, sec, got.Section)
}

func TestRegionForFindsVMARegionByOutputSectionName(t *testing.T) {
	script := &linkerscript.Script{
		Sections: &linkerscript.SectionsCmd{
			Items: []linkerscript.SectionsItem{
				&linkerscript.OutputSectionDesc{Name: ".text", VMARegion: "rom"},
			},
		},
	}
	require.Equal(t, "rom", regionFor(script, ".text"))
	require.Equal(t, "", regionFor(script, ".data"))
	require.Equal(t, "", regionFor(nil, ".text"))
}

func TestConstEnvHasNoKnowledgeOfSectionsOrSymbols(t *testing.T) {
	var e constEnv
	require.EqualValues(t, 0, e.Dot())
	_, ok := e.Symbol("_end")
	require.False(t, ok)
	_, ok = e.SectionAddr(".text")
	require.False(t, ok)
	_, ok = e.RegionOrigin("rom")
	require.False(t, ok)
	require.EqualValues(t, 0, e.SizeofHeaders())
}

func TestScriptGroupsBuildsOneGroupPerGroupConstruct(t *testing.T) {
	a := &input.Input{Path: "liba.a"}
	b := &input.Input{Path: "libb.a"}
	c := &input.Input{Path: "libc.a"}

	script := &linkerscript.Script{
		Inputs: []linkerscript.InputSpec{
			{Name: "libc.a"}, // plain INPUT(...) entry, not part of any group
			{Group: []linkerscript.InputSpec{
				{Name: "liba.a"},
				{Name: "libb.a", AsNeeded: true},
			}},
		},
	}

	p := &Pipeline{Mod: &module.Module{Script: script, Inputs: []*input.Input{a, b, c}}}

	groups := p.scriptGroups()
	require.Len(t, groups, 1)
	require.Equal(t, []*input.Input{a, b}, groups[0].Members)
	require.Equal(t, []bool{false, true}, groups[0].AsNeeded)
}

func TestScriptGroupsFlattensNestedGroups(t *testing.T) {
	a := &input.Input{Path: "liba.a"}
	b := &input.Input{Path: "libb.a"}

	script := &linkerscript.Script{
		Inputs: []linkerscript.InputSpec{
			{Group: []linkerscript.InputSpec{
				{Name: "liba.a"},
				{Group: []linkerscript.InputSpec{
					{Name: "libb.a"},
				}},
			}},
		},
	}

	p := &Pipeline{Mod: &module.Module{Script: script, Inputs: []*input.Input{a, b}}}

	groups := p.scriptGroups()
	require.Len(t, groups, 1)
	require.Equal(t, []*input.Input{a, b}, groups[0].Members)
}

func TestScriptGroupsWithNoScriptReturnsNil(t *testing.T) {
	p := &Pipeline{Mod: &module.Module{}}
	require.Nil(t, p.scriptGroups())
}

func TestFindInputByNameMatchesPathOrResolvedPath(t *testing.T) {
	a := &input.Input{Path: "liba.a", ResolvedPath: "/usr/lib/liba.a"}
	p := &Pipeline{Mod: &module.Module{Inputs: []*input.Input{a}}}

	require.Same(t, a, p.findInputByName("liba.a"))
	require.Same(t, a, p.findInputByName("/usr/lib/liba.a"))
	require.Nil(t, p.findInputByName("missing.a"))
}

func TestArchivesOfFiltersByOwnerAndKind(t *testing.T) {
	a := &input.Input{Path: "liba.a"}
	b := &input.Input{Path: "libb.a"}
	arcA := &input.File{Kind: input.KindArchive, Owner: a}
	objA := &input.File{Kind: input.KindELFRelocatable, Owner: a}
	arcB := &input.File{Kind: input.KindArchive, Owner: b}

	p := &Pipeline{Mod: &module.Module{Files: []*input.File{arcA, objA, arcB}}}

	require.Equal(t, []*input.File{arcA}, p.archivesOf(a))
	require.Equal(t, []*input.File{arcB}, p.archivesOf(b))
}
