package writer

import (
	"testing"

	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerconfig"
	"github.com/eld-project/eld/internal/module"
	"github.com/eld-project/eld/internal/sectionmap"
	"github.com/stretchr/testify/require"
)

func TestStageSectionAssemblesRegionAndFillFragments(t *testing.T) {
	sec := &fragment.Section{Name: ".text", Size: 12}
	region := &fragment.Fragment{Kind: fragment.FragRegion, Region: []byte{1, 2, 3, 4}, Size: 4, Offset: 0}
	fill := &fragment.Fragment{Kind: fragment.FragFill, FillValue: 0xAA, FillSize: 1, Size: 8, Offset: 4}
	sec.AddFragment(region)
	sec.AddFragment(fill)

	out, err := StageSection(sec)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, out[0:4])
	for _, b := range out[4:] {
		require.Equal(t, byte(0xAA), b)
	}
}

func TestStageSectionRejectsOverrunningFragment(t *testing.T) {
	sec := &fragment.Section{Name: ".data", Size: 2}
	sec.AddFragment(&fragment.Fragment{Kind: fragment.FragRegion, Region: []byte{1, 2, 3}, Size: 3, Offset: 0})

	_, err := StageSection(sec)
	require.Error(t, err)
}

func TestStageSectionExpandsMergeStringTable(t *testing.T) {
	table := fragment.NewMergeStringTable()
	table.Intern("a")
	table.Intern("bb")
	sec := &fragment.Section{Name: ".rodata.str", Size: table.Size()}
	sec.AddFragment(&fragment.Fragment{Kind: fragment.FragMergeString, MergeStrings: table, Size: table.Size()})

	out, err := StageSection(sec)
	require.NoError(t, err)
	require.Equal(t, table.Bytes(), out)
}

func TestComputeBuildIDVariants(t *testing.T) {
	content := []byte("some linked image bytes")

	none, err := ComputeBuildID(linkerconfig.BuildIDNone, content)
	require.NoError(t, err)
	require.Nil(t, none)

	sha1id, err := ComputeBuildID(linkerconfig.BuildIDSHA1, content)
	require.NoError(t, err)
	require.Len(t, sha1id, 20)

	md5id, err := ComputeBuildID(linkerconfig.BuildIDMD5, content)
	require.NoError(t, err)
	require.Len(t, md5id, 16)

	fastid, err := ComputeBuildID(linkerconfig.BuildIDFast, content)
	require.NoError(t, err)
	require.Len(t, fastid, 8)

	uuidid, err := ComputeBuildID(linkerconfig.BuildIDUUID, content)
	require.NoError(t, err)
	require.Len(t, uuidid, 16)

	// Deterministic given identical content.
	again, err := ComputeBuildID(linkerconfig.BuildIDUUID, content)
	require.NoError(t, err)
	require.Equal(t, uuidid, again)
}

func TestBuildIDFragmentSizeMatchesComputedLength(t *testing.T) {
	require.Equal(t, 0, BuildIDFragmentSize(linkerconfig.BuildIDNone))
	require.Equal(t, 20, BuildIDFragmentSize(linkerconfig.BuildIDSHA1))
	require.Equal(t, 16, BuildIDFragmentSize(linkerconfig.BuildIDMD5))
	require.Equal(t, 8, BuildIDFragmentSize(linkerconfig.BuildIDFast))
	require.Equal(t, 16, BuildIDFragmentSize(linkerconfig.BuildIDUUID))
}

type fakeSink struct {
	writes []string
}

func (s *fakeSink) Write(sec *fragment.Section, region []byte) error {
	s.writes = append(s.writes, sec.Name)
	return nil
}

func TestWriteStagesEverySectionAndRecordsBuildID(t *testing.T) {
	cfg := &linkerconfig.Config{BuildID: linkerconfig.BuildIDSHA1}
	mod := module.New(cfg, nil, nil, nil, nil)
	mod.SectionMap = sectionmap.NewMap(nil, nil, linkerconfig.OrphanPlace)

	in := &input.File{Kind: input.KindInternal}
	text := &fragment.Section{Name: ".text", Size: 4}
	text.AddFragment(&fragment.Fragment{Kind: fragment.FragRegion, Region: []byte{1, 2, 3, 4}, Size: 4})
	out, ok := mod.SectionMap.Place(in, text)
	require.True(t, ok)
	for _, f := range text.Fragments() {
		out.AddFragment(f)
	}
	out.Size = 4

	sink := &fakeSink{}
	w := New(sink)
	require.NoError(t, w.Write(mod))

	require.Contains(t, sink.writes, ".text")
	require.Len(t, mod.BuildID, 20)
}

func TestWriteFailsWithoutSectionMap(t *testing.T) {
	mod := module.New(&linkerconfig.Config{}, nil, nil, nil, nil)
	w := New(&fakeSink{})
	require.Error(t, w.Write(mod))
}
