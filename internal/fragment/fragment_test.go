package fragment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddFragmentSetsOwnerAndAppends(t *testing.T) {
	s := &Section{Name: ".text"}
	f1 := &Fragment{Kind: FragRegion, Size: 4}
	f2 := &Fragment{Kind: FragFill, Size: 8}

	s.AddFragment(f1)
	s.AddFragment(f2)

	require.Equal(t, []*Fragment{f1, f2}, s.Fragments())
	require.Same(t, s, f1.Section)
	require.Same(t, s, f2.Section)
}

func TestInsertFragmentAfterSplicesAtIndex(t *testing.T) {
	s := &Section{Name: ".text"}
	a := &Fragment{Kind: FragRegion}
	b := &Fragment{Kind: FragRegion}
	stub := &Fragment{Kind: FragStub}
	s.AddFragment(a)
	s.AddFragment(b)

	s.InsertFragmentAfter(0, stub)

	require.Equal(t, []*Fragment{a, stub, b}, s.Fragments())
	require.Same(t, s, stub.Section)
}

func TestReplaceFragmentsSwapsListAndOwner(t *testing.T) {
	s := &Section{Name: ".rodata.str"}
	s.AddFragment(&Fragment{Kind: FragRegion, Size: 10})

	merged := &Fragment{Kind: FragMergeString, Size: 3}
	s.ReplaceFragments([]*Fragment{merged})

	require.Equal(t, []*Fragment{merged}, s.Fragments())
	require.Same(t, s, merged.Section)
}

func TestIndexOfFindsFragmentOrReturnsNegativeOne(t *testing.T) {
	s := &Section{Name: ".data"}
	a := &Fragment{Kind: FragRegion}
	b := &Fragment{Kind: FragFill}
	s.AddFragment(a)
	s.AddFragment(b)

	require.Equal(t, 0, s.IndexOf(a))
	require.Equal(t, 1, s.IndexOf(b))
	require.Equal(t, -1, s.IndexOf(&Fragment{}))
}

func TestFlagsHas(t *testing.T) {
	f := FlagAlloc | FlagWrite
	require.True(t, f.Has(FlagAlloc))
	require.True(t, f.Has(FlagWrite))
	require.False(t, f.Has(FlagExecInstr))
}

func TestMergeStringTableInternsDeduplicatesAndAccumulatesSize(t *testing.T) {
	table := NewMergeStringTable()

	off1 := table.Intern("hello")
	off2 := table.Intern("world")
	off1Again := table.Intern("hello")

	require.EqualValues(t, 0, off1)
	require.Equal(t, off1, off1Again)
	require.EqualValues(t, 6, off2) // "hello\0"
	require.EqualValues(t, 12, table.Size())
	require.Equal(t, []byte("hello\x00world\x00"), table.Bytes())
}

func TestRefAddrComputesSectionRelativeOffset(t *testing.T) {
	s := &Section{Name: ".text", Addr: 0x1000}
	f := &Fragment{Kind: FragRegion, Offset: 0x10}
	s.AddFragment(f)

	r := Ref{Frag: f, Offset: 4}
	require.EqualValues(t, 0x1014, r.Addr())
}

func TestRefSentinels(t *testing.T) {
	require.True(t, Null.IsNull())
	require.False(t, Null.IsDiscard())
	require.True(t, Discard.IsDiscard())
	require.False(t, Discard.IsNull())

	real := Ref{Frag: &Fragment{}}
	require.False(t, real.IsNull())
	require.False(t, real.IsDiscard())
}
