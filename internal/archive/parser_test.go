package archive

import (
	"fmt"
	"testing"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/symbol"
	"github.com/stretchr/testify/require"
)

// fakeResolver answers FindInfo from a plain map, standing in for
// *symbol.NamePool in these tests.
type fakeResolver map[string]*symbol.ResolveInfo

func (r fakeResolver) FindInfo(name string) *symbol.ResolveInfo { return r[name] }

func undefined(name string) *symbol.ResolveInfo {
	return symbol.NewResolveInfo(name, symbol.BindGlobal, symbol.DescUndefined, symbol.VisDefault, symbol.TypeNoType, symbol.SourceRegular)
}

func newTestArchive(membersByOrdinal map[string][]int, names []string) *input.File {
	idx := &input.ArchiveIndex{Symbols: membersByOrdinal}
	for _, n := range names {
		idx.Members = append(idx.Members, &input.Member{Name: n})
	}
	owner := &input.Input{Path: "libtest.a"}
	return &input.File{Kind: input.KindArchive, Owner: owner, ArchiveIndex: idx}
}

func TestPullQueuesMemberDefiningAnUndefinedSymbol(t *testing.T) {
	arc := newTestArchive(map[string][]int{"foo": {0}}, []string{"a.o"})
	res := fakeResolver{"foo": undefined("foo")}

	var opened []string
	p := &Parser{
		Diag: diag.NewEngine(),
		Open: func(m *input.Member) (*input.File, error) {
			opened = append(opened, m.Name)
			return &input.File{}, nil
		},
	}

	pulled, err := p.Pull(arc, res)
	require.NoError(t, err)
	require.Equal(t, []string{"a.o"}, opened)
	require.Len(t, pulled, 1)
	require.Equal(t, input.KindArchiveMember, pulled[0].Kind)
	require.Equal(t, "a.o", pulled[0].MemberName)
	require.Equal(t, arc.Owner, pulled[0].Owner)
	require.NotNil(t, arc.ArchiveIndex.Members[0].File)
}

func TestPullSkipsMemberWhoseSymbolIsAlreadyDefined(t *testing.T) {
	arc := newTestArchive(map[string][]int{"foo": {0}}, []string{"a.o"})
	defined := symbol.NewResolveInfo("foo", symbol.BindGlobal, symbol.DescDefined, symbol.VisDefault, symbol.TypeFunction, symbol.SourceRegular)
	res := fakeResolver{"foo": defined}

	opened := 0
	p := &Parser{
		Diag: diag.NewEngine(),
		Open: func(m *input.Member) (*input.File, error) { opened++; return &input.File{}, nil },
	}

	pulled, err := p.Pull(arc, res)
	require.NoError(t, err)
	require.Zero(t, opened)
	require.Empty(t, pulled)
}

func TestPullStopsAfterAPassWithNoProgress(t *testing.T) {
	arc := newTestArchive(map[string][]int{"foo": {0}}, []string{"a.o"})
	res := fakeResolver{"foo": undefined("foo")}

	calls := 0
	p := &Parser{
		Diag: diag.NewEngine(),
		Open: func(m *input.Member) (*input.File, error) { calls++; return &input.File{}, nil },
	}

	_, err := p.Pull(arc, res)
	require.NoError(t, err)
	require.Equal(t, 1, calls) // the member is marked pulled after the first open; a second pass finds nothing new
	require.GreaterOrEqual(t, arc.ArchiveIndex.Passes, 2)
}

func TestPullRespectsWrapUntilRealSymbolStillUndefined(t *testing.T) {
	arc := newTestArchive(map[string][]int{"malloc": {0}}, []string{"malloc.o"})
	res := fakeResolver{"malloc": undefined("malloc")}
	res["__real_malloc"] = symbol.NewResolveInfo("__real_malloc", symbol.BindGlobal, symbol.DescDefined, symbol.VisDefault, symbol.TypeFunction, symbol.SourceRegular)

	opened := 0
	p := &Parser{
		Diag:  diag.NewEngine(),
		Wraps: WrapSet{"malloc": true},
		Open:  func(m *input.Member) (*input.File, error) { opened++; return &input.File{}, nil },
	}

	pulled, err := p.Pull(arc, res)
	require.NoError(t, err)
	require.Zero(t, opened, "wrapped symbol with __real_malloc already defined must not pull the member")
	require.Empty(t, pulled)

	res["__real_malloc"] = undefined("__real_malloc")
	pulled, err = p.Pull(arc, res)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
}

func TestPullPropagatesOpenError(t *testing.T) {
	arc := newTestArchive(map[string][]int{"foo": {0}}, []string{"a.o"})
	res := fakeResolver{"foo": undefined("foo")}

	p := &Parser{
		Diag: diag.NewEngine(),
		Open: func(m *input.Member) (*input.File, error) { return nil, fmt.Errorf("read failed") },
	}

	_, err := p.Pull(arc, res)
	require.Error(t, err)
}

func TestPullWholeArchivePullsEveryUnpulledMember(t *testing.T) {
	arc := newTestArchive(nil, []string{"a.o", "b.o"})

	var opened []string
	p := &Parser{
		Diag: diag.NewEngine(),
		Open: func(m *input.Member) (*input.File, error) {
			opened = append(opened, m.Name)
			return &input.File{}, nil
		},
	}

	pulled, err := p.PullWholeArchive(arc)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.o", "b.o"}, opened)
	require.Len(t, pulled, 2)
	for _, f := range pulled {
		require.Equal(t, input.KindArchiveMember, f.Kind)
	}
}

func TestPullWholeArchiveSkipsAlreadyPulledMembers(t *testing.T) {
	arc := newTestArchive(nil, []string{"a.o"})
	arc.ArchiveIndex.Members[0].File = &input.File{Kind: input.KindArchiveMember, MemberName: "a.o"}

	opened := 0
	p := &Parser{
		Open: func(m *input.Member) (*input.File, error) { opened++; return &input.File{}, nil },
	}

	pulled, err := p.PullWholeArchive(arc)
	require.NoError(t, err)
	require.Zero(t, opened)
	require.Empty(t, pulled)
}
