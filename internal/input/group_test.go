package input

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupResolveStopsWhenNoProgress(t *testing.T) {
	memberA := &Input{Path: "liba.a"}
	memberB := &Input{Path: "libb.a"}
	arcA := &File{Kind: KindArchive, Owner: memberA}
	arcB := &File{Kind: KindArchive, Owner: memberB}

	g := &Group{Members: []*Input{memberA, memberB}, AsNeeded: []bool{false, false}}

	archivesOf := func(in *Input) []*File {
		switch in {
		case memberA:
			return []*File{arcA}
		case memberB:
			return []*File{arcB}
		}
		return nil
	}

	calls := 0
	pull := func(arc *File) (bool, error) {
		calls++
		return false, nil
	}

	err := g.Resolve(archivesOf, pull)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestGroupResolveRepeatsUntilStable(t *testing.T) {
	memberA := &Input{Path: "liba.a"}
	memberB := &Input{Path: "libb.a"}
	arcA := &File{Kind: KindArchive, Owner: memberA}
	arcB := &File{Kind: KindArchive, Owner: memberB}

	g := &Group{Members: []*Input{memberA, memberB}}

	archivesOf := func(in *Input) []*File {
		if in == memberA {
			return []*File{arcA}
		}
		return []*File{arcB}
	}

	// arcA progresses on the first two passes (simulating a newly pulled
	// member that in turn let arcB progress), then both go quiet.
	remainingA := 2
	pull := func(arc *File) (bool, error) {
		if arc == arcA && remainingA > 0 {
			remainingA--
			return true, nil
		}
		return false, nil
	}

	err := g.Resolve(archivesOf, pull)
	require.NoError(t, err)
	require.Equal(t, 0, remainingA)
}

func TestGroupResolvePropagatesPullError(t *testing.T) {
	member := &Input{Path: "liba.a"}
	arc := &File{Kind: KindArchive, Owner: member}
	g := &Group{Members: []*Input{member}}

	archivesOf := func(*Input) []*File { return []*File{arc} }

	err := g.Resolve(archivesOf, func(*File) (bool, error) {
		return false, errBoom
	})
	require.ErrorIs(t, err, errBoom)
}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }

var errBoom = errBoomType{}
