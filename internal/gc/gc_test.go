package gc

import (
	"testing"

	"github.com/eld-project/eld/internal/fragment"
	"github.com/stretchr/testify/require"
)

func TestKeepRetainsSectionAndDiscardsUnreferenced(t *testing.T) {
	start := &fragment.Section{Name: ".text.start", Retain: true}
	unused := &fragment.Section{Name: ".text.unused"}
	debugInfo := &fragment.Section{Name: ".debug_info"}

	all := []*fragment.Section{start, unused, debugInfo}

	c := &Collector{Edges: func(s *fragment.Section) []*fragment.Section { return nil }}
	res := c.Run(all, nil)

	require.False(t, start.Ignore)
	require.True(t, unused.Ignore)
	require.True(t, debugInfo.Ignore)
	require.Len(t, res.Reached, 1)
	require.Len(t, res.Ignored, 2)
}

func TestReachabilityFollowsRelocationEdges(t *testing.T) {
	main := &fragment.Section{Name: ".text.main"}
	helper := &fragment.Section{Name: ".text.helper"}
	dead := &fragment.Section{Name: ".text.dead"}

	edges := map[*fragment.Section][]*fragment.Section{
		main: {helper},
	}
	c := &Collector{Edges: func(s *fragment.Section) []*fragment.Section { return edges[s] }}

	res := c.Run([]*fragment.Section{main, helper, dead}, []*fragment.Section{main})

	require.False(t, main.Ignore)
	require.False(t, helper.Ignore)
	require.True(t, dead.Ignore)
	require.Len(t, res.Reached, 2)
}
