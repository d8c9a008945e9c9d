package linkerconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultHasConservativeFinalLinkPosture(t *testing.T) {
	cfg := Default()

	require.Equal(t, OutputExecutable, cfg.Output)
	require.Equal(t, OrphanPlace, cfg.OrphanHandling)
	require.Equal(t, UnresolvedReportAll, cfg.Unresolved)
	require.False(t, cfg.GCSections)
	require.Equal(t, -1, cfg.PatchBaseOrdinal)
	require.Equal(t, AllParallel(), cfg.ParallelPhases)
}

func TestAllParallelEnablesEveryUnit(t *testing.T) {
	p := AllParallel()

	require.True(t, p.AssignOutputSections)
	require.True(t, p.ScanRelocations)
	require.True(t, p.SyncRelocations)
	require.True(t, p.CheckCrossRefs)
	require.True(t, p.CreateOutputSections)
	require.True(t, p.ApplyRelocations)
	require.True(t, p.LinkerRelaxation)
}

func TestDefaultConfigsAreIndependent(t *testing.T) {
	a := Default()
	b := Default()

	a.ForceUndefined = append(a.ForceUndefined, "main")
	require.Empty(t, b.ForceUndefined)
}
