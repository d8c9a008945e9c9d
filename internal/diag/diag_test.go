package diag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeverityIsFailure(t *testing.T) {
	require.False(t, Verbose.IsFailure())
	require.False(t, Note.IsFailure())
	require.False(t, Warning.IsFailure())
	require.False(t, CriticalWarning.IsFailure())
	require.True(t, Error.IsFailure())
	require.True(t, Fatal.IsFailure())
	require.True(t, Internal.IsFailure())
}

func TestSeverityString(t *testing.T) {
	require.Equal(t, "warning", Warning.String())
	require.Equal(t, "unknown", Severity(999).String())
}

func TestEmitSetsFailedOnlyForFailureSeverity(t *testing.T) {
	e := NewEngine()
	e.Emit(&Diagnostic{Severity: Warning, ID: "orphan-section"})
	require.False(t, e.Failed())

	e.Emit(&Diagnostic{Severity: Error, ID: "undefined-symbol"})
	require.True(t, e.Failed())
	require.Len(t, e.Records(), 2)
}

func TestDisabledGroupDropsNonFailureDiagnostics(t *testing.T) {
	e := NewEngine()
	e.SetGroupEnabled(GroupCommandLine, false)

	e.Emit(&Diagnostic{Severity: Warning, ID: "ignored", Group: GroupCommandLine})
	require.Empty(t, e.Records())

	e.Emit(&Diagnostic{Severity: Error, ID: "still-reported", Group: GroupCommandLine})
	require.Len(t, e.Records(), 1)
	require.True(t, e.Failed())
}

func TestRecordsReturnsSnapshotNotLiveSlice(t *testing.T) {
	e := NewEngine()
	e.Emit(&Diagnostic{Severity: Note, ID: "first"})

	snap := e.Records()
	e.Emit(&Diagnostic{Severity: Note, ID: "second"})

	require.Len(t, snap, 1)
	require.Len(t, e.Records(), 2)
}

func TestDiagnosticErrorFormatting(t *testing.T) {
	withSubject := &Diagnostic{Severity: Error, ID: "undefined-symbol", Subject: "foo"}
	require.Contains(t, withSubject.Error(), "foo")
	require.Contains(t, withSubject.Error(), "undefined-symbol")

	withoutSubject := &Diagnostic{Severity: Warning, ID: "generic"}
	require.Contains(t, withoutSubject.Error(), "generic")
}
