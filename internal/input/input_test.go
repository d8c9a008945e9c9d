package input

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindELFRelocatable: "elf-relocatable",
		KindArchive:        "archive",
		KindArchiveMember:  "archive-member",
		KindSymDef:         "sym-def",
		KindInternal:       "internal",
		Kind(999):          "unknown",
	}
	for k, want := range cases {
		require.Equal(t, want, k.String())
	}
}

func TestFileInputPathForTopLevelInput(t *testing.T) {
	in := &Input{Path: "libfoo.a", Ordinal: 2}
	f := &File{Kind: KindArchive, Owner: in}

	require.Equal(t, "libfoo.a", f.InputPath())
	require.Equal(t, 2, f.Ordinal())
}

func TestFileInputPathForArchiveMember(t *testing.T) {
	in := &Input{Path: "libfoo.a"}
	f := &File{Kind: KindArchiveMember, Owner: in, MemberName: "bar.o"}

	require.Equal(t, "libfoo.a(bar.o)", f.InputPath())
}

func TestNewInternalHasNoOwnerAndNegativeOrdinal(t *testing.T) {
	f := NewInternal("<linker-generated>")

	require.Equal(t, KindInternal, f.Kind)
	require.Nil(t, f.Owner)
	require.Equal(t, -1, f.Ordinal())
	require.Equal(t, "<internal>", f.InputPath())
	require.NotNil(t, f.Relocs)
}

func TestSetAndGetLocalSymtab(t *testing.T) {
	f := &File{}
	require.Nil(t, f.LocalSymtab())

	f.SetLocalSymtab("a-symtab-stand-in")
	require.Equal(t, "a-symtab-stand-in", f.LocalSymtab())
}
