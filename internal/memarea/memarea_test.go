package memarea

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSyntheticReturnsContentWithoutOpeningFile(t *testing.T) {
	a := NewSynthetic("<test>", []byte("hello"))

	b, err := a.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
	require.Equal(t, "<test>", a.String())
	require.NoError(t, a.Close())
}

func TestBytesIsLoadedOnce(t *testing.T) {
	calls := 0
	a := &Area{
		Name: "<counted>",
		open: func() ([]byte, []byte, error) {
			calls++
			return []byte("x"), nil, nil
		},
	}

	_, err := a.Bytes()
	require.NoError(t, err)
	_, err = a.Bytes()
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestLenReflectsBytesLength(t *testing.T) {
	a := NewSynthetic("<test>", []byte("abcde"))
	n, err := a.Len()
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func TestOpenReadsRealFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	a := Open(path)
	b, err := a.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), b)
	require.NoError(t, a.Close())
}

func TestOpenMissingFileReturnsError(t *testing.T) {
	a := Open(filepath.Join(t.TempDir(), "missing.bin"))
	_, err := a.Bytes()
	require.Error(t, err)
}

func TestSliceCarvesOutChildRange(t *testing.T) {
	parent := NewSynthetic("<parent>", []byte("0123456789"))
	child := parent.Slice("<child>", 2, 3)

	b, err := child.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte("234"), b)
}

func TestSliceOutOfRangeReturnsError(t *testing.T) {
	parent := NewSynthetic("<parent>", []byte("0123456789"))
	child := parent.Slice("<child>", 8, 5)

	_, err := child.Bytes()
	require.Error(t, err)
}
