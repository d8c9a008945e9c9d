package relocator

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/obj"
	"github.com/stretchr/testify/require"
)

func mkRelocType(t *testing.T, code elf.R_X86_64) obj.RelocType {
	t.Helper()
	return obj.NewX86_64RelocType(code)
}

func TestAMD64ApplyAbsolute64(t *testing.T) {
	frag := &fragment.Fragment{Region: make([]byte, 16)}
	target := &fragment.Fragment{Region: []byte{}, Size: 0}
	target.Section = &fragment.Section{Addr: 0x2000}

	r := &PendingReloc{
		Type:    mkRelocType(t, elf.R_X86_64_64),
		Addend:  4,
		ApplyAt: fragment.Ref{Frag: frag, Offset: 0},
		Target:  fragment.Ref{Frag: target, Offset: 0x10},
		SymName: "foo",
	}
	frag.Section = &fragment.Section{Addr: 0x1000}

	d := AMD64{}.Apply(r, Env{}, frag.Region)
	require.Nil(t, d)
	require.Equal(t, uint64(0x2014), binary.LittleEndian.Uint64(frag.Region))
}

func TestAMD64ApplyPC32Overflow(t *testing.T) {
	frag := &fragment.Fragment{Region: make([]byte, 8)}
	frag.Section = &fragment.Section{Addr: 0}
	target := &fragment.Fragment{}
	target.Section = &fragment.Section{Addr: 1 << 40}

	r := &PendingReloc{
		Type:    mkRelocType(t, elf.R_X86_64_PC32),
		ApplyAt: fragment.Ref{Frag: frag, Offset: 0},
		Target:  fragment.Ref{Frag: target, Offset: 0},
		SymName: "toofar",
	}

	d := AMD64{}.Apply(r, Env{}, frag.Region)
	require.NotNil(t, d)
	require.Equal(t, diag.ID("relocation-overflow"), d.ID)
}

func TestScanAllUnionsGOTAndPLTNeeds(t *testing.T) {
	relocs := []*PendingReloc{
		{Type: mkRelocType(t, elf.R_X86_64_GOTPCREL), SymName: "a"},
		{Type: mkRelocType(t, elf.R_X86_64_PLT32), SymName: "a"},
		{Type: mkRelocType(t, elf.R_X86_64_PC32), SymName: "b"},
	}
	needs, errs := ScanAll(AMD64{}, relocs)
	require.Empty(t, errs)
	require.True(t, needs["a"].NeedsGOT)
	require.True(t, needs["a"].NeedsPLT)
	require.False(t, needs["b"].NeedsGOT)
}

func TestApplyAllPatchesEveryRelocAndSkipsNilRegions(t *testing.T) {
	frag := &fragment.Fragment{Region: make([]byte, 16)}
	frag.Section = &fragment.Section{Addr: 0x1000}
	target := &fragment.Fragment{}
	target.Section = &fragment.Section{Addr: 0x2000}

	noRegion := &fragment.Fragment{Region: nil}
	noRegion.Section = &fragment.Section{Addr: 0}

	good := &PendingReloc{
		Type:    mkRelocType(t, elf.R_X86_64_64),
		ApplyAt: fragment.Ref{Frag: frag, Offset: 0},
		Target:  fragment.Ref{Frag: target, Offset: 0},
		SymName: "foo",
	}
	skipped := &PendingReloc{
		Type:    mkRelocType(t, elf.R_X86_64_64),
		ApplyAt: fragment.Ref{Frag: noRegion, Offset: 0},
		Target:  fragment.Ref{Frag: target, Offset: 0},
		SymName: "bar",
	}

	d := diag.NewEngine()
	ApplyAll(AMD64{}, []*PendingReloc{good, skipped}, Env{}, d)

	require.Equal(t, uint64(0x2000), binary.LittleEndian.Uint64(frag.Region))
	require.Empty(t, d.Records())
}
