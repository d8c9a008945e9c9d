package trampoline

import (
	"encoding/binary"
	"testing"

	"github.com/eld-project/eld/internal/arch"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/stretchr/testify/require"
)

func TestAMD64FactoryInRange(t *testing.T) {
	f := AMD64Factory{}
	require.True(t, f.InRange(0x1000, 0x1000+(1<<20)))
	require.False(t, f.InRange(0, 1<<32))
}

func TestAMD64FactoryEmitEncodesTarget(t *testing.T) {
	f := AMD64Factory{}
	code := f.Emit(0xdeadbeefcafe, 0)
	require.Len(t, code, f.StubSize())
	require.Equal(t, byte(0x48), code[0])
	require.Equal(t, uint64(0xdeadbeefcafe), binary.LittleEndian.Uint64(code[2:10]))
}

func TestARM64FactoryInRange(t *testing.T) {
	f := ARM64Factory{}
	require.True(t, f.InRange(0, 1<<20))
	require.False(t, f.InRange(0, 1<<28))
}

func TestInsertAfterCallSiteSplicesStub(t *testing.T) {
	sec := &fragment.Section{Name: ".text"}
	callSite := &fragment.Fragment{Region: []byte{0xc3}} // RET, a whole instruction
	sec.AddFragment(callSite)
	tail := &fragment.Fragment{Region: []byte{0x90}} // NOP
	sec.AddFragment(tail)

	island := Build(AMD64Factory{}, 0x404000)
	require.NoError(t, InsertAfterCallSite(sec, callSite, island, arch.AMD64))

	require.Len(t, sec.Fragments(), 3)
	require.Equal(t, island.Frag, sec.Fragments()[1])
}

func TestInsertAfterCallSiteRejectsMisalignedCallSite(t *testing.T) {
	sec := &fragment.Section{Name: ".text"}
	callSite := &fragment.Fragment{Region: []byte{0xe8, 0x00}} // truncated CALL rel32
	sec.AddFragment(callSite)

	island := Build(AMD64Factory{}, 0x404000)
	err := InsertAfterCallSite(sec, callSite, island, arch.AMD64)
	require.Error(t, err)
}
