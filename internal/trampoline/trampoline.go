// Package trampoline implements the branch-island factory named in spec.md
// section 4.6: when a PC-relative call/jump relocation's target falls
// outside the architecture's addressable range, a small stub ("island") is
// spliced into the section near the call site and the relocation is
// retargeted at the stub instead.
package trampoline

import (
	"encoding/binary"
	"fmt"

	"github.com/eld-project/eld/internal/arch"
	"github.com/eld-project/eld/internal/asm"
	"github.com/eld-project/eld/internal/fragment"
)

// Factory synthesizes the machine code for one architecture's branch
// island and reports the range a direct (non-islanded) branch can reach.
type Factory interface {
	Name() string
	StubSize() int
	StubAlign() uint64
	// Emit returns the stub's machine code: an unconditional jump from
	// stubAddr to target.
	Emit(target, stubAddr uint64) []byte
	// InRange reports whether a direct PC-relative branch from addr to
	// target is within the architecture's encodable range.
	InRange(addr, target uint64) bool
}

// ForArch returns the Factory for a GOARCH-style name, or nil.
func ForArch(name string) Factory {
	switch name {
	case "amd64", "x86-64", "x86_64":
		return AMD64Factory{}
	case "arm64", "aarch64":
		return ARM64Factory{}
	default:
		return nil
	}
}

// AMD64Factory builds an indirect-jump stub: x86-64 CALL/JMP rel32 reaches
// +/-2GiB, wide enough that only a cross-segment (e.g. >4GiB image) link
// ever needs this, but the encoding (movabs + jmp) covers the full 64-bit
// address space unconditionally.
type AMD64Factory struct{}

func (AMD64Factory) Name() string     { return "amd64" }
func (AMD64Factory) StubSize() int    { return 12 }
func (AMD64Factory) StubAlign() uint64 { return 16 }

func (AMD64Factory) Emit(target, _ uint64) []byte {
	buf := make([]byte, 12)
	buf[0], buf[1] = 0x48, 0xB8 // movabs rax, imm64
	binary.LittleEndian.PutUint64(buf[2:10], target)
	buf[10], buf[11] = 0xFF, 0xE0 // jmp rax
	return buf
}

func (AMD64Factory) InRange(addr, target uint64) bool {
	diff := int64(target) - int64(addr)
	return diff >= -(1<<31) && diff < (1<<31)
}

// ARM64Factory builds a branch island reachable from anywhere via an
// indirect branch through a scratch register, since a direct ARM64 B/BL
// only encodes a +/-128MiB signed-26-bit-word displacement.
type ARM64Factory struct{}

func (ARM64Factory) Name() string     { return "arm64" }
func (ARM64Factory) StubSize() int    { return 16 }
func (ARM64Factory) StubAlign() uint64 { return 4 }

func (ARM64Factory) Emit(target, _ uint64) []byte {
	buf := make([]byte, 16)
	// LDR X16, #8  (load the literal at buf[8:16] into x16)
	binary.LittleEndian.PutUint32(buf[0:4], 0x58000050)
	// BR X16
	binary.LittleEndian.PutUint32(buf[4:8], 0xD61F0200)
	binary.LittleEndian.PutUint64(buf[8:16], target)
	return buf
}

func (ARM64Factory) InRange(addr, target uint64) bool {
	diff := int64(target) - int64(addr)
	const lo, hi = -(1 << 27), (1 << 27) - 1
	return diff >= lo && diff <= hi
}

// Island is one synthesized branch-island fragment, ready to be spliced
// into a section's fragment list.
type Island struct {
	Frag   *fragment.Fragment
	Target uint64
}

// Build synthesizes an Island targeting target, owned by no section yet
// (the caller splices it in with fragment.Section.InsertFragmentAfter).
func Build(f Factory, target uint64) *Island {
	return &Island{
		Frag: &fragment.Fragment{
			Kind:   fragment.FragStub,
			Align:  f.StubAlign(),
			Size:   uint64(f.StubSize()),
			Region: f.Emit(target, 0),
		},
		Target: target,
	}
}

// InsertAfterCallSite splices island into sec immediately after the
// fragment containing the over-range call site (frag), validating with
// the architecture's instruction decoder that frag's bytes actually end on
// an instruction boundary at insertion point — splicing mid-instruction
// would corrupt the surrounding code (spec.md section 4.6 edge cases).
func InsertAfterCallSite(sec *fragment.Section, frag *fragment.Fragment, island *Island, a *arch.Arch) error {
	idx := sec.IndexOf(frag)
	if idx < 0 {
		return fmt.Errorf("trampoline: call-site fragment not found in section %s", sec.Name)
	}
	if a != nil && len(frag.Region) > 0 {
		seq, err := asm.Disasm(a, frag.Region, 0)
		if err != nil {
			return fmt.Errorf("trampoline: decode call-site fragment: %w", err)
		}
		for i := 0; i < seq.Len(); i++ {
			if seq.Get(i).GoSyntax(nil) == "?" {
				return fmt.Errorf("trampoline: call-site fragment in section %s contains an undecodable instruction; refusing to splice a stub into it", sec.Name)
			}
		}
	}
	sec.InsertFragmentAfter(idx, island.Frag)
	return nil
}
