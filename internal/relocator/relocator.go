// Package relocator implements the Relocator leaf of spec.md section 2
// item 11 and section 4.5/4.7 phases 2-3: a per-architecture scan pass that
// decides which GOT/PLT/copy-reloc slots a relocation needs, and an apply
// pass that writes the final computed value into the output image.
package relocator

import (
	"encoding/binary"
	"fmt"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/obj"
)

// PendingReloc is one relocation queued for scan/apply, carrying both the
// raw obj.Reloc fields and the symbol-resolution outcome the scan phase
// needs (spec.md section 4.5: "scan matches every relocation against its
// resolved symbol").
type PendingReloc struct {
	Type    obj.RelocType
	Addend  int64
	ApplyAt fragment.Ref // (fragment, offset) the relocation patches
	Target  fragment.Ref // resolved symbol's final location, or Null for an absolute/undefined symbol
	Value   uint64       // symbol value to use instead of Target.Addr() when Target is Null (absolute symbols)
	SymName string       // for diagnostics
}

// ScanResult records what auxiliary storage a relocation turned out to
// need, decided once per distinct (symbol, relocation-kind) pair by the
// caller (spec.md section 4.5 edge cases: "the same GOT slot is shared by
// every GOT-needing relocation against the same symbol").
type ScanResult struct {
	NeedsGOT  bool
	NeedsPLT  bool
	NeedsCopy bool
}

// Env supplies the addresses of GOT/PLT slots already assigned to a
// relocation's target symbol during the scan phase, available to Apply.
type Env struct {
	GOTAddr func(symName string) (uint64, bool)
	PLTAddr func(symName string) (uint64, bool)
}

// Relocator is implemented once per target architecture (spec.md section
// 4.5: "dispatch is purely a function of the target architecture", the
// same module-per-arch split as the teacher's internal/arch descriptors).
type Relocator interface {
	// Name identifies the architecture, e.g. "amd64".
	Name() string

	// Scan classifies one relocation against its resolved target, without
	// writing any output bytes.
	Scan(r *PendingReloc) (ScanResult, error)

	// Apply computes the relocation's final value and patches it into out,
	// the byte slice of the fragment r.ApplyAt targets. It returns a
	// non-nil *diag.Diagnostic (not an error) for range-overflow: overflow
	// is a recoverable, accumulable condition per spec.md section 4.5, not
	// a fatal Go error.
	Apply(r *PendingReloc, env Env, out []byte) *diag.Diagnostic
}

// targetValue resolves r's symbol value: Target.Addr() if Target is a real
// reference, else the absolute Value field (for undefined-weak/absolute
// symbols, spec.md section 4.1).
func targetValue(r *PendingReloc) uint64 {
	if r.Target.IsNull() || r.Target.IsDiscard() {
		return r.Value
	}
	return r.Target.Addr()
}

func patchAddr(r *PendingReloc) uint64 {
	return r.ApplyAt.Addr()
}

func putLE(out []byte, off int, width int, v uint64) error {
	if off < 0 || off+width > len(out) {
		return fmt.Errorf("relocator: relocation at offset %d/%d exceeds fragment bounds", off, len(out))
	}
	switch width {
	case 1:
		out[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(out[off:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(out[off:], uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(out[off:], v)
	default:
		return fmt.Errorf("relocator: unsupported relocation width %d", width)
	}
	return nil
}

// checkSigned32 reports whether v (as a signed 64-bit quantity) fits in a
// signed 32-bit field, the overflow check every PC-relative/truncating
// x86-64 relocation needs (spec.md section 4.5: "an out-of-range
// relocation is a diagnosable overflow, not silently truncated").
func checkSigned32(v int64) bool {
	return v >= -(1<<31) && v < (1<<31)
}

func checkUnsigned32(v uint64) bool {
	return v <= 0xffffffff
}

func overflowDiag(r *PendingReloc, width int) *diag.Diagnostic {
	return &diag.Diagnostic{
		Severity: diag.Error,
		ID:       "relocation-overflow",
		Subject:  r.SymName,
		Args:     []any{r.Type.String(), width},
	}
}
