package relocator

import (
	"debug/elf"
	"fmt"

	"github.com/eld-project/eld/internal/diag"
)

// I386 implements Relocator for 32-bit x86 (internal/obj/elfReloc.go's
// elfRelocs386 table).
type I386 struct{}

func (I386) Name() string { return "386" }

func (I386) Scan(r *PendingReloc) (ScanResult, error) {
	code, ok := r.Type.I386()
	if !ok {
		return ScanResult{}, fmt.Errorf("relocator: 386 scan got non-386 relocation %s", r.Type)
	}
	switch code {
	case elf.R_386_GOT32, elf.R_386_GOT32X, elf.R_386_GOTOFF, elf.R_386_GOTPC:
		return ScanResult{NeedsGOT: true}, nil
	case elf.R_386_PLT32:
		return ScanResult{NeedsPLT: true}, nil
	default:
		return ScanResult{}, nil
	}
}

func (I386) Apply(r *PendingReloc, env Env, out []byte) *diag.Diagnostic {
	code, ok := r.Type.I386()
	if !ok {
		return &diag.Diagnostic{Severity: diag.Internal, ID: "relocator-wrong-arch", Subject: r.SymName}
	}

	off := int(r.ApplyAt.Offset)
	P := patchAddr(r)
	S := targetValue(r)
	A := r.Addend

	switch code {
	case elf.R_386_NONE:
		return nil
	case elf.R_386_32:
		return writeOrDiag(out, off, 4, uint64(int64(S)+A), r)
	case elf.R_386_PC32, elf.R_386_PLT32:
		v := int64(S) + A - int64(P)
		return writeOrDiag(out, off, 4, uint64(int32(v)), r)
	case elf.R_386_16:
		return writeOrDiag(out, off, 2, uint64(int64(S)+A), r)
	case elf.R_386_8:
		return writeOrDiag(out, off, 1, uint64(int64(S)+A), r)
	case elf.R_386_GOTOFF:
		gotAddr, ok := env.GOTAddr(r.SymName)
		if !ok {
			return &diag.Diagnostic{Severity: diag.Internal, ID: "missing-got-slot", Subject: r.SymName}
		}
		return writeOrDiag(out, off, 4, uint64(int64(S)+A-int64(gotAddr)), r)
	case elf.R_386_RELATIVE, elf.R_386_GLOB_DAT, elf.R_386_JMP_SLOT:
		return nil
	default:
		return &diag.Diagnostic{Severity: diag.Warning, ID: "unsupported-relocation-type", Subject: r.SymName, Args: []any{code.String()}}
	}
}
