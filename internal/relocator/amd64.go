package relocator

import (
	"debug/elf"
	"fmt"

	"github.com/eld-project/eld/internal/diag"
)

// AMD64 implements Relocator for the x86-64 ELF relocation types the
// teacher's internal/obj already knows how to decode (internal/obj/elfReloc.go's
// elfRelocsX86_64 table).
type AMD64 struct{}

func (AMD64) Name() string { return "amd64" }

func (AMD64) Scan(r *PendingReloc) (ScanResult, error) {
	code, ok := r.Type.X86_64()
	if !ok {
		return ScanResult{}, fmt.Errorf("relocator: amd64 scan got non-x86-64 relocation %s", r.Type)
	}
	switch code {
	case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX,
		elf.R_X86_64_GOT32, elf.R_X86_64_GOT64, elf.R_X86_64_GOTOFF64, elf.R_X86_64_GOTPC32:
		return ScanResult{NeedsGOT: true}, nil
	case elf.R_X86_64_PLT32:
		return ScanResult{NeedsPLT: true}, nil
	case elf.R_X86_64_TLSGD, elf.R_X86_64_TLSLD, elf.R_X86_64_GOTTPOFF:
		return ScanResult{NeedsGOT: true}, nil
	case elf.R_X86_64_NONE, elf.R_X86_64_64, elf.R_X86_64_32, elf.R_X86_64_32S,
		elf.R_X86_64_16, elf.R_X86_64_8, elf.R_X86_64_PC64, elf.R_X86_64_PC32,
		elf.R_X86_64_PC16, elf.R_X86_64_PC8:
		return ScanResult{}, nil
	default:
		return ScanResult{}, nil
	}
}

func (AMD64) Apply(r *PendingReloc, env Env, out []byte) *diag.Diagnostic {
	code, ok := r.Type.X86_64()
	if !ok {
		return &diag.Diagnostic{Severity: diag.Internal, ID: "relocator-wrong-arch", Subject: r.SymName}
	}

	off := int(r.ApplyAt.Offset)
	P := patchAddr(r)
	S := targetValue(r)
	A := r.Addend

	switch code {
	case elf.R_X86_64_NONE:
		return nil

	case elf.R_X86_64_64:
		return writeOrDiag(out, off, 8, uint64(int64(S)+A), r)

	case elf.R_X86_64_32:
		v := int64(S) + A
		if !checkUnsigned32(uint64(v)) {
			return overflowDiag(r, 32)
		}
		return writeOrDiag(out, off, 4, uint64(v), r)

	case elf.R_X86_64_32S:
		v := int64(S) + A
		if !checkSigned32(v) {
			return overflowDiag(r, 32)
		}
		return writeOrDiag(out, off, 4, uint64(uint32(v)), r)

	case elf.R_X86_64_16:
		return writeOrDiag(out, off, 2, uint64(int64(S)+A), r)

	case elf.R_X86_64_8:
		return writeOrDiag(out, off, 1, uint64(int64(S)+A), r)

	case elf.R_X86_64_PC64:
		v := int64(S) + A - int64(P)
		return writeOrDiag(out, off, 8, uint64(v), r)

	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32, elf.R_X86_64_GOTPC32:
		v := int64(S) + A - int64(P)
		if !checkSigned32(v) {
			return overflowDiag(r, 32)
		}
		return writeOrDiag(out, off, 4, uint64(uint32(v)), r)

	case elf.R_X86_64_PC16:
		v := int64(S) + A - int64(P)
		return writeOrDiag(out, off, 2, uint64(v), r)

	case elf.R_X86_64_PC8:
		v := int64(S) + A - int64(P)
		return writeOrDiag(out, off, 1, uint64(v), r)

	case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
		gotAddr, ok := env.GOTAddr(r.SymName)
		if !ok {
			return &diag.Diagnostic{Severity: diag.Internal, ID: "missing-got-slot", Subject: r.SymName}
		}
		v := int64(gotAddr) + A - int64(P)
		if !checkSigned32(v) {
			return overflowDiag(r, 32)
		}
		return writeOrDiag(out, off, 4, uint64(uint32(v)), r)

	case elf.R_X86_64_RELATIVE, elf.R_X86_64_GLOB_DAT, elf.R_X86_64_JMP_SLOT:
		// Dynamic-linker-resolved relocations: this engine (a static-first
		// link engine, spec.md section 1) records these for the dynamic
		// relocation section rather than patching bytes here.
		return nil

	default:
		return &diag.Diagnostic{Severity: diag.Warning, ID: "unsupported-relocation-type", Subject: r.SymName, Args: []any{code.String()}}
	}
}

func writeOrDiag(out []byte, off, width int, v uint64, r *PendingReloc) *diag.Diagnostic {
	if err := putLE(out, off, width, v); err != nil {
		return &diag.Diagnostic{Severity: diag.Internal, ID: "relocation-write-failed", Subject: r.SymName, Args: []any{err.Error()}}
	}
	return nil
}
