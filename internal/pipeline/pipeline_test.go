package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/eld-project/eld/internal/arch"
	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerconfig"
	"github.com/eld-project/eld/internal/linkerscript"
	"github.com/eld-project/eld/internal/memarea"
	"github.com/eld-project/eld/internal/module"
	"github.com/eld-project/eld/internal/relocator"
	"github.com/eld-project/eld/internal/symbol"
	"github.com/eld-project/eld/internal/trampoline"
	"github.com/stretchr/testify/require"
)

// nopWriter satisfies the pipeline.Writer contract without staging real
// bytes anywhere, standing in for the ELF container layer spec.md section 1
// keeps out of this package's scope.
type nopWriter struct{}

func (nopWriter) Write(*module.Module) error { return nil }

// loadInput reads a fixture file from testdata and wraps it in a
// memarea.Area via NewSynthetic, so the bytes are genuinely parsed by
// obj.Open/debug-elf (spec.md section 4.7 phase 2) without any disk mmap
// lifetime to manage in the test.
func loadInput(t *testing.T, name, path string) *input.Input {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return &input.Input{Path: name, Area: memarea.NewSynthetic(name, data)}
}

func newTestModule(cfg *linkerconfig.Config, script *linkerscript.Script) *module.Module {
	return module.New(cfg, script, diag.NewEngine(), symbol.NewNamePool(false), nil)
}

// TestPipelineRunMinimalExecutable exercises spec.md section 8 scenario 1:
// one relocatable object defining main (which calls foo and references a
// merge-string section) and an archive whose only member defines foo
// (which itself calls the still-undefined puts). The archive member must
// be pulled, the merge-string section merged, and the link must succeed
// end to end despite puts staying undefined (linkerconfig.Default's
// NoUndefined is false, so an unresolved non-weak symbol is a warning, not
// a failure).
func TestPipelineRunMinimalExecutable(t *testing.T) {
	mainIn := loadInput(t, "main.o", "testdata/main.o")
	archIn := loadInput(t, "libfoo.a", "testdata/libfoo.a")

	cfg := linkerconfig.Default()
	cfg.Entry = "main"

	mod := newTestModule(cfg, nil)
	mod.AddInput(mainIn)
	mod.AddInput(archIn)

	p := New(mod, arch.AMD64, relocator.AMD64{}, trampoline.AMD64Factory{}, nopWriter{})
	err := p.Run(context.Background())
	require.NoError(t, err)
	require.False(t, mod.Failed())

	mainInfo := mod.Names.FindInfo("main")
	require.NotNil(t, mainInfo)
	require.Equal(t, symbol.DescDefined, mainInfo.Desc)

	fooInfo := mod.Names.FindInfo("foo")
	require.NotNil(t, fooInfo, "archive member defining foo should have been pulled")
	require.Equal(t, symbol.DescDefined, fooInfo.Desc)

	// puts is never defined anywhere in this link; it stays undefined but
	// must not have failed the module (spec.md section 8 scenario 1).
	putsInfo := mod.Names.FindInfo("puts")
	require.NotNil(t, putsInfo)
	require.Equal(t, symbol.DescUndefined, putsInfo.Desc)

	var text *fragment.Section
	for _, sec := range mod.SectionMap.Outputs() {
		if sec.Name == ".text" {
			text = sec
		}
	}
	require.NotNil(t, text, "main's and foo's .text sections should have merged into one output .text")
	require.Positive(t, text.Size)
	require.True(t, text.Flags.Has(fragment.FlagAlloc))
	require.True(t, text.Flags.Has(fragment.FlagExecInstr))

	for _, seg := range mod.Segments {
		require.NotEqual(t, "PT_DYNAMIC", seg.Type, "a static link produces no dynamic segment")
	}
	require.NotEmpty(t, mod.Segments, "phaseCreateSegments must have produced at least one PT_LOAD")

	require.Equal(t, module.StateCreatingSegments, mod.State())
}

// TestPipelineRunLinkerScriptMemoryOverflow exercises spec.md section 8
// scenario 6: a MEMORY region too small for its assigned output section is
// a fatal diagnostic naming the region and the byte overage, and the
// pipeline stops before emitOutput (nothing is written on failure, spec.md
// section 7).
func TestPipelineRunLinkerScriptMemoryOverflow(t *testing.T) {
	bigIn := loadInput(t, "big.o", "testdata/big.o")

	script, err := linkerscript.Parse(`
MEMORY
{
  RAM (rwx) : ORIGIN = 0x80000000, LENGTH = 0x1000
}
SECTIONS
{
  .text : { *(.text*) } > RAM
  .data : { *(.data*) } > RAM
}
`)
	require.NoError(t, err)

	cfg := linkerconfig.Default()
	mod := newTestModule(cfg, script)
	mod.AddInput(bigIn)

	p := New(mod, arch.AMD64, relocator.AMD64{}, trampoline.AMD64Factory{}, nopWriter{})
	runErr := p.Run(context.Background())
	require.Error(t, runErr)
	require.True(t, mod.Failed())

	var overflow *diag.Diagnostic
	for _, rec := range mod.Diag.Records() {
		if rec.ID == "region-overflow" {
			overflow = rec
		}
	}
	require.NotNil(t, overflow, "expected a region-overflow diagnostic")
	require.Equal(t, diag.Fatal, overflow.Severity)
	require.Equal(t, "RAM", overflow.Subject)
	require.Len(t, overflow.Args, 1)
	require.Positive(t, overflow.Args[0].(uint64), "overage byte count should be positive")

	// .data is still laid out in the same layout pass, but the overflow is
	// already detected on .text, the first region consumer, and the
	// module-failure flag set by its fatal diagnostic stops the phase loop at
	// the next barrier.
	require.Empty(t, mod.Segments, "createSegments must not run past a failed layout")
}
