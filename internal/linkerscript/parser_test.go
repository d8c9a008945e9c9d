package linkerscript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicDirectives(t *testing.T) {
	src := `
ENTRY(_start)
OUTPUT_FORMAT(elf64-x86-64)
OUTPUT_ARCH(i386:x86-64)
SEARCH_DIR("/usr/lib")
EXTERN(main)
`
	s, err := Parse(src)
	require.NoError(t, err)
	require.Equal(t, "_start", s.Entry)
	require.Equal(t, []string{"elf64-x86-64"}, s.OutputFormat)
	require.Equal(t, "i386:x86-64", s.OutputArch)
	require.Equal(t, []string{"/usr/lib"}, s.SearchDirs)
	require.Equal(t, []string{"main"}, s.Externs)
}

func TestParseMemoryAndPhdrs(t *testing.T) {
	src := `
MEMORY
{
  rom (rx)  : ORIGIN = 0x10000, LENGTH = 0x8000
  ram (rwx) : ORIGIN = 0x20000, LENGTH = 64K
}
PHDRS
{
  text PT_LOAD FLAGS(5);
  data PT_LOAD FLAGS(6);
}
`
	s, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, s.Memory, 2)
	require.Equal(t, "rom", s.Memory[0].Name)
	require.Len(t, s.Phdrs, 2)
	require.Equal(t, "PT_LOAD", s.Phdrs[0].Type)
}

func TestParseSectionsWithInputSpecsAndAssigns(t *testing.T) {
	src := `
SECTIONS
{
  . = 0x400000;
  .text : {
    *(.text .text.*)
    KEEP(*(.init))
  }
  .data : AT(0x500000) ALIGN(8) {
    PROVIDE(data_start = .);
    *(.data)
  } > ram
  /DISCARD/ : { *(.comment) }
}
`
	s, err := Parse(src)
	require.NoError(t, err)
	require.NotNil(t, s.Sections)
	require.Len(t, s.Sections.Items, 4)

	dotAssign, ok := s.Sections.Items[0].(*Assign)
	require.True(t, ok)
	require.Equal(t, ".", dotAssign.Name)

	text, ok := s.Sections.Items[1].(*OutputSectionDesc)
	require.True(t, ok)
	require.Equal(t, ".text", text.Name)
	require.Len(t, text.Items, 2)
	spec0, ok := text.Items[0].(*InputSectionSpec)
	require.True(t, ok)
	require.Equal(t, "*", spec0.FilePattern)
	require.Equal(t, []string{".text", ".text.*"}, spec0.SectionPatterns)
	spec1, ok := text.Items[1].(*InputSectionSpec)
	require.True(t, ok)
	require.True(t, spec1.Keep)

	data, ok := s.Sections.Items[2].(*OutputSectionDesc)
	require.True(t, ok)
	require.Equal(t, "ram", data.VMARegion)
	require.NotNil(t, data.AtLMA)

	discard, ok := s.Sections.Items[3].(*OutputSectionDesc)
	require.True(t, ok)
	require.True(t, discard.Discard)
}

func TestEvalArithmeticPrecedence(t *testing.T) {
	env := &fakeEnv{
		dot:     0x1000,
		symbols: map[string]uint64{"base": 0x2000},
		sections: map[string]uint64{".text": 0x100},
		regions:  map[string][2]uint64{"ram": {0x8000, 0x1000}},
	}

	e, err := Parse(`x = base + 1 << 2;`)
	require.NoError(t, err)
	require.Len(t, e.TopLevelAssigns, 1)
	v, err := Eval(e.TopLevelAssigns[0].Expr, env)
	require.NoError(t, err)
	require.Equal(t, uint64((0x2000+1)<<2), v)
}

func TestMatchPatternWildcards(t *testing.T) {
	require.True(t, MatchPattern("*", ".text"))
	require.True(t, MatchPattern(".text.*", ".text.hot"))
	require.False(t, MatchPattern(".text.*", ".data"))
	require.True(t, MatchPattern("[ab]*.o", "a.o"))
	require.False(t, MatchPattern("[!ab]*.o", "a.o"))
}

type fakeEnv struct {
	dot      uint64
	symbols  map[string]uint64
	sections map[string]uint64
	regions  map[string][2]uint64
}

func (f *fakeEnv) Dot() uint64 { return f.dot }
func (f *fakeEnv) Symbol(name string) (uint64, bool) {
	v, ok := f.symbols[name]
	return v, ok
}
func (f *fakeEnv) SectionAddr(name string) (uint64, bool)     { v, ok := f.sections[name]; return v, ok }
func (f *fakeEnv) SectionLoadAddr(name string) (uint64, bool) { v, ok := f.sections[name]; return v, ok }
func (f *fakeEnv) SectionSize(name string) (uint64, bool)     { v, ok := f.sections[name]; return v, ok }
func (f *fakeEnv) RegionOrigin(name string) (uint64, bool) {
	r, ok := f.regions[name]
	return r[0], ok
}
func (f *fakeEnv) RegionLength(name string) (uint64, bool) {
	r, ok := f.regions[name]
	return r[1], ok
}
func (f *fakeEnv) SizeofHeaders() uint64 { return 0x40 }
func (f *fakeEnv) Constant(name string) (uint64, bool) {
	if name == "MAXPAGESIZE" {
		return 0x1000, true
	}
	return 0, false
}
