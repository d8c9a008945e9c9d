package sectionmap

import (
	"testing"

	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/linkerconfig"
	"github.com/eld-project/eld/internal/linkerscript"
	"github.com/stretchr/testify/require"
)

func TestPlaceMatchesScriptRuleInOrder(t *testing.T) {
	script, err := linkerscript.Parse(`
SECTIONS
{
  .text : { *(.text .text.*) }
  /DISCARD/ : { *(.comment) }
}
`)
	require.NoError(t, err)

	m := NewMap(script, diag.NewEngine(), linkerconfig.OrphanPlace)
	file := &input.File{Owner: &input.Input{Path: "a.o"}}

	textSec := &fragment.Section{Name: ".text.hot"}
	out, ok := m.Place(file, textSec)
	require.True(t, ok)
	require.Equal(t, ".text", out.Name)

	commentSec := &fragment.Section{Name: ".comment"}
	out, ok = m.Place(file, commentSec)
	require.False(t, ok)
	require.Equal(t, Discarded, out)
}

func TestPlaceOrphanFoldsToCanonicalName(t *testing.T) {
	m := NewMap(nil, diag.NewEngine(), linkerconfig.OrphanPlace)
	file := &input.File{Owner: &input.Input{Path: "a.o"}}

	sec := &fragment.Section{Name: ".text.unlikely"}
	out, ok := m.Place(file, sec)
	require.True(t, ok)
	require.Equal(t, ".text", out.Name)
}

func TestKeepSetsRetainOnInputSection(t *testing.T) {
	script, err := linkerscript.Parse(`
SECTIONS
{
  .init : { KEEP(*(.init)) }
}
`)
	require.NoError(t, err)
	m := NewMap(script, diag.NewEngine(), linkerconfig.OrphanPlace)
	file := &input.File{Owner: &input.Input{Path: "a.o"}}

	sec := &fragment.Section{Name: ".init"}
	_, ok := m.Place(file, sec)
	require.True(t, ok)
	require.True(t, sec.Retain)
}

func TestLayoutAssignsSequentialAddresses(t *testing.T) {
	l := NewLayout(nil, nil, 0x400000, 0x78)

	text := &fragment.Section{Name: ".text", Align: 0x10}
	text.AddFragment(&fragment.Fragment{Size: 0x20, Align: 1})
	l.AssignSection(text, "", 0)
	require.Equal(t, uint64(0x400000), text.Addr)
	require.Equal(t, uint64(0x20), text.Size)

	data := &fragment.Section{Name: ".data", Align: 0x10}
	data.AddFragment(&fragment.Fragment{Size: 0x8, Align: 1})
	l.AssignSection(data, "", 0)
	require.Equal(t, uint64(0x400020), data.Addr)
}

func TestDotAssignAdvancesLocationCounter(t *testing.T) {
	l := NewLayout(nil, nil, 0x1000, 0)
	s, err := linkerscript.Parse(`SECTIONS { . = . + 0x100; }`)
	require.NoError(t, err)
	assign := s.Sections.Items[0].(*linkerscript.Assign)
	require.NoError(t, l.ApplyDotAssign(assign))
	require.Equal(t, uint64(0x1100), l.Dot())
}
