package sectionmap

import (
	"github.com/eld-project/eld/internal/fragment"
	"github.com/eld-project/eld/internal/imap"
)

// AddressMap answers "what output section, if any, covers this address"
// after layout, the lookup the checkCrossRefs phase (spec.md section 4.7
// phase 9.5/10) and relocation-overflow diagnostics need to name a target
// fragment's owning section by address rather than by linear scan.
//
// Grounded on the teacher's internal/imap package (aclements-go-obj's
// interval map, originally used by dbg/ to answer "what symbol covers this
// PC"; out-of-scope debug-info rendering never made it into this module, so
// this is the interval map's first real job here): built once per layout
// over every output section's final [Addr, Addr+Size) range.
type AddressMap struct {
	m imap.Imap
}

// NewAddressMap builds an AddressMap over every section in sections that
// has been assigned a non-zero-length range by layout.
func NewAddressMap(sections []*fragment.Section) *AddressMap {
	am := &AddressMap{}
	for _, s := range sections {
		if s.Size == 0 {
			continue
		}
		am.m.Insert(imap.Interval{Low: s.Addr, High: s.Addr + s.Size}, s)
	}
	return am
}

// Find returns the output section containing addr, or nil.
func (am *AddressMap) Find(addr uint64) *fragment.Section {
	_, v := am.m.Find(addr)
	if v == nil {
		return nil
	}
	return v.(*fragment.Section)
}
