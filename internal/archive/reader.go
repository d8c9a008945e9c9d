package archive

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/memarea"
)

const (
	globalMagic  = "!<arch>\n"
	thinMagic    = "!<thin>\n"
	headerSize   = 60
	symtabName   = "/"
	symtabName64 = "/SYM64/"
	extNamesName = "//"
)

// ReadIndex parses the System V `!<arch>\n` container (with GNU
// extended-name and thin-archive variants) out of area, populating an
// input.ArchiveIndex. BSD `#1/<len>` long names and the BSD `__.SYMDEF`
// symbol index are not recognized: such members keep their raw header name
// and contribute no armap symbols. It does not open any members; member
// bytes/files are resolved lazily by the Opener passed to Parser.Pull.
//
// mapIndirect resolves a thin-archive member name to its external path
// (spec.md section 4.2 edge cases: "the parser must honor an optional
// mapping-file indirection"); it may be nil for a non-thin archive.
func ReadIndex(area *memarea.Area, mapIndirect func(name string) string) (*input.ArchiveIndex, error) {
	data, err := area.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) < len(globalMagic) {
		return nil, fmt.Errorf("archive: %s too small", area)
	}

	thin := false
	switch {
	case bytes.HasPrefix(data, []byte(globalMagic)):
	case bytes.HasPrefix(data, []byte(thinMagic)):
		thin = true
	default:
		return nil, fmt.Errorf("archive: %s: unknown archive format", area)
	}

	idx := &input.ArchiveIndex{Symbols: make(map[string][]int), Thin: thin}
	pos := int64(len(globalMagic))

	var extNames string
	var memberByOffset = make(map[int64]int)
	var rawArmap map[string][]int64 // symbol name -> member header offsets, resolved in a second pass below

	for pos+headerSize <= int64(len(data)) {
		hdr, size, err := parseHeader(data[pos : pos+headerSize])
		if err != nil {
			return nil, fmt.Errorf("archive: %s at offset %d: %w", area, pos, err)
		}
		bodyOff := pos + headerSize
		pos = bodyOff + size + size%2 // members are 2-byte aligned

		name := hdr
		switch {
		case name == symtabName || name == symtabName64:
			syms, _, err := parseSymtab(data[bodyOff:bodyOff+size], name == symtabName64)
			if err != nil {
				return nil, err
			}
			// Symbol->offset pairs are resolved into idx.Symbols once every
			// member header has been walked and memberByOffset is complete.
			rawArmap = syms
			continue
		case name == extNamesName:
			extNames = string(data[bodyOff : bodyOff+size])
			continue
		}

		if strings.HasPrefix(name, "/") && len(name) > 1 {
			// GNU extended name: "/<decimal offset into // section>".
			if off, err := strconv.ParseInt(strings.TrimSuffix(name[1:], " "), 10, 64); err == nil {
				name = extNameAt(extNames, off)
			}
		}
		name = strings.TrimSuffix(strings.TrimRight(name, " "), "/")

		m := &input.Member{Name: name, Offset: bodyOff, Size: size}
		if thin {
			// A thin archive stores only the member header; the member's
			// bytes live in the external file, so the next header follows
			// immediately.
			pos = bodyOff
			if mapIndirect != nil {
				m.ExternalPath = mapIndirect(name)
			}
			if m.ExternalPath == "" {
				m.ExternalPath = filepath.Join(filepath.Dir(area.Name), name)
			}
		} else {
			sum := sha1.Sum(data[bodyOff : bodyOff+size])
			m.ContentHash = sum
		}
		// Armap entries name the offset of the member's header.
		memberByOffset[bodyOff-headerSize] = len(idx.Members)
		idx.Members = append(idx.Members, m)
	}

	for name, offsets := range rawArmap {
		for _, off := range offsets {
			if mi, ok := memberByOffset[off]; ok {
				idx.Symbols[name] = append(idx.Symbols[name], mi)
			}
		}
	}

	return idx, nil
}

func extNameAt(table string, off int64) string {
	if off < 0 || off >= int64(len(table)) {
		return ""
	}
	end := strings.IndexAny(table[off:], "/\n")
	if end < 0 {
		return strings.TrimRight(table[off:], " ")
	}
	return table[off : off+int64(end)]
}

func parseHeader(b []byte) (name string, size int64, err error) {
	if len(b) != headerSize {
		return "", 0, fmt.Errorf("short header")
	}
	if string(b[58:60]) != "`\n" {
		return "", 0, fmt.Errorf("bad header terminator")
	}
	name = strings.TrimRight(string(b[0:16]), " ")
	sizeStr := strings.TrimSpace(string(b[48:58]))
	size, err = strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad size field %q: %w", sizeStr, err)
	}
	return name, size, nil
}

// parseSymtab decodes a GNU ("/") or 64-bit ("/SYM64/") symbol-index
// member: a count, that many big-endian member offsets, then that many
// NUL-terminated names in the same order.
func parseSymtab(b []byte, is64 bool) (map[string][]int64, []int64, error) {
	entSize := 4
	if is64 {
		entSize = 8
	}
	if len(b) < entSize {
		return nil, nil, fmt.Errorf("archive: truncated symbol table")
	}
	var n int64
	if is64 {
		n = int64(binary.BigEndian.Uint64(b[:8]))
	} else {
		n = int64(binary.BigEndian.Uint32(b[:4]))
	}
	offsets := make([]int64, n)
	p := entSize
	for i := int64(0); i < n; i++ {
		if is64 {
			offsets[i] = int64(binary.BigEndian.Uint64(b[p : p+8]))
		} else {
			offsets[i] = int64(binary.BigEndian.Uint32(b[p : p+4]))
		}
		p += entSize
	}
	names := bytes.Split(b[p:], []byte{0})
	out := make(map[string][]int64, n)
	for i := int64(0); i < n && int(i) < len(names); i++ {
		name := string(names[i])
		out[name] = append(out[name], offsets[i])
	}
	return out, offsets, nil
}
