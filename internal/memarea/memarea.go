// Package memarea implements the Memory Area leaf of spec.md section 2: a
// read-only byte buffer, mmapped when backed by a real file descriptor and
// copied to the heap otherwise, identified by a path or a synthetic name.
//
// The mmap-or-heap-copy strategy is lifted from the teacher's
// obj.elfFile.sectionBytesUncached (internal/obj/elf.go): try to mmap a real
// *os.File, and fall back to a heap-allocated copy for synthetic or
// non-file-backed inputs (archive members sliced out of a parent mmap,
// plugin-synthesized content, etc).
package memarea

import (
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
)

// Area is a read-only byte buffer identified by a path or synthetic name.
// Multiple Inputs (e.g. every member of an archive) may share one Area.
type Area struct {
	// Name is the path this area was opened from, or a synthetic name such
	// as "<linker internal>" or "<group N>".
	Name string

	once    sync.Once
	data    []byte
	mmapped []byte // non-nil if data is backed by an mmap we must munmap
	err     error

	open func() ([]byte, []byte, error)
}

// Open memory-maps path read-only. The mapping is performed lazily on first
// call to Bytes so that opening many archive members doesn't immediately
// fault in their pages.
func Open(path string) *Area {
	return &Area{
		Name: path,
		open: func() ([]byte, []byte, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, nil, err
			}
			defer f.Close()
			return mmapOrRead(f)
		},
	}
}

// NewSynthetic wraps an in-memory byte slice (plugin output, a
// script-synthesized sym-def file, etc) in an Area that owns no OS
// resources.
func NewSynthetic(name string, data []byte) *Area {
	return &Area{
		Name: name,
		open: func() ([]byte, []byte, error) { return data, nil, nil },
	}
}

// Slice returns a child Area covering [off, off+size) of a, without
// re-mmapping; used for archive members carved out of a parent archive's
// mapping.
func (a *Area) Slice(name string, off, size int64) *Area {
	return &Area{
		Name: name,
		open: func() ([]byte, []byte, error) {
			b, err := a.Bytes()
			if err != nil {
				return nil, nil, err
			}
			if off < 0 || size < 0 || off+size > int64(len(b)) {
				return nil, nil, fmt.Errorf("memarea: slice [%d,%d) out of range for %s (%d bytes)", off, off+size, a.Name, len(b))
			}
			return b[off : off+size], nil, nil
		},
	}
}

// Bytes returns the contents of the area, loading it on first use.
func (a *Area) Bytes() ([]byte, error) {
	a.once.Do(func() {
		a.data, a.mmapped, a.err = a.open()
	})
	return a.data, a.err
}

// Len returns the size of the area in bytes, loading it if necessary.
func (a *Area) Len() (int64, error) {
	b, err := a.Bytes()
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// Close releases any OS resources (an mmap) backing this area. It is safe
// to call Close on an Area that was never loaded or that has no mmap.
func (a *Area) Close() error {
	if a.mmapped == nil {
		return nil
	}
	m := a.mmapped
	a.mmapped = nil
	a.data = nil
	return syscall.Munmap(m)
}

func (a *Area) String() string { return a.Name }

func mmapOrRead(f *os.File) (data, mmapped []byte, err error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, nil, nil
	}
	b, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err == nil {
		return b, b, nil
	}
	// Mmap failed (e.g. not a regular seekable file); fall back to a heap
	// read, matching the teacher's approach in obj.elfFile.sectionBytesUncached.
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, nil, serr
	}
	b, rerr := io.ReadAll(f)
	if rerr != nil {
		return nil, nil, rerr
	}
	return b, nil, nil
}
