package archive

import (
	"bytes"
	"testing"

	"github.com/eld-project/eld/internal/memarea"
	"github.com/stretchr/testify/require"
)

// buildArchive assembles a minimal System V archive with the given named
// members (raw byte contents). It doesn't emit a GNU symbol-table member,
// so the resulting index has no armap symbols.
func buildArchive(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(globalMagic)
	for name, data := range members {
		writeMember(&buf, name, data)
	}
	return buf.Bytes()
}

func writeMember(buf *bytes.Buffer, name string, data []byte) {
	hdr := make([]byte, headerSize)
	copy(hdr, []byte(padRight(name, 16)))
	copy(hdr[16:], []byte(padRight("0", 12)))    // mtime
	copy(hdr[28:], []byte(padRight("0", 6)))     // uid
	copy(hdr[34:], []byte(padRight("0", 6)))     // gid
	copy(hdr[40:], []byte(padRight("644", 8)))   // mode
	copy(hdr[48:], []byte(padLeft(itoa(len(data)), 10)))
	hdr[58], hdr[59] = '`', '\n'
	buf.Write(hdr)
	buf.Write(data)
	if len(data)%2 != 0 {
		buf.WriteByte('\n')
	}
}

func padRight(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s[:n]
}
func padLeft(s string, n int) string {
	for len(s) < n {
		s = " " + s
	}
	return s[:n]
}
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestReadIndexFindsMembers(t *testing.T) {
	raw := buildArchive(t, map[string][]byte{
		"foo.o": []byte("hello world"),
		"bar.o": []byte("x"),
	})

	area := memarea.NewSynthetic("test.a", raw)
	idx, err := ReadIndex(area, nil)
	require.NoError(t, err)
	require.Len(t, idx.Members, 2)

	names := map[string]bool{}
	for _, m := range idx.Members {
		names[m.Name] = true
	}
	require.True(t, names["foo.o"])
	require.True(t, names["bar.o"])
}
