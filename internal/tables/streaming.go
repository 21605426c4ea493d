package tables

// streaming.go wraps table readers so competition exports can be scanned
// without loading them into memory:
//
//   - bomReader drops a leading UTF-8 BOM written by spreadsheet tools
//   - sanitizer replaces invalid UTF-8 bytes with '?'
//   - CountingReader tracks bytes consumed for progress reporting
//
// Use Wrap to apply all three in order.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// bomReader strips a UTF-8 BOM from the start of the stream.
type bomReader struct {
	r       *bufio.Reader
	checked bool
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: bufio.NewReader(r)}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err == nil && bytes.Equal(head, utf8BOM) {
			if _, err := b.r.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return b.r.Read(p)
}

// sanitizer replaces invalid UTF-8 sequences with '?' on the fly. Incomplete
// sequences at a read boundary are carried into the next read.
type sanitizer struct {
	r       io.Reader
	pending []byte
}

func newSanitizer(r io.Reader) *sanitizer {
	return &sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	atEOF := err == io.EOF
	write := 0
	for read := 0; read < n; {
		c := p[read]
		if c < utf8.RuneSelf {
			p[write] = c
			write++
			read++
			continue
		}
		// A partial rune that already fills p cannot grow; treat it as invalid.
		if !atEOF && !utf8.FullRune(p[read:n]) && (read > 0 || n < len(p)) {
			s.pending = append(s.pending, p[read:n]...)
			break
		}
		r, size := utf8.DecodeRune(p[read:n])
		if r == utf8.RuneError && size == 1 {
			p[write] = '?'
			write++
			read++
			continue
		}
		copy(p[write:], p[read:read+size])
		write += size
		read += size
	}

	// Everything buffered was an incomplete sequence; keep reading.
	if write == 0 && err == nil {
		return s.Read(p)
	}
	return write, err
}

// CountingReader counts bytes read from the underlying reader.
type CountingReader struct {
	r         io.Reader
	BytesRead int64
	Total     int64
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// Progress returns the percentage read, or 0 when Total is unknown.
func (c *CountingReader) Progress() int {
	if c.Total <= 0 {
		return 0
	}
	return int(c.BytesRead * 100 / c.Total)
}

// Wrap strips a BOM, sanitizes UTF-8 and counts bytes, in that order.
func Wrap(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: newSanitizer(newBOMReader(r)), Total: total}
}
