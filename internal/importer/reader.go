package importer

// reader.go prepares uploaded bytes for encoding/csv without buffering the
// whole file: a leading UTF-8 BOM is dropped, invalid UTF-8 is replaced
// with '?', and the bytes handed to the parser are counted for logging.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM returns a reader positioned after a leading BOM, if any.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 with '?'. A multi-byte sequence split
// across reads is carried to the next read instead of being replaced.
type utf8Sanitizer struct {
	r     io.Reader
	buf   []byte
	carry []byte
	out   []byte
	err   error
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, buf: make([]byte, 32*1024)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	for len(s.out) == 0 {
		if s.err != nil {
			return 0, s.err
		}

		n, err := s.r.Read(s.buf)
		chunk := append(s.carry, s.buf[:n]...)
		s.carry = nil

		if err != nil {
			s.err = err
		} else if tail := incompleteTail(chunk); tail > 0 {
			s.carry = append([]byte(nil), chunk[len(chunk)-tail:]...)
			chunk = chunk[:len(chunk)-tail]
		}

		if utf8.Valid(chunk) {
			s.out = chunk
		} else {
			s.out = bytes.ToValidUTF8(chunk, []byte("?"))
		}
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// incompleteTail returns how many trailing bytes of data start a rune that
// has not been fully read yet.
func incompleteTail(data []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		if utf8.RuneStart(data[len(data)-i]) {
			if utf8.FullRune(data[len(data)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// countingReader tracks how many bytes have been read.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (c *countingReader) BytesRead() int64 {
	return c.n
}

// newSourceReader applies BOM skipping, sanitising and counting, in that
// order.
func newSourceReader(r io.Reader) *countingReader {
	return &countingReader{r: newUTF8Sanitizer(skipBOM(r))}
}

// newCSVReader configures encoding/csv the same way for both passes over a
// file so the row count matches the rows processed.
func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true
	return cr
}
