package ingest

import (
	"bufio"
	"bytes"
	"io"
)

// LineSource yields lines one at a time and returns io.EOF at the end.
type LineSource interface {
	ReadLine() (string, error)
}

// ReaderSource splits an io.Reader into lines. It strips "\n" and "\r\n"
// terminators and a leading UTF-8 byte order mark. Close closes the
// underlying reader when it is an io.Closer.
type ReaderSource struct {
	r     *bufio.Reader
	c     io.Closer
	first bool
}

var bom = []byte{0xEF, 0xBB, 0xBF}

func NewReaderSource(r io.Reader) *ReaderSource {
	s := &ReaderSource{r: bufio.NewReaderSize(r, 64<<10), first: true}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *ReaderSource) ReadLine() (string, error) {
	line, err := s.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Long line: line aliases the reader's buffer, so copy it before
		// the next read refills that buffer.
		head := append([]byte(nil), line...)
		rest, rerr := s.r.ReadBytes('\n')
		line = append(head, rest...)
		err = rerr
	}
	if len(line) == 0 && err != nil {
		return "", err
	}
	if s.first {
		s.first = false
		line = bytes.TrimPrefix(line, bom)
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if err == io.EOF {
		err = nil
	}
	return string(line), err
}

func (s *ReaderSource) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
