package stream

import (
	"bufio"
	"io"
)

const defaultBufferSize = 64 * 1024

// source is a buffered view of the raw container bytes. It keeps an exact
// count of the raw offset of the next byte it will hand out, so callers can
// 'tell' while remaining buffered.
//
// source implements io.ByteReader, which keeps gzip readers layered on top of
// it from adding their own read-ahead buffer.
type source struct {
	br  *bufio.Reader
	rd  io.Reader
	pos int64
}

func newSource(r io.Reader, base int64) *source {
	return &source{
		br:  bufio.NewReaderSize(r, defaultBufferSize),
		rd:  r,
		pos: base,
	}
}

func (s *source) Read(b []byte) (int, error) {
	n, err := s.br.Read(b)
	s.pos += int64(n)
	return n, err
}

func (s *source) ReadByte() (byte, error) {
	c, err := s.br.ReadByte()
	if err == nil {
		s.pos++
	}

	return c, err
}

// ReadLine returns the next line, including its trailing newline. A final
// line without a newline is returned without an error; io.EOF is only
// returned once nothing is left.
func (s *source) ReadLine() ([]byte, error) {
	line, err := readLine(s.br)
	s.pos += int64(len(line))
	return line, err
}

// Peek returns up to n upcoming bytes without consuming them.
func (s *source) Peek(n int) ([]byte, error) {
	return s.br.Peek(n)
}

// Tell returns the raw offset of the next unread byte.
func (s *source) Tell() int64 {
	return s.pos
}

// Seek repositions the underlying reader and drops the buffer. Relative seeks
// are resolved against the virtual (buffered) position.
func (s *source) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekCurrent {
		buffered := int64(s.br.Buffered())

		// Jumping forward within the buffered area only needs a discard.
		if offset >= 0 && offset <= buffered {
			n, err := s.br.Discard(int(offset))
			s.pos += int64(n)
			return s.pos, err
		}

		offset += s.pos
		whence = io.SeekStart
	}

	seeker, ok := s.rd.(io.Seeker)
	if !ok {
		return s.pos, ErrNotSeekable
	}

	res, err := seeker.Seek(offset, whence)
	s.br.Reset(s.rd)
	if err != nil {
		return s.pos, err
	}

	s.pos = res
	return res, nil
}

// Write writes at the virtual position. If bytes have been read ahead, the
// underlying file is first moved back to the virtual position.
func (s *source) Write(b []byte) (int, error) {
	w, ok := s.rd.(io.Writer)
	if !ok {
		return 0, ErrNotWritable
	}

	if s.br.Buffered() > 0 {
		if _, err := s.Seek(s.pos, io.SeekStart); err != nil {
			return 0, err
		}
	}

	n, err := w.Write(b)
	s.pos += int64(n)
	return n, err
}

func (s *source) Close() error {
	if c, ok := s.rd.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}

	return line, err
}
