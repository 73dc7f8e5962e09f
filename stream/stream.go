// Package stream reads and writes container files made of concatenated,
// variable-length records. A container is either uncompressed, compressed one
// gzip member per record, or compressed as a single block; Stream hides the
// difference, and reports for every record the container offset it started
// at, whenever that offset can be used to reopen the file at that record.
//
// The framing of a single record belongs to a Parser. A Parser reads through
// the stream's Reader and tells the stream, with SetBytesToEOR, how many bytes
// of the current record it left unread. The next call to ReadNextRecord skips
// them, so callers never have to consume a record they aren't interested in.
package stream

import (
	"io"
)

// Compression is the physical arrangement of records in a container.
type Compression string

const (
	// CompressionAuto picks CompressionRecord for gzip data and
	// CompressionNone otherwise. CompressionFile is never picked.
	CompressionAuto   Compression = "auto"
	CompressionNone   Compression = "none"
	CompressionRecord Compression = "record"
	CompressionFile   Compression = "file"
)

// Format is the compression format of the compressed layouts.
type Format string

const (
	FormatGzip   Format = "gzip"
	FormatSnappy Format = "snappy"
)

const (
	// NoOffset marks an offset that wasn't requested or isn't meaningful.
	NoOffset int64 = -1

	// DefaultChunkSize is the largest single read made while skipping to the
	// end of a record. Bigger is faster.
	DefaultChunkSize = 8192

	// Unlimited makes ReadRecords read until the first result without a
	// record.
	Unlimited = -1
)

// A Record is opaque to a stream, except that it knows how to serialize
// itself.
type Record interface {
	WriteTo(w io.Writer) (int64, error)
}

// Reader is the view of a stream a Parser reads through. Every byte handed
// out is accounted against the bytes left in the current record.
type Reader interface {
	io.Reader

	// ReadLine returns the next line including its newline. A trailing line
	// without a newline is returned as is; io.EOF means nothing was left.
	ReadLine() ([]byte, error)

	// SetBytesToEOR records how many bytes of the current record are still
	// unread.
	SetBytesToEOR(n int64)
}

// A Parser decodes one record from a stream. offset is the position the
// record is expected to start at, or NoOffset; the Parser may move it forward
// past junk it skipped. Record-level problems are reported in the Result;
// the returned error is reserved for I/O failures.
//
// A Parser must leave the stream's end-of-record counter set whenever it
// returns a record.
type Parser interface {
	Parse(r Reader, offset int64) (Result, error)
}

// A RecordType names a record format and builds parsers for it.
type RecordType interface {
	Name() string
	NewParser() Parser
}

// Result is the outcome of one read attempt. Either Record is set, or Errors
// is non-empty, or both are empty at a clean end of stream.
type Result struct {
	Offset int64
	Record Record
	Errors []error
}

// A Stream reads or writes records from a single container. It owns its
// source, and is not safe for concurrent use.
type Stream struct {
	src       *source
	parser    Parser
	layout    layout
	chunkSize int
	skipBuf   []byte
	closed    bool

	// Bytes left unread in the current record; only meaningful when
	// eorSet is true.
	eor    int64
	eorSet bool
}

func newStream(src *source, parser Parser, l layout, chunkSize int) *Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Stream{
		src:       src,
		parser:    parser,
		layout:    l,
		chunkSize: chunkSize,
	}
}

// Compression returns the layout the stream was opened with. It never
// changes.
func (s *Stream) Compression() Compression {
	return s.layout.compression()
}

// Read reads up to len(b) bytes of (decompressed) container data.
func (s *Stream) Read(b []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	n, err := s.layout.Read(b)
	s.consumed(n)
	return n, err
}

// ReadLine reads the next line of (decompressed) container data.
func (s *Stream) ReadLine() ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}

	line, err := s.layout.ReadLine()
	s.consumed(len(line))
	return line, err
}

func (s *Stream) consumed(n int) {
	if !s.eorSet {
		return
	}

	s.eor -= int64(n)
	if s.eor < 0 {
		s.eor = 0
	}
}

// SetBytesToEOR sets the number of bytes of the current record that haven't
// been read yet.
func (s *Stream) SetBytesToEOR(n int64) {
	if n < 0 {
		n = 0
	}

	s.eor = n
	s.eorSet = true
}

// BytesToEOR returns the unread bytes of the current record, and whether a
// record is pending at all.
func (s *Stream) BytesToEOR() (int64, bool) {
	return s.eor, s.eorSet
}

// Seek positions the stream. Offsets are raw container offsets for the
// uncompressed and per-record layouts, and decompressed offsets for the
// whole-file layout. Seeking forgets about any pending record.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}

	s.eor, s.eorSet = 0, false
	return s.layout.seek(offset, whence)
}

// ReadNextRecord skips whatever is left of the previous record, then parses
// the next one. If wantOffset is true and the layout supports it, the result
// carries the container offset the record started at.
func (s *Stream) ReadNextRecord(wantOffset bool) (Result, error) {
	if s.closed {
		return Result{}, ErrClosed
	}

	if s.eorSet {
		if err := s.skipToEOR(); err != nil {
			return Result{}, err
		}
	}

	s.eor, s.eorSet = 0, false

	start, err := s.layout.begin(wantOffset)
	if err != nil {
		return Result{}, err
	}

	res, err := s.parser.Parse(s, start.hint)
	if err != nil {
		return Result{}, err
	}

	if start.fixed {
		res.Offset = start.offset
	}

	return res, nil
}

func (s *Stream) skipToEOR() error {
	// ReadNextRecord only skips when a record is pending, so this can't be
	// hit through the exported API.
	if !s.eorSet {
		return &InvariantViolationError{Msg: "bytes to end of record is unset, cannot skip to end"}
	}

	for s.eor > 0 {
		size := int64(s.chunkSize)
		if s.eor < size {
			size = s.eor
		}

		if s.skipBuf == nil {
			s.skipBuf = make([]byte, s.chunkSize)
		}

		n, err := io.ReadFull(s, s.skipBuf[:size])
		if int64(n) < size {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = nil
			}

			return &TruncatedStreamError{Expected: size, Read: int64(n), Err: err}
		}
	}

	return nil
}

// Write serializes a record into the container. No offset bookkeeping is
// done on the write path.
func (s *Stream) Write(rec Record) error {
	if s.closed {
		return ErrClosed
	}

	return s.layout.write(rec)
}

// Close finishes any pending compressed output and closes the source. Using
// the stream afterwards returns ErrClosed.
func (s *Stream) Close() error {
	if s.closed {
		return ErrClosed
	}

	s.closed = true
	err := s.layout.close()
	if cerr := s.src.Close(); err == nil {
		err = cerr
	}

	return err
}
