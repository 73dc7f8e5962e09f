package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// A layout is one of the closed set of physical arrangements a Stream can
// read and write. It is picked once, when the stream is built.
type layout interface {
	compression() Compression

	Read(b []byte) (int, error)
	ReadLine() ([]byte, error)

	// begin positions the layout at the start of the next record.
	begin(wantOffset bool) (recordStart, error)
	seek(offset int64, whence int) (int64, error)
	write(rec Record) error
	close() error
}

// recordStart is what a layout knows about a record before parsing it. hint
// is handed to the Parser; if fixed is set, offset replaces whatever offset
// the Parser reports.
type recordStart struct {
	hint   int64
	offset int64
	fixed  bool
}

// writeRecord serializes rec through a buffer, so records that write
// themselves in many small pieces don't turn into many small writes.
func writeRecord(w io.Writer, rec Record) error {
	bw := bufio.NewWriter(w)
	if _, err := rec.WriteTo(bw); err != nil {
		return err
	}

	return bw.Flush()
}

// plainLayout is an uncompressed concatenation of records.
type plainLayout struct {
	src *source
}

func (l *plainLayout) compression() Compression {
	return CompressionNone
}

func (l *plainLayout) Read(b []byte) (int, error) {
	return l.src.Read(b)
}

func (l *plainLayout) ReadLine() ([]byte, error) {
	return l.src.ReadLine()
}

func (l *plainLayout) begin(wantOffset bool) (recordStart, error) {
	if !wantOffset {
		return recordStart{hint: NoOffset}, nil
	}

	return recordStart{hint: l.src.Tell()}, nil
}

func (l *plainLayout) seek(offset int64, whence int) (int64, error) {
	return l.src.Seek(offset, whence)
}

func (l *plainLayout) write(rec Record) error {
	return writeRecord(l.src, rec)
}

func (l *plainLayout) close() error {
	return nil
}

type memberState int

const (
	// The next read has to start a new member first.
	memberIdle memberState = iota
	memberActive
	// The raw source ended on a member boundary.
	memberEOF
)

// gzipRecordLayout is a sequence of gzip members, usually one per record.
// Decompressed data flows from one member into the next, so records that
// share or span members read back intact. The gzip reader is kept to a
// single member at a time, which leaves the raw position of the source
// exactly on a member boundary whenever a member has been used up. Only a
// record that starts on such a boundary has a container offset.
type gzipRecordLayout struct {
	src   *source
	gz    gzip.Reader
	out   *bufio.Reader
	state memberState
	// hold stops reads at the end of the current member.
	hold bool

	gw *gzip.Writer
}

func newGzipRecordLayout(src *source) *gzipRecordLayout {
	l := &gzipRecordLayout{src: src}
	l.out = bufio.NewReaderSize(memberReader{l}, defaultBufferSize)
	return l
}

// memberReader reads decompressed data across member boundaries.
type memberReader struct {
	l *gzipRecordLayout
}

func (m memberReader) Read(b []byte) (int, error) {
	l := m.l
	for {
		switch l.state {
		case memberEOF:
			return 0, io.EOF
		case memberIdle:
			if l.hold {
				return 0, io.EOF
			}

			if err := l.nextMember(); err != nil {
				return 0, err
			}

			continue
		}

		n, err := l.gz.Read(b)
		if err == io.EOF {
			l.state = memberIdle
			if n > 0 {
				return n, nil
			}

			continue
		}

		return n, err
	}
}

func (l *gzipRecordLayout) compression() Compression {
	return CompressionRecord
}

func (l *gzipRecordLayout) Read(b []byte) (int, error) {
	return l.out.Read(b)
}

func (l *gzipRecordLayout) ReadLine() ([]byte, error) {
	return readLine(l.out)
}

func (l *gzipRecordLayout) begin(wantOffset bool) (recordStart, error) {
	boundary, err := l.atBoundary()
	if err != nil {
		return recordStart{}, err
	} else if !boundary {
		return recordStart{hint: NoOffset, offset: NoOffset, fixed: true}, nil
	}

	offset := l.src.Tell()
	if l.state == memberIdle {
		if err := l.nextMember(); err != nil {
			return recordStart{}, err
		}
	}

	if !wantOffset {
		offset = NoOffset
	}

	return recordStart{hint: NoOffset, offset: offset, fixed: true}, nil
}

// atBoundary reports whether the next decompressed byte is the first byte of
// a member, or the end of the container.
func (l *gzipRecordLayout) atBoundary() (bool, error) {
	if l.out.Buffered() > 0 {
		return false, nil
	}

	if l.state != memberActive {
		return true, nil
	}

	// The member may have nothing left but its trailer. Peeking with hold set
	// reads that without starting the next member.
	l.hold = true
	_, err := l.out.Peek(1)
	l.hold = false

	if err == io.EOF {
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("stream: reading gzip member before offset %d: %w", l.src.Tell(), err)
	}

	return false, nil
}

func (l *gzipRecordLayout) nextMember() error {
	offset := l.src.Tell()
	err := l.gz.Reset(l.src)
	if err == io.EOF {
		l.state = memberEOF
		return nil
	} else if err != nil {
		l.state = memberIdle
		return fmt.Errorf("stream: reading gzip header at offset %d: %w", offset, err)
	}

	// Reset turns multistream mode back on.
	l.gz.Multistream(false)
	l.state = memberActive
	return nil
}

func (l *gzipRecordLayout) seek(offset int64, whence int) (int64, error) {
	res, err := l.src.Seek(offset, whence)
	if err != nil {
		return res, err
	}

	l.state = memberIdle
	l.out.Reset(memberReader{l})
	return res, nil
}

func (l *gzipRecordLayout) write(rec Record) error {
	if l.gw == nil {
		l.gw = gzip.NewWriter(l.src)
	} else {
		l.gw.Reset(l.src)
	}

	if err := writeRecord(l.gw, rec); err != nil {
		return err
	}

	return l.gw.Close()
}

func (l *gzipRecordLayout) close() error {
	return nil
}

// fileLayout is a container compressed as a single block. Positions inside it
// are decompressed offsets, and records have no container offsets at all.
type fileLayout struct {
	src    *source
	format Format
	start  int64

	dec    io.Reader
	out    *bufio.Reader
	pos    int64
	opened bool

	enc io.WriteCloser
}

func newFileLayout(src *source, format Format) *fileLayout {
	return &fileLayout{
		src:    src,
		format: format,
		start:  src.Tell(),
	}
}

func (l *fileLayout) compression() Compression {
	return CompressionFile
}

func (l *fileLayout) open() error {
	switch l.format {
	case FormatSnappy:
		l.dec = snappy.NewReader(l.src)
	default:
		gz, err := gzip.NewReader(l.src)
		if err == io.EOF {
			l.dec = eofReader{}
		} else if err != nil {
			return fmt.Errorf("stream: reading gzip header: %w", err)
		} else {
			l.dec = gz
		}
	}

	l.out = bufio.NewReaderSize(l.dec, defaultBufferSize)
	l.pos = 0
	l.opened = true
	return nil
}

func (l *fileLayout) Read(b []byte) (int, error) {
	if !l.opened {
		if err := l.open(); err != nil {
			return 0, err
		}
	}

	n, err := l.out.Read(b)
	l.pos += int64(n)
	return n, err
}

func (l *fileLayout) ReadLine() ([]byte, error) {
	if !l.opened {
		if err := l.open(); err != nil {
			return nil, err
		}
	}

	line, err := readLine(l.out)
	l.pos += int64(len(line))
	return line, err
}

func (l *fileLayout) begin(wantOffset bool) (recordStart, error) {
	return recordStart{hint: NoOffset}, nil
}

// seek moves within the decompressed data. Moving backwards rewinds the
// source and decompresses again from the start.
func (l *fileLayout) seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = l.pos + offset
	default:
		return l.pos, errors.New("stream: can't seek relative to the end of a compressed file")
	}

	if target < 0 {
		return l.pos, fmt.Errorf("stream: invalid seek to %d", target)
	}

	if l.opened && target < l.pos {
		if _, err := l.src.Seek(l.start, io.SeekStart); err != nil {
			return l.pos, err
		}

		l.opened = false
	}

	if !l.opened {
		if err := l.open(); err != nil {
			return l.pos, err
		}
	}

	if _, err := io.CopyN(io.Discard, l, target-l.pos); err != nil && err != io.EOF {
		return l.pos, err
	}

	return l.pos, nil
}

func (l *fileLayout) write(rec Record) error {
	if l.enc == nil {
		switch l.format {
		case FormatSnappy:
			l.enc = snappy.NewBufferedWriter(l.src)
		default:
			l.enc = gzip.NewWriter(l.src)
		}
	}

	return writeRecord(l.enc, rec)
}

func (l *fileLayout) close() error {
	if l.enc == nil {
		return nil
	}

	return l.enc.Close()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}
