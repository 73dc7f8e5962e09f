package stream

import (
	"io"
	"os"
	"strings"

	"github.com/stripe/warctools/backend"
)

// Options configure Open and OpenSource. The zero value reads an existing
// local container, detecting its record type and compression.
type Options struct {
	// RecordType is detected from the first line of the container when nil.
	RecordType RecordType

	// Compression defaults to CompressionAuto.
	Compression Compression

	// Format is the compression format of the compressed layouts; it
	// defaults to FormatGzip. Only gzip can be used one member per record.
	Format Format

	// RangeOffset and RangeLength restrict a locator to a byte range.
	// Offsets reported for records stay relative to the whole file.
	RangeOffset int64
	RangeLength int64

	// Flag is passed through to os.OpenFile for local files.
	Flag int

	// ChunkSize bounds single reads while skipping to the end of a record.
	// It defaults to DefaultChunkSize.
	ChunkSize int

	// Resolver opens locators; the default only knows about local files.
	Resolver *backend.Resolver
}

// Open resolves a locator (a local path, or a URL a registered backend
// understands) and opens a stream over it.
func Open(locator string, opts Options) (*Stream, error) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = backend.NewResolver()
	}

	flag := opts.Flag
	if flag == 0 {
		flag = os.O_RDONLY
	}

	rng := backend.Range{Offset: opts.RangeOffset, Length: opts.RangeLength}
	rc, err := resolver.Open(locator, rng, flag)
	if err != nil {
		return nil, err
	}

	s, err := open(locator, rc, opts.RangeOffset, opts)
	if err != nil {
		rc.Close()
		return nil, err
	}

	return s, nil
}

// OpenSource opens a stream over an already open handle, which the stream
// takes ownership of. If r can seek, record offsets are relative to the start
// of the underlying file; otherwise, to the current position of r.
func OpenSource(r io.Reader, opts Options) (*Stream, error) {
	return open("", r, 0, opts)
}

func open(name string, r io.Reader, base int64, opts Options) (*Stream, error) {
	if _, ok := r.(io.Seeker); ok {
		base = position(r)
	}

	src := newSource(r, base)

	rt := opts.RecordType
	if rt == nil {
		rt = DetectRecordType(src.firstLine())
		if rt == nil {
			return nil, &FormatDetectionError{Locator: name, Reason: "failed to guess record type"}
		}
	}

	compression := opts.Compression
	if compression == "" || compression == CompressionAuto {
		if strings.HasSuffix(name, ".gz") || src.isGzip() {
			compression = CompressionRecord
		} else {
			compression = CompressionNone
		}
	}

	format := opts.Format
	if format == "" {
		format = FormatGzip
	}

	var l layout
	switch compression {
	case CompressionNone:
		l = &plainLayout{src: src}
	case CompressionRecord:
		if format != FormatGzip {
			return nil, &FormatDetectionError{Locator: name, Reason: "per-record compression is only supported with gzip"}
		}

		l = newGzipRecordLayout(src)
	case CompressionFile:
		switch format {
		case FormatGzip, FormatSnappy:
		default:
			return nil, &FormatDetectionError{Locator: name, Reason: "unknown compression format " + string(format)}
		}

		l = newFileLayout(src, format)
	default:
		return nil, &FormatDetectionError{Locator: name, Reason: "unknown compression mode " + string(compression)}
	}

	return newStream(src, rt.NewParser(), l, opts.ChunkSize), nil
}

// NewRecordStream builds a stream over an uncompressed container.
func NewRecordStream(r io.Reader, p Parser) *Stream {
	src := newSource(r, position(r))
	return newStream(src, p, &plainLayout{src: src}, 0)
}

// NewGzipRecordStream builds a stream over a container holding one gzip
// member per record.
func NewGzipRecordStream(r io.Reader, p Parser) *Stream {
	src := newSource(r, position(r))
	return newStream(src, p, newGzipRecordLayout(src), 0)
}

// NewFileStream builds a stream over a container compressed as a whole in
// the given format.
func NewFileStream(r io.Reader, p Parser, format Format) *Stream {
	src := newSource(r, position(r))
	return newStream(src, p, newFileLayout(src, format), 0)
}

func position(r io.Reader) int64 {
	if seeker, ok := r.(io.Seeker); ok {
		if pos, err := seeker.Seek(0, io.SeekCurrent); err == nil {
			return pos
		}
	}

	return 0
}
