package warc

import (
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/stripe/warctools/stream"
)

// How many junk lines are skipped looking for a version line before giving
// up on a record.
const badLines = 5

var knownVersions = map[string]bool{
	"1.0":  true,
	"0.17": true,
	"0.18": true,
}

var (
	versionRx = regexp.MustCompile(`(?i)^(.*?)(\s*WARC/(.*?))(\r\n|\r|\n)\z`)
	headerRx  = regexp.MustCompile(`^(.*?):\s?(.*?)(\r\n|\r|\n)\z`)
	valueRx   = regexp.MustCompile(`^\s+(.+?)(\r\n|\r|\n)\z`)
	nlRx      = regexp.MustCompile(`^(\r\n|\r|\n\z)`)
	blankRx   = regexp.MustCompile(`^(\r?\n)?\z`)
)

type recordType struct{}

func (recordType) Name() string {
	return "warc"
}

func (recordType) NewParser() stream.Parser {
	return &Parser{}
}

// RecordType is the WARC record type, as registered with the stream package.
var RecordType stream.RecordType = recordType{}

func init() {
	stream.RegisterRecordType(versionRx, RecordType)
	stream.RegisterRecordType(blankRx, RecordType)
}

// OpenArchive opens a WARC container. It's stream.Open, without the need to
// detect the record type.
func OpenArchive(locator string, opts stream.Options) (*stream.Stream, error) {
	if opts.RecordType == nil {
		opts.RecordType = RecordType
	}

	return stream.Open(locator, opts)
}

// A Parser reads WARC records. It's lenient: junk before a record is skipped
// (within reason), and anything wrong with a record that can still be framed
// is reported in the record's Errors rather than failing the read.
type Parser struct{}

// Parse reads the next record from r. Records are returned even when
// malformed, as long as a version line was found. A result without a record
// carries the lines that were given up on, or nothing at the end of the
// stream.
func (p *Parser) Parse(r stream.Reader, offset int64) (stream.Result, error) {
	var errs []error

	line, err := readLine(r)
	if err != nil {
		return stream.Result{}, err
	}

	var version [][]byte
	for len(line) > 0 {
		if version = versionRx.FindSubmatch(line); version != nil {
			if offset != stream.NoOffset {
				offset += int64(len(version[1]))
			}

			break
		}

		if offset != stream.NoOffset {
			offset += int64(len(line))
		}

		if !nlRx.Match(line) {
			errs = append(errs, recordError("ignored line", string(line)))
			if len(errs) > badLines {
				errs = append(errs, recordError("too many errors, giving up hope"))
				return stream.Result{Offset: offset, Errors: errs}, nil
			}
		}

		if line, err = readLine(r); err != nil {
			return stream.Result{}, err
		}
	}

	if version == nil {
		return stream.Result{Offset: offset, Errors: errs}, nil
	}

	rec := &Record{
		Version: strings.TrimSpace(string(version[2])),
		errors:  errs,
	}

	if nl := string(version[4]); nl != crlf {
		rec.addError("incorrect newline in version", nl)
	}

	if number := string(version[3]); !knownVersions[number] {
		rec.addError("version field is not known (1.0,0.17,0.18)", number)
	}

	if prefix := string(version[1]); prefix != "" {
		rec.addError("bad prefix on WARC version header", prefix)
	}

	var contentLength int64
	if line, err = readLine(r); err != nil {
		return stream.Result{}, err
	}

	for len(line) > 0 && !nlRx.Match(line) {
		header := headerRx.FindSubmatch(line)
		if header == nil {
			rec.addError("invalid header", string(line))
			if line, err = readLine(r); err != nil {
				return stream.Result{}, err
			}

			continue
		}

		if nl := string(header[3]); nl != crlf {
			rec.addError("incorrect newline in header", nl)
		}

		name := strings.TrimSpace(string(header[1]))
		value := []string{strings.TrimSpace(string(header[2]))}

		// Continuation lines start with whitespace.
		if line, err = readLine(r); err != nil {
			return stream.Result{}, err
		}

		for follow := valueRx.FindSubmatch(line); follow != nil; follow = valueRx.FindSubmatch(line) {
			if nl := string(follow[2]); nl != crlf {
				rec.addError("incorrect newline in follow header", string(line), nl)
			}

			value = append(value, strings.TrimSpace(string(follow[1])))
			if line, err = readLine(r); err != nil {
				return stream.Result{}, err
			}
		}

		v := strings.Join(value, " ")
		rec.Headers = append(rec.Headers, Header{Name: name, Value: v})

		switch {
		case strings.EqualFold(name, HeaderContentType):
			if v == "" {
				rec.addError("invalid header", name, v)
			}
		case strings.EqualFold(name, HeaderContentLength):
			n, err := strconv.ParseInt(v, 10, 64)
			// The end of the record is 4 bytes past the content.
			if err != nil || n < 0 || n > math.MaxInt64-4 {
				rec.addError("invalid header", name, v)
			} else {
				contentLength = n
			}
		}
	}

	// The blank line after the headers has been read. What's left is the
	// content block and the CRLF CRLF that ends the record.
	rec.body = r
	rec.contentLength = contentLength
	r.SetBytesToEOR(contentLength + 4)

	return stream.Result{Offset: offset, Record: rec}, nil
}

// readLine reads a line, treating the end of the stream as an empty line.
func readLine(r stream.Reader) ([]byte, error) {
	line, err := r.ReadLine()
	if err == io.EOF {
		return nil, nil
	}

	return line, err
}
