// Package warc reads and writes WARC records through a stream.Stream. It
// registers itself with the stream package, so importing it is enough for
// stream.Open to recognize WARC containers.
package warc

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pborman/uuid"
)

const (
	Version   = "WARC/1.0"
	Version18 = "WARC/0.18"
	Version17 = "WARC/0.17"
)

// Header names.
const (
	HeaderDate              = "WARC-Date"
	HeaderType              = "WARC-Type"
	HeaderID                = "WARC-Record-ID"
	HeaderConcurrentTo      = "WARC-Concurrent-To"
	HeaderRefersTo          = "WARC-Refers-To"
	HeaderRefersToTargetURI = "WARC-Refers-To-Target-URI"
	HeaderRefersToDate      = "WARC-Refers-To-Date"
	HeaderContentLength     = "Content-Length"
	HeaderContentType       = "Content-Type"
	HeaderURL               = "WARC-Target-URI"
	HeaderBlockDigest       = "WARC-Block-Digest"
	HeaderPayloadDigest     = "WARC-Payload-Digest"
	HeaderIPAddress         = "WARC-IP-Address"
	HeaderFilename          = "WARC-Filename"
	HeaderWarcinfoID        = "WARC-Warcinfo-ID"
	HeaderProfile           = "WARC-Profile"
)

// Record types.
const (
	TypeResponse   = "response"
	TypeResource   = "resource"
	TypeRequest    = "request"
	TypeRevisit    = "revisit"
	TypeMetadata   = "metadata"
	TypeConversion = "conversion"
	TypeWarcinfo   = "warcinfo"
)

const ProfileIdenticalPayloadDigest = "http://netpreserve.org/warc/1.0/revisit/identical-payload-digest"

const crlf = "\r\n"

type Header struct {
	Name  string
	Value string
}

// Content is a content block along with its type.
type Content struct {
	Type string
	Data []byte
}

// A RecordError is a problem found with a single record. The record is still
// returned, and the errors can be inspected with Errors.
type RecordError struct {
	Msg  string
	Args []string
}

func (e *RecordError) Error() string {
	if len(e.Args) == 0 {
		return e.Msg
	}

	quoted := make([]string, len(e.Args))
	for i, arg := range e.Args {
		quoted[i] = strconv.Quote(arg)
	}

	return e.Msg + ": " + strings.Join(quoted, ", ")
}

func recordError(msg string, args ...string) *RecordError {
	return &RecordError{Msg: msg, Args: args}
}

// A Record is a single WARC record. Records built with NewRecord (or one of
// the Make functions) carry their content in memory. Records read from a
// stream read their content lazily, and only until the stream moves on to the
// next record.
type Record struct {
	Version string
	Headers []Header

	errors  []error
	content *Content

	// For records read from a stream.
	body          io.Reader
	contentLength int64
}

// NewRecord builds a record with the given content. Content-Type and
// Content-Length headers are ignored when writing it; they're derived from
// content instead.
func NewRecord(version string, headers []Header, content Content) *Record {
	return &Record{
		Version:       version,
		Headers:       headers,
		content:       &content,
		contentLength: int64(len(content.Data)),
	}
}

// Header returns the value of the first header called name, compared case
// insensitively, or "" if there isn't one.
func (r *Record) Header(name string) string {
	v, _ := r.lookup(name)
	return v
}

func (r *Record) lookup(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}

	return "", false
}

func (r *Record) ID() string {
	return r.Header(HeaderID)
}

func (r *Record) Type() string {
	return r.Header(HeaderType)
}

func (r *Record) Date() string {
	return r.Header(HeaderDate)
}

func (r *Record) URL() string {
	return r.Header(HeaderURL)
}

// ContentType returns the type of the content block, from the content itself
// if it's in memory or from the Content-Type header otherwise.
func (r *Record) ContentType() string {
	if r.content != nil {
		return r.content.Type
	}

	return r.Header(HeaderContentType)
}

// ContentLength returns the declared length of the content block.
func (r *Record) ContentLength() int64 {
	if r.content != nil {
		return int64(len(r.content.Data))
	}

	return r.contentLength
}

// Errors returns everything that was wrong with the record when it was
// parsed, plus any problem found reading its content.
func (r *Record) Errors() []error {
	return r.errors
}

func (r *Record) addError(msg string, args ...string) {
	r.errors = append(r.errors, recordError(msg, args...))
}

// Content returns the content block, reading it from the stream the first
// time it's called. A content block shorter than its Content-Length is
// returned as is, and the mismatch recorded as an error.
func (r *Record) Content() Content {
	if r.content != nil {
		return *r.content
	}

	content := Content{Type: r.Header(HeaderContentType)}
	if _, ok := r.lookup(HeaderContentLength); !ok {
		r.addError("missing header", HeaderContentLength)
	} else if r.contentLength > 0 && r.body != nil {
		// Content-Length can't be trusted with an allocation.
		data, _ := io.ReadAll(io.LimitReader(r.body, r.contentLength))
		if int64(len(data)) != r.contentLength {
			r.addError("content length mismatch (is, claims)", strconv.Itoa(len(data)), strconv.FormatInt(r.contentLength, 10))
		}

		content.Data = data
	}

	r.body = nil
	r.content = &content
	return content
}

// ContentReader returns a reader over the content block. For records read
// from a stream, the content is streamed rather than read into memory, and
// can only be read once.
func (r *Record) ContentReader() io.Reader {
	if r.content != nil {
		return bytes.NewReader(r.content.Data)
	}

	if r.body == nil {
		return bytes.NewReader(nil)
	}

	body := io.LimitReader(r.body, r.contentLength)
	r.body = nil
	return body
}

// WriteTo serializes the record. Multi-line headers are written on a single
// line.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	cw.writeString(r.Version, crlf)
	for _, h := range r.Headers {
		if r.content != nil && (strings.EqualFold(h.Name, HeaderContentType) || strings.EqualFold(h.Name, HeaderContentLength)) {
			continue
		}

		cw.writeString(h.Name, ": ", h.Value, crlf)
	}

	if r.content != nil {
		if r.content.Type != "" {
			cw.writeString(HeaderContentType, ": ", r.content.Type, crlf)
		}

		cw.writeString(HeaderContentLength, ": ", strconv.Itoa(len(r.content.Data)), crlf, crlf)
		cw.write(r.content.Data)
	} else {
		cw.writeString(crlf)
		if cw.err == nil && r.body != nil {
			n, err := io.Copy(cw, io.LimitReader(r.body, r.contentLength))
			r.body = nil
			if err == nil && n != r.contentLength {
				err = fmt.Errorf("content length mismatch: read %d of %d bytes", n, r.contentLength)
			}

			if cw.err == nil {
				cw.err = err
			}
		}
	}

	cw.writeString(crlf, crlf)
	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}

	n, err := cw.w.Write(b)
	cw.n += int64(n)
	cw.err = err
	return n, err
}

func (cw *countingWriter) write(b []byte) {
	cw.Write(b)
}

func (cw *countingWriter) writeString(ss ...string) {
	for _, s := range ss {
		cw.Write([]byte(s))
	}
}

// MakeResponse builds a response record. requestID is optional.
func MakeResponse(id, date, url string, content Content, requestID string) *Record {
	headers := []Header{
		{HeaderType, TypeResponse},
		{HeaderID, id},
		{HeaderDate, date},
		{HeaderURL, url},
	}

	if requestID != "" {
		headers = append(headers, Header{HeaderConcurrentTo, requestID})
	}

	return NewRecord(Version, headers, content)
}

// MakeRequest builds a request record. responseID is optional.
func MakeRequest(id, date, url string, content Content, responseID string) *Record {
	headers := []Header{
		{HeaderType, TypeRequest},
		{HeaderID, id},
		{HeaderDate, date},
		{HeaderURL, url},
	}

	if responseID != "" {
		headers = append(headers, Header{HeaderConcurrentTo, responseID})
	}

	return NewRecord(Version, headers, content)
}

// MakeMetadata builds a metadata record. concurrentTo and url are optional.
func MakeMetadata(id, date string, content Content, concurrentTo, url string) *Record {
	headers := []Header{
		{HeaderType, TypeMetadata},
		{HeaderID, id},
		{HeaderDate, date},
	}

	if concurrentTo != "" {
		headers = append(headers, Header{HeaderConcurrentTo, concurrentTo})
	}

	if url != "" {
		headers = append(headers, Header{HeaderURL, url})
	}

	return NewRecord(Version, headers, content)
}

// MakeConversion builds a conversion record. refersTo and url are optional.
func MakeConversion(id, date string, content Content, refersTo, url string) *Record {
	headers := []Header{
		{HeaderType, TypeConversion},
		{HeaderID, id},
		{HeaderDate, date},
	}

	if refersTo != "" {
		headers = append(headers, Header{HeaderRefersTo, refersTo})
	}

	if url != "" {
		headers = append(headers, Header{HeaderURL, url})
	}

	return NewRecord(Version, headers, content)
}

// RandomID returns a new record ID.
func RandomID() string {
	return "<urn:uuid:" + uuid.NewRandom().String() + ">"
}

// IDFromText returns a record ID derived from text, so the same text always
// gets the same ID.
func IDFromText(text []byte) string {
	sum := sha1.Sum(text)
	return "<urn:uuid:" + uuid.UUID(sum[:16]).String() + ">"
}

// DateString formats t the way WARC-Date headers are written, in UTC with
// second precision.
func DateString(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + "Z"
}

// BlockDigest returns the value of a WARC-Block-Digest header for content.
func BlockDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}
