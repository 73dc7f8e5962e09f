package warc

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/warctools/stream"
)

func warcRecord(id, content string) string {
	return "WARC/1.0\r\n" +
		"WARC-Type: resource\r\n" +
		"WARC-Record-ID: " + id + "\r\n" +
		"Content-Length: " + strconv.Itoa(len(content)) + "\r\n" +
		"\r\n" +
		content + "\r\n\r\n"
}

func readAll(t *testing.T, s *stream.Stream) []stream.Result {
	var results []stream.Result
	for res, err := range s.ReadRecords(stream.Unlimited, true) {
		require.NoError(t, err)
		if res.Record != nil {
			res.Record.(*Record).Content()
		}

		results = append(results, res)
	}

	return results
}

func TestParseRecords(t *testing.T) {
	first := warcRecord("<urn:a>", "hello")
	s := stream.NewRecordStream(strings.NewReader(first+warcRecord("<urn:b>", "world!")), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(true)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.EqualValues(t, 0, res.Offset)

	rec := res.Record.(*Record)
	assert.Equal(t, Version, rec.Version)
	assert.Equal(t, "<urn:a>", rec.ID())
	assert.Equal(t, TypeResource, rec.Type())
	assert.EqualValues(t, 5, rec.ContentLength())
	assert.Equal(t, "hello", string(rec.Content().Data))
	assert.Empty(t, rec.Errors())

	res, err = s.ReadNextRecord(true)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.EqualValues(t, len(first), res.Offset)
	assert.Equal(t, "world!", string(res.Record.(*Record).Content().Data))

	res, err = s.ReadNextRecord(true)
	require.NoError(t, err)
	assert.Nil(t, res.Record, "the end of the stream should be clean")
	assert.Empty(t, res.Errors)
}

func TestSkipUnreadContent(t *testing.T) {
	data := warcRecord("<urn:a>", strings.Repeat("x", 20000)) + warcRecord("<urn:b>", "b")
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	var ids []string
	for rec, err := range s.Records() {
		require.NoError(t, err)
		ids = append(ids, rec.(*Record).ID())
	}

	assert.Equal(t, []string{"<urn:a>", "<urn:b>"}, ids)
}

func TestContinuationHeaders(t *testing.T) {
	data := "WARC/1.0\r\n" +
		"WARC-Type: metadata\r\n" +
		"X-Long: one\r\n" +
		"  two\r\n" +
		"\tthree\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n\r\n\r\n"

	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	results := readAll(t, s)
	require.Len(t, results, 2)

	rec := results[0].Record.(*Record)
	assert.Equal(t, "one two three", rec.Header("x-long"))
	assert.Equal(t, TypeMetadata, rec.Type())
	assert.Empty(t, rec.Errors())
	assert.Nil(t, results[1].Record)
}

func TestJunkBeforeRecord(t *testing.T) {
	data := "junk\r\n\r\n" + warcRecord("<urn:a>", "a")
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	results := readAll(t, s)
	require.Len(t, results, 2)
	assert.EqualValues(t, 8, results[0].Offset, "the offset should point past the junk")

	rec := results[0].Record.(*Record)
	assert.Equal(t, "<urn:a>", rec.ID())
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, `ignored line: "junk\r\n"`, rec.Errors()[0].Error())
}

func TestBadPrefix(t *testing.T) {
	data := "xxWARC/1.0\r\nContent-Length: 0\r\n\r\n\r\n\r\n"
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(true)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.EqualValues(t, 2, res.Offset)

	rec := res.Record.(*Record)
	assert.Equal(t, Version, rec.Version)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, "bad prefix on WARC version header", rec.Errors()[0].(*RecordError).Msg)
}

func TestRecordErrors(t *testing.T) {
	data := "WARC/0.9\n" +
		"WARC-Type: resource\r\n" +
		"bogus\r\n" +
		"Content-Length: x\r\n" +
		"\r\n\r\n\r\n"

	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	results := readAll(t, s)
	require.Len(t, results, 2, "a malformed record should still be framed")

	var msgs []string
	for _, err := range results[0].Record.(*Record).Errors() {
		msgs = append(msgs, err.(*RecordError).Msg)
	}

	assert.Equal(t, []string{
		"incorrect newline in version",
		"version field is not known (1.0,0.17,0.18)",
		"invalid header",
		"invalid header",
	}, msgs)
}

func TestGivingUp(t *testing.T) {
	first := warcRecord("<urn:a>", "a")
	data := first + strings.Repeat("junk\n", 6) + warcRecord("<urn:c>", "c")

	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	results := readAll(t, s)
	s.Close()

	require.Len(t, results, 2, "reading should stop at the first result without a record")
	assert.EqualValues(t, 0, results[0].Offset)
	assert.Equal(t, "<urn:a>", results[0].Record.(*Record).ID())

	assert.Nil(t, results[1].Record)
	assert.EqualValues(t, len(first)+30, results[1].Offset)
	require.Len(t, results[1].Errors, 7)
	assert.Equal(t, "too many errors, giving up hope", results[1].Errors[6].Error())

	s = stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	var ids []string
	var decodeErr *stream.DecodeError
	for rec, err := range s.Records() {
		if err != nil {
			require.True(t, errors.As(err, &decodeErr))
			break
		}

		ids = append(ids, rec.(*Record).ID())
	}

	assert.Equal(t, []string{"<urn:a>"}, ids, "records before the failure should be yielded")
	require.NotNil(t, decodeErr)
	assert.Len(t, decodeErr.Errors, 7)
}

func TestContentLengthMismatch(t *testing.T) {
	data := "WARC/1.0\r\nContent-Length: 100\r\n\r\nshort"
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(false)
	require.NoError(t, err)

	rec := res.Record.(*Record)
	assert.Equal(t, "short", string(rec.Content().Data))
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, `content length mismatch (is, claims): "5", "100"`, rec.Errors()[0].Error())

	_, err = s.ReadNextRecord(false)
	var truncated *stream.TruncatedStreamError
	assert.True(t, errors.As(err, &truncated), "skipping the rest of the record should fail")
}

func TestHugeContentLength(t *testing.T) {
	data := "WARC/1.0\r\nContent-Length: 99999999999999\r\n\r\nshort"
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(false)
	require.NoError(t, err)

	rec := res.Record.(*Record)
	assert.Equal(t, "short", string(rec.Content().Data))
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, `content length mismatch (is, claims): "5", "99999999999999"`, rec.Errors()[0].Error())

	_, err = s.ReadNextRecord(false)
	var truncated *stream.TruncatedStreamError
	assert.True(t, errors.As(err, &truncated))
}

func TestOverflowingContentLength(t *testing.T) {
	data := "WARC/1.0\r\nContent-Length: 9223372036854775807\r\n\r\n\r\n\r\n"
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(false)
	require.NoError(t, err)

	rec := res.Record.(*Record)
	assert.Empty(t, rec.Content().Data)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, `invalid header: "Content-Length", "9223372036854775807"`, rec.Errors()[0].Error())

	res, err = s.ReadNextRecord(false)
	require.NoError(t, err)
	assert.Nil(t, res.Record)
}

func TestMissingContentLength(t *testing.T) {
	s := stream.NewRecordStream(strings.NewReader("WARC/1.0\r\nWARC-Type: warcinfo\r\n\r\n\r\n\r\n"), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(false)
	require.NoError(t, err)

	rec := res.Record.(*Record)
	assert.Empty(t, rec.Content().Data)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, `missing header: "Content-Length"`, rec.Errors()[0].Error())
}

func TestWriteTo(t *testing.T) {
	rec := NewRecord(Version, []Header{
		{HeaderType, TypeResource},
		{HeaderContentLength, "999"},
	}, Content{Type: "text/plain", Data: []byte("hi")})

	var buf bytes.Buffer
	n, err := rec.WriteTo(&buf)
	require.NoError(t, err)

	expected := "WARC/1.0\r\n" +
		"WARC-Type: resource\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 2\r\n" +
		"\r\n" +
		"hi\r\n\r\n"
	assert.Equal(t, expected, buf.String())
	assert.EqualValues(t, len(expected), n)
}

func TestWriteToStreamsContent(t *testing.T) {
	data := warcRecord("<urn:a>", "hello")
	s := stream.NewRecordStream(strings.NewReader(data), &Parser{})
	defer s.Close()

	res, err := s.ReadNextRecord(false)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = res.Record.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf.String())
}

func TestRoundTrip(t *testing.T) {
	date := DateString(time.Date(2011, 3, 5, 13, 1, 2, 0, time.UTC))
	requestID := RandomID()
	written := []*Record{
		MakeRequest(requestID, date, "http://example.com/", Content{"application/http;msgtype=request", []byte("GET / HTTP/1.1\r\n\r\n")}, ""),
		MakeResponse(RandomID(), date, "http://example.com/", Content{"application/http;msgtype=response", []byte(strings.Repeat("body", 5000))}, requestID),
		MakeMetadata(RandomID(), date, Content{"text/anvl", []byte("via: http://example.com/")}, requestID, "http://example.com/"),
		MakeConversion(RandomID(), date, Content{"", nil}, requestID, ""),
	}

	cases := []struct {
		name        string
		compression stream.Compression
		format      stream.Format
	}{
		{"none", stream.CompressionNone, ""},
		{"record", stream.CompressionRecord, stream.FormatGzip},
		{"file-gzip", stream.CompressionFile, stream.FormatGzip},
		{"file-snappy", stream.CompressionFile, stream.FormatSnappy},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.warc")
			opts := stream.Options{Compression: c.compression, Format: c.format}

			wopts := opts
			wopts.Flag = os.O_RDWR | os.O_CREATE
			w, err := OpenArchive(path, wopts)
			require.NoError(t, err)
			for _, rec := range written {
				require.NoError(t, w.Write(rec))
			}
			require.NoError(t, w.Close())

			r, err := OpenArchive(path, opts)
			require.NoError(t, err)
			defer r.Close()

			results := readAll(t, r)
			require.Len(t, results, len(written)+1)
			for i, rec := range written {
				read := results[i].Record.(*Record)
				assert.Empty(t, read.Errors())
				assert.Equal(t, rec.Version, read.Version)
				assert.Equal(t, rec.Type(), read.Type())
				assert.Equal(t, rec.ID(), read.ID())
				assert.Equal(t, rec.Date(), read.Date())
				assert.Equal(t, rec.URL(), read.URL())
				assert.Equal(t, rec.Header(HeaderConcurrentTo), read.Header(HeaderConcurrentTo))
				assert.Equal(t, rec.Header(HeaderRefersTo), read.Header(HeaderRefersTo))
				assert.Equal(t, rec.ContentType(), read.ContentType())
				assert.Equal(t, rec.Content().Data, read.Content().Data)

				if c.compression == stream.CompressionFile {
					assert.Equal(t, stream.NoOffset, results[i].Offset)
				}
			}
		})
	}
}

func TestReopenAtOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.warc.gz")
	w, err := OpenArchive(path, stream.Options{Flag: os.O_RDWR | os.O_CREATE})
	require.NoError(t, err)
	require.Equal(t, stream.CompressionRecord, w.Compression())

	var ids []string
	for i := 0; i < 3; i++ {
		id := IDFromText([]byte(strconv.Itoa(i)))
		ids = append(ids, id)
		require.NoError(t, w.Write(MakeMetadata(id, DateString(time.Now()), Content{"text/plain", []byte(strings.Repeat("m", i*1000))}, "", "")))
	}
	require.NoError(t, w.Close())

	r, err := stream.Open(path, stream.Options{})
	require.NoError(t, err)
	results := readAll(t, r)
	r.Close()

	require.Len(t, results, 4)
	for i, id := range ids {
		assert.Equal(t, id, results[i].Record.(*Record).ID())

		s, err := OpenArchive(path, stream.Options{RangeOffset: results[i].Offset})
		require.NoError(t, err)

		res, err := s.ReadNextRecord(true)
		require.NoError(t, err)
		require.NotNil(t, res.Record)
		assert.Equal(t, results[i].Offset, res.Offset)
		assert.Equal(t, id, res.Record.(*Record).ID())
		s.Close()
	}
}

func TestWholeFileGzipDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whole.warc.gz")
	w, err := OpenArchive(path, stream.Options{
		Compression: stream.CompressionFile,
		Flag:        os.O_RDWR | os.O_CREATE,
	})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		id := IDFromText([]byte(strconv.Itoa(i)))
		ids = append(ids, id)
		require.NoError(t, w.Write(MakeMetadata(id, DateString(time.Now()), Content{"text/plain", []byte(strings.Repeat("w", i*100))}, "", "")))
	}
	require.NoError(t, w.Close())

	r, err := OpenArchive(path, stream.Options{})
	require.NoError(t, err)
	defer r.Close()

	results := readAll(t, r)
	require.Len(t, results, 4, "every record in the single gzip member should be read")
	for i, id := range ids {
		assert.Equal(t, id, results[i].Record.(*Record).ID())
		assert.Empty(t, results[i].Record.(*Record).Errors())
	}

	assert.EqualValues(t, 0, results[0].Offset)
	assert.Equal(t, stream.NoOffset, results[1].Offset)
	assert.Equal(t, stream.NoOffset, results[2].Offset)
}

func TestDetectWarc(t *testing.T) {
	var buf bytes.Buffer
	w := stream.NewGzipRecordStream(nopWriteCloser{&buf}, &Parser{})
	require.NoError(t, w.Write(MakeMetadata("<urn:a>", "", Content{"text/plain", []byte("x")}, "", "")))

	s, err := stream.OpenSource(ioutil.NopCloser(bytes.NewReader(buf.Bytes())), stream.Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, stream.CompressionRecord, s.Compression())

	res, err := s.ReadNextRecord(true)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.Equal(t, "<urn:a>", res.Record.(*Record).ID())

	assert.Equal(t, RecordType, stream.DetectRecordType([]byte("WARC/0.18\r\n")))
	assert.Equal(t, RecordType, stream.LookupRecordType("warc"))
}

type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error {
	return nil
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "<urn:uuid:aaf4c61d-dcc5-e8a2-dabe-de0f3b482cd9>", IDFromText([]byte("hello")))

	uuidRx := regexp.MustCompile(`^<urn:uuid:[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}>$`)
	a, b := RandomID(), RandomID()
	assert.Regexp(t, uuidRx, a)
	assert.NotEqual(t, a, b)
}

func TestDateString(t *testing.T) {
	d := time.Date(2011, 3, 5, 14, 1, 2, 500, time.FixedZone("CET", 3600))
	assert.Equal(t, "2011-03-05T13:01:02Z", DateString(d))
}

func TestBlockDigest(t *testing.T) {
	assert.Equal(t, "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", BlockDigest(nil))
}
