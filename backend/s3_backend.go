package backend

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/juju/ratelimit"

	"github.com/stripe/warctools/log"
)

var errReadOnly = errors.New("remote backends are read-only")

// S3Backend opens objects addressed as s3://bucket/key. Byte ranges are
// fetched with ranged GETs.
type S3Backend struct {
	maxRetries int
	backoff    time.Duration
	svc        s3iface.S3API
	bucket     *ratelimit.Bucket
}

func NewS3Backend(maxRetries int, svc s3iface.S3API) *S3Backend {
	return &S3Backend{
		maxRetries: maxRetries,
		backoff:    time.Second,
		svc:        svc,
	}
}

// SetRateLimit throttles reads from every object opened afterwards.
func (s *S3Backend) SetRateLimit(bucket *ratelimit.Bucket) {
	s.bucket = bucket
}

func (s *S3Backend) Open(u *url.URL, r Range, flag int) (io.ReadCloser, error) {
	if isWrite(flag) {
		return nil, errReadOnly
	}

	key := strings.TrimPrefix(u.Path, "/")
	params := &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	}

	if rng := rangeHeader(r); rng != "" {
		params.Range = aws.String(rng)
	}

	resp, err := s.svc.GetObject(params)

	// If the download failed, retry maxRetries number of times with an
	// exponential backoff.
	backoff := s.backoff
	for i := 0; i < s.maxRetries && err != nil; i++ {
		log.LogWithKVs("retrying S3 GET", log.KeyValue{
			"path":    s.DisplayPath(u),
			"attempt": i + 1,
			"error":   err,
		})

		time.Sleep(backoff)
		resp, err = s.svc.GetObject(params)
		backoff *= 2
	}

	if err != nil {
		return nil, fmt.Errorf("error opening S3 path %s: %s", s.DisplayPath(u), err)
	}

	// The ranged GET already stops at the end of the range.
	return limit(resp.Body, Range{}, s.bucket), nil
}

func (s *S3Backend) DisplayPath(u *url.URL) string {
	key := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("s3://%s/%s", u.Host, key)
}

// rangeHeader builds an HTTP Range header value, or "" for the whole object.
func rangeHeader(r Range) string {
	switch {
	case r.Length > 0:
		return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
	case r.Offset > 0:
		return fmt.Sprintf("bytes=%d-", r.Offset)
	default:
		return ""
	}
}
