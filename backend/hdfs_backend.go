package backend

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/colinmarc/hdfs"
	"github.com/juju/ratelimit"
)

// HdfsBackend opens files addressed as hdfs://namenode/path on a single
// namenode.
type HdfsBackend struct {
	client   *hdfs.Client
	namenode string
	bucket   *ratelimit.Bucket
}

func NewHdfsBackend(client *hdfs.Client, namenode string) *HdfsBackend {
	return &HdfsBackend{
		client:   client,
		namenode: namenode,
	}
}

// SetRateLimit throttles reads from every file opened afterwards.
func (h *HdfsBackend) SetRateLimit(bucket *ratelimit.Bucket) {
	h.bucket = bucket
}

// Open returns the file itself, which can seek, unless a length or a rate
// limit forces it to be wrapped.
func (h *HdfsBackend) Open(u *url.URL, r Range, flag int) (io.ReadCloser, error) {
	if isWrite(flag) {
		return nil, errReadOnly
	}

	if u.Host != "" && u.Host != h.namenode {
		return nil, fmt.Errorf("%s is not on namenode %s", u, h.namenode)
	}

	src := path.Clean(u.Path)
	f, err := h.client.Open(src)
	if err != nil {
		return nil, err
	}

	if r.Offset > 0 {
		if _, err := f.Seek(r.Offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}

	return limit(f, r, h.bucket), nil
}

func (h *HdfsBackend) DisplayPath(u *url.URL) string {
	p := strings.TrimPrefix(path.Clean(u.Path), "/")
	return fmt.Sprintf("hdfs://%s/%s", h.namenode, p)
}
