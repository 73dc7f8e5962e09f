// Package backend resolves container locators (local paths, s3:// and hdfs://
// URLs) into open byte sources.
package backend

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/juju/ratelimit"
	"github.com/nightlyone/lockfile"
)

// A Range restricts reading to part of a file. A zero Length means "to the
// end of the file".
type Range struct {
	Offset int64
	Length int64
}

// A Backend opens files at one kind of location. The returned reader is
// positioned at r.Offset. Seekable or writable files are returned as values
// that also implement io.Seeker or io.Writer.
type Backend interface {
	Open(u *url.URL, r Range, flag int) (io.ReadCloser, error)
	DisplayPath(u *url.URL) string
}

// A Resolver dispatches locators to backends by URL scheme. Locators without
// a scheme are local paths.
type Resolver struct {
	backends map[string]Backend
}

// NewResolver returns a Resolver that knows about local files only.
func NewResolver() *Resolver {
	local := NewLocalBackend()
	return &Resolver{
		backends: map[string]Backend{
			"":     local,
			"file": local,
		},
	}
}

// Register adds (or replaces) the backend used for a scheme.
func (r *Resolver) Register(scheme string, b Backend) {
	r.backends[scheme] = b
}

func (r *Resolver) Open(locator string, rng Range, flag int) (io.ReadCloser, error) {
	u, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}

	b, ok := r.backends[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no backend for %s", locator)
	}

	return b.Open(u, rng, flag)
}

func parseLocator(locator string) (*url.URL, error) {
	if !strings.Contains(locator, "://") {
		return &url.URL{Path: locator}, nil
	}

	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %s", locator, err)
	}

	return u, nil
}

func isWrite(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR) != 0
}

// A basic backend for the local filesystem. Files opened for writing are
// locked with a sibling .lock file for as long as they are open. The lock file
// keeps other processes out; the writers map keeps out this one.
type LocalBackend struct {
	mu      sync.Mutex
	writers map[string]bool
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{writers: make(map[string]bool)}
}

func (lb *LocalBackend) Open(u *url.URL, r Range, flag int) (io.ReadCloser, error) {
	path := u.Path
	if !isWrite(flag) {
		return openAt(path, flag, r.Offset)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	lock, err := lb.lock(abs)
	if err != nil {
		return nil, err
	}

	f, err := openAt(path, flag, r.Offset)
	if err != nil {
		lb.unlock(abs, lock)
		return nil, err
	}

	return &lockedFile{File: f, path: abs, lock: lock, backend: lb}, nil
}

func (lb *LocalBackend) DisplayPath(u *url.URL) string {
	return u.Path
}

func openAt(path string, flag int, offset int64) (*os.File, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}

	return f, nil
}

func (lb *LocalBackend) lock(abs string) (lockfile.Lockfile, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.writers[abs] {
		return "", fmt.Errorf("%s is already open for writing", abs)
	}

	lock, err := lockfile.New(abs + ".lock")
	if err != nil {
		return "", err
	}

	if err := lock.TryLock(); err != nil {
		if p, err := lock.GetOwner(); err == nil {
			return "", fmt.Errorf("%s is locked by process %d", abs, p.Pid)
		}

		return "", fmt.Errorf("locking %s: %s", abs, err)
	}

	lb.writers[abs] = true
	return lock, nil
}

func (lb *LocalBackend) unlock(abs string, lock lockfile.Lockfile) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	delete(lb.writers, abs)
	return lock.Unlock()
}

type lockedFile struct {
	*os.File
	path    string
	lock    lockfile.Lockfile
	backend *LocalBackend
}

func (lf *lockedFile) Close() error {
	err := lf.File.Close()
	if uerr := lf.backend.unlock(lf.path, lf.lock); err == nil {
		err = uerr
	}

	return err
}

type readCloser struct {
	io.Reader
	io.Closer
}

// limit restricts rc to r.Length bytes, and throttles it if bucket is set.
func limit(rc io.ReadCloser, r Range, bucket *ratelimit.Bucket) io.ReadCloser {
	if r.Length <= 0 && bucket == nil {
		return rc
	}

	var rd io.Reader = rc
	if r.Length > 0 {
		rd = io.LimitReader(rd, r.Length)
	}

	if bucket != nil {
		rd = ratelimit.Reader(rd, bucket)
	}

	return readCloser{rd, rc}
}
