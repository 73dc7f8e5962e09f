package stream

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// How much of a container is peeked at to guess its record type.
const sniffSize = 4096

var gzipMagic = []byte{0x1f, 0x8b}

type registration struct {
	pattern *regexp.Regexp
	rt      RecordType
}

var (
	registryLock sync.RWMutex
	registry     []registration
)

// RegisterRecordType makes rt detectable: a container whose first line
// matches pattern is assumed to hold records of type rt. Patterns are tried
// in registration order. It's meant to be called from init functions.
func RegisterRecordType(pattern *regexp.Regexp, rt RecordType) {
	registryLock.Lock()
	defer registryLock.Unlock()

	registry = append(registry, registration{pattern, rt})
}

// DetectRecordType returns the first registered record type matching the
// first line of a container, or nil.
func DetectRecordType(line []byte) RecordType {
	registryLock.RLock()
	defer registryLock.RUnlock()

	for _, reg := range registry {
		if reg.pattern.Match(line) {
			return reg.rt
		}
	}

	return nil
}

// LookupRecordType finds a registered record type by name, or returns nil.
func LookupRecordType(name string) RecordType {
	registryLock.RLock()
	defer registryLock.RUnlock()

	for _, reg := range registry {
		if reg.rt.Name() == name {
			return reg.rt
		}
	}

	return nil
}

// IsGzip reports whether b starts with the gzip magic number.
func IsGzip(b []byte) bool {
	return bytes.HasPrefix(b, gzipMagic)
}

func (s *source) isGzip() bool {
	b, _ := s.Peek(len(gzipMagic))
	return IsGzip(b)
}

// firstLine returns the first (decompressed) line of the source without
// consuming anything, so it works on sources that can't seek.
func (s *source) firstLine() []byte {
	peek, _ := s.Peek(sniffSize)

	var r io.Reader = bytes.NewReader(peek)
	if IsGzip(peek) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil
		}

		r = gz
	}

	// A peek usually cuts a gzip member short; whatever decompressed before
	// that is good enough.
	line, _ := bufio.NewReader(r).ReadBytes('\n')
	return line
}
