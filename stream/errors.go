package stream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by every operation on a stream after Close.
	ErrClosed = errors.New("stream: use of closed stream")

	ErrNotSeekable = errors.New("stream: source is not seekable")
	ErrNotWritable = errors.New("stream: source is not writable")
)

// A FormatDetectionError is returned by Open when the record type or the
// compression of a container can't be inferred, or when the requested
// combination of options can't be served.
type FormatDetectionError struct {
	Locator string
	Reason  string
}

func (e *FormatDetectionError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("stream: %s", e.Reason)
	}

	return fmt.Sprintf("stream: %s: %s", e.Locator, e.Reason)
}

// A TruncatedStreamError means the source ended while skipping the unread
// remainder of a record. The stream position can no longer be trusted.
type TruncatedStreamError struct {
	Expected int64
	Read     int64
	Err      error
}

func (e *TruncatedStreamError) Error() string {
	msg := fmt.Sprintf("stream: expected %d bytes but only read %d", e.Expected, e.Read)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *TruncatedStreamError) Unwrap() error {
	return e.Err
}

// An InvariantViolationError is a broken internal contract, such as a skip
// requested while no record is pending.
type InvariantViolationError struct {
	Msg string
}

func (e *InvariantViolationError) Error() string {
	return "stream: " + e.Msg
}

// A DecodeError ends plain record iteration when a read yields no record but
// does carry parser errors.
type DecodeError struct {
	Errors []error
}

func (e *DecodeError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}

	return "errors while decoding " + strings.Join(msgs, ",")
}

func (e *DecodeError) Unwrap() []error {
	return e.Errors
}
