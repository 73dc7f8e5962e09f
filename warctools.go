package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/stripe/warctools/backend"
	"github.com/stripe/warctools/log"
	"github.com/stripe/warctools/stream"
	"github.com/stripe/warctools/warc"
	"github.com/stripe/warctools/workqueue"
)

type warctools struct {
	config   warctoolsConfig
	resolver *backend.Resolver
	filter   recordFilter
	stats    *statsd.Client

	outLock sync.Mutex
	out     io.Writer
}

func newWarctools(config warctoolsConfig, resolver *backend.Resolver, out io.Writer) *warctools {
	return &warctools{
		config:   config,
		resolver: resolver,
		out:      out,
	}
}

func (w *warctools) open(locator string, offset, length int64) (*stream.Stream, error) {
	opts := w.config.streamOptions()
	opts.Resolver = w.resolver
	opts.RangeOffset = offset
	opts.RangeLength = length

	s, err := stream.Open(locator, opts)
	if err != nil {
		w.incr("open_errors")
		return nil, err
	}

	w.incr("files")
	return s, nil
}

func (w *warctools) incr(name string) {
	if w.stats != nil {
		w.stats.Incr(name, nil, 1)
	}
}

func (w *warctools) write(b []byte) error {
	w.outLock.Lock()
	defer w.outLock.Unlock()

	_, err := w.out.Write(b)
	return err
}

// eachRecord reads every record in a container, calling fn for the ones that
// match the filter. Records that fail to parse are logged and counted, and
// end the container.
func (w *warctools) eachRecord(locator string, fn func(rec *warc.Record, res stream.Result) error) error {
	s, err := w.open(locator, 0, 0)
	if err != nil {
		return err
	}
	defer s.Close()

	for res, err := range s.ReadRecords(stream.Unlimited, true) {
		if err != nil {
			return err
		}

		if res.Record == nil {
			if len(res.Errors) > 0 {
				w.incr("decode_errors")
				log.LogWithKVs("giving up on container", log.KeyValue{
					"locator": locator,
					"offset":  res.Offset,
					"error":   &stream.DecodeError{Errors: res.Errors},
				})
			}

			break
		}

		w.incr("records")
		rec, ok := res.Record.(*warc.Record)
		if !ok {
			return fmt.Errorf("%s: unsupported record type %T", locator, res.Record)
		}

		if len(rec.Errors()) > 0 {
			w.incr("record_errors")
		}

		if !w.filter.Match(rec, res.Offset) {
			continue
		}

		if err := fn(rec, res); err != nil {
			return err
		}
	}

	return nil
}

// dump prints every record's headers and errors, and optionally content.
func (w *warctools) dump(locators []string, withContent bool) error {
	for _, locator := range locators {
		err := w.eachRecord(locator, func(rec *warc.Record, res stream.Result) error {
			var buf bytes.Buffer
			formatRecord(&buf, locator, rec, res.Offset, withContent)
			return w.write(buf.Bytes())
		})

		if err != nil {
			return fmt.Errorf("%s: %w", locator, err)
		}
	}

	return nil
}

func formatRecord(buf *bytes.Buffer, locator string, rec *warc.Record, offset int64, withContent bool) {
	if offset == stream.NoOffset {
		fmt.Fprintf(buf, "archive record at %s\n", locator)
	} else {
		fmt.Fprintf(buf, "archive record at %s:%d\n", locator, offset)
	}

	fmt.Fprintf(buf, "Headers:\n")
	fmt.Fprintf(buf, "\t%s\n", rec.Version)
	for _, h := range rec.Headers {
		fmt.Fprintf(buf, "\t%s:%s\n", h.Name, h.Value)
	}

	content := rec.Content()
	if withContent {
		fmt.Fprintf(buf, "Content:\n")
		buf.Write(content.Data)
		buf.WriteString("\n")
	} else {
		fmt.Fprintf(buf, "Content: %d bytes of %s\n", len(content.Data), orNone(content.Type))
	}

	if errs := rec.Errors(); len(errs) > 0 {
		fmt.Fprintf(buf, "Errors:\n")
		for _, err := range errs {
			fmt.Fprintf(buf, "\t%s\n", err)
		}
	}

	buf.WriteString("\n")
}

func orNone(s string) string {
	if s == "" {
		return "unknown type"
	}

	return s
}

// index prints one line per record: locator, offset, type, target URI, ID,
// content type and length. Containers are read in parallel, but their lines
// are printed in the order the containers were given.
func (w *warctools) index(locators []string) error {
	wq := workqueue.NewWorkQueue(w.config.Parallelism)
	defer wq.Close()

	bufs := make([]bytes.Buffer, len(locators))
	for i, locator := range locators {
		buf := &bufs[i]
		wq.Schedule(locator, func() error {
			return w.eachRecord(locator, func(rec *warc.Record, res stream.Result) error {
				fmt.Fprintln(buf, strings.Join([]string{
					locator,
					formatOffset(res.Offset),
					orDash(rec.Type()),
					orDash(rec.URL()),
					orDash(rec.ID()),
					orDash(rec.ContentType()),
					fmt.Sprint(rec.ContentLength()),
				}, " "))

				return nil
			})
		})
	}

	errs := wq.Wait()

	if err := w.write([]byte("#WARC filename offset warc-type warc-target-uri warc-record-id content-type content-length\n")); err != nil {
		return err
	}

	for i := range bufs {
		if err := w.write(bufs[i].Bytes()); err != nil {
			return err
		}
	}

	if len(errs) > 0 {
		for _, err := range errs {
			log.LogWithKVs("indexing failed", log.KeyValue{"error": err})
		}

		return fmt.Errorf("%d of %d containers failed", len(errs), len(locators))
	}

	return nil
}

func formatOffset(offset int64) string {
	if offset == stream.NoOffset {
		return "-"
	}

	return fmt.Sprint(offset)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// get reads the single record starting at offset, and prints either the
// whole record or just its content.
func (w *warctools) get(locator string, offset, length int64, contentOnly bool) error {
	s, err := w.open(locator, offset, length)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.ReadNextRecord(true)
	if err != nil {
		return err
	}

	if res.Record == nil {
		if len(res.Errors) > 0 {
			return fmt.Errorf("%s:%d: %w", locator, offset, &stream.DecodeError{Errors: res.Errors})
		}

		return fmt.Errorf("%s:%d: no record found", locator, offset)
	}

	w.incr("records")
	if !contentOnly {
		var buf bytes.Buffer
		if _, err := res.Record.WriteTo(&buf); err != nil {
			return err
		}

		return w.write(buf.Bytes())
	}

	rec, ok := res.Record.(*warc.Record)
	if !ok {
		return fmt.Errorf("%s: unsupported record type %T", locator, res.Record)
	}

	return w.write(rec.Content().Data)
}
