package stream

import "iter"

// ReadRecords yields up to limit results, or results until the first one
// without a record if limit is Unlimited. Record-level errors are handed to
// the caller inside each Result; only fatal errors are yielded as errors,
// after which the sequence ends.
func (s *Stream) ReadRecords(limit int, wantOffsets bool) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		for n := 0; limit == Unlimited || n < limit; n++ {
			res, err := s.ReadNextRecord(wantOffsets)
			if err != nil {
				yield(Result{Offset: NoOffset}, err)
				return
			}

			if !yield(res, nil) || res.Record == nil {
				return
			}
		}
	}
}

// Records yields every record in the stream. A read that returns parser
// errors without a record ends the sequence with a *DecodeError; records
// yielded before it stand.
func (s *Stream) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			res, err := s.ReadNextRecord(false)
			if err != nil {
				yield(nil, err)
				return
			}

			switch {
			case res.Record != nil:
				if !yield(res.Record, nil) {
					return
				}
			case len(res.Errors) > 0:
				yield(nil, &DecodeError{Errors: res.Errors})
				return
			default:
				return
			}
		}
	}
}
