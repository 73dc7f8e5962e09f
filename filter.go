package main

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/stripe/warctools/warc"
)

// recordFilter is a compiled CEL expression over WARC records, used by the
// --filter flag. An empty filter matches everything.
type recordFilter struct {
	prog    cel.Program
	enabled bool
}

func newRecordFilter(expr string) (recordFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return recordFilter{enabled: false}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("uri", cel.StringType),
		cel.Variable("date", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("length", cel.IntType),
		cel.Variable("offset", cel.IntType),
		// Header names are lowercased.
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return recordFilter{}, err
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return recordFilter{}, fmt.Errorf("compiling filter: %w", iss.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return recordFilter{}, fmt.Errorf("filter must be a boolean expression, not %s", ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return recordFilter{}, err
	}

	return recordFilter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter against a record. Evaluation errors, such as a
// missing header, count as no match.
func (f recordFilter) Match(rec *warc.Record, offset int64) bool {
	if !f.enabled {
		return true
	}

	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		name := strings.ToLower(h.Name)
		if _, ok := headers[name]; !ok {
			headers[name] = h.Value
		}
	}

	out, _, err := f.prog.Eval(map[string]any{
		"type":         rec.Type(),
		"id":           rec.ID(),
		"uri":          rec.URL(),
		"date":         rec.Date(),
		"content_type": rec.ContentType(),
		"length":       rec.ContentLength(),
		"offset":       offset,
		"headers":      headers,
	})
	if err != nil {
		return false
	}

	b, ok := out.Value().(bool)
	return ok && b
}
