package search

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"
)

// lineFilter wraps a compiled CEL program evaluated against each candidate
// line. When disabled, Eval always returns true.
type lineFilter struct {
	prog     cel.Program
	enabled  bool
	wantJSON bool
}

func newLineFilter(expr string) (lineFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return lineFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("line", cel.StringType),
		cel.Variable("line_number", cel.IntType),
		cel.Variable("file", cel.StringType),
		// Structured log lines are exposed parsed; null when the line is not JSON.
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return lineFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return lineFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return lineFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return lineFilter{}, err
	}
	return lineFilter{prog: prog, enabled: true, wantJSON: strings.Contains(expr, "json")}, nil
}

// Eval reports whether the line passes. Evaluation errors and non-bool
// results count as a miss.
func (f lineFilter) Eval(file string, lineNumber int64, line string) bool {
	if !f.enabled {
		return true
	}
	var obj any
	if f.wantJSON && strings.HasPrefix(strings.TrimSpace(line), "{") {
		_ = json.Unmarshal([]byte(line), &obj)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"line":        line,
		"line_number": lineNumber,
		"file":        file,
		"json":        obj,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
