// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reach

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter selects findings with a CEL expression.
//
// The expression sees these variables:
//
//	vulnerability_id  string  advisory ID
//	severity          string  "LOW", "MEDIUM", "HIGH" or "CRITICAL"
//	severity_rank     int     1 (LOW) to 4 (CRITICAL)
//	component         string  component name
//	version           string  component version
//	path_length       int     number of edges on the explanation path
//
// Example: `severity_rank >= 3 && component.startsWith("urllib")`.
//
// A compiled Filter is safe for concurrent use.
type Filter struct {
	expr    string
	program cel.Program
}

// NewFilter compiles expr.
//
// # Outputs
//
//   - *Filter: Ready to apply.
//   - error: ErrInvalidFilter wrapping the compiler message, including when
//     the expression is not boolean.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("vulnerability_id", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("severity_rank", cel.IntType),
		cel.Variable("component", cel.StringType),
		cel.Variable("version", cel.StringType),
		cel.Variable("path_length", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must be boolean, got %s", ErrInvalidFilter, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return &Filter{expr: expr, program: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against one finding.
func (f *Filter) Match(finding Finding) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"vulnerability_id": finding.VulnerabilityID,
		"severity":         finding.Severity.String(),
		"severity_rank":    int64(finding.Severity),
		"component":        finding.Component.Name,
		"version":          finding.Component.Version,
		"path_length":      int64(len(finding.Path) - 1),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: result is %T", ErrInvalidFilter, out.Value())
	}
	return matched, nil
}

// Apply returns the findings that match, preserving order.
func (f *Filter) Apply(findings []Finding) ([]Finding, error) {
	result := make([]Finding, 0, len(findings))
	for _, finding := range findings {
		ok, err := f.Match(finding)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, finding)
		}
	}
	return result, nil
}
