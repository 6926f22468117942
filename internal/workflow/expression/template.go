// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expression

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches a single {{ expr }} interpolation.
var templatePattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// wholeTemplatePattern matches a string whose entire content is one
// interpolation, with nothing before or after it.
var wholeTemplatePattern = regexp.MustCompile(`^\{\{\s*(.+?)\s*\}\}$`)

// Interpolate evaluates {{ expr }} occurrences in s against env. If s is
// exactly one interpolation with no surrounding text, the expression's
// native result (non-string included) replaces the whole string; otherwise
// every match is evaluated and stringified in place. A string containing no
// "{{" is returned unchanged — interpolate(s, ctx) = s for all such s.
func (e *Evaluator) Interpolate(s string, env map[string]any) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	if m := wholeTemplatePattern.FindStringSubmatch(s); m != nil {
		return e.Eval(m[1], env)
	}

	var evalErr error
	result := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := templatePattern.FindStringSubmatch(match)
		value, err := e.Eval(sub[1], env)
		if err != nil {
			evalErr = err
			return match
		}
		return stringify(value)
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return result, nil
}

// InterpolateValue recursively interpolates every string leaf of an
// arbitrary JSON-like value (map[string]any, []any, or scalar), used to
// resolve a Step's Inputs before module invocation.
func (e *Evaluator) InterpolateValue(v any, env map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return e.Interpolate(t, env)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			resolved, err := e.InterpolateValue(val, env)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			resolved, err := e.InterpolateValue(val, env)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// stringify renders an interpolation result for embedding inside a larger
// string. nil (the "undefined" result for unknown identifiers) stringifies
// to the empty string.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
