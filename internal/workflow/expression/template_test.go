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

package expression_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomwork/substrate/internal/workflow/expression"
)

func TestInterpolate_NoTemplateReturnsUnchanged(t *testing.T) {
	e := expression.New()
	result, err := e.Interpolate("plain text", nil)
	require.NoError(t, err)
	require.Equal(t, "plain text", result)
}

func TestInterpolate_WholeExpressionPreservesType(t *testing.T) {
	e := expression.New()
	env := map[string]any{"steps": map[string]any{"add": map[string]any{"output": 8}}}

	result, err := e.Interpolate(`{{ steps.add.output }}`, env)
	require.NoError(t, err)
	require.Equal(t, 8, result)
}

func TestInterpolate_PartialExpressionStringifies(t *testing.T) {
	e := expression.New()
	env := map[string]any{"input": map[string]any{"name": "Ada"}}

	result, err := e.Interpolate(`hello {{ input.name }}!`, env)
	require.NoError(t, err)
	require.Equal(t, "hello Ada!", result)
}

func TestInterpolate_UndefinedStringifiesToEmpty(t *testing.T) {
	e := expression.New()
	result, err := e.Interpolate(`[{{ steps.missing.output }}]`, map[string]any{"steps": map[string]any{}})
	require.NoError(t, err)
	require.Equal(t, "[]", result)
}

func TestInterpolateValue_Recurses(t *testing.T) {
	e := expression.New()
	env := map[string]any{"input": map[string]any{"v": 5}}

	in := map[string]any{
		"a": "{{ input.v }}",
		"nested": map[string]any{
			"b": []any{"{{ input.v }}", "plain"},
		},
	}

	out, err := e.InterpolateValue(in, env)
	require.NoError(t, err)

	m := out.(map[string]any)
	require.Equal(t, 5, m["a"])
	nested := m["nested"].(map[string]any)
	b := nested["b"].([]any)
	require.Equal(t, 5, b[0])
	require.Equal(t, "plain", b[1])
}
