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

func TestEvalBool(t *testing.T) {
	e := expression.New()

	env := map[string]any{
		"input": map[string]any{"count": 5},
	}

	ok, err := e.EvalBool(`input.count > 3`, env)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.EvalBool(`input.count > 10`, env)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalBool_EmptyIsTruthy(t *testing.T) {
	e := expression.New()
	ok, err := e.EvalBool("", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEval_UnknownIdentifierIsUndefined(t *testing.T) {
	e := expression.New()
	result, err := e.Eval(`steps.missing`, map[string]any{"steps": map[string]any{}})
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestEvalSequence_WrapsScalar(t *testing.T) {
	e := expression.New()
	seq, err := e.EvalSequence(`input.x`, map[string]any{"input": map[string]any{"x": 7}})
	require.NoError(t, err)
	require.Equal(t, []any{7}, seq)
}

func TestEvalSequence_PassesThroughSlice(t *testing.T) {
	e := expression.New()
	env := map[string]any{"input": map[string]any{"items": []any{1, 2, 3}}}
	seq, err := e.EvalSequence(`input.items`, env)
	require.NoError(t, err)
	require.Equal(t, []any{1, 2, 3}, seq)
}

func TestCompileCache(t *testing.T) {
	e := expression.New()
	env := map[string]any{"input": map[string]any{"a": 1}}

	_, err := e.Eval(`input.a`, env)
	require.NoError(t, err)
	require.Equal(t, 1, e.CacheSize())

	_, err = e.Eval(`input.a`, env)
	require.NoError(t, err)
	require.Equal(t, 1, e.CacheSize(), "re-evaluating the same expression must not grow the cache")

	e.ClearCache()
	require.Equal(t, 0, e.CacheSize())
}

func TestEval_Whitelist(t *testing.T) {
	e := expression.New()
	env := map[string]any{"input": map[string]any{"name": "Ada"}}

	result, err := e.Eval(`upper(input.name)`, env)
	require.NoError(t, err)
	require.Equal(t, "ADA", result)

	result, err = e.Eval(`length(input.name)`, env)
	require.NoError(t, err)
	require.Equal(t, 3, result)
}
