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

package registry_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomwork/substrate/internal/registry"
)

func TestDataTransformJQ_ExtractsField(t *testing.T) {
	r := registry.New()
	r.Preload([]registry.Category{registry.DataCategory()})

	out, err := r.Invoke(context.Background(), "data.transform.jq", map[string]any{
		"query": ".name",
		"value": map[string]any{"name": "ada"},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "ada", out)
}

func TestDataTransformJQ_InvalidQueryIsValidationError(t *testing.T) {
	r := registry.New()
	r.Preload([]registry.Category{registry.DataCategory()})

	_, err := r.Invoke(context.Background(), "data.transform.jq", map[string]any{
		"query": "(((",
		"value": map[string]any{},
	}, nil)
	require.Error(t, err)
}

func TestDataTransformJQ_RejectsOversizedInput(t *testing.T) {
	r := registry.New()
	r.Preload([]registry.Category{registry.DataCategory()})

	_, err := r.Invoke(context.Background(), "data.transform.jq", map[string]any{
		"query": ".",
		"value": strings.Repeat("x", 11*1024*1024),
	}, nil)
	require.Error(t, err)
}
