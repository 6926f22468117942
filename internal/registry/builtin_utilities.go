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

package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomwork/substrate/internal/workflow"
	"github.com/loomwork/substrate/pkg/errors"
)

// UtilitiesCategory registers the string and math utility modules used by
// S1/S2 of the testable scenarios (utilities.string.upper, .math.add, …).
func UtilitiesCategory() Category {
	return Category{
		Name: "utilities",
		Modules: func() (map[string]Module, error) {
			return map[string]Module{
				"string.upper":  stringUpper,
				"string.lower":  stringLower,
				"string.length": stringLength,
				"math.add":      mathAdd,
				"echo":          echo,
			}, nil
		},
	}
}

func stringArg(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key]
	if !ok {
		return "", &errors.ValidationError{Field: key, Message: "required input missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &errors.ValidationError{Field: key, Message: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

func stringUpper(_ context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
	s, err := stringArg(inputs, "text")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func stringLower(_ context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
	s, err := stringArg(inputs, "text")
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func stringLength(_ context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
	s, err := stringArg(inputs, "text")
	if err != nil {
		return nil, err
	}
	return len(s), nil
}

func numberArg(inputs map[string]any, key string) (float64, error) {
	v, ok := inputs[key]
	if !ok {
		return 0, &errors.ValidationError{Field: key, Message: "required input missing"}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, &errors.ValidationError{Field: key, Message: fmt.Sprintf("expected number, got %T", v)}
	}
}

func mathAdd(_ context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
	a, err := numberArg(inputs, "a")
	if err != nil {
		return nil, err
	}
	b, err := numberArg(inputs, "b")
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

// echo returns its single "v" input unchanged; used by chaining scenarios
// (S2) to seed a value bound via outputAs for a following step to consume.
func echo(_ context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
	return inputs["v"], nil
}
