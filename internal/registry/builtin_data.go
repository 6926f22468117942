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
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"

	"github.com/loomwork/substrate/internal/workflow"
	"github.com/loomwork/substrate/pkg/errors"
)

// defaultJQTimeout and defaultJQMaxInputSize mirror conductor's
// internal/jq.Executor defaults: a query that hangs or a payload large
// enough to make marshaling/iterating it expensive both fail fast
// rather than stalling a worker slot.
const (
	defaultJQTimeout      = 1 * time.Second
	defaultJQMaxInputSize = 10 * 1024 * 1024
)

// DataCategory registers the jq-style data-transform module.
func DataCategory() Category {
	return Category{
		Name: "data",
		Modules: func() (map[string]Module, error) {
			return map[string]Module{
				"transform.jq": jqTransform,
			}, nil
		},
	}
}

// jqTransform evaluates a jq query (inputs.query) against inputs.value and
// returns the single emitted result. When the query emits several values
// they are collected into an array; when it emits none the result is nil.
func jqTransform(ctx context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
	query, err := stringArg(inputs, "query")
	if err != nil {
		return nil, err
	}

	if err := validateJQInputSize(inputs["value"]); err != nil {
		return nil, err
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "query",
			Message:    fmt.Sprintf("invalid jq query: %v", err),
			Suggestion: "check the jq expression syntax",
		}
	}

	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, &errors.ValidationError{Field: "query", Message: fmt.Sprintf("failed to compile jq query: %v", err)}
	}

	execCtx, cancel := context.WithTimeout(ctx, defaultJQTimeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, inputs["value"])

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			if execCtx.Err() != nil {
				return nil, &errors.ModuleError{
					Kind:    errors.KindTransient,
					Module:  "data.transform.jq",
					Message: fmt.Sprintf("execution timeout after %s", defaultJQTimeout),
				}
			}
			return nil, &errors.ModuleError{
				Kind:    errors.KindPermanent,
				Module:  "data.transform.jq",
				Message: err.Error(),
			}
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// validateJQInputSize rejects a transform input large enough to make
// marshaling or iterating it expensive, mirroring conductor's
// internal/jq.Executor.validateInputSize guard.
func validateJQInputSize(data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return &errors.ValidationError{Field: "value", Message: fmt.Sprintf("failed to marshal input: %v", err)}
	}
	if len(encoded) > defaultJQMaxInputSize {
		return &errors.ValidationError{
			Field:      "value",
			Message:    fmt.Sprintf("input size (%d bytes) exceeds maximum (%d bytes)", len(encoded), defaultJQMaxInputSize),
			Suggestion: "reduce the payload before transforming it, or split the query across smaller steps",
		}
	}
	return nil
}
