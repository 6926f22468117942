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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loomwork/substrate/internal/resilience"
	"github.com/loomwork/substrate/internal/workflow"
	"github.com/loomwork/substrate/pkg/errors"
)

// HTTPCategory registers the http.request module, the one builtin that
// demonstrates resilience-wrapped outbound I/O: every call passes through
// layer.Invoke under the scope "http.request" before reaching the wire.
func HTTPCategory(layer *resilience.Layer, client *http.Client) Category {
	if client == nil {
		client = http.DefaultClient
	}
	return Category{
		Name: "http",
		Modules: func() (map[string]Module, error) {
			return map[string]Module{
				"request": httpRequestModule(layer, client),
			}, nil
		},
	}
}

func httpRequestModule(layer *resilience.Layer, client *http.Client) Module {
	return func(ctx context.Context, inputs map[string]any, _ *workflow.RunContext) (any, error) {
		url, err := stringArg(inputs, "url")
		if err != nil {
			return nil, err
		}
		method := "GET"
		if m, ok := inputs["method"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}

		var body io.Reader
		if b, ok := inputs["body"]; ok && b != nil {
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, &errors.ValidationError{Field: "body", Message: "body must be JSON-serializable"}
			}
			body = bytes.NewReader(encoded)
		}

		result, err := layer.Invoke(ctx, "http.request", func(callCtx context.Context) (any, error) {
			req, err := http.NewRequestWithContext(callCtx, method, url, body)
			if err != nil {
				return nil, &errors.ValidationError{Field: "url", Message: err.Error()}
			}
			if headers, ok := inputs["headers"].(map[string]any); ok {
				for k, v := range headers {
					if s, ok := v.(string); ok {
						req.Header.Set(k, s)
					}
				}
			}
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, &errors.ModuleError{Kind: errors.KindTransient, Module: "http.request", Message: err.Error()}
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, &errors.ModuleError{Kind: errors.KindTransient, Module: "http.request", Message: err.Error()}
			}

			if resp.StatusCode >= 500 {
				return nil, &errors.ModuleError{
					Kind:       errors.KindTransient,
					Module:     "http.request",
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("server error: %s", string(respBody)),
				}
			}
			if resp.StatusCode == 429 {
				return nil, &errors.ModuleError{
					Kind:       errors.KindRateLimited,
					Module:     "http.request",
					StatusCode: resp.StatusCode,
					Message:    "rate limited",
				}
			}
			if resp.StatusCode == 408 {
				return nil, &errors.ModuleError{
					Kind:       errors.KindTransient,
					Module:     "http.request",
					StatusCode: resp.StatusCode,
					Message:    "request timeout",
				}
			}
			if resp.StatusCode >= 400 {
				return nil, &errors.ModuleError{
					Kind:       errors.KindPermanent,
					Module:     "http.request",
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("client error: %s", string(respBody)),
				}
			}

			var decoded any
			if err := json.Unmarshal(respBody, &decoded); err != nil {
				decoded = string(respBody)
			}

			return map[string]any{
				"status": resp.StatusCode,
				"body":   decoded,
			}, nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
