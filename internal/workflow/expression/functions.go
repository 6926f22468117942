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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// lengthFunc returns the length of a string, slice, or map.
// Usage: length(steps.fetch.items) > 0
func lengthFunc(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len()
	default:
		return 0
	}
}

// upperFunc uppercases a string.
func upperFunc(s string) string { return strings.ToUpper(s) }

// lowerFunc lowercases a string.
func lowerFunc(s string) string { return strings.ToLower(s) }

// dateFunc formats a RFC3339 timestamp string, or now, using a Go
// reference-time layout string.
func dateFunc(args ...any) string {
	layout := time.RFC3339
	var t time.Time
	switch len(args) {
	case 0:
		t = time.Now().UTC()
	case 1:
		if layoutArg, ok := args[0].(string); ok {
			layout = layoutArg
			t = time.Now().UTC()
		}
	default:
		layout = fmt.Sprintf("%v", args[1])
		if s, ok := args[0].(string); ok {
			parsed, err := time.Parse(time.RFC3339, s)
			if err == nil {
				t = parsed
			} else {
				t = time.Now().UTC()
			}
		}
	}
	return t.Format(layout)
}

// jsonFunc serializes a value to a JSON string; used to pass structured
// step outputs into modules that expect a JSON-encoded string input.
func jsonFunc(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Truthy applies the coercion rules used for condition/loop guards:
// nil, false, 0, "", and empty collections are falsy; everything else
// is truthy.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return rv.Len() > 0
		default:
			return true
		}
	}
}
