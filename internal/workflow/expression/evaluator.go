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

// Package expression implements the small {{ }} interpolation language
// used throughout workflow documents: dotted paths, comparisons, boolean
// and arithmetic operators, and a fixed whitelist of builtin functions.
// It is a thin profile of expr-lang/expr with the library's own builtin
// functions disabled; expr-lang's ternary and pipe operators are not
// disabled and are accepted.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and caches expr-lang programs keyed by their source
// text, so a step re-evaluated across loop iterations or retries pays the
// compile cost once.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an expression evaluator with an empty compile cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Eval compiles (or reuses a cached compile of) expr and runs it against
// env. Unknown identifiers resolve to nil rather than failing compilation,
// matching the execution engine's "unknown identifiers resolve to
// undefined" rule.
func (e *Evaluator) Eval(expr string, env map[string]any) (any, error) {
	program, err := e.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expr, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expr, err)
	}
	return result, nil
}

// EvalBool evaluates expr and coerces the result to a boolean truthiness
// check, used for Step.condition and Loop iteration guards. An empty
// expression is truthy by convention (no condition means "always run").
func (e *Evaluator) EvalBool(expr string, env map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	result, err := e.Eval(expr, env)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

// EvalSequence evaluates expr and returns it as an ordered slice, for
// Loop.Over. Non-slice results are wrapped into a single-element sequence
// so that loops over a scalar expression still iterate once.
func (e *Evaluator) EvalSequence(expr string, env map[string]any) ([]any, error) {
	result, err := e.Eval(expr, env)
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return []any{v}, nil
	}
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(expression,
		expr.Env(whitelistEnv()),
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}

// ClearCache drops all compiled programs. Exposed for tests and for
// operators who want to force recompilation after a whitelist change.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*vm.Program)
}

// CacheSize reports the number of distinct compiled expressions held.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// whitelistEnv declares the shape used only to type-check compilation;
// actual values are supplied per-evaluation via the env map passed to Run.
// The function set matches §4.1's enumerated builtins exactly: length,
// upper, lower, now, date, json — no others.
func whitelistEnv() map[string]any {
	return map[string]any{
		"input":      map[string]any{},
		"steps":      map[string]any{},
		"user":       map[string]any{},
		"credential": map[string]any{},
		"env":        map[string]any{},
		"workflowId": "",
		"runId":      "",
		"length":     lengthFunc,
		"upper":      upperFunc,
		"lower":      lowerFunc,
		"now":        func() string { return "" },
		"date":       dateFunc,
		"json":       jsonFunc,
	}
}
