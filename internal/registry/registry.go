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

// Package registry implements the name -> function lookup the Execution
// Engine resolves every step's module field through.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loomwork/substrate/internal/workflow"
	"github.com/loomwork/substrate/pkg/errors"
)

// Module is a named, registered function. Every module exports this
// uniform signature regardless of what it integrates with.
type Module func(ctx context.Context, inputs map[string]any, rc *workflow.RunContext) (any, error)

// Category groups a set of modules and is preloaded as a unit; a category
// whose constructor panics or errors does not abort the rest of preload.
type Category struct {
	Name    string
	Modules func() (map[string]Module, error)
}

// Registry is a name -> Module map filled by Preload and Register. Get and
// List take a read lock, so concurrent lookups do not block each other.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// New creates an empty registry. Call Preload before serving any run.
func New() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// PreloadReport summarizes one Preload invocation.
type PreloadReport struct {
	Total    int
	Success  int
	Fail     int
	Duration time.Duration
}

// Preload walks the given categories, registering every exported module
// constructor. A category whose constructor errors registers an error
// stub under every name it claims responsibility for (via Category.Modules
// returning a non-nil map alongside the error, if it can still enumerate
// names), or else a single stub under the category name, so one bad
// category never aborts the rest of preload.
func (r *Registry) Preload(categories []Category) PreloadReport {
	start := time.Now()
	report := PreloadReport{}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cat := range categories {
		mods, err := safeLoad(cat)
		if err != nil {
			if len(mods) == 0 {
				r.modules[cat.Name] = errorStub(cat.Name, err)
				report.Total++
				report.Fail++
				continue
			}
			for name := range mods {
				fullName := cat.Name + "." + name
				r.modules[fullName] = errorStub(fullName, err)
				report.Total++
				report.Fail++
			}
			continue
		}
		for name, mod := range mods {
			fullName := cat.Name + "." + name
			r.modules[fullName] = mod
			report.Total++
			report.Success++
		}
	}

	report.Duration = time.Since(start)
	return report
}

// safeLoad recovers from a panicking category constructor and reports it
// as an ordinary error, so Preload's per-category isolation holds even
// against programmer mistakes in a module package's init path.
func safeLoad(cat Category) (mods map[string]Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("category %q panicked during preload: %v", cat.Name, rec)
		}
	}()
	return cat.Modules()
}

// errorStub builds a module that always fails, used to stand in for a
// module or category whose preload failed — so invocations surface a
// clear, permanent error instead of a confusing "module not found".
func errorStub(name string, loadErr error) Module {
	return func(_ context.Context, _ map[string]any, _ *workflow.RunContext) (any, error) {
		return nil, &errors.ModuleError{
			Kind:    errors.KindInternal,
			Module:  name,
			Message: fmt.Sprintf("module category failed to load: %v", loadErr),
		}
	}
}

// Register adds or replaces a single module by its full dotted name.
// Exposed for tests and for a daemon wiring a representative builtin set
// without a full category Preload call.
func (r *Registry) Register(name string, mod Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = mod
}

// Get resolves a dotted module name. A name with no module of its own
// resolves to its category's error stub when that category failed to load.
func (r *Registry) Get(name string) (Module, error) {
	category, _, err := parseReference(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[name]
	if !ok {
		if stub, found := r.modules[category]; found {
			return stub, nil
		}
		return nil, &errors.NotFoundError{Resource: "module", ID: name}
	}
	return mod, nil
}

// Invoke resolves and calls a module by dotted name in one step.
func (r *Registry) Invoke(ctx context.Context, name string, inputs map[string]any, rc *workflow.RunContext) (any, error) {
	mod, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return mod(ctx, inputs, rc)
}

// List returns every registered dotted module name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// parseReference splits a dotted module reference into its category
// (everything before the first dot) and leaf name, generalizing the
// connector-registry split to arbitrary dot depth (e.g.
// "data.transform.jq" -> category "data", leaf "transform.jq").
func parseReference(reference string) (category, leaf string, err error) {
	idx := strings.Index(reference, ".")
	if idx <= 0 || idx == len(reference)-1 {
		return "", "", &errors.ValidationError{
			Field:      "module",
			Message:    fmt.Sprintf("invalid module reference %q: expected category.name", reference),
			Suggestion: "use a dotted module name such as utilities.string.upper",
		}
	}
	return reference[:idx], reference[idx+1:], nil
}
