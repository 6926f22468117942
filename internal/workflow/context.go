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

package workflow

import (
	"log/slog"
	"sync"
	"time"
)

// RunContext is the single mutable variable scope accessible throughout a
// run's execution. Its reads and writes are guarded by an internal
// RWMutex; a parallel loop iteration works on a child scope from Fork so
// iterations do not see each other's bindings.
type RunContext struct {
	mu sync.RWMutex

	workflowID string
	runID      string

	input      map[string]any
	steps      map[string]any
	vars       map[string]any
	credential map[string]any
	env        map[string]string

	logger *slog.Logger
}

// NewRunContext creates a scope seeded with trigger inputs, a resolved
// credential projection, and the whitelisted environment snapshot.
func NewRunContext(workflowID, runID string, input, credential map[string]any, env map[string]string, logger *slog.Logger) *RunContext {
	if input == nil {
		input = make(map[string]any)
	}
	if credential == nil {
		credential = make(map[string]any)
	}
	if env == nil {
		env = make(map[string]string)
	}
	return &RunContext{
		workflowID: workflowID,
		runID:      runID,
		input:      input,
		steps:      make(map[string]any),
		vars:       make(map[string]any),
		credential: credential,
		env:        env,
		logger:     logger,
	}
}

// BindStep records a completed step's output under steps.<id> and, if
// outputAs is non-empty, aliases it as a top-level variable as well. Both
// bindings point at the same value (dotted-path ownership, never aliased
// references per the execution engine's variable-scope design).
func (c *RunContext) BindStep(stepID, outputAs string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[stepID] = output
	if outputAs != "" {
		c.vars[outputAs] = output
	}
}

// SetVar binds a loop iteration variable or other transient name.
func (c *RunContext) SetVar(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// ToExprEnv flattens the scope into the map expr-lang evaluates against.
// user.*, credential.*, and each platform name must resolve to the same
// value, so the credential map is projected under all three spellings.
func (c *RunContext) ToExprEnv() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	env := make(map[string]any, len(c.vars)+6)
	for k, v := range c.vars {
		env[k] = v
	}

	env["input"] = c.input
	env["steps"] = c.steps
	env["workflowId"] = c.workflowID
	env["runId"] = c.runID
	env["now"] = func() string { return time.Now().UTC().Format(time.RFC3339) }

	credEnv := make(map[string]any, len(c.credential))
	for k, v := range c.credential {
		credEnv[k] = v
	}
	env["user"] = credEnv
	env["credential"] = credEnv
	for platform, v := range c.credential {
		env[platform] = v
	}

	envVars := make(map[string]any, len(c.env))
	for k, v := range c.env {
		envVars[k] = v
	}
	env["env"] = envVars

	return env
}

// Logger returns the scope's structured logger, pre-bound with run/workflow
// fields by the caller that constructed it.
func (c *RunContext) Logger() *slog.Logger {
	return c.logger
}

// Credential looks up a single resolved credential value by its alias-
// expanded platform name.
func (c *RunContext) Credential(platform string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.credential[platform]
	return v, ok
}

// RunID returns the identifier of the run owning this scope.
func (c *RunContext) RunID() string { return c.runID }

// WorkflowID returns the identifier of the workflow owning this scope.
func (c *RunContext) WorkflowID() string { return c.workflowID }

// Fork returns a child scope sharing input/credential/env but with its own
// steps and vars maps, for isolated parallel loop iterations. Bindings made
// on the child are not copied back into the parent.
func (c *RunContext) Fork() *RunContext {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps := make(map[string]any, len(c.steps))
	for k, v := range c.steps {
		steps[k] = v
	}
	vars := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		vars[k] = v
	}

	return &RunContext{
		workflowID: c.workflowID,
		runID:      c.runID,
		input:      c.input,
		steps:      steps,
		vars:       vars,
		credential: c.credential,
		env:        c.env,
		logger:     c.logger,
	}
}
