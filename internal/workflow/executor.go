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
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loomwork/substrate/internal/tracing"
	"github.com/loomwork/substrate/internal/workflow/expression"
	"github.com/loomwork/substrate/pkg/errors"
)

var tracer = tracing.Tracer("github.com/loomwork/substrate/internal/workflow")

// ModuleInvoker resolves and calls a registered module by its dotted name.
// internal/registry.Registry satisfies this.
type ModuleInvoker interface {
	Invoke(ctx context.Context, name string, inputs map[string]any, rc *RunContext) (any, error)
}

// Resilience wraps a module call with rate limiting, circuit breaking, and
// a timeout. internal/resilience.Layer satisfies this.
type Resilience interface {
	Invoke(ctx context.Context, scope string, call func(context.Context) (any, error)) (any, error)
}

// DefaultMaxParallel bounds a parallel loop's concurrency when the step
// does not set Loop.MaxConcurrency.
const DefaultMaxParallel = 5

// Executor interprets a Workflow's step list against a RunContext,
// producing the StepResults and final Output recorded on a Run. It holds
// no per-run state; a single Executor is shared across concurrent runs.
type Executor struct {
	modules    ModuleInvoker
	resilience Resilience
	exprEval   *expression.Evaluator
	logger     *slog.Logger
}

// NewExecutor builds an Executor backed by the given module registry and
// resilience layer.
func NewExecutor(modules ModuleInvoker, resilience Resilience, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		modules:    modules,
		resilience: resilience,
		exprEval:   expression.New(),
		logger:     logger,
	}
}

// Execute runs every step of wf.Config.Steps in order against rc, mutating
// run in place: it sets run.Status, run.Steps, run.Output/Error, and
// run.FinishedAt. It never returns an error — all step and run-level
// failures are captured on the Run itself, per the execution engine's
// "Run is the sole execution record" contract.
func (x *Executor) Execute(ctx context.Context, wf *Workflow, run *Run, rc *RunContext) {
	ctx, cancel := context.WithTimeout(ctx, wf.Config.Timeout())
	defer cancel()

	ctx, span := tracing.StartRun(ctx, tracer, run.ID, wf.ID)
	var runErr error
	defer func() { tracing.End(span, runErr) }()

	run.Status = RunRunning
	logger := x.logger.With(slog.String("workflowId", wf.ID), slog.String("runId", run.ID))

	for _, step := range wf.Config.Steps {
		result := x.runStep(ctx, step, rc, logger)
		run.Steps = append(run.Steps, result)

		if result.Status == StepError && !step.ContinueOnError {
			runErr = fmt.Errorf("step %s: %s", step.ID, result.Error.Message)
			x.finish(run, RunError, result.Error, nil)
			return
		}
	}

	output, err := x.resolveOutput(wf.Config.ReturnValue, rc)
	if err != nil {
		runErr = err
		x.finish(run, RunError, &StepError{Kind: string(errors.KindValidation), Message: err.Error()}, nil)
		return
	}
	x.finish(run, RunSuccess, nil, output)
}

func (x *Executor) finish(run *Run, status RunStatus, stepErr *StepError, output any) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	run.Error = stepErr
	run.Output = output
}

// resolveOutput evaluates the workflow's returnValue expression, if set,
// against the final variable scope. An unset returnValue returns the full
// steps map, matching the sub-workflow "no declared outputs" default.
func (x *Executor) resolveOutput(returnValue string, rc *RunContext) (any, error) {
	env := rc.ToExprEnv()
	if returnValue == "" {
		return env["steps"], nil
	}
	if !strings.Contains(returnValue, "{{") {
		return x.exprEval.Eval(returnValue, env)
	}
	return x.exprEval.Interpolate(returnValue, env)
}

// runStep evaluates a single step's condition, resolves its inputs, runs
// it (possibly looped, possibly retried), and binds its output into rc.
func (x *Executor) runStep(ctx context.Context, step Step, rc *RunContext, logger *slog.Logger) StepResult {
	ctx, span := tracing.StartStep(ctx, tracer, step.ID, step.Module)
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	started := time.Now()
	result := StepResult{StepID: step.ID, StartedAt: started}

	shouldRun, err := x.exprEval.EvalBool(step.Condition, rc.ToExprEnv())
	if err != nil {
		spanErr = err
		return x.stepFailure(result, &StepError{Kind: string(errors.KindValidation), Message: fmt.Sprintf("evaluate condition: %v", err)})
	}
	if !shouldRun {
		result.Status = StepSkipped
		result.FinishedAt = time.Now()
		result.DurationMS = result.FinishedAt.Sub(started).Milliseconds()
		return result
	}

	var output any
	attempts := 1
	if step.Loop != nil {
		output, err = x.runLoop(ctx, step, rc, logger)
	} else {
		output, attempts, err = x.invokeWithRetry(ctx, step, rc, logger)
	}

	result.FinishedAt = time.Now()
	result.DurationMS = result.FinishedAt.Sub(started).Milliseconds()

	if err != nil {
		result.Status = StepError
		result.Error = toStepError(err)
		result.Attempts = attemptsFromError(err)
		spanErr = err
		return result
	}

	result.Status = StepSuccess
	result.Output = output
	result.Attempts = attempts
	rc.BindStep(step.ID, step.OutputAs, output)
	return result
}

func (x *Executor) stepFailure(result StepResult, stepErr *StepError) StepResult {
	result.Status = StepError
	result.Error = stepErr
	result.FinishedAt = time.Now()
	result.DurationMS = result.FinishedAt.Sub(result.StartedAt).Milliseconds()
	return result
}

// runLoop evaluates Loop.Over to a sequence and runs the step body once
// per item, binding Loop.As to the current item. Sequential iterations
// share rc; parallel iterations each run against a forked scope, bounded
// by Loop.MaxConcurrency (or DefaultMaxParallel), and their outputs are
// collected by index once all complete. Forked scopes are not merged back
// into rc.
func (x *Executor) runLoop(ctx context.Context, step Step, rc *RunContext, logger *slog.Logger) (any, error) {
	items, err := x.exprEval.EvalSequence(step.Loop.Over, rc.ToExprEnv())
	if err != nil {
		return nil, fmt.Errorf("evaluate loop.over: %w", err)
	}

	if !step.Loop.Parallel {
		outputs := make([]any, 0, len(items))
		for _, item := range items {
			rc.SetVar(step.Loop.As, item)
			out, _, err := x.invokeWithRetry(ctx, step, rc, logger)
			if err != nil {
				return outputs, err
			}
			outputs = append(outputs, out)
		}
		return outputs, nil
	}

	concurrency := step.Loop.MaxConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMaxParallel
	}
	sem := make(chan struct{}, concurrency)

	type indexed struct {
		index int
		out   any
		err   error
	}
	resultsCh := make(chan indexed, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			child := rc.Fork()
			child.SetVar(step.Loop.As, item)
			out, _, err := x.invokeWithRetry(ctx, step, child, logger)
			resultsCh <- indexed{index: i, out: out, err: err}
		}(i, item)
	}

	wg.Wait()
	close(resultsCh)

	outputs := make([]any, len(items))
	var firstErr error
	for r := range resultsCh {
		outputs[r.index] = r.out
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return outputs, firstErr
}

// invokeWithRetry resolves the step's inputs fresh on every attempt (so a
// retried step observes the current scope, not a stale snapshot), invokes
// the module through the resilience layer, and retries while the error is
// retryable and the step's retry budget remains. It also returns the number
// of attempts made.
func (x *Executor) invokeWithRetry(ctx context.Context, step Step, rc *RunContext, logger *slog.Logger) (any, int, error) {
	maxAttempts := step.Retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		inputs, err := x.exprEval.InterpolateValue(step.Inputs, rc.ToExprEnv())
		if err != nil {
			return nil, attempt, fmt.Errorf("resolve inputs: %w", err)
		}
		resolvedInputs, _ := inputs.(map[string]any)

		output, err := x.resilience.Invoke(ctx, step.Module, func(callCtx context.Context) (any, error) {
			return x.modules.Invoke(callCtx, step.Module, resolvedInputs, rc)
		})
		if err == nil {
			return output, attempt, nil
		}
		err = normalizeResilienceError(err, step.Module)
		lastErr = &attemptError{err: err, attempts: attempt}

		if attempt == maxAttempts || !isRetryable(err) {
			break
		}

		logger.Warn("step attempt failed, retrying",
			slog.String("stepId", step.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}

	return nil, attemptsFromError(lastErr), lastErr
}

// attemptError wraps the final error of a retry sequence with the number
// of attempts made, so the StepResult can report it without threading an
// extra return value through invokeWithRetry's callers.
type attemptError struct {
	err      error
	attempts int
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

func attemptsFromError(err error) int {
	if ae, ok := err.(*attemptError); ok {
		return ae.attempts
	}
	return 0
}

// normalizeResilienceError wraps the resilience layer's own failure shapes
// (*errors.BreakerOpenError, *errors.TimeoutError) into a *errors.ModuleError
// so isRetryable and toStepError see a single Kind-bearing error regardless
// of which layer of the call rejected the attempt. Errors already shaped as
// a *errors.ModuleError (or anything else) pass through unchanged.
func normalizeResilienceError(err error, module string) error {
	var breakerErr *errors.BreakerOpenError
	if stderrors.As(err, &breakerErr) {
		return &errors.ModuleError{
			Kind:    errors.KindBreakerOpen,
			Module:  module,
			Message: breakerErr.Error(),
			Cause:   err,
		}
	}

	var timeoutErr *errors.TimeoutError
	if stderrors.As(err, &timeoutErr) {
		return &errors.ModuleError{
			Kind:    errors.KindTransient,
			Module:  module,
			Message: timeoutErr.Error(),
			Cause:   err,
		}
	}

	return err
}

func isRetryable(err error) bool {
	if modErr, ok := asModuleError(err); ok {
		return modErr.Retryable()
	}
	return false
}

// asModuleError walks err's Unwrap chain looking for a *errors.ModuleError,
// the shape module calls fail with. Kept local rather than using stdlib
// errors.As to avoid importing both the stdlib errors package and
// pkg/errors under the same identifier.
func asModuleError(err error) (*errors.ModuleError, bool) {
	for err != nil {
		if me, ok := err.(*errors.ModuleError); ok {
			return me, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func toStepError(err error) *StepError {
	if modErr, ok := asModuleError(err); ok {
		return &StepError{
			Kind:      string(modErr.Kind),
			Message:   modErr.Message,
			Provider:  modErr.Provider,
			Status:    modErr.StatusCode,
			Retryable: modErr.Retryable(),
		}
	}
	return &StepError{Kind: string(errors.KindInternal), Message: err.Error()}
}
