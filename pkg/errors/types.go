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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "tool", "connector")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Kind classifies a ModuleError per the run failure taxonomy: validation,
// credential, transient upstream, permanent upstream, rate-limited,
// internal, and breaker-open (a special case of transient).
type Kind string

const (
	KindValidation  Kind = "validation"
	KindCredential  Kind = "credential_missing"
	KindTransient   Kind = "transient_upstream"
	KindPermanent   Kind = "permanent_upstream"
	KindRateLimited Kind = "rate_limited"
	KindInternal    Kind = "internal"
	KindBreakerOpen Kind = "breaker_open"
)

// ModuleError represents a failure surfaced by a module invocation during
// workflow execution. It is the shape stored in StepResult.Error and is
// never allowed to carry credential material (callers must scrub Message).
type ModuleError struct {
	// Kind classifies the failure for retry/propagation decisions.
	Kind Kind

	// Module is the dotted module name that produced the error.
	Module string

	// Provider is the upstream integration name, if applicable (e.g. "twilio-api").
	Provider string

	// StatusCode is the HTTP status code, if applicable.
	StatusCode int

	// Message is a sanitized, human-readable description.
	Message string

	// RequestID correlates this error with upstream/provider logs.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ModuleError) Error() string {
	msg := fmt.Sprintf("module %s: %s", e.Module, e.Kind)

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	msg = fmt.Sprintf("%s: %s", msg, e.Message)

	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ModuleError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the step-retry policy should retry this error.
// Only transient, rate-limited, and breaker-open errors are retryable.
func (e *ModuleError) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindRateLimited, KindBreakerOpen:
		return true
	default:
		return false
	}
}

// BreakerOpenError is returned by the resilience layer when a circuit
// breaker is open and fails a call fast without invoking the wrapped
// function.
type BreakerOpenError struct {
	// Scope is the breaker's named scope (the wrapped function's identity).
	Scope string
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %q", e.Scope)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "database.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "module call", "workflow step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
