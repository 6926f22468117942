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

package resilience

import (
	"context"
	"time"

	"github.com/loomwork/substrate/internal/tracing"
	"github.com/loomwork/substrate/pkg/errors"
)

var tracer = tracing.Tracer("github.com/loomwork/substrate/internal/resilience")

// TimeoutConfig parameterizes the per-call deadline applied as the third
// leg of the composition.
type TimeoutConfig struct {
	Default time.Duration
}

// Layer composes the three resilience primitives for a set of named
// scopes. It is constructed once per process (state is intentionally not
// shared across workers — see the concurrency model's documented
// trade-off) and reused for every outbound module call.
type Layer struct {
	limiter  *Limiter
	breakers *BreakerRegistry
	timeouts map[string]time.Duration
	defaultTimeout time.Duration
}

// NewLayer builds a resilience layer from per-scope limiter/breaker
// overrides and a default call timeout.
func NewLayer(limiterConfigs map[string]LimiterConfig, breakerConfigs map[string]BreakerConfig, timeouts map[string]time.Duration, defaultTimeout time.Duration) *Layer {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Layer{
		limiter:        NewLimiter(limiterConfigs),
		breakers:       NewBreakerRegistry(breakerConfigs),
		timeouts:       timeouts,
		defaultTimeout: defaultTimeout,
	}
}

// Invoke performs, in fixed order: limiter.Acquire(ctx, scope) ->
// breaker.Execute(scope, ...) -> context.WithTimeout -> call. A timeout
// counts as a breaker failure, since the call is made from inside the
// breaker-wrapped closure.
func (l *Layer) Invoke(ctx context.Context, scope string, call func(context.Context) (any, error)) (any, error) {
	ctx, span := tracer.Start(ctx, "resilience.invoke "+scope)

	acquireStart := time.Now()
	release, err := l.limiter.Acquire(ctx, scope)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}
	defer release()

	tracing.SetResilienceAttributes(span, l.breakers.State(scope), time.Since(acquireStart) > time.Millisecond)

	timeout := l.defaultTimeout
	if t, ok := l.timeouts[scope]; ok {
		timeout = t
	}

	result, err := l.breakers.Execute(scope, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := call(callCtx)
		if err != nil {
			if callCtx.Err() != nil {
				return nil, &errors.TimeoutError{Operation: scope, Duration: timeout, Cause: err}
			}
			return nil, err
		}
		return result, nil
	})
	tracing.End(span, err)
	return result, err
}

// BreakerState exposes the named scope's current breaker state, for
// observability and for the S4 testable property.
func (l *Layer) BreakerState(scope string) string {
	return l.breakers.State(scope)
}
