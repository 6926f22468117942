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

// Package resilience implements the three primitives every outbound module
// call passes through, in fixed order: rate-limit -> breaker -> timeout ->
// call. Each primitive is its own small state machine invoked explicitly;
// there is no hidden decorator chain.
package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimiterConfig parameterizes one named scope's rate limiter.
type LimiterConfig struct {
	// MaxConcurrent bounds in-flight calls for this scope.
	MaxConcurrent int64

	// MinInterval is the minimum gap between successive call starts.
	MinInterval time.Duration

	// Reservoir, if > 0, is the token-bucket burst size; ReservoirRefresh
	// tokens are added every ReservoirInterval.
	Reservoir         int
	ReservoirRefresh  int
	ReservoirInterval time.Duration
}

// scopeLimiter pairs a concurrency semaphore with an arrival-rate limiter
// for one named scope (e.g. "twilio-api").
type scopeLimiter struct {
	sem     *semaphore.Weighted
	arrival *rate.Limiter
}

// Limiter enforces both concurrency and arrival-rate constraints per named
// scope. State is process-local: multi-worker deployments may exceed
// provider rate limits unless a shared limiter is used; this is an
// accepted trade-off of horizontal scaling, not a bug.
type Limiter struct {
	mu      sync.Mutex
	scopes  map[string]*scopeLimiter
	configs map[string]LimiterConfig
	def     LimiterConfig
}

// DefaultLimiterConfig is applied to any scope with no explicit config.
var DefaultLimiterConfig = LimiterConfig{
	MaxConcurrent: 10,
	MinInterval:   0,
}

// NewLimiter creates a limiter with optional per-scope overrides.
func NewLimiter(configs map[string]LimiterConfig) *Limiter {
	return &Limiter{
		scopes:  make(map[string]*scopeLimiter),
		configs: configs,
		def:     DefaultLimiterConfig,
	}
}

func (l *Limiter) scope(name string) *scopeLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.scopes[name]; ok {
		return s
	}

	cfg, ok := l.configs[name]
	if !ok {
		cfg = l.def
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = l.def.MaxConcurrent
	}

	var limiter *rate.Limiter
	switch {
	case cfg.Reservoir > 0 && cfg.ReservoirInterval > 0:
		refreshRate := rate.Limit(float64(cfg.ReservoirRefresh) / cfg.ReservoirInterval.Seconds())
		limiter = rate.NewLimiter(refreshRate, cfg.Reservoir)
	case cfg.MinInterval > 0:
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	default:
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	s := &scopeLimiter{
		sem:     semaphore.NewWeighted(maxConcurrent),
		arrival: limiter,
	}
	l.scopes[name] = s
	return s
}

// Acquire blocks until the scope's concurrency slot and arrival-rate token
// are both available, or ctx is cancelled. The caller must invoke the
// returned release function exactly once after the call completes.
func (l *Limiter) Acquire(ctx context.Context, scope string) (release func(), err error) {
	s := l.scope(scope)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := s.arrival.Wait(ctx); err != nil {
		s.sem.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.sem.Release(1) })
	}, nil
}
