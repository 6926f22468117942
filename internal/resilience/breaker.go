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
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/loomwork/substrate/pkg/errors"
)

// BreakerConfig parameterizes one named scope's circuit breaker.
type BreakerConfig struct {
	// ErrorThresholdPercentage is the failure rate (0-100) at or above which the
	// breaker trips open, once VolumeThreshold calls have been observed.
	ErrorThresholdPercentage float64
	VolumeThreshold          uint32
	ResetTimeout             time.Duration
}

// DefaultBreakerConfig matches §4.6: 50% error rate over at least 3 calls
// opens the breaker; a single probe is allowed after 60s.
var DefaultBreakerConfig = BreakerConfig{
	ErrorThresholdPercentage: 50,
	VolumeThreshold:          3,
	ResetTimeout:             60 * time.Second,
}

// BreakerRegistry holds one gobreaker.CircuitBreaker per named scope,
// mapping gobreaker's closed/open/half-open states 1:1 onto §4.6's state
// names.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]BreakerConfig
	def      BreakerConfig
}

// NewBreakerRegistry creates a registry with optional per-scope overrides.
func NewBreakerRegistry(configs map[string]BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  configs,
		def:      DefaultBreakerConfig,
	}
}

func (r *BreakerRegistry) breaker(scope string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[scope]; ok {
		return b
	}

	cfg, ok := r.configs[scope]
	if !ok {
		cfg = r.def
	}
	if cfg.VolumeThreshold == 0 {
		cfg.VolumeThreshold = r.def.VolumeThreshold
	}
	if cfg.ErrorThresholdPercentage == 0 {
		cfg.ErrorThresholdPercentage = r.def.ErrorThresholdPercentage
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = r.def.ResetTimeout
	}

	settings := gobreaker.Settings{
		Name:    scope,
		Timeout: cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.VolumeThreshold {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return failureRate >= cfg.ErrorThresholdPercentage
		},
	}

	b := gobreaker.NewCircuitBreaker(settings)
	r.breakers[scope] = b
	return b
}

// Execute runs call through the named scope's breaker. When the breaker is
// open, call is never invoked and a *errors.BreakerOpenError is returned.
func (r *BreakerRegistry) Execute(scope string, call func() (any, error)) (any, error) {
	b := r.breaker(scope)
	result, err := b.Execute(call)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &errors.BreakerOpenError{Scope: scope}
		}
		return nil, err
	}
	return result, nil
}

// State reports the current named scope's breaker state as one of
// "closed", "open", "half-open" — matching §4.6's vocabulary exactly.
func (r *BreakerRegistry) State(scope string) string {
	b := r.breaker(scope)
	switch b.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
