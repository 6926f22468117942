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

// Package worker claims items from the durable queue and drives them
// through the execution engine, enforcing the per-worker concurrency
// limit and reporting backlog observability.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomwork/substrate/internal/backend"
	"github.com/loomwork/substrate/internal/queue"
	"github.com/loomwork/substrate/internal/vault"
	"github.com/loomwork/substrate/internal/workflow"
)

const (
	// DefaultConcurrency matches the worker's default concurrency.
	DefaultConcurrency       = 50
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultReportInterval    = 30 * time.Second
	DefaultWaitingThreshold  = 100
	DefaultShutdownTimeout   = 30 * time.Second
)

// Config parameterizes a Pool.
type Config struct {
	// Concurrency is the number of items this worker executes in parallel.
	Concurrency int
	// HeartbeatInterval is how often a claimed item's visibility lease is renewed.
	HeartbeatInterval time.Duration
	// ReportInterval is how often backlog counters are logged and exported.
	ReportInterval time.Duration
	// WaitingThreshold triggers a warning log once exceeded.
	WaitingThreshold int
	// EnvAllowlist names the environment variables exposed as env.* in
	// every run's variable scope, enumerated once at startup.
	EnvAllowlist []string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.WaitingThreshold <= 0 {
		c.WaitingThreshold = DefaultWaitingThreshold
	}
	return c
}

// Pool claims ready items from q and runs each one through executor,
// persisting the resulting Run to be. A single Pool corresponds to one
// worker process instance.
type Pool struct {
	q        queue.Queue
	be       backend.Backend
	vault    *vault.Vault
	executor *workflow.Executor
	cfg      Config
	logger   *slog.Logger
	env      map[string]string

	active    int64
	completed int64
	failed    int64

	claimCancel context.CancelFunc
	wg          sync.WaitGroup
}

// New builds a Pool. vault may be nil, in which case runs execute with an
// empty credential map (useful for tests and credential-free workflows).
func New(q queue.Queue, be backend.Backend, v *vault.Vault, executor *workflow.Executor, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Pool{
		q:        q,
		be:       be,
		vault:    v,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "worker")),
		env:      workflow.Environment(cfg.EnvAllowlist),
	}
}

// Start launches Concurrency claim-loop goroutines plus one backlog
// reporter. Claiming stops when ctx is done or Stop is called; in-flight
// runs are not cancelled by either — they run against their own context
// to completion, bounded only by the workflow's own timeout.
func (p *Pool) Start(ctx context.Context) {
	claimCtx, cancel := context.WithCancel(ctx)
	p.claimCancel = cancel

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.claimLoop(claimCtx)
	}

	p.wg.Add(1)
	go p.reportLoop(claimCtx)
}

// Stop halts claiming and waits up to timeout for in-flight runs to
// finish. It returns once every goroutine has exited or the timeout
// elapses, whichever comes first; it never force-cancels a running run.
func (p *Pool) Stop(timeout time.Duration) {
	if p.claimCancel == nil {
		return
	}
	p.claimCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("shutdown timed out waiting for in-flight runs",
			slog.Int64("stillActive", atomic.LoadInt64(&p.active)))
	}
}

// ActiveCount returns the number of runs currently executing.
func (p *Pool) ActiveCount() int64 { return atomic.LoadInt64(&p.active) }

func (p *Pool) claimLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		items, err := p.q.Claim(ctx, 1)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			p.logger.Error("claim failed", slog.Any("error", err))
			continue
		}
		for _, item := range items {
			p.runItem(context.Background(), item)
		}
	}
}

// runItem loads the workflow, materializes credentials, drives the
// execution engine, and persists the resulting Run. It runs against its
// own background context so a pool shutdown's claim-cancellation does not
// cut execution short; the workflow's own Config.Timeout bounds it.
func (p *Pool) runItem(ctx context.Context, item *queue.Item) {
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	logger := p.logger.With(slog.String("runId", item.RunID), slog.String("workflowId", item.WorkflowID))

	wf, err := p.be.GetWorkflow(ctx, item.WorkflowID)
	if err != nil {
		logger.Error("load workflow failed, dropping item", slog.Any("error", err))
		if ackErr := p.q.Ack(ctx, item.ID, item.ClaimToken()); ackErr != nil {
			logger.Error("ack of undeliverable item failed", slog.Any("error", ackErr))
		}
		runsFailedTotal.Inc()
		return
	}

	run := &workflow.Run{
		ID:             item.RunID,
		WorkflowID:     wf.ID,
		UserID:         wf.UserID,
		OrganizationID: wf.OrganizationID,
		TriggeredBy:    item.TriggeredBy,
		StartedAt:      time.Now(),
		Status:         workflow.RunRunning,
	}
	if err := p.be.CreateRun(ctx, run); err != nil {
		logger.Warn("persist run creation failed", slog.Any("error", err))
	}

	credMap := p.resolveCredentials(ctx, wf, logger)
	rc := workflow.NewRunContext(wf.ID, run.ID, item.Input, credMap, p.env, logger)

	done := make(chan struct{})
	go p.heartbeatLoop(ctx, item, done)

	p.executor.Execute(ctx, wf, run, rc)
	close(done)

	if err := p.be.UpdateRun(ctx, run); err != nil {
		logger.Error("persist run update failed", slog.Any("error", err))
	}
	if err := p.be.UpdateRunStats(ctx, wf.ID, run); err != nil {
		logger.Warn("update run stats failed", slog.Any("error", err))
	}
	if err := p.q.Ack(ctx, item.ID, item.ClaimToken()); err != nil {
		logger.Error("ack failed", slog.Any("error", err))
	}

	if run.Status == workflow.RunSuccess {
		atomic.AddInt64(&p.completed, 1)
		runsCompletedTotal.Inc()
	} else {
		atomic.AddInt64(&p.failed, 1)
		runsFailedTotal.Inc()
	}
}

// resolveCredentials materializes every credential the run's owning user
// holds into a plaintext map scoped to this run only; the map is never
// retained past runItem's return.
func (p *Pool) resolveCredentials(ctx context.Context, wf *workflow.Workflow, logger *slog.Logger) map[string]any {
	if p.vault == nil {
		return nil
	}
	metas, err := p.vault.List(ctx, wf.UserID)
	if err != nil {
		logger.Warn("list credentials failed", slog.Any("error", err))
		return nil
	}
	if len(metas) == 0 {
		return nil
	}
	platforms := make([]string, 0, len(metas))
	for _, m := range metas {
		platforms = append(platforms, m.Platform)
	}
	credMap, err := p.vault.MaterializeRunMap(ctx, wf.UserID, wf.OrganizationID, platforms)
	if err != nil {
		logger.Warn("materialize credentials failed", slog.Any("error", err))
		return nil
	}
	return credMap
}

func (p *Pool) heartbeatLoop(ctx context.Context, item *queue.Item, done chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.q.Heartbeat(ctx, item.ID, item.ClaimToken()); err != nil {
				p.logger.Warn("heartbeat failed", slog.String("itemId", item.ID), slog.Any("error", err))
			}
		}
	}
}

func (p *Pool) reportLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

func (p *Pool) report() {
	active := atomic.LoadInt64(&p.active)
	waiting := p.q.Len() - int(active)
	if waiting < 0 {
		waiting = 0
	}
	completed := atomic.LoadInt64(&p.completed)
	failed := atomic.LoadInt64(&p.failed)

	backlogActive.Set(float64(active))
	backlogWaiting.Set(float64(waiting))

	p.logger.Info("backlog",
		slog.Int64("active", active),
		slog.Int("waiting", waiting),
		slog.Int64("completed", completed),
		slog.Int64("failed", failed),
	)
	if waiting > p.cfg.WaitingThreshold {
		p.logger.Warn("backlog waiting exceeds threshold",
			slog.Int("waiting", waiting), slog.Int("threshold", p.cfg.WaitingThreshold))
	}
}
