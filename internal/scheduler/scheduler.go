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

// Package scheduler materializes trigger events — cron ticks, webhook
// deliveries, manual requests — into queue entries.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomwork/substrate/internal/backend"
	"github.com/loomwork/substrate/internal/queue"
	"github.com/loomwork/substrate/internal/workflow"
)

// cronState is the in-memory companion to a cron-triggered workflow: its
// parsed expression and computed next-fire time.
type cronState struct {
	workflow *workflow.Workflow
	expr     *CronExpr
	loc      *time.Location
	nextRun  time.Time
}

// Scheduler owns the cron tick loop and the webhook lookup table. It never
// executes a run itself; it only enqueues work items for the worker pool.
type Scheduler struct {
	mu        sync.RWMutex
	store     backend.WorkflowStore
	schedules backend.ScheduleStore
	q         queue.Queue
	logger    *slog.Logger

	crons    map[string]*cronState         // workflow ID -> state
	webhooks map[string]*workflow.Workflow // webhook path -> workflow

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Scheduler. Call Refresh once before Start to populate it
// from the store's current workflow set.
func New(store backend.WorkflowStore, schedules backend.ScheduleStore, q queue.Queue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     store,
		schedules: schedules,
		q:         q,
		logger:    logger.With(slog.String("component", "scheduler")),
		crons:     make(map[string]*cronState),
		webhooks:  make(map[string]*workflow.Workflow),
	}
}

// Refresh re-enumerates all active workflows and rebuilds the cron and
// webhook tables. It is called at startup and whenever a workflow's
// status or trigger changes, so changes take effect without a restart.
func (s *Scheduler) Refresh(ctx context.Context) error {
	workflows, err := s.store.ListWorkflows(ctx, backend.WorkflowFilter{Status: workflow.StatusActive})
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	crons := make(map[string]*cronState, len(s.crons))
	webhooks := make(map[string]*workflow.Workflow, len(s.webhooks))

	for _, wf := range workflows {
		switch wf.Trigger.Type {
		case workflow.TriggerCron:
			loc := time.UTC
			if wf.Trigger.CronTimezone != "" {
				if l, err := time.LoadLocation(wf.Trigger.CronTimezone); err == nil {
					loc = l
				}
			}
			expr, err := ParseCron(wf.Trigger.CronExpression)
			if err != nil {
				s.logger.Error("invalid cron expression, skipping", slog.String("workflowId", wf.ID), slog.Any("error", err))
				continue
			}
			if existing, ok := s.crons[wf.ID]; ok && existing.expr != nil && existing.workflow.Trigger.CronExpression == wf.Trigger.CronExpression {
				crons[wf.ID] = &cronState{workflow: wf, expr: expr, loc: loc, nextRun: existing.nextRun}
				continue
			}
			crons[wf.ID] = &cronState{workflow: wf, expr: expr, loc: loc, nextRun: s.catchUpOrNext(ctx, wf, expr, loc)}

		case workflow.TriggerWebhook:
			webhooks[wf.Trigger.WebhookPath] = wf
		}
	}

	s.crons = crons
	s.webhooks = webhooks
	return nil
}

// catchUpOrNext computes a workflow's next cron fire time, enqueuing at
// most one catch-up run if the scheduler missed one or more ticks while
// it was down.
func (s *Scheduler) catchUpOrNext(ctx context.Context, wf *workflow.Workflow, expr *CronExpr, loc *time.Location) time.Time {
	now := time.Now().In(loc)
	state, err := s.schedules.GetScheduleState(ctx, wf.ID)
	if err != nil {
		return expr.Next(now)
	}

	if state.LastScheduledUnix > 0 {
		lastScheduled := time.Unix(state.LastScheduledUnix, 0).In(loc)
		nextAfterLast := expr.Next(lastScheduled)
		if !nextAfterLast.IsZero() && nextAfterLast.Before(now) {
			s.enqueueCronRun(ctx, wf, nextAfterLast)
			return expr.Next(now)
		}
	}
	return expr.Next(now)
}

// Start runs the cron tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*cronState, 0)
	scheduled := make([]time.Time, 0)
	for _, cs := range s.crons {
		localNow := now.In(cs.loc)
		if !localNow.Before(cs.nextRun) {
			due = append(due, cs)
			scheduled = append(scheduled, cs.nextRun)
			cs.nextRun = cs.expr.Next(localNow)
		}
	}
	s.mu.Unlock()

	for i, cs := range due {
		s.enqueueCronRun(ctx, cs.workflow, scheduled[i])
	}
}

// enqueueCronRun enqueues a single cron-triggered run, deduped against the
// last scheduled timestamp for this workflow.
func (s *Scheduler) enqueueCronRun(ctx context.Context, wf *workflow.Workflow, scheduledFor time.Time) {
	state, err := s.schedules.GetScheduleState(ctx, wf.ID)
	if err == nil && state.LastScheduledUnix == scheduledFor.Unix() {
		return // already enqueued for this exact tick
	}

	runID := uuid.NewString()

	if err := s.q.Enqueue(ctx, &queue.Item{
		ID:          runID,
		WorkflowID:  wf.ID,
		RunID:       runID,
		TriggeredBy: "cron",
		Input:       map[string]any{"scheduledFor": scheduledFor},
	}); err != nil {
		s.logger.Error("failed to enqueue cron run", slog.String("workflowId", wf.ID), slog.Any("error", err))
		return
	}

	if err := s.schedules.PutScheduleState(ctx, &backend.ScheduleState{
		WorkflowID:        wf.ID,
		LastScheduledUnix: scheduledFor.Unix(),
	}); err != nil {
		s.logger.Error("failed to persist schedule state", slog.String("workflowId", wf.ID), slog.Any("error", err))
	}

	s.logger.Info("enqueued cron run", slog.String("workflowId", wf.ID), slog.String("runId", runID))
}

// Webhook looks up the workflow registered for path and enqueues a run
// with input = {body, headers}. It returns an error if no workflow is
// registered for the path, or if the caller's credential does not match
// the trigger's configured secret. A non-empty bearerToken is verified
// as a signed JWT (see IssueWebhookBearer) rather than compared as a
// raw secret, so a caller can present a short-lived, path-bound token
// instead of forwarding the long-lived shared secret itself.
func (s *Scheduler) Webhook(ctx context.Context, path string, body map[string]any, headers map[string]string, sharedSecret, bearerToken string) (*workflow.Run, error) {
	s.mu.RLock()
	wf, ok := s.webhooks[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no workflow registered for webhook path %q", path)
	}

	if wf.Trigger.WebhookSecret != "" {
		switch {
		case bearerToken != "":
			if err := verifyWebhookBearer([]byte(wf.Trigger.WebhookSecret), bearerToken, path); err != nil {
				return nil, fmt.Errorf("webhook bearer token rejected for path %q: %w", path, err)
			}
		case wf.Trigger.WebhookSecret != sharedSecret:
			return nil, fmt.Errorf("webhook secret mismatch for path %q", path)
		}
	}

	return s.Manual(ctx, wf, map[string]any{"body": body, "headers": headers}, "webhook")
}

// Manual enqueues a run with user-supplied input. triggeredBy is recorded
// verbatim ("manual" for authenticated user requests, "webhook" when
// called from Webhook).
func (s *Scheduler) Manual(ctx context.Context, wf *workflow.Workflow, input map[string]any, triggeredBy string) (*workflow.Run, error) {
	run := &workflow.Run{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		UserID:         wf.UserID,
		OrganizationID: wf.OrganizationID,
		TriggeredBy:    triggeredBy,
		StartedAt:      time.Now(),
		Status:         workflow.RunQueued,
	}

	if err := s.q.Enqueue(ctx, &queue.Item{
		ID:          run.ID,
		WorkflowID:  wf.ID,
		RunID:       run.ID,
		TriggeredBy: triggeredBy,
		Input:       input,
	}); err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	return run, nil
}
