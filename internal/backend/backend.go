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

// Package backend provides storage backends for the substrate.
//
// # Interface hierarchy
//
// Interface segregation lets a minimal implementation satisfy only the
// pieces it backs:
//
//   - WorkflowStore (core, required): Get, Put, List, UpdateRunStats
//   - RunStore (core, required): CreateRun, GetRun, UpdateRun
//   - RunLister: ListRuns, DeleteRun
//   - CredentialStore: the vault's persistence contract (credentials and OAuth accounts)
//   - ScheduleStore: per-workflow cron dedup and catch-up bookkeeping
//
// Backend composes all of these plus io.Closer for full-featured stores.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/loomwork/substrate/internal/vault"
	"github.com/loomwork/substrate/internal/workflow"
)

// WorkflowStore is the core interface for workflow document storage.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	PutWorkflow(ctx context.Context, wf *workflow.Workflow) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*workflow.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// UpdateRunStats bumps a workflow's denormalized run summary
	// (runCount, lastRun, lastRunStatus, lastRunOutput) after a run finishes.
	UpdateRunStats(ctx context.Context, workflowID string, run *workflow.Run) error
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	UserID         string
	OrganizationID string
	Status         workflow.Status
	TriggerType    workflow.TriggerType
}

// RunStore is the core interface for run storage operations.
type RunStore interface {
	CreateRun(ctx context.Context, run *workflow.Run) error
	GetRun(ctx context.Context, id string) (*workflow.Run, error)
	UpdateRun(ctx context.Context, run *workflow.Run) error
}

// RunLister is an optional interface for listing and pruning runs.
type RunLister interface {
	ListRuns(ctx context.Context, filter RunFilter) ([]*workflow.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkflowID string
	Status     workflow.RunStatus
	Limit      int
	Offset     int
}

// CredentialStore re-exports vault.Store (credentials and OAuth accounts)
// under backend so a single Backend value can be handed to vault.New
// without an adapter.
type CredentialStore = vault.Store

// ScheduleState is the persisted bookkeeping row the scheduler uses to
// dedupe cron ticks and bound catch-up runs to at most one per workflow.
type ScheduleState struct {
	WorkflowID        string
	LastScheduledUnix int64 // unix seconds of the last timestamp a run was enqueued for
	LastRunAt         *time.Time
	UpdatedAt         time.Time
}

// ScheduleStore persists cron dedup state across scheduler restarts.
type ScheduleStore interface {
	GetScheduleState(ctx context.Context, workflowID string) (*ScheduleState, error)
	PutScheduleState(ctx context.Context, state *ScheduleState) error
}

// Backend is the full storage contract the daemon wires into the queue,
// scheduler, worker pool, and vault.
type Backend interface {
	WorkflowStore
	RunStore
	RunLister
	CredentialStore
	ScheduleStore
	io.Closer
}
