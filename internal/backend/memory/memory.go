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

// Package memory provides an in-memory backend implementation, useful for
// tests and single-process trials of the daemon.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomwork/substrate/internal/backend"
	"github.com/loomwork/substrate/internal/vault"
	"github.com/loomwork/substrate/internal/workflow"
)

var (
	_ backend.WorkflowStore = (*Backend)(nil)
	_ backend.RunStore      = (*Backend)(nil)
	_ backend.RunLister     = (*Backend)(nil)
	_ backend.ScheduleStore = (*Backend)(nil)
	_ backend.Backend       = (*Backend)(nil)
)

// Backend is an in-memory storage backend.
type Backend struct {
	mu          sync.RWMutex
	workflows   map[string]*workflow.Workflow
	runs        map[string]*workflow.Run
	schedules   map[string]*backend.ScheduleState
	credentials map[string]*vault.Credential
	oauth       map[string]*vault.OAuthAccount
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		workflows:   make(map[string]*workflow.Workflow),
		runs:        make(map[string]*workflow.Run),
		schedules:   make(map[string]*backend.ScheduleState),
		credentials: make(map[string]*vault.Credential),
		oauth:       make(map[string]*vault.OAuthAccount),
	}
}

func (b *Backend) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	wf, ok := b.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}
	return wf, nil
}

func (b *Backend) PutWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workflows[wf.ID] = wf
	return nil
}

func (b *Backend) ListWorkflows(ctx context.Context, filter backend.WorkflowFilter) ([]*workflow.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*workflow.Workflow
	for _, wf := range b.workflows {
		if filter.UserID != "" && wf.UserID != filter.UserID {
			continue
		}
		if filter.OrganizationID != "" && wf.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.TriggerType != "" && wf.Trigger.Type != filter.TriggerType {
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (b *Backend) DeleteWorkflow(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.workflows, id)
	delete(b.schedules, id)
	return nil
}

func (b *Backend) UpdateRunStats(ctx context.Context, workflowID string, run *workflow.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	wf, ok := b.workflows[workflowID]
	if !ok {
		return fmt.Errorf("workflow not found: %s", workflowID)
	}
	wf.RunCount++
	wf.LastRun = run.FinishedAt
	wf.LastRunStatus = string(run.Status)
	wf.LastRunOutput = run.Output
	return nil
}

func (b *Backend) CreateRun(ctx context.Context, run *workflow.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	b.runs[run.ID] = run
	return nil
}

func (b *Backend) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run, ok := b.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, nil
}

func (b *Backend) UpdateRun(ctx context.Context, run *workflow.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.runs[run.ID]; !exists {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	b.runs[run.ID] = run
	return nil
}

func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*workflow.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*workflow.Run
	for _, run := range b.runs {
		if filter.WorkflowID != "" && run.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.runs, id)
	return nil
}

func (b *Backend) credKey(userID, platform, organizationID string) string {
	if organizationID != "" {
		return "org:" + organizationID + ":" + platform
	}
	return "user:" + userID + ":" + platform
}

func (b *Backend) GetCredential(ctx context.Context, userID, platform, organizationID string) (*vault.Credential, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if organizationID != "" {
		if c, ok := b.credentials[b.credKey(userID, platform, organizationID)]; ok {
			return c, nil
		}
	}
	if c, ok := b.credentials[b.credKey(userID, platform, "")]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("credential not found: %s", platform)
}

func (b *Backend) ListCredentials(ctx context.Context, userID string) ([]*vault.Credential, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*vault.Credential
	for _, c := range b.credentials {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *Backend) PutCredential(ctx context.Context, cred *vault.Credential) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	b.credentials[b.credKey(cred.UserID, cred.Platform, cred.OrganizationID)] = cred
	return nil
}

func (b *Backend) DeleteCredential(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, c := range b.credentials {
		if c.ID == id {
			delete(b.credentials, k)
			return nil
		}
	}
	return nil
}

func (b *Backend) GetOAuthAccount(ctx context.Context, userID, provider string) (*vault.OAuthAccount, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.oauth[userID+":"+provider]
	if !ok {
		return nil, fmt.Errorf("oauth account not found: %s", provider)
	}
	return a, nil
}

func (b *Backend) PutOAuthAccount(ctx context.Context, account *vault.OAuthAccount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.oauth[account.UserID+":"+account.Provider] = account
	return nil
}

func (b *Backend) GetScheduleState(ctx context.Context, workflowID string) (*backend.ScheduleState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.schedules[workflowID]
	if !ok {
		return &backend.ScheduleState{WorkflowID: workflowID}, nil
	}
	return s, nil
}

func (b *Backend) PutScheduleState(ctx context.Context, state *backend.ScheduleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state.UpdatedAt = time.Now()
	b.schedules[state.WorkflowID] = state
	return nil
}

func (b *Backend) Close() error {
	return nil
}
