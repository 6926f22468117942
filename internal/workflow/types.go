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

// Package workflow implements the execution substrate's data model and
// step-interpretation engine: workflow documents, runs, and the variable
// scope consulted during interpolation.
package workflow

import (
	"time"
)

// Status is the lifecycle state of a Workflow document.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// TriggerType tags the variant of a Trigger.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerCron     TriggerType = "cron"
	TriggerWebhook  TriggerType = "webhook"
	TriggerChat     TriggerType = "chat"
	TriggerChatIn   TriggerType = "chat-input"
	TriggerTelegram TriggerType = "telegram"
	TriggerDiscord  TriggerType = "discord"
)

// Trigger is a tagged variant identifying what originates a Run. Only
// manual, cron, and webhook triggers are interpreted by this core; the
// remaining variants are delivered through an external adapter that
// eventually calls Execute with an already-resolved input map.
type Trigger struct {
	Type TriggerType `json:"type" yaml:"type"`

	// Cron fields (Type == TriggerCron)
	CronExpression string `json:"cronExpression,omitempty" yaml:"cronExpression,omitempty"`
	CronTimezone   string `json:"cronTimezone,omitempty" yaml:"cronTimezone,omitempty"`

	// Webhook fields (Type == TriggerWebhook)
	WebhookPath   string `json:"webhookPath,omitempty" yaml:"webhookPath,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty" yaml:"webhookSecret,omitempty"`
}

// Loop describes per-item iteration over a step body.
type Loop struct {
	Over     string `json:"over" yaml:"over"`
	As       string `json:"as" yaml:"as"`
	Parallel bool   `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	MaxConcurrency int `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
}

// Step is one entry in a workflow's ordered step list.
type Step struct {
	ID              string         `json:"id" yaml:"id"`
	Module          string         `json:"module" yaml:"module"`
	Inputs          map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	OutputAs        string         `json:"outputAs,omitempty" yaml:"outputAs,omitempty"`
	Condition       string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Loop            *Loop          `json:"loop,omitempty" yaml:"loop,omitempty"`
	Retries         int            `json:"retries,omitempty" yaml:"retries,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
}

// Config holds per-workflow execution settings.
type Config struct {
	TimeoutMS     int64          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries       int            `json:"retries,omitempty" yaml:"retries,omitempty"`
	Steps         []Step         `json:"steps" yaml:"steps"`
	ReturnValue   string         `json:"returnValue,omitempty" yaml:"returnValue,omitempty"`
	OutputDisplay *OutputDisplay `json:"outputDisplay,omitempty" yaml:"outputDisplay,omitempty"`
}

// OutputDisplay is a UI hint, carried but never interpreted by the core.
type OutputDisplay struct {
	Type    string   `json:"type,omitempty" yaml:"type,omitempty"`
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// DefaultTimeout is applied when Config.TimeoutMS is zero.
const DefaultTimeout = 300_000 * time.Millisecond

// Timeout returns the configured run timeout, or DefaultTimeout if unset.
func (c Config) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Metadata carries display-only classification, never interpreted by the core.
type Metadata struct {
	Category string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Workflow is an immutable-per-version document: identity, ownership,
// trigger, and ordered steps. A workflow belongs to exactly one user;
// organization ownership is optional.
type Workflow struct {
	ID             string    `json:"id" yaml:"-"`
	Version        string    `json:"version" yaml:"version"`
	Name           string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	UserID         string    `json:"userId" yaml:"-"`
	OrganizationID string    `json:"organizationId,omitempty" yaml:"-"`
	Status         Status    `json:"status" yaml:"-"`
	Trigger        Trigger   `json:"trigger" yaml:"trigger"`
	Config         Config    `json:"config" yaml:"config"`
	Metadata       *Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	RunCount       int64      `json:"runCount" yaml:"-"`
	LastRun        *time.Time `json:"lastRun,omitempty" yaml:"-"`
	LastRunStatus  string     `json:"lastRunStatus,omitempty" yaml:"-"`
	LastRunOutput  any        `json:"lastRunOutput,omitempty" yaml:"-"`
}

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// StepStatus is the outcome of one StepResult.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of one step's invocation.
type StepResult struct {
	StepID      string        `json:"stepId"`
	Status      StepStatus    `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	Output      any           `json:"output,omitempty"`
	Error       *StepError    `json:"error,omitempty"`
	DurationMS  int64         `json:"durationMs"`
	Attempts    int           `json:"attempts"`
}

// StepError is the sanitized shape a module error takes once captured
// into a StepResult; it never carries credential material.
type StepError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Provider  string `json:"provider,omitempty"`
	Status    int    `json:"status,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Run is one execution of a Workflow. The backend record is created when
// a worker claims the run's queue item, already in the running state; only
// the value Scheduler.Manual returns carries queued. A run then moves to
// success, error or cancelled, and its final state is immutable.
type Run struct {
	ID             string       `json:"id"`
	WorkflowID     string       `json:"workflowId"`
	UserID         string       `json:"userId"`
	OrganizationID string       `json:"organizationId,omitempty"`
	TriggeredBy    string       `json:"triggeredBy"`
	ScheduledFor   *time.Time   `json:"scheduledFor,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
	Status         RunStatus    `json:"status"`
	Steps          []StepResult `json:"steps"`
	Error          *StepError   `json:"error,omitempty"`
	Output         any          `json:"output,omitempty"`
}

// Terminal reports whether the run is in a state that never transitions again.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunSuccess, RunError, RunCancelled:
		return true
	default:
		return false
	}
}
