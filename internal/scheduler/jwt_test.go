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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/loomwork/substrate/internal/workflow"
)

func TestWebhookBearer_RoundTrips(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := IssueWebhookBearer(secret, "/hooks/wf1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := verifyWebhookBearer(secret, token, "/hooks/wf1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestWebhookBearer_RejectsWrongSecret(t *testing.T) {
	token, err := IssueWebhookBearer([]byte("s3cr3t"), "/hooks/wf1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := verifyWebhookBearer([]byte("other"), token, "/hooks/wf1"); err == nil {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestWebhookBearer_RejectsWrongPath(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := IssueWebhookBearer(secret, "/hooks/wf1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := verifyWebhookBearer(secret, token, "/hooks/wf2"); err == nil {
		t.Fatal("expected verification to fail for a token issued on a different path")
	}
}

func TestWebhookBearer_RejectsExpiredToken(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := IssueWebhookBearer(secret, "/hooks/wf1", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := verifyWebhookBearer(secret, token, "/hooks/wf1"); err == nil {
		t.Fatal("expected verification to fail for an expired token")
	}
}

func TestScheduler_WebhookAcceptsBearerTokenInsteadOfRawSecret(t *testing.T) {
	s, be, q := newTestScheduler(t)
	ctx := context.Background()

	wf := &workflow.Workflow{
		ID:      "wf1",
		Status:  workflow.StatusActive,
		Trigger: workflow.Trigger{Type: workflow.TriggerWebhook, WebhookPath: "/hooks/wf1", WebhookSecret: "s3cr3t"},
	}
	be.PutWorkflow(ctx, wf)
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	token, err := IssueWebhookBearer([]byte(wf.Trigger.WebhookSecret), wf.Trigger.WebhookPath, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	run, err := s.Webhook(ctx, wf.Trigger.WebhookPath, map[string]any{"hello": "world"}, nil, "", token)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if run.TriggeredBy != "webhook" {
		t.Errorf("expected triggeredBy=webhook, got %q", run.TriggeredBy)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 queued item, got %d", q.Len())
	}
}

func TestScheduler_WebhookRejectsBearerTokenForDifferentPath(t *testing.T) {
	s, be, _ := newTestScheduler(t)
	ctx := context.Background()

	wf := &workflow.Workflow{
		ID:      "wf1",
		Status:  workflow.StatusActive,
		Trigger: workflow.Trigger{Type: workflow.TriggerWebhook, WebhookPath: "/hooks/wf1", WebhookSecret: "s3cr3t"},
	}
	be.PutWorkflow(ctx, wf)
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	token, err := IssueWebhookBearer([]byte(wf.Trigger.WebhookSecret), "/hooks/other", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := s.Webhook(ctx, wf.Trigger.WebhookPath, map[string]any{"hello": "world"}, nil, "", token); err == nil {
		t.Fatal("expected bearer token issued for a different path to be rejected")
	}
}
