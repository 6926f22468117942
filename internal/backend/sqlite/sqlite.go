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

// Package sqlite provides a SQLite backend implementation for single-node
// deployments of the substrate.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

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

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	Path string
	WAL  bool
}

// New opens (and migrates) a SQLite-backed Backend.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writes; one connection avoids SQLITE_BUSY

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			user_id TEXT NOT NULL,
			organization_id TEXT,
			status TEXT NOT NULL,
			trigger TEXT NOT NULL,
			config TEXT NOT NULL,
			metadata TEXT,
			run_count INTEGER DEFAULT 0,
			last_run TEXT,
			last_run_status TEXT,
			last_run_output TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_user ON workflows(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			organization_id TEXT,
			triggered_by TEXT NOT NULL,
			scheduled_for TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			steps TEXT,
			error TEXT,
			output TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			organization_id TEXT,
			platform TEXT NOT NULL,
			name TEXT,
			type TEXT NOT NULL,
			encrypted_value TEXT,
			fields TEXT,
			created_at TEXT NOT NULL,
			last_used TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_scope ON credentials(user_id, platform, COALESCE(organization_id, ''))`,
		`CREATE TABLE IF NOT EXISTS oauth_accounts (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			encrypted_access_token TEXT,
			encrypted_refresh_token TEXT,
			expires_at TEXT,
			PRIMARY KEY (user_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_states (
			workflow_id TEXT PRIMARY KEY,
			last_scheduled_unix INTEGER DEFAULT 0,
			last_run_at TEXT,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// -- workflows --

func (b *Backend) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, version, name, description, user_id, organization_id, status, trigger, config, metadata,
			run_count, last_run, last_run_status, last_run_output
		FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

func (b *Backend) PutWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	triggerJSON, err := json.Marshal(wf.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	configJSON, err := json.Marshal(wf.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	metadataJSON, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	outputJSON, err := json.Marshal(wf.LastRunOutput)
	if err != nil {
		return fmt.Errorf("marshal last run output: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO workflows (id, version, name, description, user_id, organization_id, status, trigger, config,
			metadata, run_count, last_run, last_run_status, last_run_output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version, name = excluded.name, description = excluded.description,
			user_id = excluded.user_id, organization_id = excluded.organization_id, status = excluded.status,
			trigger = excluded.trigger, config = excluded.config, metadata = excluded.metadata,
			run_count = excluded.run_count, last_run = excluded.last_run,
			last_run_status = excluded.last_run_status, last_run_output = excluded.last_run_output`,
		wf.ID, wf.Version, wf.Name, nullString(wf.Description), wf.UserID, nullString(wf.OrganizationID),
		string(wf.Status), string(triggerJSON), string(configJSON), string(metadataJSON),
		wf.RunCount, formatTime(wf.LastRun), nullString(wf.LastRunStatus), string(outputJSON),
	)
	if err != nil {
		return fmt.Errorf("put workflow: %w", err)
	}
	return nil
}

func (b *Backend) ListWorkflows(ctx context.Context, filter backend.WorkflowFilter) ([]*workflow.Workflow, error) {
	query := `SELECT id, version, name, description, user_id, organization_id, status, trigger, config, metadata,
		run_count, last_run, last_run_status, last_run_output FROM workflows WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.OrganizationID != "" {
		query += " AND organization_id = ?"
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		if filter.TriggerType != "" && wf.Trigger.Type != filter.TriggerType {
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (b *Backend) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `DELETE FROM schedule_states WHERE workflow_id = ?`, id)
	return err
}

func (b *Backend) UpdateRunStats(ctx context.Context, workflowID string, run *workflow.Run) error {
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		UPDATE workflows SET run_count = run_count + 1, last_run = ?, last_run_status = ?, last_run_output = ?
		WHERE id = ?`,
		formatTime(run.FinishedAt), string(run.Status), string(outputJSON), workflowID,
	)
	if err != nil {
		return fmt.Errorf("update run stats: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	var description, organizationID, metadataJSON, lastRun, lastRunStatus, lastRunOutput sql.NullString
	var status, triggerJSON, configJSON string

	err := row.Scan(
		&wf.ID, &wf.Version, &wf.Name, &description, &wf.UserID, &organizationID, &status,
		&triggerJSON, &configJSON, &metadataJSON, &wf.RunCount, &lastRun, &lastRunStatus, &lastRunOutput,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	wf.Description = description.String
	wf.OrganizationID = organizationID.String
	wf.Status = workflow.Status(status)
	wf.LastRunStatus = lastRunStatus.String

	if err := json.Unmarshal([]byte(triggerJSON), &wf.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &wf.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		var meta workflow.Metadata
		if err := json.Unmarshal([]byte(metadataJSON.String), &meta); err == nil {
			wf.Metadata = &meta
		}
	}
	if lastRun.Valid {
		t, err := time.Parse(time.RFC3339, lastRun.String)
		if err == nil {
			wf.LastRun = &t
		}
	}
	if lastRunOutput.Valid && lastRunOutput.String != "" && lastRunOutput.String != "null" {
		json.Unmarshal([]byte(lastRunOutput.String), &wf.LastRunOutput)
	}

	return &wf, nil
}

// -- runs --

func (b *Backend) CreateRun(ctx context.Context, run *workflow.Run) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	errorJSON, err := json.Marshal(run.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, user_id, organization_id, triggered_by, scheduled_for,
			started_at, finished_at, status, steps, error, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.UserID, nullString(run.OrganizationID), run.TriggeredBy,
		formatTime(run.ScheduledFor), run.StartedAt.Format(time.RFC3339), formatTime(run.FinishedAt),
		string(run.Status), string(stepsJSON), string(errorJSON), string(outputJSON),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (b *Backend) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, user_id, organization_id, triggered_by, scheduled_for,
			started_at, finished_at, status, steps, error, output
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (b *Backend) UpdateRun(ctx context.Context, run *workflow.Run) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	errorJSON, err := json.Marshal(run.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	result, err := b.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, steps = ?, error = ?, output = ?
		WHERE id = ?`,
		formatTime(run.FinishedAt), string(run.Status), string(stepsJSON), string(errorJSON),
		string(outputJSON), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*workflow.Run, error) {
	query := `SELECT id, workflow_id, user_id, organization_id, triggered_by, scheduled_for,
		started_at, finished_at, status, steps, error, output FROM runs WHERE 1=1`
	var args []any
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func scanRun(row scanner) (*workflow.Run, error) {
	var run workflow.Run
	var organizationID, scheduledFor, finishedAt, stepsJSON, errorJSON, outputJSON sql.NullString
	var startedAt, status string

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.UserID, &organizationID, &run.TriggeredBy, &scheduledFor,
		&startedAt, &finishedAt, &status, &stepsJSON, &errorJSON, &outputJSON,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.OrganizationID = organizationID.String
	run.Status = workflow.RunStatus(status)
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)

	if scheduledFor.Valid {
		t, err := time.Parse(time.RFC3339, scheduledFor.String)
		if err == nil {
			run.ScheduledFor = &t
		}
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		json.Unmarshal([]byte(stepsJSON.String), &run.Steps)
	}
	if errorJSON.Valid && errorJSON.String != "" && errorJSON.String != "null" {
		var stepErr workflow.StepError
		if err := json.Unmarshal([]byte(errorJSON.String), &stepErr); err == nil {
			run.Error = &stepErr
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		json.Unmarshal([]byte(outputJSON.String), &run.Output)
	}

	return &run, nil
}

// -- credentials (vault.Store) --

func (b *Backend) GetCredential(ctx context.Context, userID, platform, organizationID string) (*vault.Credential, error) {
	if organizationID != "" {
		if c, err := b.getCredentialRow(ctx, userID, platform, organizationID); err == nil {
			return c, nil
		}
	}
	return b.getCredentialRow(ctx, userID, platform, "")
}

func (b *Backend) getCredentialRow(ctx context.Context, userID, platform, organizationID string) (*vault.Credential, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, user_id, organization_id, platform, name, type, encrypted_value, fields, created_at, last_used
		FROM credentials WHERE user_id = ? AND platform = ? AND COALESCE(organization_id, '') = ?`,
		userID, platform, organizationID)
	return scanCredential(row)
}

func (b *Backend) ListCredentials(ctx context.Context, userID string) ([]*vault.Credential, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, user_id, organization_id, platform, name, type, encrypted_value, fields, created_at, last_used
		FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*vault.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *Backend) PutCredential(ctx context.Context, cred *vault.Credential) error {
	fieldsJSON, err := json.Marshal(cred.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, organization_id, platform, name, type, encrypted_value, fields, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, type = excluded.type, encrypted_value = excluded.encrypted_value,
			fields = excluded.fields, last_used = excluded.last_used`,
		cred.ID, cred.UserID, nullString(cred.OrganizationID), cred.Platform, cred.Name, string(cred.Type),
		nullString(cred.EncryptedValue), string(fieldsJSON), cred.CreatedAt.Format(time.RFC3339), formatTime(cred.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

func (b *Backend) DeleteCredential(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func scanCredential(row scanner) (*vault.Credential, error) {
	var c vault.Credential
	var organizationID, name, encryptedValue, fieldsJSON, lastUsed sql.NullString
	var typ, createdAt string

	err := row.Scan(
		&c.ID, &c.UserID, &organizationID, &c.Platform, &name, &typ, &encryptedValue, &fieldsJSON, &createdAt, &lastUsed,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credential not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	c.OrganizationID = organizationID.String
	c.Name = name.String
	c.Type = vault.CredentialType(typ)
	c.EncryptedValue = encryptedValue.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if fieldsJSON.Valid && fieldsJSON.String != "" && fieldsJSON.String != "null" {
		json.Unmarshal([]byte(fieldsJSON.String), &c.Fields)
	}
	if lastUsed.Valid {
		t, err := time.Parse(time.RFC3339, lastUsed.String)
		if err == nil {
			c.LastUsed = &t
		}
	}
	return &c, nil
}

// -- oauth accounts (vault.Store) --

func (b *Backend) GetOAuthAccount(ctx context.Context, userID, provider string) (*vault.OAuthAccount, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT user_id, provider, encrypted_access_token, encrypted_refresh_token, expires_at
		FROM oauth_accounts WHERE user_id = ? AND provider = ?`, userID, provider)

	var a vault.OAuthAccount
	var access, refresh, expiresAt sql.NullString
	err := row.Scan(&a.UserID, &a.Provider, &access, &refresh, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("oauth account not found: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth account: %w", err)
	}
	a.EncryptedAccessToken = access.String
	a.EncryptedRefreshToken = refresh.String
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err == nil {
			a.ExpiresAt = &t
		}
	}
	return &a, nil
}

func (b *Backend) PutOAuthAccount(ctx context.Context, account *vault.OAuthAccount) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO oauth_accounts (user_id, provider, encrypted_access_token, encrypted_refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			expires_at = excluded.expires_at`,
		account.UserID, account.Provider, nullString(account.EncryptedAccessToken),
		nullString(account.EncryptedRefreshToken), formatTime(account.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put oauth account: %w", err)
	}
	return nil
}

// -- schedule state --

func (b *Backend) GetScheduleState(ctx context.Context, workflowID string) (*backend.ScheduleState, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT workflow_id, last_scheduled_unix, last_run_at, updated_at
		FROM schedule_states WHERE workflow_id = ?`, workflowID)

	var s backend.ScheduleState
	var lastRunAt, updatedAt sql.NullString
	err := row.Scan(&s.WorkflowID, &s.LastScheduledUnix, &lastRunAt, &updatedAt)
	if err == sql.ErrNoRows {
		return &backend.ScheduleState{WorkflowID: workflowID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule state: %w", err)
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err == nil {
			s.LastRunAt = &t
		}
	}
	if updatedAt.Valid {
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return &s, nil
}

func (b *Backend) PutScheduleState(ctx context.Context, state *backend.ScheduleState) error {
	state.UpdatedAt = time.Now()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO schedule_states (workflow_id, last_scheduled_unix, last_run_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workflow_id) DO UPDATE SET
			last_scheduled_unix = excluded.last_scheduled_unix,
			last_run_at = excluded.last_run_at,
			updated_at = excluded.updated_at`,
		state.WorkflowID, state.LastScheduledUnix, formatTime(state.LastRunAt), state.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put schedule state: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
