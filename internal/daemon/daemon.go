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

// Package daemon wires the substrate's components — backend, vault,
// registry, queue, scheduler, and worker pool — into a single running
// process and owns their startup and shutdown order.
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/loomwork/substrate/internal/backend"
	"github.com/loomwork/substrate/internal/backend/memory"
	"github.com/loomwork/substrate/internal/backend/sqlite"
	"github.com/loomwork/substrate/internal/config"
	"github.com/loomwork/substrate/internal/log"
	"github.com/loomwork/substrate/internal/queue"
	"github.com/loomwork/substrate/internal/registry"
	"github.com/loomwork/substrate/internal/resilience"
	"github.com/loomwork/substrate/internal/scheduler"
	"github.com/loomwork/substrate/internal/tracing"
	"github.com/loomwork/substrate/internal/vault"
	"github.com/loomwork/substrate/internal/worker"
	"github.com/loomwork/substrate/internal/workflow"
)

// Daemon owns one worker process's full component graph.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	Backend   backend.Backend
	Vault     *vault.Vault
	Registry  *registry.Registry
	Queue     queue.Queue
	Scheduler *scheduler.Scheduler
	Worker    *worker.Pool
	Tracing   *tracing.Provider

	PreloadReport registry.PreloadReport
}

// New builds the component graph from cfg but starts nothing. Call
// Start to begin scheduling and claiming, and Stop to tear down in the
// order the design requires.
func New(cfg *config.Config) (*Daemon, error) {
	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})

	tp, err := tracing.NewProvider("substrate-worker", os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("build trace provider: %w", err)
	}

	be, err := openBackend(cfg)
	if err != nil {
		tp.Shutdown(context.Background())
		return nil, fmt.Errorf("open backend: %w", err)
	}

	v, err := openVault(cfg, be)
	if err != nil {
		be.Close()
		tp.Shutdown(context.Background())
		return nil, fmt.Errorf("open vault: %w", err)
	}

	if cfg.Queue.RedisURL != "" {
		logger.Warn("queue.redis_url is set but no Redis-backed queue is wired yet; using the in-memory queue", slog.String("redisUrl", cfg.Queue.RedisURL))
	}
	q := queue.NewMemoryQueue()

	layer := resilience.NewLayer(nil, nil, nil, 30*time.Second)

	reg := registry.New()
	var report registry.PreloadReport
	if !cfg.Worker.SkipModulePreload {
		report = reg.Preload([]registry.Category{
			registry.UtilitiesCategory(),
			registry.DataCategory(),
			registry.HTTPCategory(layer, http.DefaultClient),
		})
		logger.Info("module preload complete",
			slog.Int("total", report.Total), slog.Int("success", report.Success), slog.Int("fail", report.Fail))
	}

	executor := workflow.NewExecutor(reg, layer, logger)

	sched := scheduler.New(be, be, q, logger)

	pool := worker.New(q, be, v, executor, worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ReportInterval:    cfg.Worker.ReportInterval,
		EnvAllowlist:      cfg.Worker.EnvAllowlist,
	}, logger.With(slog.String("worker", cfg.Worker.Name)))

	return &Daemon{
		cfg:           cfg,
		logger:        logger,
		Backend:       be,
		Vault:         v,
		Registry:      reg,
		Queue:         q,
		Scheduler:     sched,
		Worker:        pool,
		Tracing:       tp,
		PreloadReport: report,
	}, nil
}

// Start loads the current cron/webhook set and begins scheduling and
// claiming. Call once; ctx governs both loops' lifetime until Stop.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Scheduler.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh scheduler: %w", err)
	}
	d.Scheduler.Start(ctx)
	d.Worker.Start(ctx)
	d.logger.Info("daemon started", slog.Int("concurrency", d.cfg.Worker.Concurrency))
	return nil
}

// Stop tears the daemon down in the order the design requires: stop the
// scheduler first (no new enqueues), then the worker pool's claim loop
// (no new dequeues) with a bounded wait for in-flight runs, then close
// the queue, then close the backend. Out-of-order shutdown orphans
// heartbeats on items a dead worker can no longer renew.
func (d *Daemon) Stop() {
	d.logger.Info("daemon stopping")
	d.Scheduler.Stop()
	d.Worker.Stop(d.cfg.Worker.ShutdownTimeout)
	if err := d.Queue.Close(); err != nil {
		d.logger.Error("close queue failed", slog.Any("error", err))
	}
	if err := d.Backend.Close(); err != nil {
		d.logger.Error("close backend failed", slog.Any("error", err))
	}
	if err := d.Tracing.Shutdown(context.Background()); err != nil {
		d.logger.Error("trace provider shutdown failed", slog.Any("error", err))
	}
	d.logger.Info("daemon stopped")
}

func openBackend(cfg *config.Config) (backend.Backend, error) {
	switch {
	case cfg.Database.URL == "":
		return memory.New(), nil
	case cfg.UsingPostgres():
		return nil, fmt.Errorf("postgres backend is not wired into this build; use a sqlite path or leave database.url empty")
	default:
		return sqlite.New(sqlite.Config{Path: cfg.Database.URL, WAL: true})
	}
}

func openVault(cfg *config.Config, store vault.Store) (*vault.Vault, error) {
	if cfg.Vault.EncryptionKey == "" {
		return nil, fmt.Errorf("vault.encryption_key (ENCRYPTION_KEY) is required")
	}
	key, err := decodeKey(cfg.Vault.EncryptionKey)
	if err != nil {
		return nil, err
	}
	enc, err := vault.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	return vault.New(store, enc, &vault.OAuth2Refresher{Configs: map[string]*oauth2.Config{}}), nil
}

// decodeKey accepts the encryption key as hex, standard base64, or raw
// 32-byte text, matching how operators commonly paste ENCRYPTION_KEY.
func decodeKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	if len(s) == 32 {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("encryption key must decode to 32 bytes (hex, base64, or raw), got %d raw bytes", len(s))
}
