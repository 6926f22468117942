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

// Command workerd runs the workflow execution substrate: it loads
// configuration, wires the backend, vault, registry, queue, scheduler,
// and worker pool together, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomwork/substrate/internal/config"
	"github.com/loomwork/substrate/internal/daemon"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to substrate.yaml")
		databaseURL  = flag.String("database-url", "", "Backend connection string (sqlite path; empty selects the in-memory backend)")
		concurrency  = flag.Int("concurrency", 0, "Per-worker run concurrency")
		workerName   = flag.String("name", "", "Worker identity in logs and metrics")
		workflowsDir = flag.String("workflows-dir", "", "Directory of *.json workflow files to load and hot-reload (dev mode)")
		showVersion  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("workerd %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *databaseURL != "" {
		cfg.Database.URL = *databaseURL
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}
	if *workerName != "" {
		cfg.Worker.Name = *workerName
	}
	if *workflowsDir != "" {
		cfg.Dev.WorkflowsDir = *workflowsDir
	}

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build daemon:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		slog.Error("daemon failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	var watcher *daemon.WorkflowWatcher
	if cfg.Dev.WorkflowsDir != "" {
		watcher, err = daemon.NewWorkflowWatcher(cfg.Dev.WorkflowsDir, d, slog.Default())
		if err != nil {
			slog.Error("workflow watcher failed to start", slog.Any("error", err))
		} else {
			watcher.Start(ctx)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", slog.String("signal", sig.String()))

	cancel()
	if watcher != nil {
		watcher.Stop()
	}
	d.Stop()
}
