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

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/loomwork/substrate/internal/workflow"
)

// WorkflowWatcher reloads workflow documents from a directory of JSON
// files into the backend as they change, driving Scheduler.Refresh so
// cron and webhook registrations pick up the new definitions. This is a
// file-backed dev-mode convenience; production deployments author
// workflows through the (out of core scope) HTTP surface instead.
type WorkflowWatcher struct {
	dir    string
	daemon *Daemon
	logger *slog.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorkflowWatcher builds a watcher over dir, loading every *.json file
// already present before returning.
func NewWorkflowWatcher(dir string, d *Daemon, logger *slog.Logger) (*WorkflowWatcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workflows dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", absDir, err)
	}

	w := &WorkflowWatcher{
		dir:    absDir,
		daemon: d,
		logger: logger.With(slog.String("component", "workflowwatcher"), slog.String("dir", absDir)),
		fsw:    fsw,
	}

	if err := w.loadAll(context.Background()); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *WorkflowWatcher) loadAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := w.load(ctx, filepath.Join(w.dir, e.Name())); err != nil {
			w.logger.Warn("failed to load workflow file", slog.String("file", e.Name()), slog.Any("error", err))
		}
	}
	return w.daemon.Scheduler.Refresh(ctx)
}

func (w *WorkflowWatcher) load(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if wf.ID == "" {
		wf.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return w.daemon.Backend.PutWorkflow(ctx, &wf)
}

// Start begins watching for changes. Stop must be called to release the
// underlying fsnotify watcher.
func (w *WorkflowWatcher) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx)
}

func (w *WorkflowWatcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", slog.Any("error", err))
		}
	}
}

func (w *WorkflowWatcher) handle(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if err := w.load(ctx, event.Name); err != nil {
			w.logger.Warn("reload failed", slog.String("file", event.Name), slog.Any("error", err))
			return
		}
	case event.Op&fsnotify.Remove != 0:
		id := strings.TrimSuffix(filepath.Base(event.Name), ".json")
		if err := w.daemon.Backend.DeleteWorkflow(ctx, id); err != nil {
			w.logger.Warn("delete on remove failed", slog.String("file", event.Name), slog.Any("error", err))
			return
		}
	default:
		return
	}
	if err := w.daemon.Scheduler.Refresh(ctx); err != nil {
		w.logger.Warn("scheduler refresh failed", slog.Any("error", err))
	}
}

// Stop halts the watcher and releases its fsnotify handle.
func (w *WorkflowWatcher) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.fsw.Close()
}
