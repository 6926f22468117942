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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loomwork/substrate/internal/workflow"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enqueue and inspect workflow runs",
	}
	cmd.AddCommand(newRunEnqueueCommand())
	cmd.AddCommand(newRunStatusCommand())
	return cmd
}

func newRunEnqueueCommand() *cobra.Command {
	var (
		inputs []string
		userID string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <workflow.json>",
		Short: "Register a workflow document and enqueue a manual run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Backend.Close()

			wf, err := loadWorkflowFile(args[0])
			if err != nil {
				return err
			}
			if userID != "" {
				wf.UserID = userID
			}

			ctx := context.Background()
			if err := d.Backend.PutWorkflow(ctx, wf); err != nil {
				return fmt.Errorf("store workflow: %w", err)
			}

			input, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			run, err := d.Scheduler.Manual(ctx, wf, input, "manual")
			if err != nil {
				return fmt.Errorf("enqueue run: %w", err)
			}
			fmt.Println(run.ID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Run input as key=value; repeatable")
	cmd.Flags().StringVar(&userID, "user", "", "Override the workflow document's userId")
	return cmd
}

func newRunStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Print a run's current status as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Backend.Close()

			run, err := d.Backend.GetRun(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			return printJSON(run)
		},
	}
	return cmd
}

func loadWorkflowFile(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if wf.ID == "" {
		wf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if wf.Status == "" {
		wf.Status = workflow.StatusActive
	}
	return &wf, nil
}

// parseInputs turns repeated "key=value" flags into a nested input map.
// Values that parse as JSON (numbers, booleans, objects, arrays) are
// decoded as such; anything else is kept as a string.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q, want key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		out[key] = decoded
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
