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
	"fmt"

	"github.com/spf13/cobra"
)

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron and webhook trigger registrations",
	}
	cmd.AddCommand(newScheduleRefreshCommand())
	return cmd
}

// newScheduleRefreshCommand reloads the active workflow set from the
// backend into a throwaway scheduler instance. It is meant for a
// short-lived CLI process nudging an operator to restart the long-running
// workerd process, which holds the live Scheduler that actually matters;
// this command exists mainly to validate that every active workflow's
// trigger still parses.
func newScheduleRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Validate that every active workflow's trigger registration still parses",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Backend.Close()

			if err := d.Scheduler.Refresh(context.Background()); err != nil {
				return fmt.Errorf("refresh schedule: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}
