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

// Command loomctl is the operator CLI: it opens the same component graph
// as workerd against the configured backend and drives it directly,
// rather than speaking to a separate RPC surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomwork/substrate/internal/config"
	"github.com/loomwork/substrate/internal/daemon"
)

var (
	version = "dev"

	configPath string
)

func main() {
	root := &cobra.Command{
		Use:           "loomctl",
		Short:         "Operate a workflow execution substrate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to substrate.yaml")

	root.AddCommand(newRunCommand())
	root.AddCommand(newCredentialCommand())
	root.AddCommand(newScheduleCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openDaemon builds the component graph without starting the scheduler or
// worker pool; loomctl reads and writes the backend directly and never
// claims queue items itself.
func openDaemon() (*daemon.Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return daemon.New(cfg)
}
