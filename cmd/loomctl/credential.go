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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loomwork/substrate/internal/vault"
)

func newCredentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage vault-stored credentials",
	}
	cmd.AddCommand(newCredentialSetCommand())
	cmd.AddCommand(newCredentialListCommand())
	cmd.AddCommand(newCredentialDeleteCommand())
	return cmd
}

func newCredentialSetCommand() *cobra.Command {
	var (
		name  string
		org   string
		stdin bool
	)
	cmd := &cobra.Command{
		Use:   "set <user-id> <platform> [value]",
		Short: "Encrypt and store a single-value credential",
		Long:  "Reads the plaintext secret from the value argument, or from stdin with --stdin so it never appears in shell history.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, platform := args[0], args[1]

			var value string
			switch {
			case stdin:
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					return fmt.Errorf("no value read from stdin")
				}
				value = strings.TrimRight(scanner.Text(), "\r\n")
			case len(args) == 3:
				value = args[2]
			default:
				return fmt.Errorf("either pass value as an argument or use --stdin")
			}

			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Backend.Close()

			cred := &vault.Credential{
				ID:       uuid.NewString(),
				UserID:   userID,
				Platform: platform,
				Name:     name,
			}
			if cred.Name == "" {
				cred.Name = platform
			}
			if org != "" {
				cred.OrganizationID = org
			}

			if err := d.Vault.Store(context.Background(), cred, value); err != nil {
				return fmt.Errorf("store credential: %w", err)
			}
			fmt.Println(cred.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the platform name)")
	cmd.Flags().StringVar(&org, "org", "", "Organization ID to scope the credential to")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "Read the secret value from stdin instead of argv")
	return cmd
}

func newCredentialListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's stored credentials (metadata only, never plaintext)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Backend.Close()

			meta, err := d.Vault.List(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}
			return printJSON(meta)
		},
	}
	return cmd
}

func newCredentialDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <credential-id>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDaemon()
			if err != nil {
				return err
			}
			defer d.Backend.Close()

			if err := d.Vault.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete credential: %w", err)
			}
			return nil
		},
	}
	return cmd
}
