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

package vault

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loomwork/substrate/pkg/errors"
)

// CredentialType enumerates the shapes a Credential's encrypted payload
// can take.
type CredentialType string

const (
	TypeAPIKey           CredentialType = "api_key"
	TypeToken            CredentialType = "token"
	TypeSecret           CredentialType = "secret"
	TypeConnectionString CredentialType = "connection_string"
	TypeMultiField       CredentialType = "multi_field"
)

// Credential is the storage shape of one secret. Plaintext appears only
// transiently in a run's execution context; it is never logged, never
// returned over any interface, and never persisted inside a Run record.
type Credential struct {
	ID             string
	UserID         string
	OrganizationID string
	Platform       string
	Name           string
	Type           CredentialType
	EncryptedValue string
	Fields         map[string]string // field name -> independently-encrypted ciphertext
	CreatedAt      time.Time
	LastUsed       *time.Time
}

// Metadata is the leakage-safe projection returned by any listing
// interface — the vault never returns plaintext through List.
type Metadata struct {
	ID        string
	Platform  string
	Name      string
	Type      CredentialType
	CreatedAt time.Time
	LastUsed  *time.Time
}

// OAuthAccount is a refreshable per-user, per-provider token pair.
type OAuthAccount struct {
	UserID                string
	Provider              string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	ExpiresAt             *time.Time
}

// refreshMargin is how far ahead of expiry a token is proactively refreshed.
const refreshMargin = 60 * time.Second

// Store is the persistence contract the vault reads/writes through. A
// concrete Backend (memory, sqlite) implements this directly.
type Store interface {
	GetCredential(ctx context.Context, userID, platform, organizationID string) (*Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]*Credential, error)
	PutCredential(ctx context.Context, cred *Credential) error
	DeleteCredential(ctx context.Context, id string) error

	GetOAuthAccount(ctx context.Context, userID, provider string) (*OAuthAccount, error)
	PutOAuthAccount(ctx context.Context, account *OAuthAccount) error
}

// Refresher exchanges a refresh token for a new access/refresh pair
// against one provider's OAuth endpoint. Implementations wrap
// golang.org/x/oauth2.
type Refresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (accessToken, refreshToken2 string, expiresAt time.Time, err error)
}

// Vault stores secrets encrypted at rest and materializes a per-run
// plaintext credential map, expanded with alias spellings.
type Vault struct {
	store     Store
	enc       *Encryptor
	refresher Refresher

	// refreshGroup coalesces concurrent refresh attempts for the same
	// OAuth account into a single exchange. The coalescing is process-local
	// only: PutOAuthAccount is a plain upsert, so refreshes made by separate
	// processes are not coordinated.
	refreshGroup singleflight.Group
}

// New builds a Vault over the given store, encryptor, and OAuth refresher.
func New(store Store, enc *Encryptor, refresher Refresher) *Vault {
	return &Vault{store: store, enc: enc, refresher: refresher}
}

// Store persists a single-value credential, encrypting it before it
// touches the backend.
func (v *Vault) Store(ctx context.Context, cred *Credential, plaintext string) error {
	ciphertext, err := v.enc.EncryptString(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	cred.EncryptedValue = ciphertext
	if cred.Type == "" {
		cred.Type = TypeAPIKey
	}
	return v.store.PutCredential(ctx, cred)
}

// StoreMultiField persists a multi-field credential, encrypting each field
// independently.
func (v *Vault) StoreMultiField(ctx context.Context, cred *Credential, plaintext map[string]string) error {
	fields := make(map[string]string, len(plaintext))
	for name, value := range plaintext {
		ciphertext, err := v.enc.EncryptString(value)
		if err != nil {
			return fmt.Errorf("encrypt field %q: %w", name, err)
		}
		fields[name] = ciphertext
	}
	cred.Fields = fields
	cred.Type = TypeMultiField
	return v.store.PutCredential(ctx, cred)
}

// Load resolves a single credential's plaintext, preferring the org-scoped
// row when organizationID is non-empty; otherwise the user's personal row.
func (v *Vault) Load(ctx context.Context, userID, platform, organizationID string) (string, error) {
	cred, err := v.store.GetCredential(ctx, userID, platform, organizationID)
	if err != nil {
		return "", err
	}
	if cred.EncryptedValue == "" {
		return "", &errors.ValidationError{Field: "platform", Message: fmt.Sprintf("credential %q has no single value to decrypt", platform)}
	}
	plaintext, err := v.enc.DecryptString(cred.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %q: %w", platform, err)
	}
	return plaintext, nil
}

// LoadMultiField resolves every field of a multi-field credential.
func (v *Vault) LoadMultiField(ctx context.Context, userID, platform, organizationID string) (map[string]string, error) {
	cred, err := v.store.GetCredential(ctx, userID, platform, organizationID)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(cred.Fields))
	for name, ciphertext := range cred.Fields {
		plaintext, err := v.enc.DecryptString(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt field %q: %w", name, err)
		}
		result[name] = plaintext
	}
	return result, nil
}

// List returns leakage-safe metadata for every credential the user owns.
// Plaintext never appears in this result.
func (v *Vault) List(ctx context.Context, userID string) ([]Metadata, error) {
	creds, err := v.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(creds))
	for _, c := range creds {
		out = append(out, Metadata{
			ID: c.ID, Platform: c.Platform, Name: c.Name,
			Type: c.Type, CreatedAt: c.CreatedAt, LastUsed: c.LastUsed,
		})
	}
	return out, nil
}

// Delete removes a credential by id.
func (v *Vault) Delete(ctx context.Context, id string) error {
	return v.store.DeleteCredential(ctx, id)
}

// MaterializeRunMap builds the per-run plaintext credential map for a user,
// resolving OAuth access tokens (refreshing as needed) and expanding alias
// spellings so all known platform names resolve to the same secret. The
// returned map is discarded by the caller at run completion; it must never
// be persisted.
func (v *Vault) MaterializeRunMap(ctx context.Context, userID, organizationID string, platforms []string) (map[string]any, error) {
	plain := make(map[string]any, len(platforms))

	for _, platform := range platforms {
		if value, err := v.Load(ctx, userID, platform, organizationID); err == nil {
			plain[platform] = value
			continue
		}
		if token, err := v.AccessToken(ctx, userID, platform); err == nil {
			plain[platform] = token
		}
	}

	return ExpandAliases(plain), nil
}
