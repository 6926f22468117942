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

	"golang.org/x/oauth2"
)

// AccessToken returns a valid access token for the user's OAuth account
// with the given provider, refreshing it first if its recorded expiry is
// past or within refreshMargin. An account with no recorded expiry is
// returned as stored and never refreshed. Concurrent callers for the same (userID,
// provider) pair share a single in-flight refresh.
func (v *Vault) AccessToken(ctx context.Context, userID, provider string) (string, error) {
	account, err := v.store.GetOAuthAccount(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	if !needsRefresh(account.ExpiresAt) {
		return v.enc.DecryptString(account.EncryptedAccessToken)
	}

	key := userID + ":" + provider
	result, err, _ := v.refreshGroup.Do(key, func() (any, error) {
		return v.refresh(ctx, userID, provider)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func needsRefresh(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return time.Now().Add(refreshMargin).After(*expiresAt)
}

// refresh performs the actual token exchange. It re-reads the account
// inside the singleflight section so a refresh that raced and lost still
// observes the winner's freshly persisted token rather than exchanging a
// refresh token twice.
func (v *Vault) refresh(ctx context.Context, userID, provider string) (string, error) {
	account, err := v.store.GetOAuthAccount(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if !needsRefresh(account.ExpiresAt) {
		return v.enc.DecryptString(account.EncryptedAccessToken)
	}

	refreshToken, err := v.enc.DecryptString(account.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token for %s/%s: %w", userID, provider, err)
	}

	accessToken, newRefreshToken, expiresAt, err := v.refresher.Refresh(ctx, provider, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh oauth token for %s/%s: %w", userID, provider, err)
	}

	encAccess, err := v.enc.EncryptString(accessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt refreshed access token: %w", err)
	}
	encRefresh := account.EncryptedRefreshToken
	if newRefreshToken != "" {
		encRefresh, err = v.enc.EncryptString(newRefreshToken)
		if err != nil {
			return "", fmt.Errorf("encrypt refreshed refresh token: %w", err)
		}
	}

	account.EncryptedAccessToken = encAccess
	account.EncryptedRefreshToken = encRefresh
	account.ExpiresAt = &expiresAt
	if err := v.store.PutOAuthAccount(ctx, account); err != nil {
		return "", fmt.Errorf("persist refreshed oauth account: %w", err)
	}

	return accessToken, nil
}

// OAuth2Refresher exchanges refresh tokens against each provider's real
// token endpoint using golang.org/x/oauth2. One oauth2.Config is
// registered per provider at daemon startup.
type OAuth2Refresher struct {
	Configs map[string]*oauth2.Config
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, provider, refreshToken string) (string, string, time.Time, error) {
	cfg, ok := r.Configs[provider]
	if !ok {
		return "", "", time.Time{}, fmt.Errorf("no oauth2 config registered for provider %q", provider)
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("exchange refresh token: %w", err)
	}

	newRefresh := token.RefreshToken
	if newRefresh == refreshToken {
		// Provider did not rotate the refresh token; the caller keeps the
		// existing encrypted value.
		newRefresh = ""
	}
	return token.AccessToken, newRefresh, token.Expiry, nil
}
