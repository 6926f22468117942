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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OAuthStateClaims is encoded into the "state" query parameter of an
// OAuth authorization-code redirect. Binding the initiating user and
// provider into a signed, short-lived token lets the callback handler
// reject a state value that was forged or replayed against a different
// account, without keeping a server-side session store for the
// duration of the redirect round trip.
type OAuthStateClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Provider string `json:"provider"`
}

// IssueOAuthState signs a state token for an OAuth authorize redirect.
// secret is the vault's encryption key, reused as an HMAC signing key.
func IssueOAuthState(secret []byte, userID, provider string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OAuthStateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   userID,
		Provider: provider,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign oauth state token: %w", err)
	}
	return signed, nil
}

// VerifyOAuthState validates a token minted by IssueOAuthState and
// returns the user and provider it was bound to. Callers compare the
// returned provider against the callback route's own provider to catch
// a state value replayed against the wrong callback.
func VerifyOAuthState(secret []byte, tokenString string) (*OAuthStateClaims, error) {
	claims := &OAuthStateClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse oauth state token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("oauth state token invalid")
	}
	return claims, nil
}
