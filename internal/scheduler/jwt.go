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

package scheduler

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// webhookClaims is carried by a signed bearer token presented to a
// webhook trigger in place of the raw X-Webhook-Secret header. Binding
// the path into the claims keeps a token minted for one workflow's
// webhook from being replayed against a different one signed with the
// same secret.
type webhookClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// IssueWebhookBearer signs a bearer token an external caller can present
// as "Authorization: Bearer <token>" instead of the workflow trigger's
// raw shared secret. secret is that same WebhookSecret, reused as an
// HMAC signing key; ttl bounds how long the token is accepted.
func IssueWebhookBearer(secret []byte, path string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := webhookClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Path: path,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign webhook bearer token: %w", err)
	}
	return signed, nil
}

// verifyWebhookBearer parses and validates a token minted by
// IssueWebhookBearer, checking its signature, expiry, and that it was
// issued for the path it is being used on.
func verifyWebhookBearer(secret []byte, tokenString, path string) error {
	claims := &webhookClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("parse webhook bearer token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("webhook bearer token invalid")
	}
	if claims.Path != path {
		return fmt.Errorf("webhook bearer token issued for path %q, presented on %q", claims.Path, path)
	}
	return nil
}
