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
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// webhookSecretHeader is where callers place the shared secret configured
// on the workflow's trigger. Some providers only support query parameters,
// so Handler also checks ?secret=.
const webhookSecretHeader = "X-Webhook-Secret"

// Handler returns an http.Handler that dispatches incoming requests to
// Scheduler.Webhook based on the full request path, so trigger webhook
// paths include the mount prefix, e.g. a trigger path "/hooks/wf1" served
// through mux.Handle("/hooks/", scheduler.Handler(s)).
func Handler(s *Scheduler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body map[string]any
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "invalid JSON body", http.StatusBadRequest)
				return
			}
		}

		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[strings.ToLower(k)] = r.Header.Get(k)
		}

		secret := r.Header.Get(webhookSecretHeader)
		if secret == "" {
			secret = r.URL.Query().Get("secret")
		}

		var bearerToken string
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			bearerToken = strings.TrimPrefix(auth, "Bearer ")
		}

		run, err := s.Webhook(r.Context(), r.URL.Path, body, headers, secret, bearerToken)
		if err != nil {
			slog.Default().Warn("webhook dispatch rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"runId": run.ID, "status": string(run.Status)})
	})
}
