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

package workflow

import "os"

// Environment materializes the env.* projection exposed to every run's
// variable scope: only names in allowlist are read from the process
// environment, enumerated once at worker startup rather than passing
// os.Environ() through wholesale.
func Environment(allowlist []string) map[string]string {
	env := make(map[string]string, len(allowlist))
	for _, name := range allowlist {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	return env
}
