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

// aliasGroups lists, for each canonical platform name, every spelling that
// must resolve to the same secret. Aliases never overwrite an existing
// explicit entry in the plaintext map.
var aliasGroups = map[string][]string{
	"youtube":  {"youtube_apikey", "youtube_api_key"},
	"twitter":  {"twitter_oauth2", "twitter_oauth"},
	"rapidapi": {"rapidapi_api_key"},
	"openai":   {"openai_api_key"},
}

// ExpandAliases returns a copy of plain with every alias spelling filled in
// from its canonical entry, for platforms present in the map. Explicit
// entries already in plain are left untouched.
func ExpandAliases(plain map[string]any) map[string]any {
	expanded := make(map[string]any, len(plain))
	for k, v := range plain {
		expanded[k] = v
	}

	for canonical, aliases := range aliasGroups {
		value, ok := expanded[canonical]
		if !ok {
			// The canonical name itself may be absent but one of its
			// aliases present; adopt the first alias found as canonical.
			for _, alias := range aliases {
				if v, found := expanded[alias]; found {
					value, ok = v, true
					expanded[canonical] = v
					break
				}
			}
			if !ok {
				continue
			}
		}
		for _, alias := range aliases {
			if _, exists := expanded[alias]; !exists {
				expanded[alias] = value
			}
		}
	}

	return expanded
}
