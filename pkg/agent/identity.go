// Copyright 2025 The replaygate Authors
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

package agent

import "strings"

// providerPrefixGroup maps a set of model-name prefixes to the provider
// family that issues them.
type providerPrefixGroup struct {
	prefixes []string
	provider string
}

var providerPrefixGroups = []providerPrefixGroup{
	{prefixes: []string{"gpt-", "o1-", "o3-", "o4-", "chatgpt"}, provider: "openai"},
	{prefixes: []string{"claude-"}, provider: "anthropic"},
	{prefixes: []string{"gemini-"}, provider: "google"},
}

var exactOpenAIModels = map[string]bool{"o1": true, "o3": true, "o4": true}

// guessProviderAndName infers a provider family from a bare model label.
// A "provider/model" label is honored verbatim (split on the first '/');
// anything else is matched against a prefix table. An unrecognized label
// yields an empty provider, which provider.IsCompatible treats as a
// wildcard rather than a mismatch.
func guessProviderAndName(label string) (providerType, modelName string) {
	if label == "" {
		return "", ""
	}

	if idx := strings.IndexByte(label, '/'); idx >= 0 {
		return label[:idx], label[idx+1:]
	}

	if exactOpenAIModels[label] {
		return "openai", label
	}

	for _, group := range providerPrefixGroups {
		for _, p := range group.prefixes {
			if strings.HasPrefix(label, p) {
				return group.provider, label
			}
		}
	}

	return "", label
}
