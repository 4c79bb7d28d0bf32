// Copyright 2025 UMH Systems GmbH
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

package launcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z0-9_-]+)\}`)

// componentUnescaper turns url.QueryEscape output into the form browsers
// produce with encodeURIComponent.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// Variables are the ${NAME} placeholders a launcher configuration may use.
type Variables map[string]string

// NewWorkerVariables builds the variables of a worker: its id, the hostname of
// the server and the URL the browser has to open. extraParameters, if set, is
// appended to the URL query after its own variables were replaced.
func NewWorkerVariables(server string, workerID string, extraParameters string) Variables {
	vars := Variables{
		constants.VariableWorkerID: workerID,
		constants.VariableHostname: hostname(server),
	}

	workerURL := strings.TrimSuffix(server, "/") + constants.WorkerPagePath + "?id=" + escapeComponent(workerID)
	if extraParameters != "" {
		workerURL += "&" + vars.Replace(extraParameters)
	}

	vars[constants.VariableURL] = workerURL

	return vars
}

func escapeComponent(value string) string {
	return componentUnescaper.Replace(url.QueryEscape(value))
}

func hostname(server string) string {
	u, err := url.Parse(server)
	if err != nil {
		return ""
	}

	return u.Hostname()
}

// URL returns the page the browser has to open.
func (v Variables) URL() string {
	return v[constants.VariableURL]
}

// Replace substitutes every known ${NAME} in s. Unknown names are kept as they are.
func (v Variables) Replace(s string) string {
	return variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		if value, ok := v[name]; ok {
			return value
		}

		return match
	})
}

// ReplaceAll applies Replace to every element.
func (v Variables) ReplaceAll(values []string) []string {
	result := make([]string, len(values))
	for i, value := range values {
		result[i] = v.Replace(value)
	}

	return result
}
