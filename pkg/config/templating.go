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

package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// referencePattern matches <%= path %> where path is a dotted property path,
// e.g. <%= env.HOME %>. Calls such as <%= foo() %> do not match.
var referencePattern = regexp.MustCompile(`(?i)<%=\s*([a-z0-9_$]+(?:\.[a-z0-9_$]+)*)\s*%>`)

// Preprocess returns a copy of raw in which every <%= path %> reference inside
// a string value is replaced by the value found at path in raw. Referenced
// strings are resolved recursively. A reference to a missing path, or one that
// is part of a cycle, is left as it is.
func Preprocess(raw map[string]any) map[string]any {
	r := &resolver{root: raw, inProgress: map[string]bool{}}

	out, _ := r.walk(raw).(map[string]any)

	return out
}

type resolver struct {
	root       map[string]any
	inProgress map[string]bool
}

func (r *resolver) walk(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = r.walk(item)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.walk(item)
		}

		return out
	case string:
		return r.replace(v)
	default:
		return v
	}
}

func (r *resolver) replace(s string) string {
	return referencePattern.ReplaceAllStringFunc(s, func(match string) string {
		path := referencePattern.FindStringSubmatch(match)[1]

		value, ok := r.get(path)
		if !ok {
			return match
		}

		return format(value)
	})
}

func (r *resolver) get(path string) (any, bool) {
	if r.inProgress[path] {
		return nil, false
	}

	var current any = r.root

	for _, part := range strings.Split(path, ".") {
		switch container := current.(type) {
		case map[string]any:
			next, ok := container[part]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(container) {
				return nil, false
			}

			current = container[index]
		default:
			return nil, false
		}
	}

	s, isString := current.(string)
	if !isString {
		return current, true
	}

	r.inProgress[path] = true
	defer delete(r.inProgress, path)

	return r.replace(s), true
}

func format(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
