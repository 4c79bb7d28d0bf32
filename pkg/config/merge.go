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
	"github.com/tiendc/go-deepcopy"
)

// Merge copies into dst every key of src that dst does not have yet and
// returns dst. Values already in dst win. When both sides hold a map for the
// same key, the maps are merged recursively. Values taken from src are copied,
// so later changes to dst never reach src.
func Merge(dst, src map[string]any) map[string]any {
	for key, srcValue := range src {
		dstValue, exists := dst[key]
		if !exists {
			dst[key] = copyValue(srcValue)

			continue
		}

		dstMap, dstIsMap := dstValue.(map[string]any)
		srcMap, srcIsMap := srcValue.(map[string]any)

		if dstIsMap && srcIsMap {
			Merge(dstMap, srcMap)
		}
	}

	return dst
}

func copyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Merge(map[string]any{}, v)
	case []any:
		var out []any
		if err := deepcopy.Copy(&out, v); err != nil {
			return v
		}

		return out
	default:
		return v
	}
}

// Clone returns a deep copy of m.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	return Merge(map[string]any{}, m)
}
