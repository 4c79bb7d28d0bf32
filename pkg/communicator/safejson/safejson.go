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

// Package safejson encodes protocol frames with goccy/go-json and falls back
// to encoding/json if goccy panics on an unusual payload.
package safejson

import (
	jsonstd "encoding/json"
	"errors"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
)

// Unmarshal decodes data into v, which must be a non-nil pointer.
func Unmarshal(data []byte, v any) (err error) {
	ptr := reflect.ValueOf(v)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return errors.New("safejson: target must be a non-nil pointer")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.For(logger.ComponentCommunicator).Warnf("go-json panicked while decoding %d bytes, retrying with encoding/json: %v", len(data), r)

			err = jsonstd.Unmarshal(data, v)
		}
	}()

	return json.Unmarshal(data, v)
}

// Marshal encodes v.
func Marshal(v any) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.For(logger.ComponentCommunicator).Warnf("go-json panicked while encoding %T, retrying with encoding/json: %v", v, r)

			encoded, err = jsonstd.Marshal(v)
		}
	}()

	return json.Marshal(v)
}
