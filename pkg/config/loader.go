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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/env"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// envKey exposes the process environment to <%= %> references while the
// configuration is preprocessed.
const envKey = "env"

// ReadFile parses one configuration file. Files ending in .yml or .yaml are
// parsed as YAML, everything else as JSON.
func ReadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out map[string]any

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &out)
	default:
		err = json.Unmarshal(data, &out)
	}

	if err != nil {
		return nil, err
	}

	if out == nil {
		out = map[string]any{}
	}

	return out, nil
}

// Load reads paths and merges them on top of base, which holds the values
// given on the command line. Command line values win over files, and a later
// file wins over an earlier one. Every unreadable file is logged before Load
// fails. The merged map is preprocessed and decoded.
func Load(paths []string, base map[string]any, log *zap.SugaredLogger) (Config, error) {
	if log == nil {
		log = logger.For(logger.ComponentConfig)
	}

	merged := Clone(base)
	if merged == nil {
		merged = map[string]any{}
	}

	var readErrs []error

	for i := len(paths) - 1; i >= 0; i-- {
		fileConfig, err := ReadFile(paths[i])
		if err != nil {
			log.Errorf("While reading %s: %s", paths[i], err)
			readErrs = append(readErrs, fmt.Errorf("%s: %w", paths[i], err))

			continue
		}

		Merge(merged, fileConfig)
	}

	if server, _ := merged["server"].(string); server == "" {
		merged["server"] = constants.DefaultServer
	}

	if len(readErrs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", standarderrors.ErrConfigInvalid, errors.Join(readErrs...))
	}

	merged[envKey] = env.Environ()
	processed := Preprocess(merged)
	delete(processed, envKey)

	cfg, err := Decode(processed)
	if err != nil {
		return Config{}, err
	}

	log.Debugf("Loaded configuration from %d file(s), server %s", len(paths), cfg.Server)

	return cfg, nil
}
