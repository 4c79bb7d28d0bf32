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

// Package config loads the coordinator configuration: it merges the files
// given on the command line, resolves <%= path %> references and decodes
// the result into Config.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// Config is the decoded configuration of the coordinator.
type Config struct {
	// Browsers maps a browser name, as reported by the server, to the
	// launchers able to run it. It must be present, but may be empty.
	Browsers map[string]BrowserLaunchers `yaml:"browsers"`

	// Launchers holds the named launcher templates.
	Launchers map[string]map[string]any `yaml:"launchers,omitempty"`

	// MaxInstances caps the number of live workers per tag.
	MaxInstances map[string]int `yaml:"maxInstances,omitempty"`

	Server     string `yaml:"server"`
	SocketPath string `yaml:"socketPath,omitempty"`

	MinTasksPerBrowser int `yaml:"minTasksPerBrowser,omitempty"`
	ConnectAttempts    int `yaml:"connectAttempts,omitempty"`
}

// BrowserLaunchers is the list of launchers of one browser. In a file it may be
// written as a single entry or as a list.
type BrowserLaunchers []LauncherRef

// UnmarshalYAML accepts a single entry as well as a list of entries.
func (b *BrowserLaunchers) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var refs []LauncherRef
		if err := value.Decode(&refs); err != nil {
			return err
		}

		*b = refs

		return nil
	}

	var ref LauncherRef
	if err := value.Decode(&ref); err != nil {
		return err
	}

	*b = BrowserLaunchers{ref}

	return nil
}

// LauncherRef either names a launcher template or defines one inline.
type LauncherRef struct {
	Inline map[string]any
	Name   string
}

// UnmarshalYAML decodes a template name or an inline template.
func (r *LauncherRef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&r.Name)
	case yaml.MappingNode:
		return value.Decode(&r.Inline)
	default:
		return fmt.Errorf("line %d: a launcher must be a template name or a mapping", value.Line)
	}
}

// MarshalYAML writes the reference back in the form it was read.
func (r LauncherRef) MarshalYAML() (interface{}, error) {
	if r.Inline != nil {
		return r.Inline, nil
	}

	return r.Name, nil
}

// IsInline reports whether the reference defines its template inline.
func (r LauncherRef) IsInline() bool {
	return r.Inline != nil
}

// Decode converts a merged and preprocessed configuration map into Config,
// applies defaults and validates it.
func Decode(raw map[string]any) (Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", standarderrors.ErrConfigInvalid, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", standarderrors.ErrConfigInvalid, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills in every unset value.
func (c *Config) ApplyDefaults() {
	if c.Server == "" {
		c.Server = constants.DefaultServer
	}

	if c.SocketPath == "" {
		c.SocketPath = constants.DefaultSocketPath
	}

	if c.MinTasksPerBrowser <= 0 {
		c.MinTasksPerBrowser = constants.DefaultMinTasksPerBrowser
	}

	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = constants.DefaultConnectAttempts
	}

	if c.MaxInstances == nil {
		c.MaxInstances = map[string]int{}
	}
}

// Validate checks the parts of the configuration that do not depend on
// template resolution.
func (c Config) Validate() error {
	if c.Browsers == nil {
		return standarderrors.ErrMissingBrowsers
	}

	for browser, refs := range c.Browsers {
		for i, ref := range refs {
			if !ref.IsInline() && ref.Name == "" {
				return fmt.Errorf("%w: launcher %d of browser %q is empty", standarderrors.ErrConfigInvalid, i, browser)
			}
		}
	}

	return nil
}
