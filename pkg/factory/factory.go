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

// Package factory turns the launcher configuration of a browser into worker
// factories: bounded, tagged sources of workers sharing one resolved template.
package factory

import (
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
)

// Timeouts are the per-state timeouts of the workers of a factory.
type Timeouts struct {
	Connecting   time.Duration
	Idle         time.Duration
	Disconnected time.Duration
	Exiting      time.Duration
}

// Factory creates the workers of one browser with one launcher template.
// It is owned by the coordinator and must only be used from its event loop.
type Factory struct {
	registry *launcher.Registry

	// LauncherConfig holds the launcher-specific keys of the resolved template.
	LauncherConfig map[string]any

	// BrowserName is the browser as reported by the server.
	BrowserName string
	// Name is the template the factory was built from.
	Name string
	// Tag is unique to this factory.
	Tag string
	// Kind is the builtin launcher at the root of the template.
	Kind string
	// URLExtraParameters is appended to the query of the worker URL.
	URLExtraParameters string

	// Tags are all tags a worker of this factory counts against.
	Tags []string

	Timeouts Timeouts

	MaxInstances               int
	ConnectionRetries          int
	RemainingConnectionRetries int

	// FatalError is set once a failure occurred that would repeat for every worker.
	FatalError bool
}

// IsDisabled reports whether the factory must not create workers anymore.
func (f *Factory) IsDisabled() bool {
	return f.FatalError || f.RemainingConnectionRetries <= 0
}

// EffectiveMaxInstances is MaxInstances, or 0 when disabled.
func (f *Factory) EffectiveMaxInstances() int {
	if f.IsDisabled() {
		return 0
	}

	return f.MaxInstances
}

// Disable marks the factory as permanently failed. It returns false if the
// factory had already been disabled that way.
func (f *Factory) Disable() bool {
	if f.FatalError {
		return false
	}

	f.FatalError = true
	f.publish()

	return true
}

// ConnectionFailed charges one failed attempt to the retry budget and
// returns the remaining budget.
func (f *Factory) ConnectionFailed() int {
	f.RemainingConnectionRetries--
	f.publish()

	return f.RemainingConnectionRetries
}

// ConnectionSucceeded restores the retry budget.
func (f *Factory) ConnectionSucceeded() {
	f.RemainingConnectionRetries = f.ConnectionRetries
	f.publish()
}

// NewLauncher creates a launcher of the factory's kind.
func (f *Factory) NewLauncher() (launcher.Launcher, error) {
	return f.registry.New(f.Kind)
}

// LauncherConfigCopy returns a copy of LauncherConfig a single worker may keep.
func (f *Factory) LauncherConfigCopy() map[string]any {
	cfg := map[string]any{}
	if len(f.LauncherConfig) == 0 {
		return cfg
	}

	if err := deepcopy.Copy(&cfg, f.LauncherConfig); err != nil {
		return f.LauncherConfig
	}

	return cfg
}

func (f *Factory) publish() {
	metrics.SetFactoryDisabled(f.BrowserName, f.Name, f.IsDisabled())
}
