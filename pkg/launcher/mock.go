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
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// MockKind is the kind under which tests usually register a MockProvider.
const MockKind = "$mock"

// Mock is a launcher that records what it was asked to do.
// Tests drive its lifecycle through the Events it was started with.
type Mock struct {
	provider *MockProvider

	mu        sync.Mutex
	params    StartParams
	started   bool
	stopCalls int
}

// Start records params. It fails with the provider's StartErr, if set.
func (m *Mock) Start(params StartParams) error {
	m.provider.mu.Lock()
	startErr := m.provider.StartErr
	m.provider.mu.Unlock()

	if startErr != nil {
		return startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.params = params
	m.started = true

	return nil
}

// Stop records the call. When the provider has ExitOnStop set, Exit is emitted.
func (m *Mock) Stop() error {
	m.provider.mu.Lock()
	stopErr := m.provider.StopErr
	exitOnStop := m.provider.ExitOnStop
	m.provider.mu.Unlock()

	m.mu.Lock()
	m.stopCalls++
	events := m.params.Events
	m.mu.Unlock()

	if stopErr != nil {
		return stopErr
	}

	if exitOnStop && events != nil {
		events.Exit()
	}

	return nil
}

// Started reports whether Start succeeded.
func (m *Mock) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.started
}

// StopCalls returns how many times Stop was called.
func (m *Mock) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopCalls
}

// URL returns the URL the mock was asked to open.
func (m *Mock) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.params.Variables.URL()
}

// Config returns a copy of the configuration the mock was started with.
func (m *Mock) Config() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg map[string]any
	_ = deepcopy.Copy(&cfg, m.params.Config)

	return cfg
}

// Variables returns the variables the mock was started with.
func (m *Mock) Variables() Variables {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.params.Variables
}

// Events returns the sink the mock was started with.
func (m *Mock) Events() Events {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.params.Events
}

// MockProvider creates Mock launchers and keeps every instance it created.
type MockProvider struct {
	// StartErr makes Start fail.
	StartErr error
	// StopErr makes Stop fail.
	StopErr error
	// ConstructErr makes the constructor fail.
	ConstructErr error
	// ExitOnStop emits Exit from Stop, as a well-behaved launcher eventually does.
	ExitOnStop bool

	mu        sync.Mutex
	instances []*Mock
}

// NewMockProvider returns a provider whose mocks exit when stopped.
func NewMockProvider() *MockProvider {
	return &MockProvider{ExitOnStop: true}
}

// New is a Constructor.
func (p *MockProvider) New() (Launcher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ConstructErr != nil {
		return nil, p.ConstructErr
	}

	m := &Mock{provider: p}
	p.instances = append(p.instances, m)

	return m, nil
}

// Set changes the provider settings under its lock.
func (p *MockProvider) Set(fn func(p *MockProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(p)
}

// Instances returns all mocks created so far.
func (p *MockProvider) Instances() []*Mock {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*Mock(nil), p.instances...)
}

// Last returns the most recently created mock, or nil.
func (p *MockProvider) Last() *Mock {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.instances) == 0 {
		return nil
	}

	return p.instances[len(p.instances)-1]
}
