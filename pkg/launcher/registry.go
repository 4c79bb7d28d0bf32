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
	"fmt"
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// Constructor creates a launcher of one kind.
type Constructor func() (Launcher, error)

// Registry maps launcher kinds, such as "$process", to constructors.
// Kinds are the root templates every configured template inherits from.
type Registry struct {
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor of kind.
func (r *Registry) Register(kind string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors[kind] = constructor
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.constructors[kind]

	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.constructors))
	for kind := range r.constructors {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	return kinds
}

// New creates a launcher of kind.
func (r *Registry) New(kind string) (Launcher, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", standarderrors.ErrUnknownLauncher, kind)
	}

	return constructor()
}
