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

package coordinator

import (
	"sort"

	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
)

// Snapshot is a point-in-time view of the coordinator for diagnostics.
type Snapshot struct {
	InstanceCounts map[string]int    `json:"instanceCounts"`
	State          string            `json:"state"`
	Server         string            `json:"server"`
	Workers        []WorkerSnapshot  `json:"workers"`
	Factories      []FactorySnapshot `json:"factories"`
	AwaitingID     int               `json:"awaitingId"`
	Connected      bool              `json:"connected"`
}

// WorkerSnapshot describes one worker with an id.
type WorkerSnapshot struct {
	ID      string `json:"id"`
	Browser string `json:"browser"`
	Factory string `json:"factory"`
	State   string `json:"state"`
}

// FactorySnapshot describes one factory.
type FactorySnapshot struct {
	Browser                    string `json:"browser"`
	Name                       string `json:"name"`
	Kind                       string `json:"kind"`
	MaxInstances               int    `json:"maxInstances"`
	RemainingConnectionRetries int    `json:"remainingConnectionRetries"`
	Disabled                   bool   `json:"disabled"`
}

// Snapshot copies the current state. It must be called on the scheduler goroutine.
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		InstanceCounts: make(map[string]int, len(c.instanceCounts)),
		State:          c.State(),
		Server:         c.cfg.Settings.Server,
		AwaitingID:     len(c.awaitingID),
		Connected:      c.connected,
	}

	for tag, n := range c.instanceCounts {
		s.InstanceCounts[tag] = n
	}

	for id, w := range c.workersByID {
		s.Workers = append(s.Workers, workerSnapshot(id, w))
	}

	sort.Slice(s.Workers, func(i, j int) bool { return s.Workers[i].ID < s.Workers[j].ID })

	browsers := make([]string, 0, len(c.factories))
	for browser := range c.factories {
		browsers = append(browsers, browser)
	}

	sort.Strings(browsers)

	for _, browser := range browsers {
		for _, f := range c.factories[browser] {
			s.Factories = append(s.Factories, FactorySnapshot{
				Browser:                    f.BrowserName,
				Name:                       f.Name,
				Kind:                       f.Kind,
				MaxInstances:               f.MaxInstances,
				RemainingConnectionRetries: f.RemainingConnectionRetries,
				Disabled:                   f.IsDisabled(),
			})
		}
	}

	return s
}

func workerSnapshot(id string, w *worker.Worker) WorkerSnapshot {
	return WorkerSnapshot{
		ID:      id,
		Browser: w.Factory().BrowserName,
		Factory: w.Factory().Name,
		State:   w.State(),
	}
}
