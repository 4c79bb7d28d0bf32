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

	"github.com/united-manufacturing-hub/browserfleet/pkg/communicator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/factory"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
)

// browserWorkload is the pending work of one browser over all campaigns.
type browserWorkload struct {
	name      string
	factories []*factory.Factory
	pending   int
}

// workload sums the tasks not yet running per browser, skipping browsers the
// configuration has no factory for. Browsers with the most pending tasks come
// first; ties keep the order in which the server listed them.
func (c *Coordinator) workload(status *communicator.Status) []*browserWorkload {
	var ordered []*browserWorkload

	byName := make(map[string]*browserWorkload)

	for _, campaign := range status.Campaigns {
		for _, browser := range campaign.Browsers {
			pending := browser.RemainingTasks - browser.RunningTasks
			if pending <= 0 {
				continue
			}

			b, ok := byName[browser.Name]
			if !ok {
				factories := c.factories[browser.Name]
				if len(factories) == 0 {
					continue
				}

				b = &browserWorkload{name: browser.Name, factories: factories}
				byName[browser.Name] = b
				ordered = append(ordered, b)
			}

			b.pending += pending
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].pending > ordered[j].pending
	})

	return ordered
}

// browserCapacity is how many more workers b deserves: one per
// minTasksPerBrowser pending tasks and at least one, minus the live ones.
func (c *Coordinator) browserCapacity(b *browserWorkload) int {
	wanted := b.pending / c.minTasksPerBrowser
	if wanted < 1 {
		wanted = 1
	}

	return wanted - c.instanceCounts[constants.TagPrefixBrowser+b.name]
}

// factoryCapacity is how many more workers f may create without exceeding
// its own limit or the limit of any of its tags.
func (c *Coordinator) factoryCapacity(f *factory.Factory) int {
	capacity := f.EffectiveMaxInstances() - c.instanceCounts[f.Tag]

	for _, tag := range f.Tags {
		limit, ok := c.maxInstances[tag]
		if !ok {
			continue
		}

		if left := limit - c.instanceCounts[tag]; left < capacity {
			capacity = left
		}
	}

	return capacity
}

// checkAndStartWorkers creates the workers the current status calls for and
// settles on Running or Idle.
func (c *Coordinator) checkAndStartWorkers() {
	if c.status != nil {
		for _, b := range c.workload(c.status) {
			capacity := c.browserCapacity(b)

			for _, f := range b.factories {
				if capacity <= 0 {
					break
				}

				instances := min(capacity, c.factoryCapacity(f))
				if instances <= 0 {
					continue
				}

				c.logger.Infof("%d instance(s) of %s will be started with %s to execute %d remaining task(s)", instances, b.name, f.Name, b.pending)
				c.createWorkers(f, instances)
				capacity -= instances
			}
		}
	}

	if c.instanceCounts[constants.TagAny] > 0 {
		c.machine.SetState(StateRunning)
	} else {
		c.machine.SetState(StateIdle)
	}
}

// createWorkers counts n workers of f against its tags right away, so later
// decisions see them, and asks the server for their ids.
func (c *Coordinator) createWorkers(f *factory.Factory, n int) {
	c.updateCounts(f, n)
	metrics.AddWorkersStarted(f.BrowserName, n)

	for i := 0; i < n; i++ {
		w := worker.New(f, worker.Config{
			Clock:     c.cfg.Clock,
			Scheduler: c.cfg.Scheduler,
			Logger:    c.cfg.WorkerLogger,
			OnExit:    c.onWorkerExited,
			Server:    c.cfg.Settings.Server,
		})

		c.awaitingID = append(c.awaitingID, w)
		c.send(communicator.WorkerCreateRequest())
	}
}

func (c *Coordinator) updateCounts(f *factory.Factory, delta int) {
	for _, tag := range f.Tags {
		c.instanceCounts[tag] += delta
		metrics.SetInstanceCount(tag, c.instanceCounts[tag])
	}
}
