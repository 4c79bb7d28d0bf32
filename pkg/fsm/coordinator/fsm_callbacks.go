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
	"context"
	"sort"

	"github.com/looplab/fsm"

	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
)

// registerCallbacks wires the entry actions of every state.
func (c *Coordinator) registerCallbacks() {
	c.machine.AddCallback("enter_"+StateConnecting, func(ctx context.Context, e *fsm.Event) {
		c.connect()
	})

	c.machine.AddCallback("enter_"+StateIdle, func(ctx context.Context, e *fsm.Event) {
		c.logger.Infof("Nothing left to do, disconnecting")
		c.client.Disconnect()
	})

	c.machine.AddCallback("enter_"+StateDisconnected, func(ctx context.Context, e *fsm.Event) {
		c.onDisconnected()
	})

	c.machine.AddCallback("enter_"+StateExiting, func(ctx context.Context, e *fsm.Event) {
		c.checkRunningOnExit()
	})

	c.machine.AddCallback("enter_"+StateExited, func(ctx context.Context, e *fsm.Event) {
		c.logger.Infof("Exiting.")
		c.closeDone()
	})
}

func (c *Coordinator) connect() {
	for tag := range c.instanceCounts {
		delete(c.instanceCounts, tag)
	}

	c.awaitingID = nil
	c.status = nil

	c.logger.Infof("Connecting to %s", c.cfg.Settings.Server)
	c.client.Connect(c.ctx, &handler{c: c})
}

// onDisconnected stops every worker. Workers without a launcher exit
// synchronously and unregister themselves, so both collections are copied.
func (c *Coordinator) onDisconnected() {
	c.connected = false
	c.logger.Infof("Disconnected from %s", c.cfg.Settings.Server)

	awaiting := append([]*worker.Worker(nil), c.awaitingID...)
	for _, w := range awaiting {
		w.Stop()
	}

	ids := make([]string, 0, len(c.workersByID))
	for id := range c.workersByID {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		if w, ok := c.workersByID[id]; ok {
			w.Stop()
		}
	}

	c.machine.SetState(StateExiting)
}

func (c *Coordinator) checkRunningOnExit() {
	if c.instanceCounts[constants.TagAny] == 0 {
		c.machine.SetState(StateExited)
	}
}
