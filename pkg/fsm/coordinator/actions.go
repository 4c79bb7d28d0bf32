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
	"github.com/united-manufacturing-hub/browserfleet/pkg/communicator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
	"github.com/united-manufacturing-hub/browserfleet/pkg/sentry"
)

// handler moves the events of the connection onto the scheduler.
type handler struct {
	c *Coordinator
}

func (h *handler) post(fn func()) {
	h.c.cfg.Scheduler.Post(fn)
}

func (h *handler) OnConnect() {
	h.post(h.c.onConnect)
}

func (h *handler) OnConnectError(err error) {
	h.post(func() { h.c.onConnectError(err) })
}

func (h *handler) OnStatus(status communicator.Status) {
	h.post(func() { h.c.onStatus(status) })
}

func (h *handler) OnWorkerCreated(id string) {
	h.post(func() { h.c.onWorkerCreated(id) })
}

func (h *handler) OnWorkerConnected(info communicator.WorkerConnected) {
	h.post(func() {
		h.c.relay(communicator.TypeWorkerConnected, info.ID, func(w *worker.Worker) {
			w.OnConnected(info.DisplayName, info.BrowserNames())
		})
	})
}

func (h *handler) OnWorkerBusy(id string) {
	h.post(func() { h.c.relay(communicator.TypeWorkerBusy, id, (*worker.Worker).OnBusy) })
}

func (h *handler) OnWorkerIdle(id string) {
	h.post(func() { h.c.relay(communicator.TypeWorkerIdle, id, (*worker.Worker).OnIdle) })
}

func (h *handler) OnWorkerDisconnected(id string) {
	h.post(func() { h.c.relay(communicator.TypeWorkerDisconnected, id, (*worker.Worker).OnDisconnected) })
}

func (h *handler) OnDisconnect() {
	h.post(h.c.onServerDisconnect)
}

func (c *Coordinator) onConnect() {
	if !c.machine.Is(StateConnecting) {
		return
	}

	c.logger.Infof("Connected to %s", c.cfg.Settings.Server)
	c.connected = true
	c.send(communicator.HelloMessage())
	c.askStatus()
}

func (c *Coordinator) onConnectError(err error) {
	c.logger.Errorf("Could not connect to %s: %s", c.cfg.Settings.Server, err)

	if c.machine.CanTransition(StateDisconnected) {
		c.machine.SetState(StateDisconnected)
	}
}

// onServerDisconnect handles the end of the connection, whoever closed it.
func (c *Coordinator) onServerDisconnect() {
	if !c.machine.CanTransition(StateDisconnected) {
		return
	}

	c.machine.SetState(StateDisconnected)
}

func (c *Coordinator) onStatus(status communicator.Status) {
	if !c.machine.Is(StateWaitingStatus) && !c.machine.Is(StateRunning) {
		c.logger.Debugf("Ignoring status in state %s", c.State())

		return
	}

	c.logger.Debugf("Received status")
	c.status = &status
	c.checkAndStartWorkers()
}

// onWorkerCreated binds id to the oldest worker waiting for one. Ids nobody
// waits for are released again.
func (c *Coordinator) onWorkerCreated(id string) {
	c.logger.Debugf("Received %s %s", communicator.TypeWorkerCreated, id)

	if !c.connected {
		return
	}

	if len(c.awaitingID) == 0 {
		c.logger.Debugf("Sending %s %s", communicator.TypeWorkerDelete, id)
		c.send(communicator.WorkerDeleteRequest(id))

		return
	}

	w := c.awaitingID[0]
	c.awaitingID = c.awaitingID[1:]
	c.workersByID[id] = w
	w.OnCreated(id)
}

// relay forwards a worker event from the server to the worker it names.
func (c *Coordinator) relay(msgType string, id string, fn func(w *worker.Worker)) {
	c.logger.Debugf("%s %s", msgType, id)

	if !c.connected {
		return
	}

	w, ok := c.workersByID[id]
	if !ok {
		metrics.IncErrorCount(metrics.ComponentCoordinator)
		sentry.ReportIssuef(sentry.IssueTypeError, c.logger, "%s %s: ASSERT FAILED, worker not found!", msgType, id)

		return
	}

	fn(w)
}

// onWorkerExited unregisters w, releases its id and frees its share of the limits.
func (c *Coordinator) onWorkerExited(w *worker.Worker) {
	found := false

	if id := w.ID(); id != "" {
		if c.workersByID[id] == w {
			found = true
			delete(c.workersByID, id)

			if c.connected {
				c.logger.Debugf("Sending %s %s", communicator.TypeWorkerDelete, id)
				c.send(communicator.WorkerDeleteRequest(id))
			}
		}
	} else {
		for i, awaiting := range c.awaitingID {
			if awaiting == w {
				found = true
				c.awaitingID = append(c.awaitingID[:i:i], c.awaitingID[i+1:]...)

				break
			}
		}
	}

	if !found {
		metrics.IncErrorCount(metrics.ComponentCoordinator)
		sentry.ReportFSMErrorf(c.logger, w.ID(), metrics.ComponentWorker, "onWorkerExited",
			"onWorkerExited %s: ASSERT FAILED, worker not found!", w.ID())

		return
	}

	c.updateCounts(w.Factory(), -1)

	if c.connected {
		c.askStatus()
	} else if c.machine.Is(StateExiting) {
		c.checkRunningOnExit()
	}
}
