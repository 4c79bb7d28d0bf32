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
	"errors"
	"fmt"
	"time"

	internalfsm "github.com/united-manufacturing-hub/browserfleet/internal/fsm"
	"github.com/united-manufacturing-hub/browserfleet/pkg/communicator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/factory"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// New creates a coordinator in StateInit.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logger.For(logger.ComponentCoordinator)
	}

	if cfg.WorkerLogger == nil {
		cfg.WorkerLogger = logger.For(logger.ComponentWorker)
	}

	c := &Coordinator{
		cfg:            cfg,
		client:         cfg.Client,
		logger:         cfg.Logger,
		ctx:            context.Background(),
		instanceCounts: make(map[string]int),
		workersByID:    make(map[string]*worker.Worker),
		done:           make(chan struct{}),
	}

	c.machine = internalfsm.NewMachine(internalfsm.MachineConfig{
		ID:           "coordinator",
		Component:    metrics.ComponentCoordinator,
		InitialState: StateInit,
		Transitions:  transitions,
		Timeouts: map[string]time.Duration{
			StateWaitingStatus: constants.WaitingStatusTimeout,
		},
		OnStateTimeout: c.onStateTimeout,
		Clock:          cfg.Clock,
		Scheduler:      cfg.Scheduler,
	}, cfg.Logger)

	c.registerCallbacks()

	return c
}

// Start builds the worker factories and connects to the server. Configuration
// errors are returned before any connection attempt.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.machine.Is(StateInit) {
		return fmt.Errorf("coordinator already started, state is %s", c.State())
	}

	select {
	case <-c.done:
		return errors.New("coordinator was stopped before it started")
	default:
	}

	settings := c.cfg.Settings

	factories, err := factory.Build(settings, c.cfg.Registry)
	if err != nil {
		return err
	}

	if c.client == nil {
		client, err := communicator.NewWebsocketClient(settings.Server, settings.SocketPath, settings.ConnectAttempts, logger.For(logger.ComponentCommunicator))
		if err != nil {
			return fmt.Errorf("%w: %w", standarderrors.ErrConfigInvalid, err)
		}

		c.client = client
	}

	c.factories = factories
	c.maxInstances = make(map[string]int, len(settings.MaxInstances))
	for tag, limit := range settings.MaxInstances {
		c.maxInstances[tag] = limit
	}

	c.minTasksPerBrowser = settings.MinTasksPerBrowser
	if c.minTasksPerBrowser <= 0 {
		c.minTasksPerBrowser = constants.DefaultMinTasksPerBrowser
	}

	c.ctx = ctx
	c.machine.SetState(StateConnecting)

	return nil
}

// Stop drops the connection. Running workers are stopped and Done is closed
// once all of them exited. A coordinator that was never started is done at once.
func (c *Coordinator) Stop() {
	if c.machine.Is(StateInit) {
		c.closeDone()

		return
	}

	c.client.Disconnect()
}

func (c *Coordinator) closeDone() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Coordinator) onStateTimeout(state string) {
	if state != StateWaitingStatus || !c.machine.Is(StateWaitingStatus) {
		return
	}

	c.logger.Errorf("Timeout while waiting for the status of the server.")
	c.client.Disconnect()
}

// askStatus requests the workload unless a request is already outstanding.
func (c *Coordinator) askStatus() {
	if !c.connected || c.machine.Is(StateWaitingStatus) || !c.machine.CanTransition(StateWaitingStatus) {
		return
	}

	c.machine.SetState(StateWaitingStatus)
	c.logger.Debugf("Requesting status")
	c.send(communicator.StatusRequest())
}

func (c *Coordinator) send(msg communicator.Envelope) {
	if err := c.client.Send(msg); err != nil {
		c.logger.Warnf("Could not send %s: %s", msg.Type, err)
	}
}
