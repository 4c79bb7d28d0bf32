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

// Package coordinator keeps one connection to the test server and starts as
// many workers as the pending work and the configured limits allow.
package coordinator

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	internalfsm "github.com/united-manufacturing-hub/browserfleet/internal/fsm"
	"github.com/united-manufacturing-hub/browserfleet/pkg/communicator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/config"
	"github.com/united-manufacturing-hub/browserfleet/pkg/factory"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
)

const (
	StateInit          = "Init"
	StateConnecting    = "Connecting"
	StateWaitingStatus = "WaitingStatus"
	StateRunning       = "Running"
	StateIdle          = "Idle"
	StateDisconnected  = "Disconnected"
	StateExiting       = "Exiting"
	StateExited        = "Exited"
)

var transitions = map[string][]string{
	StateInit:          {StateConnecting},
	StateConnecting:    {StateWaitingStatus, StateDisconnected},
	StateWaitingStatus: {StateRunning, StateIdle, StateDisconnected},
	StateRunning:       {StateRunning, StateWaitingStatus, StateIdle, StateDisconnected},
	StateIdle:          {StateDisconnected},
	StateDisconnected:  {StateExiting},
	StateExiting:       {StateExited},
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	// Settings is the decoded configuration.
	Settings config.Config
	// Registry resolves launcher kinds.
	Registry *launcher.Registry
	// Client is the connection to the server. Defaults to a websocket client
	// for Settings.Server.
	Client communicator.Client

	Clock clock.Clock
	// Scheduler is the event loop every callback runs on.
	Scheduler internalfsm.Scheduler

	// Logger defaults to the coordinator component logger.
	Logger *zap.SugaredLogger
	// WorkerLogger defaults to the worker component logger.
	WorkerLogger *zap.SugaredLogger
}

// Coordinator is the control loop of the fleet. All methods except Done must
// be called on the scheduler goroutine.
type Coordinator struct {
	machine *internalfsm.Machine
	cfg     Config
	client  communicator.Client
	logger  *zap.SugaredLogger
	ctx     context.Context

	factories          map[string][]*factory.Factory
	maxInstances       map[string]int
	minTasksPerBrowser int

	// instanceCounts holds the number of live workers per tag
	instanceCounts map[string]int
	// awaitingID are the workers created but not granted an id yet, oldest first
	awaitingID  []*worker.Worker
	workersByID map[string]*worker.Worker

	status    *communicator.Status
	connected bool

	done chan struct{}
}

// Done is closed once the coordinator reached StateExited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// State returns the current state.
func (c *Coordinator) State() string {
	return c.machine.Current()
}

// InstanceCount returns the number of live workers counted against tag.
func (c *Coordinator) InstanceCount(tag string) int {
	return c.instanceCounts[tag]
}

// Factories returns the factories of browser, in configuration order.
func (c *Coordinator) Factories(browser string) []*factory.Factory {
	return c.factories[browser]
}
