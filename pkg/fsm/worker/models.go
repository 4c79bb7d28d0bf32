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

// Package worker implements the state machine of one browser session: it
// starts a launcher once the server granted an id, follows the connection
// state reported by the server and tears the browser down again.
package worker

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	internalfsm "github.com/united-manufacturing-hub/browserfleet/internal/fsm"
	"github.com/united-manufacturing-hub/browserfleet/pkg/factory"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
)

const (
	// StateInit is the state of a worker waiting for its id.
	StateInit = "Init"
	// StateConnecting is entered once the id is known; the launcher is started.
	StateConnecting = "Connecting"
	// StateConnected means the browser is connected to the server, possibly busy.
	StateConnected = "Connected"
	// StateDisconnected means the browser lost its connection to the server.
	StateDisconnected = "Disconnected"
	// StateIdle means the browser is connected but has nothing to do.
	StateIdle = "Idle"
	// StateExiting is entered when the launcher has been asked to stop.
	StateExiting = "Exiting"
	// StateExited is terminal.
	StateExited = "Exited"
)

var transitions = map[string][]string{
	StateInit:         {StateConnecting, StateExited},
	StateConnecting:   {StateConnected, StateExiting, StateExited},
	StateConnected:    {StateConnected, StateDisconnected, StateIdle, StateExiting, StateExited},
	StateDisconnected: {StateConnected, StateExiting, StateExited},
	StateIdle:         {StateConnected, StateDisconnected, StateExiting, StateExited},
	StateExiting:      {StateExited},
}

// Config holds what a worker needs besides its factory.
type Config struct {
	// Clock drives the state timeouts.
	Clock clock.Clock
	// Scheduler runs timeouts and launcher events on the coordinator loop.
	Scheduler internalfsm.Scheduler
	// Logger receives the worker's log lines. Defaults to the worker component logger.
	Logger *zap.SugaredLogger
	// OnExit is called once, on the loop, when the worker reaches StateExited.
	OnExit func(w *Worker)
	// Server is the URL of the server the browser connects to.
	Server string
}

// Worker is one browser session. All methods must be called from the loop
// goroutine that Config.Scheduler posts to.
type Worker struct {
	machine *internalfsm.Machine
	factory *factory.Factory

	// launcher is set while a browser is being provisioned or running
	launcher launcher.Launcher
	events   *launcherEvents

	logger *zap.SugaredLogger
	cfg    Config

	id     string
	exited bool
}

// ID returns the id granted by the server, or "" before the grant.
func (w *Worker) ID() string {
	return w.id
}

// State returns the current state.
func (w *Worker) State() string {
	return w.machine.Current()
}

// Factory returns the factory the worker was created by.
func (w *Worker) Factory() *factory.Factory {
	return w.factory
}

// IsExited reports whether the worker reached its terminal state.
func (w *Worker) IsExited() bool {
	return w.machine.Is(StateExited)
}
