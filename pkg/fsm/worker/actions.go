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

package worker

import (
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
)

// OnCreated binds the id granted by the server and starts the launcher.
func (w *Worker) OnCreated(id string) {
	w.id = id
	w.machine.SetState(StateConnecting)
}

// OnConnected handles the browser connecting to the server. browserNames are
// the campaign browsers the server matched the browser with; the factory is
// disabled if its own browser is not among them.
func (w *Worker) OnConnected(displayName string, browserNames []string) {
	w.logf(zapcore.InfoLevel, "The browser is connected")
	w.checkCampaignBrowsers(displayName, browserNames)
	w.setStateIfAllowed(StateConnected)
}

// OnBusy handles the browser starting a task.
func (w *Worker) OnBusy() {
	w.logf(zapcore.InfoLevel, "The browser is busy")
	w.setStateIfAllowed(StateConnected)
}

// OnIdle handles the browser finishing its tasks.
func (w *Worker) OnIdle() {
	w.logf(zapcore.InfoLevel, "The browser is idle")
	w.setStateIfAllowed(StateIdle)
}

// OnDisconnected handles the browser losing its connection. It is expected
// while exiting and ignored then.
func (w *Worker) OnDisconnected() {
	if w.machine.Is(StateExiting) {
		return
	}

	w.logf(zapcore.ErrorLevel, "The browser got disconnected")
	w.setStateIfAllowed(StateDisconnected)
}

// Stop tears the worker down. A worker without a launcher exits immediately.
func (w *Worker) Stop() {
	switch w.State() {
	case StateInit:
		w.machine.SetState(StateExited)
	case StateExiting, StateExited:
	default:
		w.machine.SetState(StateExiting)
	}
}

func (w *Worker) checkCampaignBrowsers(displayName string, browserNames []string) {
	expected := w.factory.BrowserName
	for _, name := range browserNames {
		if name == expected {
			return
		}
	}

	// Left enabled, the factory would start the same mismatching browser over and over.
	w.logf(zapcore.ErrorLevel, "The connected browser does not match the expected %s browser: %s", expected, displayName)
	w.onDisable()
}

func (w *Worker) onStateTimeout(state string) {
	if state == StateExiting {
		w.machine.SetState(StateExited)

		return
	}

	if state == StateConnecting {
		w.logf(zapcore.ErrorLevel, "Timeout reached while waiting for the browser to connect")
		w.notifyConnectionFailure()
	}

	w.machine.SetState(StateExiting)
}

func (w *Worker) onLauncherExit(events *launcherEvents) {
	if events != w.events {
		w.logf(zapcore.DebugLevel, "Ignoring the exit of a previous launcher")

		return
	}

	state := w.State()
	if state == StateExiting {
		w.logf(zapcore.InfoLevel, "The browser exited as expected")
	} else {
		w.logf(zapcore.ErrorLevel, "The browser exited unexpectedly (in state %s)", state)

		if state == StateConnecting {
			w.notifyConnectionFailure()
		}
	}

	w.machine.SetState(StateExited)
}

func (w *Worker) onDisable() {
	f := w.factory
	if f.Disable() {
		w.logf(zapcore.WarnLevel, "It is now disabled to create instances of %s with %s", f.BrowserName, f.Name)
	}
}

func (w *Worker) notifyConnectionFailure() {
	f := w.factory
	remaining := f.ConnectionFailed()

	switch {
	case f.FatalError:
	case remaining > 0:
		w.logf(zapcore.ErrorLevel, "Creating an instance of %s with %s failed %d time(s) (remaining count: %d)",
			f.BrowserName, f.Name, f.ConnectionRetries-remaining, remaining)
	case remaining == 0:
		w.logf(zapcore.ErrorLevel, "Creating instances of %s with %s failed %d time(s), giving up!",
			f.BrowserName, f.Name, f.ConnectionRetries)
	}
}

// stopSafely turns a panicking Stop into an error.
func stopSafely(l launcher.Launcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return l.Stop()
}

// launcherEvents forwards the signals of one launcher to the loop.
type launcherEvents struct {
	worker   *Worker
	exitOnce sync.Once
}

func (e *launcherEvents) Log(level zapcore.Level, msg string) {
	e.worker.cfg.Scheduler.Post(func() {
		e.worker.logf(level, "%s", msg)
	})
}

func (e *launcherEvents) Exit() {
	e.exitOnce.Do(func() {
		e.worker.cfg.Scheduler.Post(func() {
			e.worker.onLauncherExit(e)
		})
	})
}

func (e *launcherEvents) Disable() {
	e.worker.cfg.Scheduler.Post(e.worker.onDisable)
}
