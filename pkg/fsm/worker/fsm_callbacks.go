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
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// registerCallbacks wires the entry actions of every state.
func (w *Worker) registerCallbacks() {
	w.machine.AddCallback("enter_"+StateConnecting, func(ctx context.Context, e *fsm.Event) {
		w.startLauncher()
	})

	w.machine.AddCallback("enter_"+StateConnected, func(ctx context.Context, e *fsm.Event) {
		w.factory.ConnectionSucceeded()
	})

	w.machine.AddCallback("enter_"+StateExiting, func(ctx context.Context, e *fsm.Event) {
		w.stopLauncher()
	})

	w.machine.AddCallback("enter_"+StateExited, func(ctx context.Context, e *fsm.Event) {
		w.launcher = nil
		w.events = nil

		if w.exited {
			return
		}

		w.exited = true
		if w.cfg.OnExit != nil {
			w.cfg.OnExit(w)
		}
	})
}

func (w *Worker) startLauncher() {
	f := w.factory
	if f.IsDisabled() {
		w.machine.SetState(StateExited)

		return
	}

	vars := launcher.NewWorkerVariables(w.cfg.Server, w.id, f.URLExtraParameters)

	w.logf(zapcore.InfoLevel, "Starting an instance of %s with %s", f.BrowserName, f.Name)

	l, err := f.NewLauncher()
	if err != nil {
		w.onStartFailure(err)

		return
	}

	events := &launcherEvents{worker: w}
	w.launcher = l
	w.events = events

	err = l.Start(launcher.StartParams{
		Config:    f.LauncherConfigCopy(),
		Variables: vars,
		Events:    events,
	})
	if err != nil {
		w.launcher = nil
		w.events = nil
		w.onStartFailure(err)
	}
}

// onStartFailure disables the factory, unless the launcher marked the failure
// as transient, in which case it is charged to the retry budget.
func (w *Worker) onStartFailure(err error) {
	w.logf(zapcore.ErrorLevel, "Error while starting the launcher: %s", err)
	metrics.IncErrorCount(metrics.ComponentWorker)

	var categorized *standarderrors.CategorizedError
	if errors.As(err, &categorized) && categorized.Category == standarderrors.CategoryTransient {
		w.notifyConnectionFailure()
	} else {
		w.onDisable()
	}

	w.machine.SetState(StateExited)
}

func (w *Worker) stopLauncher() {
	if w.launcher == nil {
		w.machine.SetState(StateExited)

		return
	}

	if err := stopSafely(w.launcher); err != nil {
		w.logf(zapcore.ErrorLevel, "Error while stopping the launcher: %s", err)
		w.machine.SetState(StateExited)
	}
}
