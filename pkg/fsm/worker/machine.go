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
	"time"

	"go.uber.org/zap/zapcore"

	internalfsm "github.com/united-manufacturing-hub/browserfleet/internal/fsm"
	"github.com/united-manufacturing-hub/browserfleet/pkg/factory"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
)

// New creates a worker of f in StateInit.
func New(f *factory.Factory, cfg Config) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = logger.For(logger.ComponentWorker)
	}

	w := &Worker{
		factory: f,
		cfg:     cfg,
		logger:  cfg.Logger,
	}

	w.machine = internalfsm.NewMachine(internalfsm.MachineConfig{
		ID:           fmt.Sprintf("%s/%s", f.BrowserName, f.Name),
		Component:    metrics.ComponentWorker,
		InitialState: StateInit,
		Transitions:  transitions,
		Timeouts: map[string]time.Duration{
			StateConnecting:   f.Timeouts.Connecting,
			StateIdle:         f.Timeouts.Idle,
			StateDisconnected: f.Timeouts.Disconnected,
			StateExiting:      f.Timeouts.Exiting,
		},
		OnStateTimeout: w.onStateTimeout,
		Clock:          cfg.Clock,
		Scheduler:      cfg.Scheduler,
	}, cfg.Logger)

	w.registerCallbacks()

	return w
}

// logf prefixes every line with the worker id.
func (w *Worker) logf(level zapcore.Level, template string, args ...interface{}) {
	w.logger.Logf(level, "[%s] "+template, append([]interface{}{w.id}, args...)...)
}

// setStateIfAllowed moves to next when the transition table allows it. Server
// events may arrive in any state, and must not crash the process.
func (w *Worker) setStateIfAllowed(next string) {
	if !w.machine.CanTransition(next) {
		w.logf(zapcore.DebugLevel, "Ignoring transition to %s in state %s", next, w.State())

		return
	}

	w.machine.SetState(next)
}
