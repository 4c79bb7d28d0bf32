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

package fsm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// eventPrefix names the single event that leads into a state: "to_<state>".
const eventPrefix = "to_"

// Scheduler runs a function on the goroutine that owns the machine.
// Timeouts are delivered through it so that they never race with other events.
type Scheduler interface {
	Post(fn func())
}

// MachineConfig holds parameters for setting up a Machine.
type MachineConfig struct {
	ID string
	// Component is the metrics label of the machine kind, e.g. "worker".
	Component    string
	InitialState string

	// Transitions lists for every state the states it may move to.
	// A state without entry is terminal.
	Transitions map[string][]string

	// Timeouts maps a state to how long the machine may stay in it.
	Timeouts map[string]time.Duration

	// OnStateTimeout is called on the scheduler when a state timeout elapses.
	OnStateTimeout func(state string)

	Clock     clock.Clock
	Scheduler Scheduler
}

// Machine is a transition table with per-state entry callbacks and timeouts,
// backed by looplab/fsm. It is not safe for concurrent use: all calls must
// happen on the scheduler goroutine.
type Machine struct {
	cfg MachineConfig

	fsm *fsm.FSM

	// Registered "enter_<state>" callbacks
	callbacks map[string]fsm.Callback

	// timer of the current state, nil when the state has no timeout
	timer *clock.Timer
	// generation is bumped on every transition; timers of older generations are ignored
	generation uint64

	logger *zap.SugaredLogger
}

// NewMachine builds one event per destination state whose sources are all the
// states allowed to reach it.
func NewMachine(cfg MachineConfig, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	sources := make(map[string][]string)
	for src, dsts := range cfg.Transitions {
		for _, dst := range dsts {
			sources[dst] = append(sources[dst], src)
		}
	}

	destinations := make([]string, 0, len(sources))
	for dst := range sources {
		destinations = append(destinations, dst)
	}

	sort.Strings(destinations)

	events := make([]fsm.EventDesc, 0, len(destinations))
	for _, dst := range destinations {
		events = append(events, fsm.EventDesc{Name: eventPrefix + dst, Src: sources[dst], Dst: dst})
	}

	m.fsm = fsm.NewFSM(
		cfg.InitialState,
		fsm.Events(events),
		fsm.Callbacks{
			"enter_state": m.enterState,
		},
	)

	return m
}

// AddCallback adds a callback for a given event name, e.g. "enter_Running".
func (m *Machine) AddCallback(eventName string, callback fsm.Callback) {
	m.callbacks[eventName] = callback
}

// ID returns the identifier used in logs and metrics.
func (m *Machine) ID() string {
	return m.cfg.ID
}

// Current returns the current state.
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// Is reports whether the machine is in state.
func (m *Machine) Is(state string) bool {
	return m.fsm.Current() == state
}

// CanTransition reports whether next is reachable from the current state.
func (m *Machine) CanTransition(next string) bool {
	for _, allowed := range m.cfg.Transitions[m.fsm.Current()] {
		if allowed == next {
			return true
		}
	}

	return false
}

// SetState moves the machine to next. It cancels the timeout of the state being
// left, arms the timeout of next and runs the entry callback of next.
// Entry callbacks may call SetState again.
//
// A transition missing from the table panics with ErrInvalidTransition.
func (m *Machine) SetState(next string) {
	current := m.fsm.Current()

	if !m.CanTransition(next) {
		panic(fmt.Errorf("%w: %s cannot go from %s to %s", standarderrors.ErrInvalidTransition, m.cfg.ID, current, next))
	}

	m.cancelTimeout()

	ctx := context.Background()

	// looplab/fsm does not run enter callbacks for self transitions
	if current == next {
		m.enterState(ctx, &fsm.Event{FSM: m.fsm, Event: eventPrefix + next, Src: current, Dst: next})

		return
	}

	if err := m.fsm.Event(ctx, eventPrefix+next); err != nil {
		panic(fmt.Errorf("%s: transition %s -> %s failed: %w", m.cfg.ID, current, next, err))
	}
}

// Stop cancels a pending timeout. It is used when the owner is discarded.
func (m *Machine) Stop() {
	m.cancelTimeout()
}

// enterState arms the state timeout before the entry callback runs, so a
// transition made by the callback cancels it again.
func (m *Machine) enterState(ctx context.Context, e *fsm.Event) {
	m.logger.Debugf("%s: %s -> %s", m.cfg.ID, e.Src, e.Dst)
	metrics.ObserveTransition(m.cfg.Component, e.Src, e.Dst)

	m.armTimeout(e.Dst)

	if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
		cb(ctx, e)
	}
}

func (m *Machine) armTimeout(state string) {
	timeout, ok := m.cfg.Timeouts[state]
	if !ok || timeout <= 0 {
		return
	}

	generation := m.generation
	m.timer = m.cfg.Clock.AfterFunc(timeout, func() {
		m.cfg.Scheduler.Post(func() {
			if generation != m.generation {
				return
			}

			m.timer = nil

			metrics.IncStateTimeout(m.cfg.Component, state)
			m.logger.Debugf("%s: timeout of %v elapsed in state %s", m.cfg.ID, timeout, state)

			if m.cfg.OnStateTimeout != nil {
				m.cfg.OnStateTimeout(state)
			}
		})
	})
}

func (m *Machine) cancelTimeout() {
	m.generation++

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
