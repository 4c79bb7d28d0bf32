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

// Package control provides the event loop that serializes all coordinator work.
//
// Socket readers, timers and launcher goroutines never touch coordinator or
// worker state directly. They post closures to the loop, which runs them one
// at a time in arrival order.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
	"github.com/united-manufacturing-hub/browserfleet/pkg/sentry"
	"github.com/united-manufacturing-hub/browserfleet/pkg/starvationchecker"
)

// ErrLoopStopped is returned by Do when the loop is no longer running.
var ErrLoopStopped = errors.New("event loop stopped")

// EventLoop is an unbounded FIFO of closures executed by a single goroutine.
type EventLoop struct {
	clock             clock.Clock
	logger            *zap.SugaredLogger
	starvationChecker *starvationchecker.StarvationChecker
	wake              chan struct{}
	done              chan struct{}
	queue             []func()
	mu                sync.Mutex
	backlogWarned     bool
}

// NewEventLoop creates a loop. Execute must be called to start processing.
func NewEventLoop(clk clock.Clock) *EventLoop {
	log := logger.For(logger.ComponentControlLoop)

	return &EventLoop{
		clock:             clk,
		logger:            log,
		starvationChecker: starvationchecker.NewStarvationChecker(constants.StarvationThreshold, clk, nil),
		wake:              make(chan struct{}, 1),
		done:              make(chan struct{}),
	}
}

// Clock returns the clock used for timers scheduled on this loop.
func (l *EventLoop) Clock() clock.Clock {
	return l.clock
}

// Post enqueues fn. It never blocks and may be called from any goroutine,
// including from a function running on the loop.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	queued := len(l.queue)

	warn := queued > constants.EventQueueWarnSize && !l.backlogWarned
	if warn {
		l.backlogWarned = true
	}
	l.mu.Unlock()

	if warn {
		l.logger.Warnf("Event loop backlog: %d events queued", queued)
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *EventLoop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute processes events until ctx is cancelled.
func (l *EventLoop) Execute(ctx context.Context) error {
	defer close(l.done)

	l.starvationChecker.Start(ctx)
	defer l.starvationChecker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Event loop cancelled")

			return nil
		case <-l.wake:
			for {
				fn, ok := l.next()
				if !ok {
					break
				}

				l.run(fn)

				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		l.backlogWarned = false

		return nil, false
	}

	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]

	return fn, true
}

func (l *EventLoop) run(fn func()) {
	start := l.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			sentry.ReportIssue(fmt.Errorf("event handler panicked: %v", r), sentry.IssueTypeFatal, l.logger)
		}
	}()

	l.starvationChecker.EventStarted()
	fn()
	l.starvationChecker.EventFinished()

	elapsed := l.clock.Since(start)
	metrics.ObserveEventDuration(elapsed)

	if elapsed > constants.EventBudget {
		l.logger.Warnf("Event handler took %v, longer than the budget of %v", elapsed, constants.EventBudget)
	}
}
