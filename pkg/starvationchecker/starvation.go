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

package starvationchecker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
	"github.com/united-manufacturing-hub/browserfleet/pkg/sentry"
)

// StarvationChecker watches the event loop from a background goroutine and
// reports event handlers that keep the loop busy for longer than the threshold.
// An idle loop is never starved: only a handler that has started and not
// finished counts.
type StarvationChecker struct {
	clock               clock.Clock
	logger              *zap.SugaredLogger
	cancel              context.CancelFunc
	eventStart          time.Time
	wg                  sync.WaitGroup
	starvationThreshold time.Duration
	mutex               sync.RWMutex
	busy                bool
	reported            bool
}

// NewStarvationChecker creates a checker. A nil logger uses the component logger.
func NewStarvationChecker(threshold time.Duration, clk clock.Clock, log *zap.SugaredLogger) *StarvationChecker {
	if log == nil {
		log = logger.For(logger.ComponentStarvationChecker)
	}

	return &StarvationChecker{
		clock:               clk,
		logger:              log,
		starvationThreshold: threshold,
		cancel:              func() {},
	}
}

// Start launches the background check loop.
func (s *StarvationChecker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)

	go s.checkStarvationLoop(ctx)

	s.logger.Debugf("Starvation checker started with threshold %s", s.starvationThreshold)
}

func (s *StarvationChecker) checkStarvationLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.Ticker(constants.StarvationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *StarvationChecker) check() {
	s.mutex.Lock()
	if !s.busy {
		s.mutex.Unlock()

		return
	}

	running := s.clock.Since(s.eventStart)
	if running <= s.starvationThreshold {
		s.mutex.Unlock()

		return
	}

	first := !s.reported
	s.reported = true
	s.mutex.Unlock()

	metrics.AddStarvationTime(constants.StarvationCheckInterval.Seconds())

	if first {
		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger,
			"Event loop starvation detected: a handler has been running for %.2f seconds", running.Seconds())
	} else {
		s.logger.Warnf("Event loop still blocked after %.2f seconds", running.Seconds())
	}
}

// Stop terminates the background check loop and waits for it.
func (s *StarvationChecker) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("Starvation checker stopped")
}

// EventStarted marks the beginning of an event handler.
func (s *StarvationChecker) EventStarted() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.busy = true
	s.reported = false
	s.eventStart = s.clock.Now()
}

// EventFinished marks the end of the running event handler.
func (s *StarvationChecker) EventFinished() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.busy = false
}

// IsBusy reports whether an event handler is running.
func (s *StarvationChecker) IsBusy() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.busy
}
