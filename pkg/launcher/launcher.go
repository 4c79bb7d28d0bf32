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

// Package launcher defines how a worker provisions the browser it drives.
//
// A Launcher is created fresh for every worker that reaches the connecting
// state. Start returns as soon as provisioning has begun; progress is reported
// through the Events sink, which may be called from any goroutine.
package launcher

import "go.uber.org/zap/zapcore"

// Events receives the signals of a running launcher.
type Events interface {
	// Log forwards a line to the log of the owning worker.
	Log(level zapcore.Level, msg string)
	// Exit reports that the browser is gone. It must be called exactly once
	// after Start succeeded, whether the browser stopped on its own or after Stop.
	Exit()
	// Disable reports a failure that will repeat for every future attempt,
	// e.g. a missing executable. The owning factory stops creating workers.
	Disable()
}

// StartParams is what a launcher needs to provision one browser.
type StartParams struct {
	// Config holds the launcher-specific keys of the resolved template.
	// Each worker gets its own copy.
	Config map[string]any
	// Variables holds the substitution variables of the worker, including the URL to open.
	Variables Variables
	Events    Events
}

// Launcher provisions and tears down one browser instance.
type Launcher interface {
	// Start begins provisioning without blocking. An error means nothing was
	// started and Exit will not be called.
	Start(params StartParams) error
	// Stop requests termination. It must not block; Exit follows once the
	// browser is gone.
	Stop() error
}
