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

package standarderrors

import "errors"

var (
	// ErrInvalidTransition is raised when a state machine is asked to move to a
	// state that is not reachable from its current state. It is a programming error.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConfigInvalid wraps every configuration problem detected at startup.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrMissingBrowsers is returned when the configuration has no browsers section.
	ErrMissingBrowsers = errors.New("missing or invalid 'browsers' property in the configuration")

	// ErrTemplateCycle is returned when launcher templates inherit from each other in a loop.
	ErrTemplateCycle = errors.New("recursive launchers configuration")

	// ErrUnknownTemplate is returned when a browser or template names a launcher that does not exist.
	ErrUnknownTemplate = errors.New("invalid launcher name")

	// ErrUnknownLauncher is returned by the launcher registry for an unregistered kind.
	ErrUnknownLauncher = errors.New("unknown launcher kind")

	// ErrNotConnected is returned when a message is sent without an open connection.
	ErrNotConnected = errors.New("not connected to the server")
)
