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

package constants

import "time"

// Default per-state timeouts of a worker. Each can be overridden per launcher
// template with the $connectingTimeout, $idleTimeout, $disconnectedTimeout and
// $exitingTimeout settings.
const (
	DefaultConnectingTimeout   = 120 * time.Second
	DefaultIdleTimeout         = 100 * time.Millisecond
	DefaultDisconnectedTimeout = 100 * time.Millisecond
	DefaultExitingTimeout      = 10 * time.Second
)

const (
	// DefaultConnectionRetries is the number of consecutive failed connection
	// attempts after which a factory stops creating workers.
	DefaultConnectionRetries = 3

	// DefaultFactoryMaxInstances is used when a template does not set $maxInstances.
	DefaultFactoryMaxInstances = 1
)

// Tag prefixes and well-known tags attached to every factory.
const (
	TagAny            = "Any"
	TagPrefixBrowser  = "Browser_"
	TagPrefixFactory  = "Factory_"
	TagPrefixLauncher = "Launcher_"
	TagPrefixUser     = "Tag_"
)

// Substitution variables available to launchers and to $urlExtraParameters.
const (
	VariableWorkerID = "ATTESTER-SLAVEID"
	VariableHostname = "ATTESTER-HOSTNAME"
	VariableURL      = "ATTESTER-URL"
)

// WorkerPagePath is the page a browser opens to register itself as a worker.
const WorkerPagePath = "/__attester__/slave.html"
