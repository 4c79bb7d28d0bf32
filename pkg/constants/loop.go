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

const (
	// EventBudget is the time a single event handler may run on the event loop
	// before the loop logs a warning. Handlers must never block.
	EventBudget = 50 * time.Millisecond

	// StarvationThreshold defines when a running event handler is considered stuck.
	// The starvation checker reports handlers that keep the loop busy for longer.
	StarvationThreshold = 5 * time.Second

	// StarvationCheckInterval is how often the starvation checker looks at the loop.
	StarvationCheckInterval = time.Second

	// EventQueueWarnSize is the queue length above which the loop warns about a backlog.
	EventQueueWarnSize = 1000
)
