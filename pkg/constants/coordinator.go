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
	// DefaultServer is used when neither the configuration nor the command line name a server.
	DefaultServer = "http://127.0.0.1:7777"

	// DefaultSocketPath is appended to the server URL to open the control connection.
	DefaultSocketPath = "/sockjs/websocket"

	// DefaultMinTasksPerBrowser limits how many workers are started per pending task.
	DefaultMinTasksPerBrowser = 10

	// WaitingStatusTimeout is how long the coordinator waits for a status answer
	// before it drops the connection.
	WaitingStatusTimeout = 10 * time.Second

	// DefaultConnectAttempts is how many times the control connection is dialed
	// before a connection error is reported.
	DefaultConnectAttempts = 3

	// ConnectRetryInitialInterval is the first pause between two dial attempts.
	ConnectRetryInitialInterval = 500 * time.Millisecond

	// WriteTimeout bounds a single websocket write.
	WriteTimeout = 10 * time.Second

	// OutboundQueueSize is the buffer between the event loop and the socket writer.
	OutboundQueueSize = 256
)
