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

package communicator

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory server. It answers status requests with Status,
// grants worker ids on request and lets tests push the events a real server
// would send. Handler calls are made synchronously from the calling goroutine.
type MockClient struct {
	handler Handler

	// ConnectErr makes Connect fail.
	ConnectErr error

	status  Status
	sent    []Envelope
	workers []string
	pending int

	nextID int

	// ManualGrants keeps worker id requests pending until Grant is called.
	ManualGrants bool
	// SilentStatus leaves status requests unanswered.
	SilentStatus bool

	mu           sync.Mutex
	helloSeen    bool
	connected    bool
	disconnected bool
}

// NewMockClient creates a server mock reporting status.
func NewMockClient(status Status) *MockClient {
	return &MockClient{status: status}
}

// Connect connects immediately, or fails with ConnectErr.
func (m *MockClient) Connect(_ context.Context, handler Handler) {
	m.mu.Lock()
	m.handler = handler
	err := m.ConnectErr
	m.connected = err == nil
	m.mu.Unlock()

	if err != nil {
		handler.OnConnectError(err)

		return
	}

	handler.OnConnect()
}

// Send records msg and answers it the way the server does. Anything but a
// hello before the hello is rejected.
func (m *MockClient) Send(msg Envelope) error {
	m.mu.Lock()

	if !m.connected {
		m.mu.Unlock()

		return fmt.Errorf("mock: send %s while not connected", msg.Type)
	}

	m.sent = append(m.sent, msg)

	if !m.helloSeen {
		if msg.Type != TypeHello || msg.ClientType != ClientTypeController {
			m.mu.Unlock()

			return fmt.Errorf("mock: expected hello, got %s", msg.Type)
		}

		m.helloSeen = true
		m.mu.Unlock()

		return nil
	}

	var reply func(h Handler)

	switch msg.Type {
	case TypeStatus:
		if !m.SilentStatus {
			status := m.status
			reply = func(h Handler) { h.OnStatus(status) }
		}
	case TypeWorkerCreate:
		if m.ManualGrants {
			m.pending++
		} else {
			id := m.newIDLocked()
			reply = func(h Handler) { h.OnWorkerCreated(id) }
		}
	case TypeWorkerDelete:
		m.removeLocked(msg.WorkerID)
	default:
		m.mu.Unlock()

		return fmt.Errorf("mock: unexpected message %s", msg.Type)
	}

	handler := m.handler
	m.mu.Unlock()

	if reply != nil {
		reply(handler)
	}

	return nil
}

// Disconnect closes the connection and reports OnDisconnect once.
func (m *MockClient) Disconnect() {
	m.mu.Lock()
	wasConnected := m.connected
	m.connected = false
	m.disconnected = true
	handler := m.handler
	m.mu.Unlock()

	if wasConnected {
		handler.OnDisconnect()
	}
}

func (m *MockClient) newIDLocked() string {
	m.nextID++
	id := fmt.Sprintf("%d-mock", m.nextID)
	m.workers = append(m.workers, id)

	return id
}

func (m *MockClient) removeLocked(id string) {
	for i, w := range m.workers {
		if w == id {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)

			return
		}
	}
}

// SetStatus changes the status served from now on.
func (m *MockClient) SetStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = status
}

// Grant answers one pending worker id request, or sends an unrequested id if
// none is pending. It returns the id.
func (m *MockClient) Grant() string {
	m.mu.Lock()
	if m.pending > 0 {
		m.pending--
	}

	id := m.newIDLocked()
	handler := m.handler
	m.mu.Unlock()

	handler.OnWorkerCreated(id)

	return id
}

// PendingGrants returns the number of unanswered worker id requests.
func (m *MockClient) PendingGrants() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pending
}

// WorkerConnected reports that the browser of id connected, matched with browsers.
func (m *MockClient) WorkerConnected(id string, displayName string, browsers ...string) {
	info := WorkerConnected{ID: id, DisplayName: displayName}
	for _, name := range browsers {
		info.CampaignBrowsers = append(info.CampaignBrowsers, CampaignBrowser{Browser: BrowserStatus{Name: name}})
	}

	m.currentHandler().OnWorkerConnected(info)
}

// WorkerBusy reports that the browser of id started a task.
func (m *MockClient) WorkerBusy(id string) {
	m.currentHandler().OnWorkerBusy(id)
}

// WorkerIdle reports that the browser of id has nothing to do.
func (m *MockClient) WorkerIdle(id string) {
	m.currentHandler().OnWorkerIdle(id)
}

// WorkerDisconnected reports that the browser of id left.
func (m *MockClient) WorkerDisconnected(id string) {
	m.currentHandler().OnWorkerDisconnected(id)
}

// Drop simulates the server closing the connection.
func (m *MockClient) Drop() {
	m.Disconnect()
}

func (m *MockClient) currentHandler() Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.handler
}

// Workers returns the ids granted and not released.
func (m *MockClient) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.workers...)
}

// Sent returns every message received from the coordinator.
func (m *MockClient) Sent() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Envelope(nil), m.sent...)
}

// SentOfType counts the received messages of type msgType.
func (m *MockClient) SentOfType(msgType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.sent {
		if msg.Type == msgType {
			n++
		}
	}

	return n
}

// IsConnected reports whether the connection is open.
func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

// IsDisconnected reports whether Disconnect was called.
func (m *MockClient) IsDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.disconnected
}
