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

// Package communicator speaks the control protocol of the test server: JSON
// text frames over a websocket, each carrying its message type in "type".
package communicator

const (
	// TypeHello identifies the coordinator right after connecting.
	TypeHello = "hello"
	// TypeStatus is a status request, and the server's answer.
	TypeStatus = "status"
	// TypeWorkerCreate asks the server for a new worker id.
	TypeWorkerCreate = "slaveCreate"
	// TypeWorkerDelete releases a worker id.
	TypeWorkerDelete = "slaveDelete"

	TypeWorkerCreated      = "slaveCreated"
	TypeWorkerDeleted      = "slaveDeleted"
	TypeWorkerConnected    = "slaveConnected"
	TypeWorkerBusy         = "slaveBusy"
	TypeWorkerIdle         = "slaveIdle"
	TypeWorkerDisconnected = "slaveDisconnected"
)

// ClientTypeController is sent in the hello message.
const ClientTypeController = "slaveController"

// Envelope is one frame of the protocol in either direction.
type Envelope struct {
	Status *Status `json:"status,omitempty"`

	Type       string `json:"type"`
	ClientType string `json:"clientType,omitempty"`
	WorkerID   string `json:"slaveId,omitempty"`
	// ID is accepted as an alias of WorkerID in messages from the server.
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	CampaignBrowsers []CampaignBrowser `json:"campaignBrowsers,omitempty"`
}

// Worker returns the worker id the message refers to.
func (e Envelope) Worker() string {
	if e.WorkerID != "" {
		return e.WorkerID
	}

	return e.ID
}

// Status is the workload reported by the server.
type Status struct {
	Campaigns []Campaign `json:"campaigns"`
}

// Campaign is one test campaign running on the server.
type Campaign struct {
	ID       string          `json:"id,omitempty"`
	Browsers []BrowserStatus `json:"browsers"`
}

// BrowserStatus is the workload of one browser within a campaign.
type BrowserStatus struct {
	Name           string `json:"name"`
	RemainingTasks int    `json:"remainingTasks"`
	RunningTasks   int    `json:"runningTasks"`
}

// CampaignBrowser is a campaign browser a connected worker was matched with.
type CampaignBrowser struct {
	Campaign string        `json:"campaign,omitempty"`
	Browser  BrowserStatus `json:"browser"`
}

// WorkerConnected describes a browser that connected to the server.
type WorkerConnected struct {
	ID               string
	DisplayName      string
	CampaignBrowsers []CampaignBrowser
}

// BrowserNames returns the names of the campaign browsers.
func (w WorkerConnected) BrowserNames() []string {
	names := make([]string, 0, len(w.CampaignBrowsers))
	for _, cb := range w.CampaignBrowsers {
		names = append(names, cb.Browser.Name)
	}

	return names
}

// HelloMessage identifies the coordinator.
func HelloMessage() Envelope {
	return Envelope{Type: TypeHello, ClientType: ClientTypeController}
}

// StatusRequest asks for the current workload.
func StatusRequest() Envelope {
	return Envelope{Type: TypeStatus}
}

// WorkerCreateRequest asks for one worker id.
func WorkerCreateRequest() Envelope {
	return Envelope{Type: TypeWorkerCreate}
}

// WorkerDeleteRequest releases id.
func WorkerDeleteRequest(id string) Envelope {
	return Envelope{Type: TypeWorkerDelete, WorkerID: id}
}
