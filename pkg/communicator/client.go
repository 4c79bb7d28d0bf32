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

	"go.uber.org/zap"
)

// Handler receives the events of a connection. Methods are called from the
// client's own goroutines and must not block.
type Handler interface {
	OnConnect()
	OnConnectError(err error)
	OnStatus(status Status)
	OnWorkerCreated(id string)
	OnWorkerConnected(info WorkerConnected)
	OnWorkerBusy(id string)
	OnWorkerIdle(id string)
	OnWorkerDisconnected(id string)
	OnDisconnect()
}

// Client is a connection to the server. A client is used for a single
// connection: Connect reports either OnConnectError, or OnConnect followed
// eventually by exactly one OnDisconnect.
type Client interface {
	Connect(ctx context.Context, handler Handler)
	Send(msg Envelope) error
	// Disconnect closes the connection. No message is delivered afterwards.
	Disconnect()
}

// Dispatch routes a message from the server to handler. Messages of unknown
// type are logged and dropped.
func Dispatch(handler Handler, msg Envelope, log *zap.SugaredLogger) {
	switch msg.Type {
	case TypeStatus:
		if msg.Status == nil {
			log.Warnf("Ignoring status message without status")

			return
		}

		handler.OnStatus(*msg.Status)
	case TypeWorkerCreated:
		handler.OnWorkerCreated(msg.Worker())
	case TypeWorkerConnected:
		handler.OnWorkerConnected(WorkerConnected{
			ID:               msg.Worker(),
			DisplayName:      msg.DisplayName,
			CampaignBrowsers: msg.CampaignBrowsers,
		})
	case TypeWorkerBusy:
		handler.OnWorkerBusy(msg.Worker())
	case TypeWorkerIdle:
		handler.OnWorkerIdle(msg.Worker())
	case TypeWorkerDisconnected:
		handler.OnWorkerDisconnected(msg.Worker())
	case TypeWorkerDeleted:
		log.Debugf("Received %s %s", msg.Type, msg.Worker())
	default:
		log.Warnf("Ignoring message of unknown type %q", msg.Type)
	}
}
