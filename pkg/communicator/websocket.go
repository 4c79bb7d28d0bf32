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
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/browserfleet/pkg/communicator/safejson"
	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// errDisconnectedWhileDialing is reported when Disconnect wins against a dial.
var errDisconnectedWhileDialing = errors.New("disconnected while connecting")

// WebsocketClient is a Client over gorilla/websocket. Reads happen on one
// goroutine and writes on another, fed through a bounded queue.
type WebsocketClient struct {
	dialer   *websocket.Dialer
	logger   *zap.SugaredLogger
	conn     *websocket.Conn
	cancel   context.CancelFunc
	outbound chan []byte
	closing  chan struct{}

	url      string
	attempts int

	closeOnce sync.Once
	mu        sync.Mutex
	stopped   bool
}

// WebsocketURL converts the http(s) URL of the server into the websocket URL
// of its control endpoint.
func WebsocketURL(server string, socketPath string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", server, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme %q", server, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", server)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(socketPath, "/")

	return u.String(), nil
}

// NewWebsocketClient creates a client for server. The dial is attempted up to
// attempts times with exponential backoff.
func NewWebsocketClient(server string, socketPath string, attempts int, log *zap.SugaredLogger) (*WebsocketClient, error) {
	wsURL, err := WebsocketURL(server, socketPath)
	if err != nil {
		return nil, err
	}

	if attempts <= 0 {
		attempts = constants.DefaultConnectAttempts
	}

	if log == nil {
		log = logger.For(logger.ComponentCommunicator)
	}

	return &WebsocketClient{
		dialer: &websocket.Dialer{
			HandshakeTimeout: constants.WriteTimeout,
		},
		logger:   log,
		outbound: make(chan []byte, constants.OutboundQueueSize),
		closing:  make(chan struct{}),
		url:      wsURL,
		attempts: attempts,
	}, nil
}

// Connect dials in the background and reports the outcome to handler.
func (c *WebsocketClient) Connect(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, handler)
}

func (c *WebsocketClient) run(ctx context.Context, handler Handler) {
	conn, err := c.dial(ctx)
	if err != nil {
		handler.OnConnectError(err)

		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		handler.OnConnectError(errDisconnectedWhileDialing)

		return
	}

	c.conn = conn
	c.mu.Unlock()

	handler.OnConnect()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn)
	}()

	c.readLoop(conn, handler)

	c.mu.Lock()
	c.stopped = true
	c.conn = nil
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closing) })
	<-writerDone

	handler.OnDisconnect()
}

func (c *WebsocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn

	attempt := 0
	operation := func() error {
		attempt++

		var err error

		conn, _, err = c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Debugf("Dial attempt %d/%d to %s failed: %s", attempt, c.attempts, c.url, err)
		}

		return err
	}

	// WithMaxRetries treats zero as unlimited, so a single attempt must not go through it.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.attempts > 1 {
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = constants.ConnectRetryInitialInterval
		policy = backoff.WithMaxRetries(exponential, uint64(c.attempts-1))
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (c *WebsocketClient) readLoop(conn *websocket.Conn, handler Handler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isStopped() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debugf("Connection to %s lost: %s", c.url, err)
			}

			return
		}

		if c.isStopped() {
			return
		}

		var msg Envelope
		if err := safejson.Unmarshal(data, &msg); err != nil {
			c.logger.Warnf("Ignoring malformed message: %s", err)

			continue
		}

		Dispatch(handler, msg, c.logger)
	}
}

// writeLoop sends queued frames until closing is signalled, then flushes the
// queue and closes the connection.
func (c *WebsocketClient) writeLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case data := <-c.outbound:
			if err := c.write(conn, data); err != nil {
				c.logger.Debugf("Write to %s failed: %s", c.url, err)

				return
			}
		case <-c.closing:
			for {
				select {
				case data := <-c.outbound:
					if err := c.write(conn, data); err != nil {
						return
					}
				default:
					closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(constants.WriteTimeout))

					return
				}
			}
		}
	}
}

func (c *WebsocketClient) write(conn *websocket.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout)); err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send queues msg. It fails when not connected or when the queue is full.
func (c *WebsocketClient) Send(msg Envelope) error {
	data, err := safejson.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.stopped {
		return standarderrors.ErrNotConnected
	}

	select {
	case c.outbound <- data:
		return nil
	default:
		return fmt.Errorf("outbound queue full (%d messages)", cap(c.outbound))
	}
}

// Disconnect cancels a pending dial or closes the connection.
func (c *WebsocketClient) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()

		return
	}

	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *WebsocketClient) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopped
}
