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

// Package debugserver exposes metrics and the coordinator state over HTTP.
package debugserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/coordinator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/metrics"
)

// snapshotTimeout bounds how long a request waits for the event loop.
const snapshotTimeout = 2 * time.Second

// SnapshotFunc returns the coordinator state, taken on its event loop.
type SnapshotFunc func(ctx context.Context) (coordinator.Snapshot, error)

// Config holds the server settings.
type Config struct {
	// Addr is the listen address, e.g. ":9090".
	Addr string
	// Debug switches gin to debug mode and logs every request.
	Debug bool
}

type Server struct {
	server   *http.Server
	router   *gin.Engine
	logger   *zap.SugaredLogger
	snapshot SnapshotFunc
	config   Config
}

func NewServer(config Config, snapshot SnapshotFunc, logger *zap.SugaredLogger) (*Server, error) {
	if config.Addr == "" {
		return nil, errors.New("invalid server configuration: empty listen address")
	}

	if snapshot == nil {
		return nil, errors.New("invalid server configuration: no snapshot source")
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		logger:   logger,
		snapshot: snapshot,
		config:   config,
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/healthz", s.healthz)
	router.GET("/debug/coordinator", s.coordinatorState)

	s.router = router
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. It returns nil after a regular shutdown.
func (s *Server) Start() error {
	s.logger.Infow("Starting debug server", "addr", s.config.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("debug server failed: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping debug server")

	return s.server.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) coordinatorState(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	snapshot, err := s.snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if s.config.Debug {
			s.logger.Infow("Debug request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status(),
				"duration", time.Since(start),
			)
		}
	}
}
