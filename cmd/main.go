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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/browserfleet/pkg/config"
	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/control"
	"github.com/united-manufacturing-hub/browserfleet/pkg/debugserver"
	"github.com/united-manufacturing-hub/browserfleet/pkg/env"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/coordinator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher/playwright"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher/process"
	"github.com/united-manufacturing-hub/browserfleet/pkg/logger"
	"github.com/united-manufacturing-hub/browserfleet/pkg/sentry"
	"github.com/united-manufacturing-hub/browserfleet/pkg/version"
)

const usage = `Usage:
  browserfleet [options] <configFiles>

Common options:
  --server http://127.0.0.1:7777
  --verbose
  --colors
  --metrics-addr :9090
  --help
  --version
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defaultMetricsAddr, _ := env.GetAsString("METRICS_ADDR", false, constants.DefaultMetricsAddr)

	flags := flag.NewFlagSet("browserfleet", flag.ContinueOnError)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	server := flags.String("server", "", "URL of the test server")
	verbose := flags.Bool("verbose", false, "log at debug level")
	colors := flags.Bool("colors", isTerminal(os.Stdout), "colorize log levels")
	help := flags.Bool("help", false, "print usage")
	showVersion := flags.Bool("version", false, "print the version")
	metricsAddr := flags.String("metrics-addr", defaultMetricsAddr, "listen address of the metrics and debug endpoint")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		return 2
	}

	if *help {
		fmt.Print(usage)

		return 0
	}

	if *showVersion {
		fmt.Println(version.GetAppVersion())

		return 0
	}

	logger.InitializeWith(logger.Options{Verbose: *verbose, Colors: *colors})
	defer func() { _ = logger.Sync() }()

	dsn, _ := env.GetAsString("SENTRY_DSN", false, "")
	sentry.InitSentry(dsn, version.GetAppVersion())

	log := logger.For(logger.ComponentCore)

	base := map[string]any{}
	if *server != "" {
		base["server"] = *server
	}

	settings, err := config.Load(flags.Args(), base, logger.For(logger.ComponentConfig))
	if err != nil {
		log.Errorf("%s", err)

		return 1
	}

	driver := playwright.NewDriver()
	defer func() {
		if err := driver.Close(); err != nil {
			log.Debugf("Error while closing the browser driver: %s", err)
		}
	}()

	registry := launcher.NewRegistry()
	registry.Register(process.Kind, process.New)
	registry.Register(playwright.Kind, driver.Constructor())

	if err := serve(settings, registry, *metricsAddr, *verbose, log); err != nil {
		log.Errorf("%s", err)

		return 1
	}

	return 0
}

// serve runs the coordinator on its event loop until it exits or a signal
// asks it to stop.
func serve(settings config.Config, registry *launcher.Registry, metricsAddr string, debug bool, log *zap.SugaredLogger) error {
	signals, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()

	clk := clock.New()
	loop := control.NewEventLoop(clk)

	g, _ := errgroup.WithContext(loopCtx)
	g.Go(func() error { return loop.Execute(loopCtx) })

	coord := coordinator.New(coordinator.Config{
		Settings:  settings,
		Registry:  registry,
		Clock:     clk,
		Scheduler: loop,
	})

	var startErr error
	if err := loop.Do(loopCtx, func() { startErr = coord.Start(loopCtx) }); err != nil {
		startErr = err
	}

	if startErr != nil {
		cancelLoop()
		_ = g.Wait()

		return startErr
	}

	var debugServer *debugserver.Server
	if metricsAddr != "" {
		snapshot := func(ctx context.Context) (coordinator.Snapshot, error) {
			var s coordinator.Snapshot
			err := loop.Do(ctx, func() { s = coord.Snapshot() })

			return s, err
		}

		server, err := debugserver.NewServer(debugserver.Config{Addr: metricsAddr, Debug: debug}, snapshot, logger.For(logger.ComponentDebugServer))
		if err != nil {
			log.Errorf("Debug server disabled: %s", err)
		} else {
			debugServer = server
			g.Go(server.Start)
		}
	}

	select {
	case <-coord.Done():
	case <-signals.Done():
		log.Infof("Stopping, waiting for the running browsers to exit")
		loop.Post(coord.Stop)

		select {
		case <-coord.Done():
		case <-time.After(constants.ShutdownTimeout):
			log.Warnf("Browsers did not exit within %s", constants.ShutdownTimeout)
		}
	}

	if debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := debugServer.Stop(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown debug server: %w", err)
		}

		cancel()
	}

	cancelLoop()

	return g.Wait()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}
