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

// Package playwright implements the $playwright launcher, which opens the
// worker URL in a browser driven through playwright-go.
//
// Configuration keys:
//
//	browser:  chromium (default), firefox or webkit
//	headless: run without a window (default true)
//	args:     extra browser command line arguments; ${...} variables are replaced
//	viewport: {width, height} of the page
//	install:  download the driver and browsers before the first launch
package playwright

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// Kind is the builtin template name of this launcher.
const Kind = "$playwright"

// Driver owns the playwright driver process shared by all launchers.
// It is started on first use.
type Driver struct {
	pw        *playwright.Playwright
	installed bool
	mu        sync.Mutex
}

// NewDriver creates a driver that has not been started yet.
func NewDriver() *Driver {
	return &Driver{}
}

// Constructor returns the launcher.Constructor of $playwright bound to d.
func (d *Driver) Constructor() launcher.Constructor {
	return func() (launcher.Launcher, error) {
		return &Launcher{driver: d, stop: make(chan struct{})}, nil
	}
}

func (d *Driver) get(install bool, browser string) (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	opts := &playwright.RunOptions{
		Browsers: []string{browser},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if install && !d.installed {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}

		d.installed = true
	}

	if d.pw == nil {
		pw, err := playwright.Run(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}

		d.pw = pw
	}

	return d.pw, nil
}

// Close stops the driver process if it was started.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}

	err := d.pw.Stop()
	d.pw = nil

	return err
}

type options struct {
	browser  string
	args     []string
	width    int
	height   int
	headless bool
	install  bool
}

func parseOptions(config map[string]any) (options, error) {
	opts := options{browser: "chromium", headless: true}

	if v, ok := config["browser"]; ok {
		name, isString := v.(string)
		if !isString {
			return opts, fmt.Errorf("'browser' must be a string, got %T", v)
		}

		opts.browser = name
	}

	switch opts.browser {
	case "chromium", "firefox", "webkit":
	default:
		return opts, fmt.Errorf("unsupported playwright browser %q", opts.browser)
	}

	if v, ok := config["headless"].(bool); ok {
		opts.headless = v
	}

	if v, ok := config["install"].(bool); ok {
		opts.install = v
	}

	if v, ok := config["args"]; ok {
		items, isList := v.([]any)
		if !isList {
			return opts, fmt.Errorf("'args' must be a list, got %T", v)
		}

		for _, item := range items {
			opts.args = append(opts.args, fmt.Sprint(item))
		}
	}

	if v, ok := config["viewport"].(map[string]any); ok {
		opts.width = toInt(v["width"])
		opts.height = toInt(v["height"])
	}

	return opts, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Launcher drives one browser.
type Launcher struct {
	driver   *Driver
	events   launcher.Events
	stop     chan struct{}
	stopOnce sync.Once
}

// Start validates the configuration and launches the browser in the background.
func (l *Launcher) Start(params launcher.StartParams) error {
	opts, err := parseOptions(params.Config)
	if err != nil {
		return standarderrors.NewPermanentError(err)
	}

	opts.args = params.Variables.ReplaceAll(opts.args)
	l.events = params.Events

	go l.run(opts, params.Variables.URL())

	return nil
}

// Stop asks the background goroutine to close the browser.
func (l *Launcher) Stop() error {
	l.stopOnce.Do(func() { close(l.stop) })

	return nil
}

func (l *Launcher) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Launcher) onError(err error) {
	l.events.Log(zapcore.ErrorLevel, fmt.Sprintf("[error] %s", err))
}

func (l *Launcher) run(opts options, url string) {
	defer l.events.Exit()

	pw, err := l.driver.get(opts.install, opts.browser)
	if err != nil {
		l.onError(err)
		l.events.Disable()

		return
	}

	if l.stopped() {
		return
	}

	browserType := map[string]playwright.BrowserType{
		"chromium": pw.Chromium,
		"firefox":  pw.Firefox,
		"webkit":   pw.WebKit,
	}[opts.browser]

	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.headless),
		Args:     opts.args,
	})
	if err != nil {
		l.onError(err)

		return
	}

	defer func() {
		if err := browser.Close(); err != nil {
			l.events.Log(zapcore.DebugLevel, fmt.Sprintf("Closing the browser failed: %s", err))
		}
	}()

	gone := make(chan struct{})
	var goneOnce sync.Once
	browser.OnDisconnected(func(playwright.Browser) {
		goneOnce.Do(func() { close(gone) })
	})

	contextOpts := playwright.BrowserNewContextOptions{}
	if opts.width > 0 && opts.height > 0 {
		contextOpts.Viewport = &playwright.Size{Width: opts.width, Height: opts.height}
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		l.onError(err)

		return
	}

	page, err := context.NewPage()
	if err != nil {
		l.onError(err)

		return
	}

	if l.stopped() {
		return
	}

	l.events.Log(zapcore.DebugLevel, fmt.Sprintf("Opening %s in %s", url, opts.browser))

	if _, err := page.Goto(url, playwright.PageGotoOptions{}); err != nil {
		l.onError(err)

		return
	}

	select {
	case <-l.stop:
	case <-gone:
		l.events.Log(zapcore.WarnLevel, "The browser disconnected")
	}
}
