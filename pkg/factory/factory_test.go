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

package factory

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/browserfleet/pkg/config"
	"github.com/united-manufacturing-hub/browserfleet/pkg/constants"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

var _ = Describe("Build", func() {
	var (
		registry *launcher.Registry
		provider *launcher.MockProvider
	)

	BeforeEach(func() {
		provider = launcher.NewMockProvider()
		registry = launcher.NewRegistry()
		registry.Register(launcher.MockKind, provider.New)
	})

	inline := func(values map[string]any) config.LauncherRef {
		return config.LauncherRef{Inline: values}
	}

	named := func(name string) config.LauncherRef {
		return config.LauncherRef{Name: name}
	}

	It("builds an inline launcher on a builtin kind", func() {
		factories, err := Build(config.Config{
			Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {inline(map[string]any{"$launcher": launcher.MockKind, "command": "firefox"})},
			},
		}, registry)
		Expect(err).NotTo(HaveOccurred())
		Expect(factories).To(HaveKey("Firefox"))

		f := factories["Firefox"][0]
		Expect(f.Name).To(Equal(launcher.MockKind))
		Expect(f.Kind).To(Equal(launcher.MockKind))
		Expect(f.Tag).To(HavePrefix(constants.TagPrefixFactory))
		Expect(f.Tags).To(Equal([]string{"Launcher_$mock", "Browser_Firefox", f.Tag, "Any"}))
		Expect(f.LauncherConfig).To(Equal(map[string]any{"command": "firefox"}))
		Expect(f.MaxInstances).To(Equal(1))
		Expect(f.ConnectionRetries).To(Equal(3))
		Expect(f.RemainingConnectionRetries).To(Equal(3))
		Expect(f.Timeouts).To(Equal(Timeouts{
			Connecting:   constants.DefaultConnectingTimeout,
			Idle:         constants.DefaultIdleTimeout,
			Disconnected: constants.DefaultDisconnectedTimeout,
			Exiting:      constants.DefaultExitingTimeout,
		}))
	})

	It("inherits through named templates", func() {
		factories, err := Build(config.Config{
			Launchers: map[string]map[string]any{
				"base": {
					"$launcher":     launcher.MockKind,
					"$maxInstances": 2,
					"$tags":         []any{"ci"},
					"options":       map[string]any{"a": 1, "b": 2},
					"args":          []any{"--base"},
				},
				"ff": {
					"$launcher":          "base",
					"$connectingTimeout": 5000,
					"$idleTimeout":       "2s",
					"options":            map[string]any{"b": 3},
					"args":               []any{"--ff"},
				},
			},
			Browsers: map[string]config.BrowserLaunchers{"Firefox": {named("ff")}},
		}, registry)
		Expect(err).NotTo(HaveOccurred())

		f := factories["Firefox"][0]
		Expect(f.Name).To(Equal("ff"))
		Expect(f.Kind).To(Equal(launcher.MockKind))
		Expect(f.Tags).To(Equal([]string{
			"Launcher_$mock", "Launcher_base", "Launcher_ff", "Browser_Firefox", f.Tag, "Any", "Tag_ci",
		}))
		Expect(f.LauncherConfig).To(Equal(map[string]any{
			"options": map[string]any{"a": 1, "b": 3},
			"args":    []any{"--ff"},
		}))
		Expect(f.MaxInstances).To(Equal(2))
		Expect(f.Timeouts.Connecting).To(Equal(5 * time.Second))
		Expect(f.Timeouts.Idle).To(Equal(2 * time.Second))
		Expect(f.Timeouts.Disconnected).To(Equal(constants.DefaultDisconnectedTimeout))
	})

	It("gives every factory its own tag and keeps the listed order", func() {
		factories, err := Build(config.Config{
			Launchers: map[string]map[string]any{"m": {"$launcher": launcher.MockKind}},
			Browsers: map[string]config.BrowserLaunchers{
				"Chrome": {named("m"), inline(map[string]any{"$launcher": "m", "$maxInstances": 4})},
			},
		}, registry)
		Expect(err).NotTo(HaveOccurred())

		chrome := factories["Chrome"]
		Expect(chrome).To(HaveLen(2))
		Expect(chrome[0].MaxInstances).To(Equal(1))
		Expect(chrome[1].MaxInstances).To(Equal(4))
		Expect(chrome[0].Tag).NotTo(Equal(chrome[1].Tag))
		Expect(chrome[1].Name).To(Equal("m"))
	})

	It("allows zero instances and treats zero retries as the default", func() {
		factories, err := Build(config.Config{
			Browsers: map[string]config.BrowserLaunchers{
				"IE": {inline(map[string]any{
					"$launcher":           launcher.MockKind,
					"$maxInstances":       0,
					"$connectionRetries":  0,
					"$urlExtraParameters": "flags=${ATTESTER-SLAVEID}",
					"$exitingTimeout":     0,
				})},
			},
		}, registry)
		Expect(err).NotTo(HaveOccurred())

		f := factories["IE"][0]
		Expect(f.MaxInstances).To(Equal(0))
		Expect(f.ConnectionRetries).To(Equal(constants.DefaultConnectionRetries))
		Expect(f.URLExtraParameters).To(Equal("flags=${ATTESTER-SLAVEID}"))
		Expect(f.Timeouts.Exiting).To(Equal(constants.DefaultExitingTimeout))
	})

	It("returns no factories for an empty browsers section", func() {
		factories, err := Build(config.Config{Browsers: map[string]config.BrowserLaunchers{}}, registry)
		Expect(err).NotTo(HaveOccurred())
		Expect(factories).To(BeEmpty())
	})

	DescribeTable("configuration errors",
		func(cfg config.Config, expected error) {
			_, err := Build(cfg, registry)
			Expect(err).To(MatchError(expected))
		},
		Entry("missing browsers", config.Config{}, standarderrors.ErrMissingBrowsers),
		Entry("unknown template",
			config.Config{Browsers: map[string]config.BrowserLaunchers{"Firefox": {named("nope")}}},
			standarderrors.ErrUnknownTemplate),
		Entry("unknown parent",
			config.Config{Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {inline(map[string]any{"$launcher": "$unknown"})},
			}},
			standarderrors.ErrUnknownTemplate),
		Entry("missing $launcher",
			config.Config{Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {inline(map[string]any{"command": "firefox"})},
			}},
			standarderrors.ErrConfigInvalid),
		Entry("non-string $launcher",
			config.Config{Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {inline(map[string]any{"$launcher": 3})},
			}},
			standarderrors.ErrConfigInvalid),
		Entry("template cycle",
			config.Config{
				Launchers: map[string]map[string]any{"a": {"$launcher": "b"}, "b": {"$launcher": "a"}},
				Browsers:  map[string]config.BrowserLaunchers{"Firefox": {named("a")}},
			},
			standarderrors.ErrTemplateCycle),
		Entry("self reference",
			config.Config{
				Launchers: map[string]map[string]any{"a": {"$launcher": "a"}},
				Browsers:  map[string]config.BrowserLaunchers{"Firefox": {named("a")}},
			},
			standarderrors.ErrTemplateCycle),
		Entry("invalid timeout",
			config.Config{Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {inline(map[string]any{"$launcher": launcher.MockKind, "$idleTimeout": "soon"})},
			}},
			standarderrors.ErrConfigInvalid),
	)

	It("names the browser in errors", func() {
		_, err := Build(config.Config{Browsers: map[string]config.BrowserLaunchers{"Safari": {named("nope")}}}, registry)
		Expect(strings.Contains(err.Error(), "Safari")).To(BeTrue())
	})
})

var _ = Describe("Factory", func() {
	var f *Factory

	BeforeEach(func() {
		provider := launcher.NewMockProvider()
		registry := launcher.NewRegistry()
		registry.Register(launcher.MockKind, provider.New)

		factories, err := Build(config.Config{
			Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {config.LauncherRef{Inline: map[string]any{
					"$launcher":     launcher.MockKind,
					"$maxInstances": 3,
					"nested":        map[string]any{"key": "value"},
				}}},
			},
		}, registry)
		Expect(err).NotTo(HaveOccurred())

		f = factories["Firefox"][0]
	})

	It("is disabled once the retry budget is exhausted", func() {
		Expect(f.ConnectionFailed()).To(Equal(2))
		Expect(f.ConnectionFailed()).To(Equal(1))
		Expect(f.IsDisabled()).To(BeFalse())
		Expect(f.EffectiveMaxInstances()).To(Equal(3))

		Expect(f.ConnectionFailed()).To(Equal(0))
		Expect(f.IsDisabled()).To(BeTrue())
		Expect(f.EffectiveMaxInstances()).To(Equal(0))
	})

	It("restores the budget after a success", func() {
		f.ConnectionFailed()
		f.ConnectionFailed()
		f.ConnectionSucceeded()

		Expect(f.RemainingConnectionRetries).To(Equal(3))
	})

	It("stays disabled after a fatal error", func() {
		Expect(f.Disable()).To(BeTrue())
		Expect(f.Disable()).To(BeFalse())

		f.ConnectionSucceeded()
		Expect(f.IsDisabled()).To(BeTrue())
	})

	It("hands out independent launcher configurations", func() {
		cfg := f.LauncherConfigCopy()
		cfg["nested"].(map[string]any)["key"] = "changed"

		Expect(f.LauncherConfig["nested"]).To(Equal(map[string]any{"key": "value"}))
	})

	It("creates launchers of its kind", func() {
		l, err := f.NewLauncher()
		Expect(err).NotTo(HaveOccurred())
		Expect(l).To(BeAssignableToTypeOf(&launcher.Mock{}))
	})
})
