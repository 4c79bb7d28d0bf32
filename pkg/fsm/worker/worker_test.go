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

package worker

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/browserfleet/pkg/config"
	"github.com/united-manufacturing-hub/browserfleet/pkg/factory"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

var _ = Describe("Worker", func() {
	var (
		mockClock *clock.Mock
		scheduler *manualScheduler
		provider  *launcher.MockProvider
		f         *factory.Factory
		logs      *observer.ObservedLogs
		exits     int
	)

	newWorker := func() *Worker {
		core, observed := observer.New(zapcore.DebugLevel)
		logs = observed

		return New(f, Config{
			Clock:     mockClock,
			Scheduler: scheduler,
			Logger:    zap.New(core).Sugar(),
			Server:    "http://localhost:7777/",
			OnExit:    func(*Worker) { exits++ },
		})
	}

	messages := func(level zapcore.Level) []string {
		var out []string
		for _, entry := range logs.FilterLevelExact(level).All() {
			out = append(out, entry.Message)
		}

		return out
	}

	stateAfterDrain := func(w *Worker) func() string {
		return func() string {
			scheduler.drain()

			return w.State()
		}
	}

	BeforeEach(func() {
		mockClock = clock.NewMock()
		scheduler = &manualScheduler{}
		provider = launcher.NewMockProvider()
		exits = 0

		registry := launcher.NewRegistry()
		registry.Register(launcher.MockKind, provider.New)

		factories, err := factory.Build(config.Config{
			Browsers: map[string]config.BrowserLaunchers{
				"Firefox": {config.LauncherRef{Inline: map[string]any{
					"$launcher":           launcher.MockKind,
					"$urlExtraParameters": "flag=${ATTESTER-SLAVEID}",
					"command":             "firefox",
				}}},
			},
		}, registry)
		Expect(err).NotTo(HaveOccurred())

		f = factories["Firefox"][0]
	})

	connect := func(w *Worker) {
		w.OnCreated("abc")
		w.OnConnected("Firefox 128", []string{"Firefox"})
		Expect(w.State()).To(Equal(StateConnected))
	}

	Context("when the id is granted", func() {
		It("starts the launcher with the worker variables", func() {
			w := newWorker()
			w.OnCreated("a b")

			Expect(w.State()).To(Equal(StateConnecting))
			Expect(w.ID()).To(Equal("a b"))

			m := provider.Last()
			Expect(m.Started()).To(BeTrue())
			Expect(m.URL()).To(Equal("http://localhost:7777/__attester__/slave.html?id=a%20b&flag=a b"))
			Expect(m.Variables()).To(HaveKeyWithValue("ATTESTER-HOSTNAME", "localhost"))
			Expect(m.Config()).To(Equal(map[string]any{"command": "firefox"}))
			Expect(messages(zapcore.InfoLevel)).To(ContainElement("[a b] Starting an instance of Firefox with $mock"))
		})

		It("exits without a launcher when the factory is disabled", func() {
			f.Disable()
			w := newWorker()
			w.OnCreated("abc")

			Expect(w.State()).To(Equal(StateExited))
			Expect(provider.Instances()).To(BeEmpty())
			Expect(exits).To(Equal(1))
		})

		It("disables the factory when the launcher cannot be created", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ConstructErr = errors.New("no driver") })
			w := newWorker()
			w.OnCreated("abc")

			Expect(w.State()).To(Equal(StateExited))
			Expect(f.FatalError).To(BeTrue())
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement("[abc] Error while starting the launcher: no driver"))
			Expect(messages(zapcore.WarnLevel)).To(ConsistOf("[abc] It is now disabled to create instances of Firefox with $mock"))
			Expect(exits).To(Equal(1))
		})

		It("charges transient start failures to the retry budget", func() {
			provider.Set(func(p *launcher.MockProvider) {
				p.StartErr = standarderrors.NewTransientError(errors.New("port busy"))
			})
			w := newWorker()
			w.OnCreated("abc")

			Expect(w.State()).To(Equal(StateExited))
			Expect(f.FatalError).To(BeFalse())
			Expect(f.RemainingConnectionRetries).To(Equal(2))
		})
	})

	Context("while connecting", func() {
		It("gives up after the connecting timeout", func() {
			w := newWorker()
			w.OnCreated("abc")

			Eventually(func() string {
				mockClock.Add(f.Timeouts.Connecting)

				return stateAfterDrain(w)()
			}).Should(Equal(StateExited))

			Expect(f.RemainingConnectionRetries).To(Equal(2))
			Expect(provider.Last().StopCalls()).To(Equal(1))
			Expect(messages(zapcore.ErrorLevel)).To(Equal([]string{
				"[abc] Timeout reached while waiting for the browser to connect",
				"[abc] Creating an instance of Firefox with $mock failed 1 time(s) (remaining count: 2)",
			}))
			Expect(messages(zapcore.InfoLevel)).To(ContainElement("[abc] The browser exited as expected"))
			Expect(exits).To(Equal(1))
		})

		It("counts an unexpected exit as a connection failure", func() {
			w := newWorker()
			w.OnCreated("abc")
			provider.Last().Events().Exit()
			scheduler.drain()

			Expect(w.State()).To(Equal(StateExited))
			Expect(f.RemainingConnectionRetries).To(Equal(2))
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement("[abc] The browser exited unexpectedly (in state Connecting)"))
		})

		It("gives up once the budget is exhausted", func() {
			for i := 0; i < 3; i++ {
				w := newWorker()
				w.OnCreated("abc")
				provider.Last().Events().Exit()
				scheduler.drain()
			}

			Expect(f.IsDisabled()).To(BeTrue())
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement(
				"[abc] Creating instances of Firefox with $mock failed 3 time(s), giving up!"))

			w := newWorker()
			w.OnCreated("def")
			Expect(w.State()).To(Equal(StateExited))
			Expect(provider.Instances()).To(HaveLen(3))
		})

		It("stays silent about retries of a disabled factory", func() {
			w := newWorker()
			w.OnCreated("abc")

			events := provider.Last().Events()
			events.Disable()
			events.Exit()
			scheduler.drain()

			Expect(w.State()).To(Equal(StateExited))
			Expect(f.FatalError).To(BeTrue())
			for _, msg := range messages(zapcore.ErrorLevel) {
				Expect(msg).NotTo(ContainSubstring("time(s)"))
			}
		})

		It("forwards launcher logs with the worker prefix", func() {
			w := newWorker()
			w.OnCreated("abc")
			provider.Last().Events().Log(zapcore.WarnLevel, "[firefox] slow start")
			scheduler.drain()

			Expect(messages(zapcore.WarnLevel)).To(ConsistOf("[abc] [firefox] slow start"))
		})
	})

	Context("when connected", func() {
		It("restores the retry budget", func() {
			f.ConnectionFailed()
			w := newWorker()
			connect(w)

			Expect(f.RemainingConnectionRetries).To(Equal(f.ConnectionRetries))
		})

		It("disables the factory for a mismatching browser", func() {
			w := newWorker()
			w.OnCreated("abc")
			w.OnConnected("Chrome 120", []string{"Chrome", "Edge"})

			Expect(w.State()).To(Equal(StateConnected))
			Expect(f.FatalError).To(BeTrue())
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement(
				"[abc] The connected browser does not match the expected Firefox browser: Chrome 120"))
		})

		It("follows busy and idle reports and stops after the idle timeout", func() {
			w := newWorker()
			connect(w)

			w.OnIdle()
			Expect(w.State()).To(Equal(StateIdle))
			w.OnBusy()
			Expect(w.State()).To(Equal(StateConnected))
			w.OnIdle()

			Eventually(func() string {
				mockClock.Add(f.Timeouts.Idle)

				return stateAfterDrain(w)()
			}).Should(Equal(StateExited))

			Expect(provider.Last().StopCalls()).To(Equal(1))
			Expect(exits).To(Equal(1))
		})

		It("exits after the disconnected timeout", func() {
			w := newWorker()
			connect(w)
			w.OnDisconnected()
			Expect(w.State()).To(Equal(StateDisconnected))
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement("[abc] The browser got disconnected"))

			Eventually(func() string {
				mockClock.Add(f.Timeouts.Disconnected)

				return stateAfterDrain(w)()
			}).Should(Equal(StateExited))
		})

		It("ignores a disconnect while exiting", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ExitOnStop = false })
			w := newWorker()
			connect(w)
			w.Stop()
			w.OnDisconnected()

			Expect(w.State()).To(Equal(StateExiting))
		})

		It("ignores server reports that do not fit the state", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ExitOnStop = false })
			w := newWorker()
			w.OnCreated("abc")
			w.OnIdle()
			Expect(w.State()).To(Equal(StateConnecting))

			w.Stop()
			w.OnBusy()
			Expect(w.State()).To(Equal(StateExiting))
		})
	})

	Context("when stopped", func() {
		It("exits directly from the initial state", func() {
			w := newWorker()
			w.Stop()
			w.Stop()

			Expect(w.State()).To(Equal(StateExited))
			Expect(exits).To(Equal(1))
		})

		It("waits for the launcher to exit", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ExitOnStop = false })
			w := newWorker()
			connect(w)

			w.Stop()
			w.Stop()
			Expect(w.State()).To(Equal(StateExiting))
			Expect(provider.Last().StopCalls()).To(Equal(1))

			provider.Last().Events().Exit()
			scheduler.drain()
			Expect(w.State()).To(Equal(StateExited))
			Expect(exits).To(Equal(1))
		})

		It("exits after the exiting timeout and ignores a late exit", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ExitOnStop = false })
			w := newWorker()
			connect(w)
			w.Stop()

			Eventually(func() string {
				mockClock.Add(f.Timeouts.Exiting)

				return stateAfterDrain(w)()
			}).Should(Equal(StateExited))

			provider.Last().Events().Exit()
			scheduler.drain()
			Expect(w.State()).To(Equal(StateExited))
			Expect(exits).To(Equal(1))
		})

		It("exits when the launcher fails to stop", func() {
			provider.Set(func(p *launcher.MockProvider) { p.StopErr = errors.New("kill failed") })
			w := newWorker()
			connect(w)
			w.Stop()

			Expect(w.State()).To(Equal(StateExited))
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement("[abc] Error while stopping the launcher: kill failed"))
			Expect(exits).To(Equal(1))
		})
	})

	It("keeps its timeouts on the mock clock", func() {
		w := newWorker()
		w.OnCreated("abc")
		mockClock.Add(time.Second)
		scheduler.drain()

		Expect(w.State()).To(Equal(StateConnecting))
	})
})
