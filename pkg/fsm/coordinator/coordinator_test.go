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

package coordinator

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/browserfleet/pkg/communicator"
	"github.com/united-manufacturing-hub/browserfleet/pkg/config"
	"github.com/united-manufacturing-hub/browserfleet/pkg/fsm/worker"
	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

const server = "http://localhost:7777"

func pending(name string, remaining int, running int) communicator.BrowserStatus {
	return communicator.BrowserStatus{Name: name, RemainingTasks: remaining, RunningTasks: running}
}

func statusOf(browsers ...communicator.BrowserStatus) communicator.Status {
	return communicator.Status{Campaigns: []communicator.Campaign{{ID: "campaign1", Browsers: browsers}}}
}

func mockTemplate(general map[string]any) config.LauncherRef {
	inline := map[string]any{"$launcher": launcher.MockKind}
	for key, value := range general {
		inline["$"+key] = value
	}

	return config.LauncherRef{Inline: inline}
}

var _ = Describe("Coordinator", func() {
	var (
		mockClock *clock.Mock
		scheduler *manualScheduler
		provider  *launcher.MockProvider
		registry  *launcher.Registry
		client    *communicator.MockClient
		logs      *observer.ObservedLogs
		coord     *Coordinator
	)

	create := func(settings config.Config) {
		core, observed := observer.New(zapcore.DebugLevel)
		logs = observed
		log := zap.New(core).Sugar()

		if settings.Server == "" {
			settings.Server = server
		}

		coord = New(Config{
			Settings:     settings,
			Registry:     registry,
			Client:       client,
			Clock:        mockClock,
			Scheduler:    scheduler,
			Logger:       log,
			WorkerLogger: log,
		})
	}

	start := func(settings config.Config) {
		create(settings)
		Expect(coord.Start(context.Background())).To(Succeed())
		scheduler.drain()
	}

	firefox := func(general map[string]any) config.Config {
		return config.Config{
			Browsers: map[string]config.BrowserLaunchers{"Firefox": {mockTemplate(general)}},
		}
	}

	messages := func(level zapcore.Level) []string {
		var out []string
		for _, entry := range logs.FilterLevelExact(level).All() {
			out = append(out, entry.Message)
		}

		return out
	}

	isDone := func() bool {
		select {
		case <-coord.Done():
			return true
		default:
			return false
		}
	}

	BeforeEach(func() {
		mockClock = clock.NewMock()
		scheduler = &manualScheduler{}
		provider = launcher.NewMockProvider()
		registry = launcher.NewRegistry()
		registry.Register(launcher.MockKind, provider.New)
		client = communicator.NewMockClient(communicator.Status{})
	})

	Context("when there is nothing to do", func() {
		It("asks for the status once and exits", func() {
			start(config.Config{Browsers: map[string]config.BrowserLaunchers{}})

			Expect(coord.State()).To(Equal(StateExited))
			Expect(isDone()).To(BeTrue())
			Expect(client.SentOfType(communicator.TypeHello)).To(Equal(1))
			Expect(client.SentOfType(communicator.TypeStatus)).To(Equal(1))
			Expect(client.SentOfType(communicator.TypeWorkerCreate)).To(BeZero())
			Expect(client.IsDisconnected()).To(BeTrue())
			Expect(messages(zapcore.InfoLevel)).To(Equal([]string{
				"Connecting to " + server,
				"Connected to " + server,
				"Nothing left to do, disconnecting",
				"Disconnected from " + server,
				"Exiting.",
			}))
			Expect(messages(zapcore.WarnLevel)).To(BeEmpty())
			Expect(messages(zapcore.ErrorLevel)).To(BeEmpty())
		})

		It("ignores browsers it has no launcher for", func() {
			client.SetStatus(statusOf(pending("Safari", 100, 0)))
			start(firefox(nil))

			Expect(coord.State()).To(Equal(StateExited))
			Expect(provider.Instances()).To(BeEmpty())
		})
	})

	Context("when a browser has pending tasks", func() {
		It("starts a worker, stops it when idle and exits", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ExitOnStop = false })
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(firefox(nil))

			Expect(coord.State()).To(Equal(StateRunning))
			Expect(messages(zapcore.InfoLevel)).To(ContainElement(
				"1 instance(s) of Firefox will be started with $mock to execute 10 remaining task(s)"))
			Expect(provider.Instances()).To(HaveLen(1))

			m := provider.Last()
			Expect(m.Started()).To(BeTrue())

			u, err := url.Parse(m.URL())
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Hostname()).To(Equal("localhost"))
			Expect(u.Port()).To(Equal("7777"))
			Expect(u.Query().Get("id")).To(Equal("1-mock"))

			client.WorkerConnected("1-mock", "Firefox 128", "Firefox")
			scheduler.drain()
			Expect(coord.workersByID["1-mock"].State()).To(Equal(worker.StateConnected))

			client.SetStatus(statusOf(pending("Firefox", 0, 0)))
			client.WorkerIdle("1-mock")
			scheduler.drain()

			mockClock.Add(100 * time.Millisecond)
			Eventually(func() int {
				scheduler.drain()

				return m.StopCalls()
			}).Should(Equal(1))

			client.WorkerDisconnected("1-mock")
			scheduler.drain()
			Expect(coord.State()).To(Equal(StateRunning))

			m.Events().Exit()
			scheduler.drain()

			Expect(coord.State()).To(Equal(StateExited))
			Expect(isDone()).To(BeTrue())
			Expect(client.SentOfType(communicator.TypeWorkerDelete)).To(Equal(1))
			Expect(client.Workers()).To(BeEmpty())
			Expect(coord.InstanceCount("Any")).To(BeZero())
			Expect(messages(zapcore.WarnLevel)).To(BeEmpty())
			Expect(messages(zapcore.ErrorLevel)).To(BeEmpty())
		})

		It("describes itself in a snapshot", func() {
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(firefox(nil))
			client.WorkerConnected("1-mock", "Firefox 128", "Firefox")
			scheduler.drain()

			snapshot := coord.Snapshot()
			Expect(snapshot.State).To(Equal(StateRunning))
			Expect(snapshot.Server).To(Equal(server))
			Expect(snapshot.Connected).To(BeTrue())
			Expect(snapshot.AwaitingID).To(BeZero())
			Expect(snapshot.InstanceCounts).To(HaveKeyWithValue("Any", 1))
			Expect(snapshot.Workers).To(Equal([]WorkerSnapshot{
				{ID: "1-mock", Browser: "Firefox", Factory: "$mock", State: worker.StateConnected},
			}))
			Expect(snapshot.Factories).To(HaveLen(1))
			Expect(snapshot.Factories[0].RemainingConnectionRetries).To(Equal(3))
		})
	})

	Context("when scheduling workers", func() {
		BeforeEach(func() {
			client.ManualGrants = true
		})

		DescribeTable("starts one worker per ten pending tasks, within the factory limit",
			func(remaining int, running int, expected int) {
				client.SetStatus(statusOf(pending("Firefox", remaining, running)))
				start(firefox(map[string]any{"maxInstances": 5}))

				Expect(coord.InstanceCount("Browser_Firefox")).To(Equal(expected))
				Expect(client.SentOfType(communicator.TypeWorkerCreate)).To(Equal(expected))
				Expect(client.PendingGrants()).To(Equal(expected))
			},
			Entry("a single task", 1, 0, 1),
			Entry("less than ten tasks", 9, 0, 1),
			Entry("ten tasks", 10, 0, 1),
			Entry("nineteen tasks", 19, 0, 1),
			Entry("twenty tasks", 20, 0, 2),
			Entry("thirty five tasks", 35, 0, 3),
			Entry("more tasks than the factory allows", 100, 0, 5),
			Entry("running tasks are not pending", 30, 25, 1),
		)

		It("sums the pending tasks of all campaigns", func() {
			client.SetStatus(communicator.Status{Campaigns: []communicator.Campaign{
				{ID: "a", Browsers: []communicator.BrowserStatus{pending("Firefox", 10, 0)}},
				{ID: "b", Browsers: []communicator.BrowserStatus{pending("Firefox", 10, 0)}},
			}})
			start(firefox(map[string]any{"maxInstances": 5}))

			Expect(coord.InstanceCount("Browser_Firefox")).To(Equal(2))
		})

		It("honors the configured tag limits", func() {
			client.SetStatus(statusOf(pending("Firefox", 100, 0)))
			settings := firefox(map[string]any{"maxInstances": 5})
			settings.MaxInstances = map[string]int{"Browser_Firefox": 3}
			start(settings)

			Expect(coord.InstanceCount("Any")).To(Equal(3))
		})

		It("does not start more workers for a repeated status", func() {
			status := statusOf(pending("Firefox", 100, 0))
			client.SetStatus(status)
			start(firefox(map[string]any{"maxInstances": 5}))
			Expect(coord.State()).To(Equal(StateRunning))

			coord.onStatus(status)
			scheduler.drain()

			Expect(coord.InstanceCount("Any")).To(Equal(5))
			Expect(client.SentOfType(communicator.TypeWorkerCreate)).To(Equal(5))
		})

		It("serves the browser with the most pending tasks first", func() {
			client.SetStatus(statusOf(pending("Firefox", 50, 0), pending("Chrome", 100, 0)))
			desktop := map[string]any{"maxInstances": 5, "tags": []any{"desktop"}}
			start(config.Config{
				Browsers: map[string]config.BrowserLaunchers{
					"Firefox": {mockTemplate(desktop)},
					"Chrome":  {mockTemplate(desktop)},
				},
				MaxInstances: map[string]int{"Tag_desktop": 2},
			})

			Expect(coord.InstanceCount("Browser_Chrome")).To(Equal(2))
			Expect(coord.InstanceCount("Browser_Firefox")).To(BeZero())
			Expect(coord.InstanceCount("Tag_desktop")).To(Equal(2))
		})

		It("moves on to the next factory of a browser", func() {
			client.SetStatus(statusOf(pending("Firefox", 30, 0)))
			start(config.Config{
				Browsers: map[string]config.BrowserLaunchers{
					"Firefox": {
						mockTemplate(map[string]any{"maxInstances": 1}),
						mockTemplate(map[string]any{"maxInstances": 5}),
					},
				},
			})

			factories := coord.Factories("Firefox")
			Expect(coord.InstanceCount(factories[0].Tag)).To(Equal(1))
			Expect(coord.InstanceCount(factories[1].Tag)).To(Equal(2))
		})

		It("skips disabled factories", func() {
			client.SetStatus(statusOf(pending("Firefox", 30, 0)))
			create(config.Config{
				Browsers: map[string]config.BrowserLaunchers{
					"Firefox": {
						mockTemplate(map[string]any{"maxInstances": 5}),
						mockTemplate(map[string]any{"maxInstances": 5}),
					},
				},
			})
			Expect(coord.Start(context.Background())).To(Succeed())

			factories := coord.Factories("Firefox")
			factories[0].Disable()
			scheduler.drain()

			Expect(coord.InstanceCount(factories[0].Tag)).To(BeZero())
			Expect(coord.InstanceCount(factories[1].Tag)).To(Equal(3))
		})

		It("hands out ids in the order the workers were created", func() {
			client.SetStatus(statusOf(pending("Firefox", 20, 0)))
			start(firefox(map[string]any{"maxInstances": 5}))
			Expect(coord.awaitingID).To(HaveLen(2))

			first, second := coord.awaitingID[0], coord.awaitingID[1]
			id1 := client.Grant()
			id2 := client.Grant()
			scheduler.drain()

			Expect(coord.awaitingID).To(BeEmpty())
			Expect(coord.workersByID[id1]).To(BeIdenticalTo(first))
			Expect(coord.workersByID[id2]).To(BeIdenticalTo(second))
			Expect(first.State()).To(Equal(worker.StateConnecting))
			Expect(provider.Instances()).To(HaveLen(2))
		})

		It("releases ids nobody waits for", func() {
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(firefox(nil))
			client.Grant()
			extra := client.Grant()
			scheduler.drain()

			Expect(client.SentOfType(communicator.TypeWorkerDelete)).To(Equal(1))
			Expect(client.Workers()).NotTo(ContainElement(extra))
			Expect(messages(zapcore.DebugLevel)).To(ContainElement("Sending slaveDelete " + extra))
		})
	})

	Context("when workers fail to connect", func() {
		It("starts a replacement and restores the retries on success", func() {
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(firefox(nil))

			provider.Last().Events().Exit()
			scheduler.drain()

			f := coord.Factories("Firefox")[0]
			Expect(f.RemainingConnectionRetries).To(Equal(2))
			Expect(provider.Instances()).To(HaveLen(2))
			Expect(client.SentOfType(communicator.TypeWorkerDelete)).To(Equal(1))
			Expect(coord.State()).To(Equal(StateRunning))

			client.WorkerConnected("2-mock", "Firefox 128", "Firefox")
			scheduler.drain()

			Expect(f.RemainingConnectionRetries).To(Equal(3))
		})

		It("gives up after the last retry and exits", func() {
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(firefox(nil))

			for i := 0; i < 3; i++ {
				provider.Last().Events().Exit()
				scheduler.drain()
			}

			Expect(provider.Instances()).To(HaveLen(3))
			Expect(coord.Factories("Firefox")[0].IsDisabled()).To(BeTrue())
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement(
				"[3-mock] Creating instances of Firefox with $mock failed 3 time(s), giving up!"))
			Expect(coord.State()).To(Equal(StateExited))
		})

		It("keeps an exhausted factory disabled when a sibling connects", func() {
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(config.Config{
				Browsers: map[string]config.BrowserLaunchers{
					"Firefox": {
						mockTemplate(map[string]any{"maxInstances": 1}),
						mockTemplate(map[string]any{"maxInstances": 1}),
					},
				},
			})
			factories := coord.Factories("Firefox")

			for i := 0; i < 3; i++ {
				Expect(coord.InstanceCount(factories[0].Tag)).To(Equal(1))
				provider.Last().Events().Exit()
				scheduler.drain()
			}

			Expect(factories[0].IsDisabled()).To(BeTrue())
			Expect(provider.Instances()).To(HaveLen(4))
			Expect(coord.InstanceCount(factories[0].Tag)).To(BeZero())
			Expect(coord.InstanceCount(factories[1].Tag)).To(Equal(1))

			client.WorkerConnected("4-mock", "Firefox 128", "Firefox")
			scheduler.drain()

			Expect(factories[1].RemainingConnectionRetries).To(Equal(3))
			Expect(factories[0].RemainingConnectionRetries).To(BeZero())
			Expect(factories[0].IsDisabled()).To(BeTrue())

			coord.onStatus(statusOf(pending("Firefox", 30, 0)))
			scheduler.drain()

			Expect(coord.InstanceCount(factories[0].Tag)).To(BeZero())
			Expect(provider.Instances()).To(HaveLen(4))
		})
	})

	Context("when the server misbehaves", func() {
		It("drops the connection when the status does not come", func() {
			client.SilentStatus = true
			start(firefox(nil))
			Expect(coord.State()).To(Equal(StateWaitingStatus))

			mockClock.Add(10 * time.Second)
			Eventually(func() string {
				scheduler.drain()

				return coord.State()
			}).Should(Equal(StateExited))
			Expect(messages(zapcore.ErrorLevel)).To(ContainElement("Timeout while waiting for the status of the server."))
		})

		It("reports events about unknown workers", func() {
			client.SetStatus(statusOf(pending("Firefox", 10, 0)))
			start(firefox(nil))

			client.WorkerBusy("unknown")
			scheduler.drain()

			Expect(messages(zapcore.ErrorLevel)).To(ContainElement("slaveBusy unknown: ASSERT FAILED, worker not found!"))
			Expect(coord.State()).To(Equal(StateRunning))
		})

		It("exits when it cannot connect", func() {
			client.ConnectErr = errors.New("connection refused")
			start(firefox(nil))

			Expect(coord.State()).To(Equal(StateExited))
			Expect(isDone()).To(BeTrue())
			Expect(client.Sent()).To(BeEmpty())
			Expect(messages(zapcore.ErrorLevel)).To(ConsistOf("Could not connect to " + server + ": connection refused"))
		})
	})

	Context("when starting", func() {
		It("returns configuration errors without connecting", func() {
			create(config.Config{})

			Expect(coord.Start(context.Background())).To(MatchError(standarderrors.ErrMissingBrowsers))
			Expect(client.IsConnected()).To(BeFalse())
			Expect(coord.State()).To(Equal(StateInit))

			coord.Stop()
			Expect(isDone()).To(BeTrue())
		})

		It("refuses to start twice", func() {
			start(firefox(nil))

			Expect(coord.Start(context.Background())).NotTo(Succeed())
		})
	})

	Context("when stopped", func() {
		It("waits for the running workers to exit", func() {
			provider.Set(func(p *launcher.MockProvider) { p.ExitOnStop = false })
			client.SetStatus(statusOf(pending("Firefox", 20, 0)))
			start(firefox(map[string]any{"maxInstances": 5}))
			Expect(provider.Instances()).To(HaveLen(2))

			coord.Stop()
			scheduler.drain()

			Expect(coord.State()).To(Equal(StateExiting))
			Expect(coord.InstanceCount("Any")).To(Equal(2))

			for _, m := range provider.Instances() {
				Expect(m.StopCalls()).To(Equal(1))
				m.Events().Exit()
			}

			scheduler.drain()

			Expect(coord.State()).To(Equal(StateExited))
			Expect(isDone()).To(BeTrue())
			Expect(client.SentOfType(communicator.TypeWorkerDelete)).To(BeZero())
		})

		It("drops workers still waiting for an id when the server leaves", func() {
			client.ManualGrants = true
			client.SetStatus(statusOf(pending("Firefox", 20, 0)))
			start(firefox(map[string]any{"maxInstances": 5}))
			Expect(coord.awaitingID).To(HaveLen(2))

			client.Drop()
			scheduler.drain()

			Expect(coord.awaitingID).To(BeEmpty())
			Expect(coord.InstanceCount("Any")).To(BeZero())
			Expect(coord.State()).To(Equal(StateExited))
			Expect(provider.Instances()).To(BeEmpty())
		})
	})
})
