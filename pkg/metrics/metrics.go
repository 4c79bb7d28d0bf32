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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Component Labels.
	ComponentControlLoop = "control_loop"
	ComponentCoordinator = "coordinator"
	ComponentWorker      = "worker"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "browserfleet"
	subsystem = "coordinator"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	eventDuration = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_duration_milliseconds",
			Help:      "Time taken by a single event handler on the event loop (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
	)

	eventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Total number of events processed by the event loop",
		},
	)

	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "loop_starved_total_seconds",
			Help:      "Total seconds a single event handler blocked the event loop past the starvation threshold",
		},
	)

	instanceCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "instances",
			Help:      "Number of live workers per tag",
		},
		[]string{"tag"},
	)

	workersStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workers_started_total",
			Help:      "Total number of workers created per browser",
		},
		[]string{"browser"},
	)

	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total number of state machine transitions",
		},
		[]string{"component", "from", "to"},
	)

	stateTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_timeouts_total",
			Help:      "Total number of states left because their timeout elapsed",
		},
		[]string{"component", "state"},
	)

	factoryDisabled = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "factory_disabled",
			Help:      "1 if the factory no longer creates workers, 0 otherwise",
		},
		[]string{"browser", "factory"},
	)
)

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// ObserveEventDuration records the run time of one event handler.
func ObserveEventDuration(duration time.Duration) {
	eventsProcessed.Inc()
	eventDuration.Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime adds to the starvation counter.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// SetInstanceCount publishes the live worker count of a tag.
func SetInstanceCount(tag string, count int) {
	instanceCount.WithLabelValues(tag).Set(float64(count))
}

// AddWorkersStarted counts newly created workers of a browser.
func AddWorkersStarted(browser string, count int) {
	workersStarted.WithLabelValues(browser).Add(float64(count))
}

// ObserveTransition counts a state change of a state machine.
func ObserveTransition(component, from, to string) {
	stateTransitions.WithLabelValues(component, from, to).Inc()
}

// IncStateTimeout counts an elapsed state timeout.
func IncStateTimeout(component, state string) {
	stateTimeouts.WithLabelValues(component, state).Inc()
}

// SetFactoryDisabled publishes whether a factory is disabled.
func SetFactoryDisabled(browser, factory string, disabled bool) {
	value := 0.0
	if disabled {
		value = 1
	}

	factoryDisabled.WithLabelValues(browser, factory).Set(value)
}
