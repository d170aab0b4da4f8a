// Copyright 2025 The Pipebench Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loadgen

import "github.com/prometheus/client_golang/prometheus"

var (
	registry = prometheus.NewRegistry()

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipebench",
			Name:      "operations_total",
			Help:      "Total amount of operations issued, by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipebench",
			Name:      "operation_duration_seconds",
			Help:      "Operation round-trip duration.",
			Buckets:   prometheus.LinearBuckets(0.005, 0.025, 20),
		},
		[]string{"operation"},
	)
)

func init() {
	registry.MustRegister(operationsTotal, operationDuration)
}

// Registry exposes the workload metrics for the optional telemetry listener.
func Registry() *prometheus.Registry {
	return registry
}
