// Copyright 2025 Centerline
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

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centerline_turns_total",
			Help: "Total number of conversational turns processed",
		},
		[]string{"tenant", "outcome"},
	)
	promTurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "centerline_turn_duration_milliseconds",
			Help:    "End-to-end turn duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"tenant"},
	)
	promInferenceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centerline_inference_calls_total",
			Help: "Total number of inference service calls",
		},
		[]string{"kind", "status"},
	)
	promToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centerline_tool_calls_total",
			Help: "Total number of tool invocations executed",
		},
		[]string{"origin", "status"},
	)
	promDegradedTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centerline_degraded_turns_total",
			Help: "Total number of turns completed in degraded mode",
		},
		[]string{"tenant", "reason"},
	)
)

func init() {
	prometheus.MustRegister(promTurnsTotal)
	prometheus.MustRegister(promTurnDuration)
	prometheus.MustRegister(promInferenceCalls)
	prometheus.MustRegister(promToolCalls)
	prometheus.MustRegister(promDegradedTurns)
}
