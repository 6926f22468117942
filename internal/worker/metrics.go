// Copyright 2025 Tom Barlow
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backlogActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "substrate_worker_active_runs",
		Help: "Number of runs currently executing on this worker.",
	})
	backlogWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "substrate_worker_waiting_items",
		Help: "Number of queue items ready but not yet claimed.",
	})
	runsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substrate_worker_runs_completed_total",
		Help: "Total runs that finished with status=success.",
	})
	runsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "substrate_worker_runs_failed_total",
		Help: "Total runs that finished with status=error or were dropped before executing.",
	})
)
