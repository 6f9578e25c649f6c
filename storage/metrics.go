/*
 * Copyright 2022 The utxowatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the storage engine. All methods are nil-safe so the
// engine can run without a registry.
type Metrics struct {
	retries *prometheus.CounterVec
	queries *prometheus.CounterVec
	tip     prometheus.Gauge
	pruned  *prometheus.CounterVec
}

// NewMetrics builds and registers the storage collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "utxowatch",
				Subsystem: "storage",
				Name:      "transaction_retries_total",
				Help:      "Transactions retried after a transient sqlite condition.",
			},
			[]string{"cause"},
		),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "utxowatch",
				Subsystem: "storage",
				Name:      "queries_total",
				Help:      "Operations executed against the store.",
			},
			[]string{"query"},
		),
		tip: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "utxowatch",
				Subsystem: "storage",
				Name:      "tip_slot",
				Help:      "Slot number of the most recent checkpoint.",
			},
		),
		pruned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "utxowatch",
				Subsystem: "storage",
				Name:      "pruned_rows_total",
				Help:      "Rows removed by retention pruning and garbage collection.",
			},
			[]string{"table"},
		),
	}
	reg.MustRegister(m.retries, m.queries, m.tip, m.pruned)
	return m
}

// ObserveRetry counts a transaction retry by transient cause.
func (m *Metrics) ObserveRetry(cause string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(cause).Inc()
}

// ObserveQuery counts a named operation.
func (m *Metrics) ObserveQuery(name string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(name).Inc()
}

// SetTip records the current tip slot.
func (m *Metrics) SetTip(slot uint64) {
	if m == nil {
		return
	}
	m.tip.Set(float64(slot))
}

// AddPruned counts rows removed from the given table.
func (m *Metrics) AddPruned(table string, n int64) {
	if m == nil {
		return
	}
	m.pruned.WithLabelValues(table).Add(float64(n))
}
