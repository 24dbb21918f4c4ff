/*
Copyright © 2024 the hycom authors.
This file is part of hycom.

hycom is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hycom is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hycom.  If not, see <http://www.gnu.org/licenses/>.
*/

package hycom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated during a run.
// A nil *Metrics records nothing.
type Metrics struct {
	attempts      *prometheus.CounterVec
	bytes         prometheus.Counter
	fetchDuration prometheus.Histogram
	days          *prometheus.CounterVec
	months        *prometheus.CounterVec
	running       prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hycom_fetch_attempts_total",
			Help: "HTTP fetch attempts by result.",
		}, []string{"result"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "hycom_fetch_bytes_total",
			Help: "Bytes downloaded from the subset service.",
		}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hycom_fetch_duration_seconds",
			Help:    "Duration of successful fetch attempts.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		days: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hycom_days_total",
			Help: "Days processed by outcome.",
		}, []string{"outcome"}),
		months: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hycom_months_total",
			Help: "Months processed by status.",
		}, []string{"status"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "hycom_run_active",
			Help: "1 while a run is in progress.",
		}),
	}
}

func (m *Metrics) attempt(result string, d time.Duration, n int64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
	if result == "success" {
		m.bytes.Add(float64(n))
		m.fetchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) day(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.days.WithLabelValues("success").Inc()
	} else {
		m.days.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) month(status MonthStatus) {
	if m == nil {
		return
	}
	m.months.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) setRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
