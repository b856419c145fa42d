// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reef

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the practice API's Prometheus instruments on a
// private registry so multiple servers can coexist in one process.
type metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	violations  *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reef_requests_total",
			Help: "Requests by endpoint and status code",
		}, []string{"endpoint", "status"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reef_constraint_violations_total",
			Help: "Hidden constraint violations by endpoint and rule kind",
		}, []string{"endpoint", "rule"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reef_rate_limited_total",
			Help: "Requests rejected by rate limiting, by endpoint",
		}, []string{"endpoint"}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observe(endpoint string, status int) {
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *metrics) violation(endpoint, rule string) {
	m.violations.WithLabelValues(endpoint, rule).Inc()
}
