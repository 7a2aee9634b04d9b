// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Manager owns the prometheus registry and the verification counters.
type Manager struct {
	registry *prometheus.Registry

	Verifications    *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	EmailDispatches  *prometheus.CounterVec
	EmailGateIssued  prometheus.Counter
	EmailGateCleared prometheus.Counter
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licenser_verifications_total",
			Help: "License verification calls by outcome",
		}, []string{"endpoint", "outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licenser_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"limiter"}),
		EmailDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licenser_email_dispatches_total",
			Help: "Outgoing email dispatch attempts by result",
		}, []string{"kind", "result"}),
		EmailGateIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "licenser_email_gate_tokens_issued_total",
			Help: "Email verification tokens minted",
		}),
		EmailGateCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "licenser_email_gate_confirmed_total",
			Help: "Email verification tokens successfully confirmed",
		}),
	}

	registry.MustRegister(
		m.Verifications,
		m.RateLimited,
		m.EmailDispatches,
		m.EmailGateIssued,
		m.EmailGateCleared,
	)

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
