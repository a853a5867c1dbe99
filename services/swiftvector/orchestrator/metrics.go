// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftvector_submissions_total",
		Help: "Proposals processed by the state container, by origin and outcome",
	}, []string{"origin", "outcome"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swiftvector_pipeline_duration_seconds",
		Help:    "Time from dequeue to publish for one proposal",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"origin"})

	logEntriesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swiftvector_audit_log_entries",
		Help: "Entries in the in-memory audit log",
	}, []string{"session_id"})

	integrityFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftvector_integrity_failures_total",
		Help: "Chain verification or replay divergence failures",
	}, []string{"operation"})

	governanceVetoesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftvector_governance_vetoes_total",
		Help: "Proposals vetoed by the governance gate, by rule",
	}, []string{"rule"})

	reducerContractViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftvector_reducer_contract_violations_total",
		Help: "Rejected verdicts whose state differed from the input state",
	})
)

const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)
