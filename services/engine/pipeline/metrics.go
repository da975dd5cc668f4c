// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the run counter.
const (
	outcomeResolved   = "resolved"
	outcomeUnresolved = "unresolved"
	outcomeExcluded   = "excluded"
)

var (
	caseRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crucible",
		Name:      "case_runs_total",
		Help:      "Case evaluations by outcome.",
	}, []string{"outcome"})

	caseRunSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "crucible",
		Name:      "case_run_seconds",
		Help:      "Wall-clock duration of one case evaluation.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
