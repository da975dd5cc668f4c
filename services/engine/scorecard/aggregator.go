// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scorecard rolls per-case scores up into suite- and
// dataset-level statistics.
//
// # Description
//
// The aggregator computes, per suite and overall: attempted count,
// resolved count, resolved rate with a 95% Wilson interval, and a
// failure-taxonomy histogram assigning every non-passing case to
// exactly one category. Headline statistics are computed only over
// contamination-SAFE cases; FLAGGED cases are reported in their own
// segment and never blended into the primary rate.
package scorecard

import (
	"time"

	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/contamination"
	"github.com/crucible-eval/crucible/services/engine/scoring"
)

// =============================================================================
// Scorecard Types
// =============================================================================

// SuiteStats summarizes one slice of records.
type SuiteStats struct {
	Attempted    int      `json:"attempted"`
	Resolved     int      `json:"resolved"`
	ResolvedRate float64  `json:"resolved_rate"`
	CI           Interval `json:"resolved_rate_ci_95"`
}

// Efficiency aggregates the never-scored secondary metrics.
type Efficiency struct {
	MeanWallClockSeconds float64 `json:"mean_wall_clock_seconds"`
	MeanIterations       float64 `json:"mean_iterations"`
	MeanDiffSizeLines    float64 `json:"mean_diff_size_lines"`
	MeanTokensUsed       float64 `json:"mean_tokens_used"`
}

// ExclusionRecord is the auditable trace of a case removed from the
// resolved-rate denominator. Exclusions are explicit, never silent.
type ExclusionRecord struct {
	CaseID string `json:"case_id"`

	// Reason is "quarantine" (determinism), "infrastructure",
	// "attribution_ambiguous", "admission_rejected", or
	// "case_invalid".
	Reason string `json:"reason"`

	// Detail is the human-readable explanation.
	Detail string `json:"detail"`
}

// Scorecard is the aggregate for one (dataset version, model,
// baseline mode) run.
type Scorecard struct {
	DatasetVersion string    `json:"dataset_version"`
	Model          string    `json:"model"`
	BaselineMode   string    `json:"baseline_mode"`
	GeneratedAt    time.Time `json:"generated_at"`

	// Summary covers all SAFE cases across suites.
	Summary SuiteStats `json:"summary"`

	// BySuite slices SAFE cases per suite.
	BySuite map[casespec.Suite]SuiteStats `json:"by_suite"`

	// FailureTaxonomy buckets every non-resolved SAFE case.
	FailureTaxonomy map[FailureCategory]int `json:"failure_taxonomy"`

	// Efficiency averages secondary metrics over SAFE cases.
	Efficiency Efficiency `json:"efficiency"`

	// Flagged is the segregated contamination segment.
	Flagged SuiteStats `json:"flagged"`

	// Exclusions lists cases removed from the denominator.
	Exclusions []ExclusionRecord `json:"exclusions,omitempty"`
}

// =============================================================================
// Aggregation
// =============================================================================

// RunInfo identifies the aggregated run.
type RunInfo struct {
	DatasetVersion string
	Model          string
	BaselineMode   string
}

// Aggregate builds the scorecard from scored cases and their
// contamination classifications.
//
// A record whose case id has no classification is treated as FLAGGED:
// an unclassified case must never inflate the headline rate.
func Aggregate(info RunInfo, records []scoring.ScoreRecord, risks map[string]contamination.Risk, exclusions []ExclusionRecord) *Scorecard {
	card := &Scorecard{
		DatasetVersion:  info.DatasetVersion,
		Model:           info.Model,
		BaselineMode:    info.BaselineMode,
		GeneratedAt:     time.Now().UTC(),
		BySuite:         make(map[casespec.Suite]SuiteStats),
		FailureTaxonomy: make(map[FailureCategory]int),
		Exclusions:      exclusions,
	}

	var safe, flagged []scoring.ScoreRecord
	for _, r := range records {
		if risks[r.CaseID] == contamination.RiskSafe {
			safe = append(safe, r)
		} else {
			flagged = append(flagged, r)
		}
	}

	card.Summary = statsOf(safe)
	card.Flagged = statsOf(flagged)

	bySuite := make(map[casespec.Suite][]scoring.ScoreRecord)
	for _, r := range safe {
		bySuite[r.Suite] = append(bySuite[r.Suite], r)
	}
	for suite, slice := range bySuite {
		card.BySuite[suite] = statsOf(slice)
	}

	for _, r := range safe {
		if !r.Resolved {
			card.FailureTaxonomy[Categorize(r)]++
		}
	}

	card.Efficiency = efficiencyOf(safe)
	return card
}

// statsOf computes attempted/resolved/rate/CI for a record slice.
func statsOf(records []scoring.ScoreRecord) SuiteStats {
	stats := SuiteStats{Attempted: len(records)}
	for _, r := range records {
		if r.Resolved {
			stats.Resolved++
		}
	}
	if stats.Attempted > 0 {
		stats.ResolvedRate = float64(stats.Resolved) / float64(stats.Attempted)
	}
	stats.CI = WilsonInterval(stats.Resolved, stats.Attempted)
	return stats
}

// efficiencyOf averages secondary metrics.
func efficiencyOf(records []scoring.ScoreRecord) Efficiency {
	if len(records) == 0 {
		return Efficiency{}
	}
	var eff Efficiency
	for _, r := range records {
		eff.MeanWallClockSeconds += r.Secondary.WallClockSeconds
		eff.MeanIterations += float64(r.Secondary.Iterations)
		eff.MeanDiffSizeLines += float64(r.Secondary.DiffSizeLines)
		eff.MeanTokensUsed += float64(r.Secondary.TokensUsed)
	}
	n := float64(len(records))
	eff.MeanWallClockSeconds /= n
	eff.MeanIterations /= n
	eff.MeanDiffSizeLines /= n
	eff.MeanTokensUsed /= n
	return eff
}
