// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring turns transition verdicts and violation reports into
// per-case scores.
//
// Every suite defines its own base-score formula on [0, 100]. The
// final-score rule is suite-independent: an instant-fail violation
// zeroes the score unconditionally; otherwise penalties subtract from
// the base, floored at zero. Secondary metrics are recorded on the
// ScoreRecord but never enter the final score.
package scoring

import (
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/violations"
)

// SuiteMetrics carries the suite-specific measurements the composite
// formulas consume. Only the fields for the case's suite are read.
// The yaml tags are the sidecar metrics file schema.
type SuiteMetrics struct {
	// SpecItemsCovered / SpecItemsTotal measure feature-impl spec
	// coverage.
	SpecItemsCovered int `yaml:"spec_items_covered,omitempty"`
	SpecItemsTotal   int `yaml:"spec_items_total,omitempty"`

	// TestQuality, BuildHygiene, DocsQuality are graded components in
	// [0, 1] for the composite suites.
	TestQuality  float64 `yaml:"test_quality,omitempty"`
	BuildHygiene float64 `yaml:"build_hygiene,omitempty"`
	DocsQuality  float64 `yaml:"docs_quality,omitempty"`

	// CoverageBefore / CoverageAfter / CoverageTarget drive the
	// tests-coverage delta scaling, all in [0, 100] percent.
	CoverageBefore float64 `yaml:"coverage_before,omitempty"`
	CoverageAfter  float64 `yaml:"coverage_after,omitempty"`
	CoverageTarget float64 `yaml:"coverage_target,omitempty"`

	// BehaviorPreserved in [0, 1] grades refactor goal attainment.
	BehaviorPreserved float64 `yaml:"behavior_preserved,omitempty"`

	// RelevantRanks holds, for each relevant retrieval item, its
	// 1-based rank in the returned list (0 = not returned).
	RelevantRanks []int `yaml:"relevant_ranks,omitempty"`

	// ReviewTruePositives / FalsePositives / FalseNegatives drive the
	// review F1.
	ReviewTruePositives  int `yaml:"review_true_positives,omitempty"`
	ReviewFalsePositives int `yaml:"review_false_positives,omitempty"`
	ReviewFalseNegatives int `yaml:"review_false_negatives,omitempty"`
}

// Secondary metrics are observability data: recorded, audited, never
// scored.
type Secondary struct {
	Iterations       int     `json:"iterations,omitempty"`
	WallClockSeconds float64 `json:"wall_clock_seconds,omitempty"`
	TokensUsed       int     `json:"tokens_used,omitempty"`
	DiffSizeLines    int     `json:"diff_size_lines,omitempty"`
}

// ScoreRecord is the scored outcome of one case evaluation.
type ScoreRecord struct {
	CaseID string         `json:"case_id"`
	Suite  casespec.Suite `json:"suite"`

	// BaseScore is the suite formula's output in [0, 100].
	BaseScore float64 `json:"base_score"`

	// Violations lists every rule hit from detection, plus any
	// regression violation synthesized from the transition verdict.
	Violations []violations.ViolationRecord `json:"violations,omitempty"`

	// PenaltyPoints is the capped penalty sum actually subtracted.
	PenaltyPoints int `json:"penalty_points"`

	// InstantFail mirrors the violation report; final and absolute.
	InstantFail bool `json:"instant_fail"`

	// FinalScore is 0 on instant fail, else max(0, base - penalties).
	FinalScore float64 `json:"final_score"`

	// Resolved reports whether FinalScore met the suite's threshold.
	Resolved bool `json:"resolved"`

	// WrongRepo marks a multi-repo fix applied outside correct_repo.
	WrongRepo bool `json:"wrong_repo,omitempty"`

	// Failure carries the reproduction failure class for the taxonomy.
	Failure repro.FailureClass `json:"failure_class,omitempty"`

	// Secondary holds the never-scored efficiency metrics.
	Secondary Secondary `json:"secondary"`
}

// PassThreshold returns the final score a suite requires for a case
// to count as resolved.
func PassThreshold(suite casespec.Suite) float64 {
	switch suite {
	case casespec.SuiteCIFix, casespec.SuiteIssueFix:
		return 100
	case casespec.SuiteRetrieval, casespec.SuiteReview:
		return 60
	default:
		return 70
	}
}
