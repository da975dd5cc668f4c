// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/transitions"
	"github.com/crucible-eval/crucible/services/engine/violations"
)

// Score computes the ScoreRecord for one evaluated case.
//
// # Inputs
//
//   - def: The case under evaluation.
//   - verdict: The transition analysis (nil when reproduction never
//     produced comparable results, e.g. compile error).
//   - report: The violation catalog output.
//   - metrics: Suite-specific measurements.
//   - policy: The violation policy (category cap source).
//
// # Outputs
//
//   - ScoreRecord: Base score, penalties, final score, resolution.
func Score(def *casespec.CaseDefinition, verdict *transitions.Verdict, report violations.Report, metrics SuiteMetrics, policy violations.Policy) ScoreRecord {
	record := ScoreRecord{
		CaseID:      def.CaseID,
		Suite:       def.SuiteName,
		Violations:  report.Violations,
		InstantFail: report.InstantFail,
	}

	// A pass_to_pass regression is itself a violation: the candidate
	// broke working behavior to make its change land.
	if verdict != nil && !verdict.CaseInvalid && !verdict.P2PSatisfied {
		for _, test := range verdict.Regressions() {
			record.Violations = append(record.Violations, violations.ViolationRecord{
				RuleID:   "p2p-regression",
				Severity: violations.SeverityInstantFail,
				Evidence: "pass_to_pass test regressed: " + test,
			})
		}
		record.InstantFail = true
	}

	record.BaseScore = baseScore(def.SuiteName, verdict, metrics)

	if record.InstantFail {
		record.FinalScore = 0
	} else {
		cap := policy.CategoryCap
		if cap <= 0 {
			cap = violations.DefaultPolicy().CategoryCap
		}
		record.PenaltyPoints = report.PenaltyPoints(cap)
		record.FinalScore = record.BaseScore - float64(record.PenaltyPoints)
		if record.FinalScore < 0 {
			record.FinalScore = 0
		}
	}

	record.Resolved = record.FinalScore >= PassThreshold(def.SuiteName)
	return record
}

// baseScore dispatches to the suite formula.
func baseScore(suite casespec.Suite, verdict *transitions.Verdict, metrics SuiteMetrics) float64 {
	if fn, ok := suiteFormulas[suite]; ok {
		return clampScore(fn(verdict, metrics))
	}
	return 0
}

// clampScore bounds a formula result to [0, 100].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
