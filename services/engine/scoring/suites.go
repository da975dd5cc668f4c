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
)

// suiteFormula computes a base score in [0, 100].
type suiteFormula func(verdict *transitions.Verdict, metrics SuiteMetrics) float64

// suiteFormulas is the per-suite formula registry.
var suiteFormulas = map[casespec.Suite]suiteFormula{
	casespec.SuiteCIFix:         scoreBinary,
	casespec.SuiteIssueFix:      scoreBinary,
	casespec.SuiteFeatureImpl:   scoreFeatureImpl,
	casespec.SuiteTestsCoverage: scoreTestsCoverage,
	casespec.SuiteRefactor:      scoreRefactor,
	casespec.SuiteRetrieval:     scoreRetrieval,
	casespec.SuiteReview:        scoreReview,
}

// scoreBinary is all-or-nothing: the declared transitions either hold
// or they do not.
func scoreBinary(verdict *transitions.Verdict, _ SuiteMetrics) float64 {
	if verdict != nil && verdict.Satisfied() {
		return 100
	}
	return 0
}

// scoreFeatureImpl is the weighted composite: spec coverage 40, test
// quality 30, build hygiene 20, docs 10.
func scoreFeatureImpl(_ *transitions.Verdict, m SuiteMetrics) float64 {
	specCoverage := 0.0
	if m.SpecItemsTotal > 0 {
		specCoverage = float64(m.SpecItemsCovered) / float64(m.SpecItemsTotal)
	}
	return 40*specCoverage + 30*m.TestQuality + 20*m.BuildHygiene + 10*m.DocsQuality
}

// scoreTestsCoverage scales by achieved coverage delta relative to the
// case's target. New tests must also run clean: an unsatisfied
// transition verdict zeroes the base.
func scoreTestsCoverage(verdict *transitions.Verdict, m SuiteMetrics) float64 {
	if verdict == nil || !verdict.Satisfied() {
		return 0
	}
	target := m.CoverageTarget
	if target <= 0 {
		return 0
	}
	delta := m.CoverageAfter - m.CoverageBefore
	if delta <= 0 {
		return 0
	}
	return 100 * (delta / target)
}

// scoreRefactor weighs regression safety heaviest: 60 safety, 25 goal
// attainment, 15 build hygiene.
func scoreRefactor(verdict *transitions.Verdict, m SuiteMetrics) float64 {
	safety := 0.0
	if verdict != nil && !verdict.CaseInvalid {
		total := len(verdict.PassToPass)
		if total == 0 {
			safety = 1
		} else {
			intact := 0
			for _, tr := range verdict.PassToPass {
				if tr.Satisfied {
					intact++
				}
			}
			safety = float64(intact) / float64(total)
		}
	}
	return 60*safety + 25*m.BehaviorPreserved + 15*m.BuildHygiene
}

// scoreRetrieval averages recall and mean reciprocal rank over the
// relevant items. A rank of zero means the item was not returned.
func scoreRetrieval(_ *transitions.Verdict, m SuiteMetrics) float64 {
	if len(m.RelevantRanks) == 0 {
		return 0
	}
	retrieved := 0
	rrSum := 0.0
	for _, rank := range m.RelevantRanks {
		if rank > 0 {
			retrieved++
			rrSum += 1 / float64(rank)
		}
	}
	n := float64(len(m.RelevantRanks))
	recall := float64(retrieved) / n
	mrr := rrSum / n
	return 100 * (recall + mrr) / 2
}

// scoreReview is the precision/recall F1 over review comments.
func scoreReview(_ *transitions.Verdict, m SuiteMetrics) float64 {
	tp := float64(m.ReviewTruePositives)
	fp := float64(m.ReviewFalsePositives)
	fn := float64(m.ReviewFalseNegatives)
	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 100 * 2 * precision * recall / (precision + recall)
}
