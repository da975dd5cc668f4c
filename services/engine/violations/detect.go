// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package violations

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crucible-eval/crucible/services/engine/diffrecord"
)

const tracerName = "crucible/violations"

// Input is the read-only view every rule predicate receives.
type Input struct {
	Diff   *diffrecord.Record
	Logs   Logs
	Policy Policy
}

// ruleFunc is one pure predicate: same input, same records, no side
// effects.
type ruleFunc func(in *Input) []ViolationRecord

// rule pairs an id with its predicate. The id on emitted records must
// match; the table is the single source of truth for catalog
// membership.
type rule struct {
	id  string
	run ruleFunc
}

// catalog lists all 22 rules. Declaration order is documentation only;
// evaluation is order-independent.
var catalog = []rule{
	// Instant-fail class.
	{"test-deletion", ruleTestDeletion},
	{"test-skip-marker", ruleTestSkipMarker},
	{"test-hash-missing", ruleTestHashMissing},
	{"build-registration-decrease", ruleBuildRegistrationDecrease},
	{"ci-gating-disabled", ruleCIGatingDisabled},
	{"assertion-macro-noop", ruleAssertionMacroNoop},
	{"env-bypass", ruleEnvBypass},

	// Point-penalty class.
	{"assertion-weakening", ruleAssertionWeakening},
	{"warning-suppression", ruleWarningSuppression},
	{"trivial-test", ruleTrivialTest},
	{"excessive-diff", ruleExcessiveDiff},
	{"incomplete-marker", ruleIncompleteMarker},
	{"build-warning-regression", ruleBuildWarningRegression},
	{"static-analysis-regression", ruleStaticAnalysisRegression},
	{"formatting-violation", ruleFormattingViolation},
	{"commented-out-code", ruleCommentedOutCode},
	{"fixture-tampering", ruleFixtureTampering},
	{"timeout-inflation", ruleTimeoutInflation},
	{"coverage-exclusion", ruleCoverageExclusion},
	{"error-swallowing", ruleErrorSwallowing},
	{"conditional-test-guard", ruleConditionalTestGuard},
	{"dependency-pin-loosening", ruleDependencyPinLoosening},
}

// Detect runs the full catalog against one candidate change.
//
// # Inputs
//
//   - diff: The structured diff between baseline and candidate.
//   - logs: Build/analysis counters from the reproduction steps.
//   - policy: The per-case policy (path exceptions, thresholds).
//
// # Outputs
//
//   - Report: All rule hits plus the instant-fail flag.
func Detect(ctx context.Context, diff *diffrecord.Record, logs Logs, policy Policy) Report {
	_, span := otel.Tracer(tracerName).Start(ctx, "violations.Detect")
	defer span.End()

	in := &Input{Diff: diff, Logs: logs, Policy: policy}

	var report Report
	for _, r := range catalog {
		for _, v := range r.run(in) {
			v.RuleID = r.id
			if v.Severity == SeverityInstantFail {
				report.InstantFail = true
			}
			report.Violations = append(report.Violations, v)
		}
	}

	sort.Slice(report.Violations, func(i, j int) bool {
		a, b := report.Violations[i], report.Violations[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.File < b.File
	})

	span.SetAttributes(
		attribute.Int("violations.count", len(report.Violations)),
		attribute.Bool("violations.instant_fail", report.InstantFail),
	)
	return report
}
