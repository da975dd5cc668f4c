// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transitions compares baseline and candidate test outcomes
// against a case's declared transition sets.
//
// # Description
//
// A case declares fail_to_pass tests (must flip FAIL -> PASS under the
// candidate) and pass_to_pass tests (must stay PASS). The analyzer
// first checks the baseline precondition: every fail_to_pass test must
// actually fail on the pinned baseline and every pass_to_pass test
// must actually pass. A violated precondition marks the CASE invalid,
// not the candidate wrong; such cases are excluded, never scored.
//
// MISSING is never success: a required test absent from candidate
// output counts as unsatisfied, whatever the reason it disappeared.
package transitions

import (
	"github.com/crucible-eval/crucible/services/engine/repro"
)

// =============================================================================
// Verdict Types
// =============================================================================

// TestTransition is the observed movement of one declared test.
type TestTransition struct {
	// Test is the declared test id.
	Test string

	// Baseline and Candidate are the observed statuses.
	Baseline  repro.Status
	Candidate repro.Status

	// Satisfied reports whether the declared transition held.
	Satisfied bool
}

// Verdict is the full transition analysis for one candidate.
type Verdict struct {
	// CaseInvalid is set when the baseline violated a declared
	// precondition. The candidate is not at fault; the case must be
	// excluded from scoring.
	CaseInvalid bool

	// InvalidReason names the first violated precondition.
	InvalidReason string

	// FailToPass holds per-test results for the fail_to_pass set.
	FailToPass []TestTransition

	// PassToPass holds per-test results for the pass_to_pass set.
	PassToPass []TestTransition

	// F2PSatisfied is true when every fail_to_pass test flipped.
	F2PSatisfied bool

	// P2PSatisfied is true when no pass_to_pass test regressed.
	P2PSatisfied bool
}

// Satisfied reports overall success: valid case, all required flips,
// no regressions.
func (v *Verdict) Satisfied() bool {
	return !v.CaseInvalid && v.F2PSatisfied && v.P2PSatisfied
}

// Regressions lists pass_to_pass tests the candidate broke.
func (v *Verdict) Regressions() []string {
	var out []string
	for _, t := range v.PassToPass {
		if !t.Satisfied {
			out = append(out, t.Test)
		}
	}
	return out
}

// UnsatisfiedF2P lists fail_to_pass tests that did not flip.
func (v *Verdict) UnsatisfiedF2P() []string {
	var out []string
	for _, t := range v.FailToPass {
		if !t.Satisfied {
			out = append(out, t.Test)
		}
	}
	return out
}

// =============================================================================
// Analysis
// =============================================================================

// Analyze evaluates the declared transition sets against observed
// baseline and candidate results.
//
// Precondition check order is fail_to_pass first, then pass_to_pass;
// the first violation wins and short-circuits into CaseInvalid. A
// baseline MISSING for a declared test is itself a precondition
// violation: the recipe does not exercise the test it claims to.
func Analyze(baseline, candidate *repro.ExecutionResult, failToPass, passToPass []string) *Verdict {
	v := &Verdict{F2PSatisfied: true, P2PSatisfied: true}

	for _, test := range failToPass {
		base := baseline.StatusOf(test)
		if base != repro.StatusFail {
			v.CaseInvalid = true
			v.InvalidReason = "fail_to_pass test " + test + " was " + string(base) + " on baseline"
			return v
		}
	}
	for _, test := range passToPass {
		base := baseline.StatusOf(test)
		if base != repro.StatusPass {
			v.CaseInvalid = true
			v.InvalidReason = "pass_to_pass test " + test + " was " + string(base) + " on baseline"
			return v
		}
	}

	for _, test := range failToPass {
		cand := candidate.StatusOf(test)
		tr := TestTransition{
			Test:      test,
			Baseline:  repro.StatusFail,
			Candidate: cand,
			Satisfied: cand == repro.StatusPass,
		}
		if !tr.Satisfied {
			v.F2PSatisfied = false
		}
		v.FailToPass = append(v.FailToPass, tr)
	}

	for _, test := range passToPass {
		cand := candidate.StatusOf(test)
		tr := TestTransition{
			Test:      test,
			Baseline:  repro.StatusPass,
			Candidate: cand,
			Satisfied: cand == repro.StatusPass,
		}
		if !tr.Satisfied {
			v.P2PSatisfied = false
		}
		v.PassToPass = append(v.PassToPass, tr)
	}

	return v
}
