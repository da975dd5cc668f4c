// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package violations is the anti-gaming rule catalog.
//
// # Description
//
// Detect runs an ordered catalog of independent, pure rule predicates
// over the structured diff, build/test logs, and the per-case path
// policy. Rules never mutate shared state and never read ambient
// configuration, so the catalog is order-independent and can run in
// parallel per case.
//
// Two severity classes exist. An instant-fail hit is final: the
// candidate scores zero regardless of every other signal. Point
// penalties accumulate additively, capped per category so overlapping
// evidence in one hunk cannot sink an otherwise-honest change without
// bound.
package violations

import (
	"sort"

	"github.com/crucible-eval/crucible/services/engine/casespec"
)

// =============================================================================
// Records
// =============================================================================

// Severity is the violation class.
type Severity string

const (
	// SeverityInstantFail forces the final score to zero.
	SeverityInstantFail Severity = "instant_fail"

	// SeverityPoints deducts the record's Points from the base score.
	SeverityPoints Severity = "points"
)

// Category groups point-penalty rules for the accumulation cap.
type Category string

const (
	// CategoryTestIntegrity covers rules about weakening or dodging
	// the test signal.
	CategoryTestIntegrity Category = "test_integrity"

	// CategorySuppression covers rules about silencing diagnostics.
	CategorySuppression Category = "suppression"

	// CategoryHygiene covers code and build hygiene regressions.
	CategoryHygiene Category = "hygiene"

	// CategoryScope covers change-size and scope rules.
	CategoryScope Category = "scope"
)

// ViolationRecord is one rule hit. Derived per run, never stored
// independently of the run that produced it.
type ViolationRecord struct {
	// RuleID names the rule that fired.
	RuleID string `json:"rule_id"`

	// Severity is instant_fail or points.
	Severity Severity `json:"severity"`

	// Points is the penalty for points-severity records, zero otherwise.
	Points int `json:"points,omitempty"`

	// Category groups the record for the per-category cap.
	Category Category `json:"category,omitempty"`

	// File is the path the evidence was found in ("" for tree-wide
	// rules).
	File string `json:"file,omitempty"`

	// Evidence is a human-readable description of what matched.
	Evidence string `json:"evidence"`
}

// =============================================================================
// Inputs
// =============================================================================

// Logs carries the build and analysis counters the reproducer extracts
// from step output on both sides of the change.
type Logs struct {
	// BuildWarningsBefore/After count compiler warnings at baseline
	// and candidate.
	BuildWarningsBefore int
	BuildWarningsAfter  int

	// StaticFindingsBefore/After count static-analysis findings.
	StaticFindingsBefore int
	StaticFindingsAfter  int

	// FormatDiagnostics counts formatter complaints on the candidate
	// tree (gofmt, black, clang-format — whatever the case pins).
	FormatDiagnostics int
}

// Policy parameterizes the catalog for one case. Passed explicitly
// into every rule; rules hold no ambient state.
type Policy struct {
	// Paths is the compiled per-case path policy. Every path check
	// consults allowed patterns first; an allowed path is never
	// flagged. Nil means no path exceptions.
	Paths *casespec.CompiledPolicy

	// MaxDiffLines is the excessive-diff threshold.
	MaxDiffLines int

	// EnvBypassInstantThreshold is the number of distinct
	// environment-based test bypass sites at which the severe point
	// penalty escalates to instant fail.
	EnvBypassInstantThreshold int

	// CategoryCap bounds accumulated penalties per category.
	CategoryCap int
}

// DefaultPolicy returns the catalog defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxDiffLines:              2000,
		EnvBypassInstantThreshold: 3,
		CategoryCap:               40,
	}
}

// pathAllowed reports whether the policy exempts the path.
func (p Policy) pathAllowed(path string) bool {
	return p.Paths != nil && p.Paths.Allowed(path)
}

// =============================================================================
// Report
// =============================================================================

// Report is the catalog's output for one candidate.
type Report struct {
	// Violations holds every rule hit, sorted by rule id then file
	// for stable output.
	Violations []ViolationRecord `json:"violations"`

	// InstantFail is true when any instant-fail rule hit. Final and
	// not overridable by an otherwise-good score.
	InstantFail bool `json:"instant_fail"`
}

// PenaltyPoints sums point penalties with the per-category cap
// applied.
func (r *Report) PenaltyPoints(cap int) int {
	byCategory := make(map[Category]int)
	for _, v := range r.Violations {
		if v.Severity == SeverityPoints {
			byCategory[v.Category] += v.Points
		}
	}
	total := 0
	for _, pts := range byCategory {
		if cap > 0 && pts > cap {
			pts = cap
		}
		total += pts
	}
	return total
}

// RuleIDs returns the distinct rule ids that fired, sorted.
func (r *Report) RuleIDs() []string {
	seen := make(map[string]bool)
	for _, v := range r.Violations {
		seen[v.RuleID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
