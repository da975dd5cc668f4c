// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repro

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/crucible-eval/crucible/services/engine/casespec"
)

// DeterminismRuns is the number of identical reproductions a target
// must survive to be trusted.
const DeterminismRuns = 3

// StabilityState tracks a determinism check in progress.
type StabilityState string

const (
	// StabilityRunning means more runs are needed.
	StabilityRunning StabilityState = "RUNNING"

	// StabilityStable means all completed runs agreed.
	StabilityStable StabilityState = "STABLE"

	// StabilityFlaky means two runs diverged. Terminal: the case is
	// quarantined, never silently retried.
	StabilityFlaky StabilityState = "FLAKY"
)

// StabilityCheck accumulates run fingerprints and resolves to STABLE
// or FLAKY. Zero value is ready to use.
type StabilityCheck struct {
	required int
	first    string
	seen     int
	state    StabilityState
}

// NewStabilityCheck returns a check requiring n agreeing runs
// (DeterminismRuns when n <= 0).
func NewStabilityCheck(n int) *StabilityCheck {
	if n <= 0 {
		n = DeterminismRuns
	}
	return &StabilityCheck{required: n, state: StabilityRunning}
}

// Observe folds one run's result into the check and returns the new
// state. Observations after a terminal state are ignored.
func (c *StabilityCheck) Observe(result *ExecutionResult) StabilityState {
	if c.state != StabilityRunning {
		return c.state
	}
	fp := result.Fingerprint()
	if c.seen == 0 {
		c.first = fp
	} else if fp != c.first {
		c.state = StabilityFlaky
		return c.state
	}
	c.seen++
	if c.seen >= c.required {
		c.state = StabilityStable
	}
	return c.state
}

// State returns the current state.
func (c *StabilityCheck) State() StabilityState {
	return c.state
}

// ReproduceStable runs the target DeterminismRuns times and returns
// the agreed result. Divergence returns a *DeterminismError; callers
// quarantine the case rather than retry.
func (r *Reproducer) ReproduceStable(ctx context.Context, def *casespec.CaseDefinition, target Target) (*ExecutionResult, error) {
	check := NewStabilityCheck(DeterminismRuns)
	var last *ExecutionResult

	for i := 0; i < DeterminismRuns; i++ {
		result, err := r.Reproduce(ctx, def, target)
		if err != nil {
			return nil, err
		}
		if check.Observe(result) == StabilityFlaky {
			return nil, &DeterminismError{
				CaseID: def.CaseID,
				Target: target.Kind,
				Detail: fmt.Sprintf("run %d diverged from run 1", i+1),
			}
		}
		last = result
	}
	return last, nil
}

// fingerprint renders the determinism-relevant view of a result: step
// exit codes in order, the timeout flag, and the sorted test statuses.
// Durations and log paths vary run to run and are excluded.
func fingerprint(r *ExecutionResult) string {
	var b strings.Builder
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "exit=%d;", s.ExitCode)
	}
	fmt.Fprintf(&b, "timeout=%v;", r.TimedOut)

	ids := make([]string, 0, len(r.Tests))
	for id := range r.Tests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "%s=%s;", id, r.Tests[id])
	}
	return b.String()
}
