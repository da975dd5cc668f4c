// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repro reproduces a case at a target state and normalizes
// tool output into a per-test status map.
//
// # Description
//
// Reproduce materializes a frozen snapshot at the case's base commit,
// applies the gold or candidate change when requested, runs the
// setup and evaluation steps strictly in order inside the sandbox,
// and parses runner output through per-family adapters into a
// runner-agnostic map[TestID]Status. Determinism of a reproduction is
// verified by running it three times and comparing results.
package repro

import (
	"fmt"
	"time"
)

// =============================================================================
// Status and Targets
// =============================================================================

// TestID names one test in the declared transition sets.
type TestID = string

// Status is the normalized outcome of one test.
type Status string

const (
	// StatusPass means the test ran and passed.
	StatusPass Status = "PASS"

	// StatusFail means the test ran and failed.
	StatusFail Status = "FAIL"

	// StatusMissing means the test did not appear in runner output.
	StatusMissing Status = "MISSING"
)

// TargetKind selects which change is applied before execution.
type TargetKind string

const (
	// TargetBaseline runs the pinned tree unmodified.
	TargetBaseline TargetKind = "baseline"

	// TargetGold applies the verified reference fix.
	TargetGold TargetKind = "gold"

	// TargetCandidate applies an externally produced patch.
	TargetCandidate TargetKind = "candidate"
)

// Target is a target state, carrying the patch for candidates.
type Target struct {
	Kind TargetKind

	// PatchPath is the candidate patch on disk. Only set for
	// TargetCandidate.
	PatchPath string
}

// Baseline returns the baseline target.
func Baseline() Target { return Target{Kind: TargetBaseline} }

// Gold returns the gold target.
func Gold() Target { return Target{Kind: TargetGold} }

// Candidate returns a candidate target for the given patch file.
func Candidate(patchPath string) Target {
	return Target{Kind: TargetCandidate, PatchPath: patchPath}
}

// =============================================================================
// Failure Classification
// =============================================================================

// FailureClass explains a non-passing evaluation, assigned in priority
// order compile_error > test_failure > build_sys > timeout > unknown
// when signals are ambiguous.
type FailureClass string

const (
	FailureNone         FailureClass = ""
	FailureCompileError FailureClass = "compile_error"
	FailureTestFailure  FailureClass = "test_failure"
	FailureBuildSys     FailureClass = "build_sys"
	FailureTimeout      FailureClass = "timeout"
	FailureUnknown      FailureClass = "unknown"
)

// =============================================================================
// Execution Result
// =============================================================================

// StepOutcome records one executed setup or evaluation step.
type StepOutcome struct {
	// Command is the step command line.
	Command string

	// ExitCode is the step's exit code (-1 when cancelled).
	ExitCode int

	// LogRef points at the persisted log for the step.
	LogRef string

	// Duration is the step wall-clock time.
	Duration time.Duration
}

// ExecutionResult is one (case, target) reproduction attempt.
// Ephemeral: produced per run, persisted only as log artifacts.
type ExecutionResult struct {
	// CaseID identifies the reproduced case.
	CaseID string

	// Target is the reproduced target state.
	Target TargetKind

	// Steps are the executed steps in order. Execution stops at the
	// first setup step that fails.
	Steps []StepOutcome

	// Tests maps test id to normalized status.
	Tests map[TestID]Status

	// Failure classifies a non-passing evaluation (empty on success).
	Failure FailureClass

	// LogDir is the directory holding raw step logs.
	LogDir string

	// WallClock is the total reproduction time.
	WallClock time.Duration

	// TimedOut reports cancellation by wall-clock quota.
	TimedOut bool
}

// StatusOf returns the normalized status for a test, MISSING when the
// runner never reported it.
func (r *ExecutionResult) StatusOf(id TestID) Status {
	if s, ok := r.Tests[id]; ok {
		return s
	}
	return StatusMissing
}

// Passed reports whether every step exited zero and nothing timed out.
func (r *ExecutionResult) Passed() bool {
	if r.TimedOut {
		return false
	}
	for _, s := range r.Steps {
		if s.ExitCode != 0 {
			return false
		}
	}
	return true
}

// Fingerprint summarizes the result for determinism comparison: exit
// codes in order plus the sorted test status map.
func (r *ExecutionResult) Fingerprint() string {
	return fingerprint(r)
}

// =============================================================================
// Errors
// =============================================================================

// DeterminismError quarantines a case whose reproduction diverged
// across identical reruns. The case is excluded from scoring until
// resolved; it is never silently retried.
type DeterminismError struct {
	CaseID string
	Target TargetKind
	Detail string
}

// Error implements error.
func (e *DeterminismError) Error() string {
	return fmt.Sprintf("non-deterministic reproduction of %s (%s): %s", e.CaseID, e.Target, e.Detail)
}
