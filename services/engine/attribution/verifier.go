// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attribution verifies fix placement for cross-repository
// cases.
//
// # Description
//
// A multi-repo case declares a correct_repo: the repository the fix
// belongs in. Verification runs two checks. (a) The fix applied to
// correct_repo alone, every other workspace repo frozen at its pinned
// baseline, must reproduce an end-to-end PASS. (b) The same fix
// applied to each other allowed repo, with correct_repo left
// unpatched, must reproduce FAIL. A PASS in check (b) means the
// attribution is ambiguous and the case is excluded from the scorable
// pool entirely — a dataset-admission defect, not a per-run zero.
package attribution

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crucible-eval/crucible/services/engine/casespec"
)

// ErrAmbiguous marks a case whose fix placement cannot be attributed
// to a single repository. Wrapped by the error Verify returns; detect
// with errors.Is.
var ErrAmbiguous = errors.New("attribution ambiguous")

// WorkspaceRunner reproduces a multi-repo case end to end with a
// chosen set of patched repositories. Implementations materialize
// every workspace repo at its pinned SHA, apply the fix to exactly
// patchedRepos, run the primary repo's evaluation steps, and report
// whether the declared transitions held.
type WorkspaceRunner interface {
	RunWorkspace(ctx context.Context, def *casespec.CaseDefinition, patchedRepos []string) (passed bool, err error)
}

// CheckResult records one placement trial.
type CheckResult struct {
	// PatchedRepo is the single repo the fix was applied to.
	PatchedRepo string

	// Passed is the end-to-end outcome with that placement.
	Passed bool
}

// Verdict is the full attribution verification for one case.
type Verdict struct {
	// CorrectRepo echoes the declared attribution.
	CorrectRepo string

	// Trials holds every placement trial, correct_repo first.
	Trials []CheckResult

	// Confirmed is true when the fix passes in correct_repo alone and
	// fails everywhere else.
	Confirmed bool
}

// Verify runs both attribution checks for a multi-repo case.
//
// # Outputs
//
//   - *Verdict: Placement trials and the confirmation flag.
//   - error: ErrAmbiguous (wrapped) when check (b) passes anywhere;
//     an infrastructure error when a trial could not run. Non-multi-repo
//     cases are a caller bug and return a plain error.
func Verify(ctx context.Context, runner WorkspaceRunner, def *casespec.CaseDefinition) (*Verdict, error) {
	if !def.IsMultiRepo() {
		return nil, fmt.Errorf("case %s has no multi_repo block", def.CaseID)
	}

	ctx, span := otel.Tracer("crucible/attribution").Start(ctx, "attribution.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", def.CaseID))

	correct := def.MultiRepo.Attribution.CorrectRepo
	verdict := &Verdict{CorrectRepo: correct}

	// Check (a): fix in correct_repo alone must pass.
	passed, err := runner.RunWorkspace(ctx, def, []string{correct})
	if err != nil {
		return nil, fmt.Errorf("attribution trial in %s: %w", correct, err)
	}
	verdict.Trials = append(verdict.Trials, CheckResult{PatchedRepo: correct, Passed: passed})
	if !passed {
		return verdict, fmt.Errorf("case %s: fix in declared repo %s does not pass", def.CaseID, correct)
	}

	// Check (b): fix in any other allowed repo, correct_repo
	// unpatched, must fail.
	for _, repo := range def.MultiRepo.FixRepos() {
		if repo == correct {
			continue
		}
		passed, err := runner.RunWorkspace(ctx, def, []string{repo})
		if err != nil {
			return nil, fmt.Errorf("attribution trial in %s: %w", repo, err)
		}
		verdict.Trials = append(verdict.Trials, CheckResult{PatchedRepo: repo, Passed: passed})
		if passed {
			span.SetAttributes(attribute.String("attribution.ambiguous_repo", repo))
			return verdict, fmt.Errorf("case %s: fix also passes in %s: %w", def.CaseID, repo, ErrAmbiguous)
		}
	}

	verdict.Confirmed = true
	return verdict, nil
}
