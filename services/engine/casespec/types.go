// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package casespec defines the case definition record and its
// admission-time structural validation.
//
// # Description
//
// A case definition pins a repository state, a reproduction recipe,
// declared test transition sets, a path policy, and a gold reference.
// Once admitted it is immutable and versioned as a unit. This package
// owns parsing and structural validation only; the behavioral
// admission invariant (baseline fails, gold passes) is enforced by the
// admission package, which drives the reproducer.
//
// # Thread Safety
//
// CaseDefinition values are read-only after Load and safe for
// concurrent use.
package casespec

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Suites
// =============================================================================

// Suite identifies the scoring family a case belongs to.
type Suite string

const (
	// SuiteCIFix covers broken-CI repair cases (binary scoring).
	SuiteCIFix Suite = "ci-fix"

	// SuiteIssueFix covers issue-to-patch cases (binary scoring).
	SuiteIssueFix Suite = "issue-fix"

	// SuiteFeatureImpl covers feature implementation cases
	// (weighted composite scoring).
	SuiteFeatureImpl Suite = "feature-impl"

	// SuiteTestsCoverage covers test-writing cases scored by
	// coverage delta.
	SuiteTestsCoverage Suite = "tests-coverage"

	// SuiteRefactor covers refactoring cases scored by a
	// regression-safety-weighted composite.
	SuiteRefactor Suite = "refactor"

	// SuiteRetrieval covers code retrieval cases (recall / MRR).
	SuiteRetrieval Suite = "retrieval"

	// SuiteReview covers review-comment cases (precision-recall F1).
	SuiteReview Suite = "review"
)

// String returns the suite name.
func (s Suite) String() string {
	return string(s)
}

// Known reports whether the suite is one of the supported families.
func (s Suite) Known() bool {
	switch s {
	case SuiteCIFix, SuiteIssueFix, SuiteFeatureImpl, SuiteTestsCoverage,
		SuiteRefactor, SuiteRetrieval, SuiteReview:
		return true
	}
	return false
}

// UnmarshalYAML rejects unknown suite names at parse time.
func (s *Suite) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	suite := Suite(raw)
	if !suite.Known() {
		return fmt.Errorf("unknown suite %q", raw)
	}
	*s = suite
	return nil
}

// =============================================================================
// Gold Outcome
// =============================================================================

// GoldType selects how the gold reference is expressed.
type GoldType string

const (
	// GoldMergeSHA references the merged fix commit in the pinned repo.
	GoldMergeSHA GoldType = "merge_sha"

	// GoldPatch references a patch artifact on disk.
	GoldPatch GoldType = "patch"
)

// UnmarshalYAML rejects unknown gold types at parse time.
func (g *GoldType) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch GoldType(raw) {
	case GoldMergeSHA, GoldPatch:
		*g = GoldType(raw)
		return nil
	default:
		return fmt.Errorf("unknown gold outcome type %q", raw)
	}
}

// GoldOutcome is the verified reference fix for a case, proven at
// admission time to satisfy the declared transitions.
type GoldOutcome struct {
	// Type selects merge_sha or patch.
	Type GoldType `yaml:"type" validate:"required"`

	// MergeSHA is the fix commit (required when Type == merge_sha).
	MergeSHA string `yaml:"merge_sha,omitempty" validate:"omitempty,len=40,hexadecimal"`

	// PatchRef is a path to the patch artifact, relative to the case
	// file (required when Type == patch).
	PatchRef string `yaml:"patch_ref,omitempty"`

	// ValidationProof references the admission run that proved the
	// gold outcome (run id or log path). Informational.
	ValidationProof string `yaml:"validation_proof,omitempty"`
}

// =============================================================================
// Constraints and Multi-Repo
// =============================================================================

// Constraints is the per-case path policy. Patterns use glob syntax
// and are matched against repository-relative paths.
type Constraints struct {
	// ForbiddenPaths may not be touched by a candidate change.
	ForbiddenPaths []string `yaml:"forbidden_paths,omitempty"`

	// AllowedPaths are exceptions consulted before any forbidden
	// pattern; a path matching an allowed pattern is never flagged.
	AllowedPaths []string `yaml:"allowed_paths,omitempty"`
}

// Attribution records which repository must contain the fix for a
// multi-repo case to be well-posed.
type Attribution struct {
	// CorrectRepo is the repository the fix belongs in.
	CorrectRepo string `yaml:"correct_repo" validate:"required"`

	// Confidence is the curator's confidence in the attribution,
	// in [0, 1].
	Confidence float64 `yaml:"confidence" validate:"gte=0,lte=1"`

	// Reasoning is the curator's justification. Informational.
	Reasoning string `yaml:"reasoning,omitempty"`
}

// MultiRepo describes a workspace of pinned repositories that together
// constitute the buildable environment for a cross-repository case.
type MultiRepo struct {
	// WorkspaceRepos maps repo name to its pinned baseline SHA.
	WorkspaceRepos map[string]string `yaml:"workspace_repos" validate:"required,min=2,dive,len=40,hexadecimal"`

	// RepoURLs maps repo name to its clone URL. The primary repo may
	// be omitted; it falls back to the case's repo_url.
	RepoURLs map[string]string `yaml:"repo_urls,omitempty"`

	// PrimaryRepo is the repo whose evaluation_steps drive the
	// end-to-end verdict.
	PrimaryRepo string `yaml:"primary_repo" validate:"required"`

	// Attribution declares the repo the fix must land in.
	Attribution Attribution `yaml:"attribution" validate:"required"`

	// AllowedFixRepos restricts where a candidate may apply changes.
	// Empty means every workspace repo.
	AllowedFixRepos []string `yaml:"allowed_fix_repos,omitempty"`
}

// FixRepos returns the repos a fix may be applied to.
func (m *MultiRepo) FixRepos() []string {
	if len(m.AllowedFixRepos) > 0 {
		return m.AllowedFixRepos
	}
	repos := make([]string, 0, len(m.WorkspaceRepos))
	for name := range m.WorkspaceRepos {
		repos = append(repos, name)
	}
	return repos
}

// =============================================================================
// Environment and Metadata
// =============================================================================

// Environment pins the execution environment for reproduction.
type Environment struct {
	// ContainerImage is the frozen image the case runs in.
	ContainerImage string `yaml:"container_image" validate:"required"`

	// Compiler pins the toolchain identifier (informational for
	// runners that bake it into the image).
	Compiler string `yaml:"compiler,omitempty"`

	// Sanitizers lists sanitizers the evaluation steps enable.
	Sanitizers []string `yaml:"sanitizers,omitempty"`
}

// Metadata carries curation provenance. None of it affects scoring.
type Metadata struct {
	Curator     string    `yaml:"curator,omitempty"`
	CreatedDate time.Time `yaml:"created_date"`
	Reviewers   []string  `yaml:"reviewers,omitempty"`
	Quarantined bool      `yaml:"quarantined,omitempty"`
	Notes       string    `yaml:"notes,omitempty"`
}

// =============================================================================
// Case Definition
// =============================================================================

// CaseDefinition is one admitted evaluation case. Immutable once
// admitted; versioned as a unit with its dataset.
type CaseDefinition struct {
	// CaseID uniquely identifies the case within a dataset version.
	CaseID string `yaml:"case_id" validate:"required"`

	// SuiteName selects the scoring family.
	SuiteName Suite `yaml:"suite" validate:"required"`

	// RepoURL is the pinned source repository.
	RepoURL string `yaml:"repo_url" validate:"required,url"`

	// BaseSHA is the full-length commit the case is rooted at.
	BaseSHA string `yaml:"base_sha" validate:"required,len=40,hexadecimal"`

	// Gold is the verified reference fix.
	Gold GoldOutcome `yaml:"gold_outcome" validate:"required"`

	// SetupSteps run before evaluation, in order.
	SetupSteps []string `yaml:"setup_steps,omitempty"`

	// EvaluationSteps produce the test outcomes, in order.
	EvaluationSteps []string `yaml:"evaluation_steps" validate:"required,min=1"`

	// FailToPass tests must flip FAIL -> PASS.
	FailToPass []string `yaml:"fail_to_pass" validate:"required,min=1"`

	// PassToPass tests must stay PASS.
	PassToPass []string `yaml:"pass_to_pass,omitempty"`

	// PathConstraints is the per-case path policy.
	PathConstraints Constraints `yaml:"constraints,omitempty"`

	// MultiRepo is present only for cross-repository cases.
	MultiRepo *MultiRepo `yaml:"multi_repo,omitempty"`

	// Env pins the execution environment.
	Env Environment `yaml:"environment" validate:"required"`

	// Meta carries curation provenance.
	Meta Metadata `yaml:"metadata,omitempty"`
}

// IsMultiRepo reports whether the case spans multiple repositories.
func (c *CaseDefinition) IsMultiRepo() bool {
	return c.MultiRepo != nil
}

// ShortID returns a stable 8-character display id derived from the
// case id, for report tables.
func (c *CaseDefinition) ShortID() string {
	return shortHash(c.CaseID)
}
