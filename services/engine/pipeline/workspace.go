// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crucible-eval/crucible/pkg/logging"
	"github.com/crucible-eval/crucible/services/engine/attribution"
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/gitrepo"
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/sandbox"
)

// workspaceGit is the git surface one workspace repo needs.
type workspaceGit interface {
	CheckoutDetached(ctx context.Context, sha string) error
	ApplyPatch(ctx context.Context, patchPath string) error
	CherryPick(ctx context.Context, sha string) error
}

// WorkspaceReproducer reproduces a multi-repo case end to end with the
// gold fix applied to a chosen subset of workspace repos. It is the
// attribution trial runner: every workspace repo is pinned at its
// baseline SHA, exactly patchedRepos receive the fix, and the primary
// repo's recipe decides the outcome.
//
// A fix that does not apply in a trial repo fails that trial rather
// than erroring: inapplicability is exactly the evidence attribution
// is after.
type WorkspaceReproducer struct {
	// Workdir hosts workspace clones under <case-id>-workspace/<repo>.
	Workdir string

	// Runtime executes the recipe steps in the primary repo.
	Runtime sandbox.Runtime

	// CaseDirs resolves gold patch refs per case id.
	CaseDirs map[string]string

	// Quota bounds each step. The zero value uses sandbox.DefaultQuota.
	Quota sandbox.Quota

	// Logger defaults to logging.Default when nil.
	Logger *logging.Logger

	// open overrides repo acquisition in tests.
	open func(ctx context.Context, url, dir string) (workspaceGit, error)
}

var _ attribution.WorkspaceRunner = (*WorkspaceReproducer)(nil)

// RunWorkspace implements attribution.WorkspaceRunner.
func (w *WorkspaceReproducer) RunWorkspace(ctx context.Context, def *casespec.CaseDefinition, patchedRepos []string) (bool, error) {
	if !def.IsMultiRepo() {
		return false, fmt.Errorf("case %s has no multi_repo block", def.CaseID)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.RunWorkspace")
	defer span.End()
	span.SetAttributes(
		attribute.String("case.id", def.CaseID),
		attribute.StringSlice("workspace.patched", patchedRepos),
	)

	patched := make(map[string]bool, len(patchedRepos))
	for _, name := range patchedRepos {
		patched[name] = true
	}

	mr := def.MultiRepo
	root := filepath.Join(w.Workdir, def.CaseID+"-workspace")
	var primaryDir string
	for name, sha := range mr.WorkspaceRepos {
		url, err := w.repoURL(def, name)
		if err != nil {
			return false, err
		}
		dir := filepath.Join(root, name)
		repo, err := w.openRepo(ctx, url, dir)
		if err != nil {
			return false, fmt.Errorf("workspace repo %s: %w", name, err)
		}
		if err := repo.CheckoutDetached(ctx, sha); err != nil {
			return false, fmt.Errorf("pinning workspace repo %s: %w", name, err)
		}
		if patched[name] {
			if err := w.applyGold(ctx, def, repo); err != nil {
				w.logger().Info("fix does not apply in trial repo",
					"case_id", def.CaseID, "repo", name, "error", err.Error())
				return false, nil
			}
		}
		if name == mr.PrimaryRepo {
			primaryDir = dir
		}
	}

	quota := w.Quota
	if quota == (sandbox.Quota{}) {
		quota = sandbox.DefaultQuota()
	}

	tests := make(map[repro.TestID]repro.Status)
	steps := append(append([]string{}, def.SetupSteps...), def.EvaluationSteps...)
	for _, step := range steps {
		res, err := w.Runtime.Execute(ctx, sandbox.Spec{
			Dir:     primaryDir,
			Command: step,
			Network: sandbox.NetworkNone,
			Quota:   quota,
		})
		if err != nil {
			return false, fmt.Errorf("workspace step %q: %w", step, err)
		}
		if adapter := repro.AdapterFor(step); adapter != nil {
			for id, status := range adapter.Parse(res.Stdout, res.Stderr) {
				tests[id] = status
			}
		}
		if res.TimedOut {
			return false, nil
		}
	}

	for _, test := range append(append([]string{}, def.FailToPass...), def.PassToPass...) {
		if tests[test] != repro.StatusPass {
			return false, nil
		}
	}
	return true, nil
}

// repoURL resolves a workspace repo's clone URL. Only the primary repo
// may rely on the case-level repo_url fallback.
func (w *WorkspaceReproducer) repoURL(def *casespec.CaseDefinition, name string) (string, error) {
	if url := def.MultiRepo.RepoURLs[name]; url != "" {
		return url, nil
	}
	if name == def.MultiRepo.PrimaryRepo {
		return def.RepoURL, nil
	}
	return "", fmt.Errorf("case %s: no repo_url for workspace repo %s", def.CaseID, name)
}

// openRepo reuses an existing clone or clones fresh.
func (w *WorkspaceReproducer) openRepo(ctx context.Context, url, dir string) (workspaceGit, error) {
	if w.open != nil {
		return w.open(ctx, url, dir)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return gitrepo.Open(dir), nil
	}
	return gitrepo.Clone(ctx, url, dir)
}

// applyGold applies the case's gold fix to one workspace repo.
func (w *WorkspaceReproducer) applyGold(ctx context.Context, def *casespec.CaseDefinition, repo workspaceGit) error {
	switch def.Gold.Type {
	case casespec.GoldMergeSHA:
		return repo.CherryPick(ctx, def.Gold.MergeSHA)
	case casespec.GoldPatch:
		patch := def.Gold.PatchRef
		if !filepath.IsAbs(patch) {
			patch = filepath.Join(w.CaseDirs[def.CaseID], patch)
		}
		return repo.ApplyPatch(ctx, patch)
	}
	return fmt.Errorf("case %s: gold outcome has no applicable fix", def.CaseID)
}

func (w *WorkspaceReproducer) logger() *logging.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return logging.Default()
}
