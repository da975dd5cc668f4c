// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/crucible-eval/crucible/pkg/logging"
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/gitrepo"
	"github.com/crucible-eval/crucible/services/engine/pipeline"
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/runstore"
	"github.com/crucible-eval/crucible/services/engine/sandbox"
)

// loadedCase pairs a definition with the file it came from and the
// directory its artifact refs resolve against.
type loadedCase struct {
	def      *casespec.CaseDefinition
	casePath string
	caseDir  string
}

// fleetMaterializer materializes targets for many cases, cloning each
// case's repository lazily under workdir/<case-id> and reusing the
// clone across that case's targets.
type fleetMaterializer struct {
	workdir  string
	caseDirs map[string]string

	mu     sync.Mutex
	clones map[string]*repro.GitMaterializer
}

func newFleetMaterializer(workdir string, cases []loadedCase) *fleetMaterializer {
	dirs := make(map[string]string, len(cases))
	for _, c := range cases {
		dirs[c.def.CaseID] = c.caseDir
	}
	return &fleetMaterializer{
		workdir:  workdir,
		caseDirs: dirs,
		clones:   make(map[string]*repro.GitMaterializer),
	}
}

// Materialize implements repro.Materializer.
func (f *fleetMaterializer) Materialize(ctx context.Context, def *casespec.CaseDefinition, target repro.Target) (string, error) {
	g, err := f.cloneFor(ctx, def)
	if err != nil {
		return "", err
	}
	return g.Materialize(ctx, def, target)
}

func (f *fleetMaterializer) cloneFor(ctx context.Context, def *casespec.CaseDefinition) (*repro.GitMaterializer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if g, ok := f.clones[def.CaseID]; ok {
		return g, nil
	}

	dir := filepath.Join(f.workdir, def.CaseID)
	var repo *gitrepo.Repo
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		repo = gitrepo.Open(dir)
	} else {
		cloned, err := gitrepo.Clone(ctx, def.RepoURL, dir)
		if err != nil {
			return nil, err
		}
		repo = cloned
	}

	g := &repro.GitMaterializer{Repo: repo, Dir: dir, CaseDir: f.caseDirs[def.CaseID]}
	f.clones[def.CaseID] = g
	return g, nil
}

// runEvaluate assembles the engine from config and runs every case
// through the pipeline. Exit code: 0 all resolved, 1 any unresolved,
// 2 infrastructure (config, store, or excluded-only failures).
func runEvaluate(cmd *cobra.Command, args []string) {
	logger := logging.Default()

	cfg, err := engineConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(exitInfra)
	}

	cases, ok := loadCases(args, logger)
	if !ok {
		os.Exit(exitFailed)
	}

	store, err := runstore.Open(cfg.StoreDir)
	if err != nil {
		logger.Error("opening run store", "dir", cfg.StoreDir, "error", err)
		os.Exit(exitInfra)
	}
	defer store.Close()

	reproOpts := []repro.Option{
		repro.WithLogDir(cfg.LogRoot, runID),
		repro.WithLogger(logger),
	}
	if !cfg.FrozenTime.IsZero() {
		reproOpts = append(reproOpts, repro.WithFrozenTime(cfg.FrozenTime))
	}
	reproducer := repro.New(
		newFleetMaterializer(cfg.Workdir, cases),
		&sandbox.LocalRuntime{},
		reproOpts...,
	)

	caseDirs := make(map[string]string, len(cases))
	for _, c := range cases {
		caseDirs[c.def.CaseID] = c.caseDir
	}
	workspace := &pipeline.WorkspaceReproducer{
		Workdir:  cfg.Workdir,
		Runtime:  &sandbox.LocalRuntime{},
		CaseDirs: caseDirs,
		Logger:   logger,
	}

	engine := pipeline.NewEngine(
		reproducer,
		&pipeline.GitDiffer{Workdir: cfg.Workdir},
		store,
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithLogger(logger),
		pipeline.WithRunID(runID),
		pipeline.WithAdmission(workspace),
		pipeline.WithMetricsSource(pipeline.NewSidecarMetrics(sidecarPaths(cases))),
	)

	defs := make([]*casespec.CaseDefinition, len(cases))
	for i, c := range cases {
		defs[i] = c.def
	}

	summary, err := engine.Evaluate(cmd.Context(), defs, collectPatches(cases, logger))
	if err != nil {
		logger.Error("run aborted", "error", err)
		os.Exit(exitInfra)
	}

	switch {
	case summary.Unresolved > 0:
		os.Exit(exitFailed)
	case summary.Excluded > 0:
		os.Exit(exitInfra)
	}
	os.Exit(exitOK)
}

// loadCases parses every case file; one bad file fails the whole
// invocation so partial runs never masquerade as complete.
func loadCases(paths []string, logger *logging.Logger) ([]loadedCase, bool) {
	cases := make([]loadedCase, 0, len(paths))
	ok := true
	for _, path := range paths {
		def, err := casespec.Load(path)
		if err != nil {
			logger.Error("invalid case file", "path", path, "error", err)
			ok = false
			continue
		}
		cases = append(cases, loadedCase{def: def, casePath: path, caseDir: filepath.Dir(path)})
	}
	return cases, ok
}

// sidecarPaths maps case id to its curated metrics sidecar, named
// <case-file>.metrics.yaml next to the definition. Absence is fine for
// the binary suites.
func sidecarPaths(cases []loadedCase) map[string]string {
	paths := make(map[string]string, len(cases))
	for _, c := range cases {
		base := strings.TrimSuffix(c.casePath, filepath.Ext(c.casePath))
		paths[c.def.CaseID] = base + ".metrics.yaml"
	}
	return paths
}

// collectPatches maps case id to candidate patch path. A case without
// a patch file still runs: an empty candidate simply cannot flip its
// fail_to_pass tests.
func collectPatches(cases []loadedCase, logger *logging.Logger) map[string]string {
	if patchDir == "" {
		return nil
	}
	patches := make(map[string]string, len(cases))
	for _, c := range cases {
		path := filepath.Join(patchDir, c.def.CaseID+".patch")
		if _, err := os.Stat(path); err != nil {
			logger.Warn("no candidate patch for case", "case_id", c.def.CaseID, "path", path)
			continue
		}
		patches[c.def.CaseID] = path
	}
	return patches
}
