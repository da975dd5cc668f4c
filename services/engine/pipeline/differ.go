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
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/diffrecord"
	"github.com/crucible-eval/crucible/services/engine/gitrepo"
	"github.com/crucible-eval/crucible/services/engine/violations"
)

// GitDiffer builds the structured diff for a candidate by replaying
// the patch against the case's pinned clone. One clone per case lives
// under Workdir/<case-id>; the reproducer forces a clean checkout on
// every materialization, so the differ can reuse the same tree once
// the case's reproductions are done.
type GitDiffer struct {
	// Workdir hosts one clone per case, keyed by case id.
	Workdir string

	// Logs carries externally collected build and lint counters into
	// the violation catalog. Zero-valued when no collector runs.
	Logs violations.Logs
}

var _ Differ = (*GitDiffer)(nil)

// Diff implements Differ.
func (d *GitDiffer) Diff(ctx context.Context, def *casespec.CaseDefinition, candidatePatch string) (*diffrecord.Record, violations.Logs, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.GitDiffer.Diff")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", def.CaseID))

	dir := filepath.Join(d.Workdir, def.CaseID)
	repo := gitrepo.Open(dir)

	if err := repo.CheckoutDetached(ctx, def.BaseSHA); err != nil {
		return nil, violations.Logs{}, fmt.Errorf("baseline checkout: %w", err)
	}
	baseline, err := gitrepo.HashTree(dir)
	if err != nil {
		return nil, violations.Logs{}, fmt.Errorf("hashing baseline tree: %w", err)
	}
	targetsBefore, err := diffrecord.CountTargets(dir)
	if err != nil {
		return nil, violations.Logs{}, fmt.Errorf("counting baseline targets: %w", err)
	}

	if candidatePatch != "" {
		if err := repo.ApplyPatch(ctx, candidatePatch); err != nil {
			return nil, violations.Logs{}, fmt.Errorf("applying candidate patch: %w", err)
		}
	}
	candidate, err := gitrepo.HashTree(dir)
	if err != nil {
		return nil, violations.Logs{}, fmt.Errorf("hashing candidate tree: %w", err)
	}
	targetsAfter, err := diffrecord.CountTargets(dir)
	if err != nil {
		return nil, violations.Logs{}, fmt.Errorf("counting candidate targets: %w", err)
	}

	patchText, err := repo.DiffAgainst(ctx, def.BaseSHA)
	if err != nil {
		return nil, violations.Logs{}, fmt.Errorf("diffing candidate: %w", err)
	}

	record, err := diffrecord.Build(patchText, baseline, candidate, targetsBefore, targetsAfter)
	if err != nil {
		return nil, violations.Logs{}, err
	}
	span.SetAttributes(attribute.Int("diff.files", len(record.Files)))
	return record, d.Logs, nil
}
