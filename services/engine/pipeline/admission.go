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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/crucible-eval/crucible/services/engine/attribution"
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/repro"
)

// Admit enforces the behavioral admission invariant for one case: at
// base_sha every fail_to_pass test is FAIL and every pass_to_pass test
// is PASS, and applying the gold reference flips all fail_to_pass to
// PASS while pass_to_pass stays PASS. Both reproductions run under the
// 3x stability protocol.
//
// For multi-repo cases a WorkspaceRunner must be supplied so the
// attribution checks can run; ambiguity wraps attribution.ErrAmbiguous.
//
// A violated invariant returns *ReproductionError and blocks admission
// permanently.
func (e *Engine) Admit(ctx context.Context, def *casespec.CaseDefinition, workspace attribution.WorkspaceRunner) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Admit")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", def.CaseID))

	baseline, err := e.repro.ReproduceStable(ctx, def, repro.Baseline())
	if err != nil {
		return fmt.Errorf("admission baseline for %s: %w", def.CaseID, err)
	}
	for _, test := range def.FailToPass {
		if got := baseline.StatusOf(test); got != repro.StatusFail {
			return &ReproductionError{
				CaseID: def.CaseID,
				Stage:  "baseline",
				Detail: fmt.Sprintf("fail_to_pass test %s is %s, want FAIL", test, got),
			}
		}
	}
	for _, test := range def.PassToPass {
		if got := baseline.StatusOf(test); got != repro.StatusPass {
			return &ReproductionError{
				CaseID: def.CaseID,
				Stage:  "baseline",
				Detail: fmt.Sprintf("pass_to_pass test %s is %s, want PASS", test, got),
			}
		}
	}

	gold, err := e.repro.ReproduceStable(ctx, def, repro.Gold())
	if err != nil {
		return fmt.Errorf("admission gold for %s: %w", def.CaseID, err)
	}
	for _, test := range append(append([]string{}, def.FailToPass...), def.PassToPass...) {
		if got := gold.StatusOf(test); got != repro.StatusPass {
			return &ReproductionError{
				CaseID: def.CaseID,
				Stage:  "gold",
				Detail: fmt.Sprintf("test %s is %s under gold, want PASS", test, got),
			}
		}
	}

	if def.IsMultiRepo() {
		if workspace == nil {
			return fmt.Errorf("case %s is multi-repo but no workspace runner configured", def.CaseID)
		}
		if _, err := attribution.Verify(ctx, workspace, def); err != nil {
			return fmt.Errorf("admission attribution for %s: %w", def.CaseID, err)
		}
	}

	e.logger.Info("case admitted", "case_id", def.CaseID, "short_id", def.ShortID())
	return nil
}
