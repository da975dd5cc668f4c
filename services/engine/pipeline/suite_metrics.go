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

	"gopkg.in/yaml.v3"

	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/diffrecord"
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/scoring"
)

// MetricsSource supplies the suite-specific measurements the composite
// scoring formulas consume. Binary suites need none; tests-coverage,
// feature-impl, refactor, retrieval, and review cannot score without
// them.
type MetricsSource interface {
	Metrics(ctx context.Context, def *casespec.CaseDefinition, baseline, candidate *repro.ExecutionResult, record *diffrecord.Record) (scoring.SuiteMetrics, error)
}

// SidecarMetrics reads per-case measurements from a YAML sidecar file
// curated next to the case definition (<case>.metrics.yaml). A case
// without a sidecar gets zero metrics, which is correct for the binary
// suites and scores zero for the composites — measurements are case
// data, never guessed.
type SidecarMetrics struct {
	// Paths maps case id to its sidecar file. Entries for absent
	// files may be omitted entirely.
	Paths map[string]string
}

var _ MetricsSource = (*SidecarMetrics)(nil)

// NewSidecarMetrics builds a source over explicit per-case paths.
func NewSidecarMetrics(paths map[string]string) *SidecarMetrics {
	return &SidecarMetrics{Paths: paths}
}

// Metrics implements MetricsSource. A missing sidecar is zero metrics,
// not an error; a present but unparseable sidecar is an error.
func (s *SidecarMetrics) Metrics(_ context.Context, def *casespec.CaseDefinition, _, _ *repro.ExecutionResult, _ *diffrecord.Record) (scoring.SuiteMetrics, error) {
	path, ok := s.Paths[def.CaseID]
	if !ok {
		return scoring.SuiteMetrics{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return scoring.SuiteMetrics{}, nil
		}
		return scoring.SuiteMetrics{}, fmt.Errorf("reading metrics sidecar %s: %w", path, err)
	}

	var metrics scoring.SuiteMetrics
	if err := yaml.Unmarshal(data, &metrics); err != nil {
		return scoring.SuiteMetrics{}, fmt.Errorf("parsing metrics sidecar %s: %w", path, err)
	}
	return metrics, nil
}
