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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-eval/crucible/services/engine/attribution"
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/diffrecord"
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/scorecard"
	"github.com/crucible-eval/crucible/services/engine/scoring"
	"github.com/crucible-eval/crucible/services/engine/violations"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeRepro scripts per-target results and errors.
type fakeRepro struct {
	results   map[repro.TargetKind]*repro.ExecutionResult
	stableErr error
	runErr    error
	delay     time.Duration
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (f *fakeRepro) track() func() {
	cur := f.inFlight.Add(1)
	for {
		seen := f.maxFlight.Load()
		if cur <= seen || f.maxFlight.CompareAndSwap(seen, cur) {
			break
		}
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeRepro) ReproduceStable(_ context.Context, def *casespec.CaseDefinition, target repro.Target) (*repro.ExecutionResult, error) {
	defer f.track()()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.stableErr != nil {
		return nil, f.stableErr
	}
	return f.resultFor(def, target), nil
}

func (f *fakeRepro) Reproduce(_ context.Context, def *casespec.CaseDefinition, target repro.Target) (*repro.ExecutionResult, error) {
	defer f.track()()
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.resultFor(def, target), nil
}

func (f *fakeRepro) resultFor(def *casespec.CaseDefinition, target repro.Target) *repro.ExecutionResult {
	if r, ok := f.results[target.Kind]; ok {
		out := *r
		out.CaseID = def.CaseID
		return &out
	}
	return &repro.ExecutionResult{CaseID: def.CaseID, Target: target.Kind, Tests: map[string]repro.Status{}}
}

// fakeDiffer returns a fixed record.
type fakeDiffer struct {
	record *diffrecord.Record
	logs   violations.Logs
	err    error
}

func (f *fakeDiffer) Diff(context.Context, *casespec.CaseDefinition, string) (*diffrecord.Record, violations.Logs, error) {
	if f.err != nil {
		return nil, violations.Logs{}, f.err
	}
	record := f.record
	if record == nil {
		record = &diffrecord.Record{CandidateHashSet: map[string]bool{}}
	}
	return record, f.logs, nil
}

// memSink collects persisted records.
type memSink struct {
	mu         sync.Mutex
	scores     []scoring.ScoreRecord
	exclusions []scorecard.ExclusionRecord
}

func (m *memSink) PutScore(_ string, r scoring.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = append(m.scores, r)
	return nil
}

func (m *memSink) PutExclusion(_ string, r scorecard.ExclusionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exclusions = append(m.exclusions, r)
	return nil
}

func passingRepro() *fakeRepro {
	return &fakeRepro{results: map[repro.TargetKind]*repro.ExecutionResult{
		repro.TargetBaseline: {Tests: map[string]repro.Status{
			"test_A": repro.StatusFail,
			"test_B": repro.StatusPass,
		}},
		repro.TargetCandidate: {Tests: map[string]repro.Status{
			"test_A": repro.StatusPass,
			"test_B": repro.StatusPass,
		}},
		repro.TargetGold: {Tests: map[string]repro.Status{
			"test_A": repro.StatusPass,
			"test_B": repro.StatusPass,
		}},
	}}
}

func pipelineCase(id string) *casespec.CaseDefinition {
	return &casespec.CaseDefinition{
		CaseID:     id,
		SuiteName:  casespec.SuiteCIFix,
		FailToPass: []string{"test_A"},
		PassToPass: []string{"test_B"},
	}
}

// =============================================================================
// Evaluate
// =============================================================================

func TestEvaluateResolvedCase(t *testing.T) {
	sink := &memSink{}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, sink, WithRunID("run-t"))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, map[string]string{"c1": "c1.patch"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Resolved)
	assert.Zero(t, summary.Excluded)

	require.Len(t, sink.scores, 1)
	assert.Equal(t, 100.0, sink.scores[0].FinalScore)
	assert.True(t, sink.scores[0].Resolved)
	assert.Empty(t, sink.exclusions)
}

func TestEvaluateQuarantineExclusion(t *testing.T) {
	rt := passingRepro()
	rt.stableErr = &repro.DeterminismError{CaseID: "c1", Target: repro.TargetBaseline, Detail: "run 2 diverged from run 1"}
	sink := &memSink{}
	engine := NewEngine(rt, &fakeDiffer{}, sink, WithRunID("run-t"))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	assert.Empty(t, sink.scores)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "quarantine", sink.exclusions[0].Reason)
}

func TestEvaluateInfrastructureExclusion(t *testing.T) {
	rt := passingRepro()
	rt.runErr = errors.New("container runtime unreachable")
	sink := &memSink{}
	engine := NewEngine(rt, &fakeDiffer{}, sink, WithRunID("run-t"))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "infrastructure", sink.exclusions[0].Reason)
	assert.Contains(t, sink.exclusions[0].Detail, "container runtime unreachable")
}

func TestEvaluateInvalidCaseExclusion(t *testing.T) {
	rt := passingRepro()
	// Baseline claims the broken test already passes.
	rt.results[repro.TargetBaseline].Tests["test_A"] = repro.StatusPass
	sink := &memSink{}
	engine := NewEngine(rt, &fakeDiffer{}, sink, WithRunID("run-t"))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "case_invalid", sink.exclusions[0].Reason)
}

func TestEvaluateViolationsLowerScore(t *testing.T) {
	differ := &fakeDiffer{record: &diffrecord.Record{
		Files: []diffrecord.FileChange{{
			Path:   "tests/rotate_test.go",
			Status: diffrecord.StatusDeleted,
			IsTest: true,
		}},
		CandidateHashSet: map[string]bool{},
	}}
	sink := &memSink{}
	engine := NewEngine(passingRepro(), differ, sink, WithRunID("run-t"))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Unresolved)
	require.Len(t, sink.scores, 1)
	assert.True(t, sink.scores[0].InstantFail)
	assert.Equal(t, 0.0, sink.scores[0].FinalScore)
}

func TestEvaluateWorkerPoolBound(t *testing.T) {
	rt := passingRepro()
	rt.delay = 20 * time.Millisecond
	sink := &memSink{}
	engine := NewEngine(rt, &fakeDiffer{}, sink, WithRunID("run-t"), WithWorkers(2))

	var cases []*casespec.CaseDefinition
	for i := 0; i < 8; i++ {
		cases = append(cases, pipelineCase(fmt.Sprintf("c%d", i)))
	}

	summary, err := engine.Evaluate(context.Background(), cases, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, summary.Resolved)

	// Never more concurrent reproductions than workers.
	assert.LessOrEqual(t, rt.maxFlight.Load(), int32(2))
}

func TestEvaluateGeneratesRunID(t *testing.T) {
	engine := NewEngine(passingRepro(), &fakeDiffer{}, &memSink{})
	summary, err := engine.Evaluate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
}

func TestWrongRepoDetection(t *testing.T) {
	def := pipelineCase("w1")
	def.MultiRepo = &casespec.MultiRepo{
		WorkspaceRepos: map[string]string{"api": "x", "core": "y"},
		PrimaryRepo:    "api",
		Attribution:    casespec.Attribution{CorrectRepo: "core"},
	}

	inCore := &diffrecord.Record{Files: []diffrecord.FileChange{{Path: "core/fix.go", Status: diffrecord.StatusModified}}}
	assert.False(t, wrongRepo(def, inCore))

	inAPI := &diffrecord.Record{Files: []diffrecord.FileChange{{Path: "api/fix.go", Status: diffrecord.StatusModified}}}
	assert.True(t, wrongRepo(def, inAPI))

	assert.False(t, wrongRepo(pipelineCase("solo"), inAPI))
}

// =============================================================================
// Admission pre-pass
// =============================================================================

func TestEvaluateAdmissionExcludesBadGold(t *testing.T) {
	rt := passingRepro()
	rt.results[repro.TargetGold].Tests["test_B"] = repro.StatusFail
	sink := &memSink{}
	engine := NewEngine(rt, &fakeDiffer{}, sink, WithRunID("run-t"), WithAdmission(nil))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	assert.Empty(t, sink.scores)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "admission_rejected", sink.exclusions[0].Reason)
	assert.Contains(t, sink.exclusions[0].Detail, "test_B")
}

func TestEvaluateAdmissionExcludesAmbiguousAttribution(t *testing.T) {
	def := pipelineCase("w1")
	def.MultiRepo = &casespec.MultiRepo{
		WorkspaceRepos: map[string]string{"api": "x", "core": "y"},
		PrimaryRepo:    "api",
		Attribution:    casespec.Attribution{CorrectRepo: "core"},
	}
	sink := &memSink{}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, sink, WithRunID("run-t"), WithAdmission(ambiguousWorkspace{}))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{def}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	assert.Empty(t, sink.scores)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "attribution_ambiguous", sink.exclusions[0].Reason)
}

func TestEvaluateAdmissionPassesCleanCase(t *testing.T) {
	sink := &memSink{}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, sink, WithRunID("run-t"), WithAdmission(nil))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{pipelineCase("c1")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Resolved)
	assert.Empty(t, sink.exclusions)
	require.Len(t, sink.scores, 1)
	assert.True(t, sink.scores[0].Resolved)
}

// =============================================================================
// Suite metrics
// =============================================================================

// fixedMetrics scripts the metrics source.
type fixedMetrics struct {
	m   scoring.SuiteMetrics
	err error
}

func (f fixedMetrics) Metrics(context.Context, *casespec.CaseDefinition, *repro.ExecutionResult, *repro.ExecutionResult, *diffrecord.Record) (scoring.SuiteMetrics, error) {
	return f.m, f.err
}

func TestEvaluateMetricsSourceFeedsCompositeFormula(t *testing.T) {
	def := pipelineCase("cov1")
	def.SuiteName = casespec.SuiteTestsCoverage
	sink := &memSink{}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, sink, WithRunID("run-t"),
		WithMetricsSource(fixedMetrics{m: scoring.SuiteMetrics{
			CoverageBefore: 40,
			CoverageAfter:  55,
			CoverageTarget: 20,
		}}))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{def}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Resolved)
	require.Len(t, sink.scores, 1)
	assert.InDelta(t, 75.0, sink.scores[0].FinalScore, 1e-9)
	assert.True(t, sink.scores[0].Resolved)
}

func TestEvaluateMetricsSourceErrorExcludes(t *testing.T) {
	def := pipelineCase("cov1")
	def.SuiteName = casespec.SuiteTestsCoverage
	sink := &memSink{}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, sink, WithRunID("run-t"),
		WithMetricsSource(fixedMetrics{err: errors.New("sidecar unreadable")}))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{def}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "infrastructure", sink.exclusions[0].Reason)
}

func TestSidecarMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cov1.metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coverage_before: 40\ncoverage_after: 55\ncoverage_target: 20\n"), 0o644))

	src := NewSidecarMetrics(map[string]string{"cov1": path})
	m, err := src.Metrics(context.Background(), &casespec.CaseDefinition{CaseID: "cov1"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 40.0, m.CoverageBefore)
	assert.Equal(t, 55.0, m.CoverageAfter)
	assert.Equal(t, 20.0, m.CoverageTarget)

	// Unknown case id and absent file are zero metrics, not errors.
	m, err = src.Metrics(context.Background(), &casespec.CaseDefinition{CaseID: "other"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, m)

	absent := NewSidecarMetrics(map[string]string{"cov1": filepath.Join(dir, "missing.yaml")})
	m, err = absent.Metrics(context.Background(), &casespec.CaseDefinition{CaseID: "cov1"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, m)

	// A present but unparseable sidecar is an error.
	bad := filepath.Join(dir, "bad.metrics.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("coverage_before: [oops"), 0o644))
	_, err = NewSidecarMetrics(map[string]string{"cov1": bad}).Metrics(context.Background(), &casespec.CaseDefinition{CaseID: "cov1"}, nil, nil, nil)
	assert.Error(t, err)
}

// =============================================================================
// Path policy
// =============================================================================

func TestEvaluateMalformedPathPolicyExcluded(t *testing.T) {
	def := pipelineCase("c1")
	def.PathConstraints = casespec.Constraints{ForbiddenPaths: []string{"["}}
	sink := &memSink{}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, sink, WithRunID("run-t"))

	summary, err := engine.Evaluate(context.Background(), []*casespec.CaseDefinition{def}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Excluded)
	assert.Empty(t, sink.scores)
	require.Len(t, sink.exclusions, 1)
	assert.Equal(t, "case_invalid", sink.exclusions[0].Reason)
	assert.Contains(t, sink.exclusions[0].Detail, "path constraints")
}

// =============================================================================
// Admission
// =============================================================================

func TestAdmitAcceptsWellPosedCase(t *testing.T) {
	engine := NewEngine(passingRepro(), &fakeDiffer{}, &memSink{})
	assert.NoError(t, engine.Admit(context.Background(), pipelineCase("c1"), nil))
}

func TestAdmitRejectsBaselineViolation(t *testing.T) {
	rt := passingRepro()
	rt.results[repro.TargetBaseline].Tests["test_A"] = repro.StatusPass
	engine := NewEngine(rt, &fakeDiffer{}, &memSink{})

	err := engine.Admit(context.Background(), pipelineCase("c1"), nil)
	var repErr *ReproductionError
	require.ErrorAs(t, err, &repErr)
	assert.Equal(t, "baseline", repErr.Stage)
}

func TestAdmitRejectsGoldViolation(t *testing.T) {
	rt := passingRepro()
	rt.results[repro.TargetGold].Tests["test_B"] = repro.StatusFail
	engine := NewEngine(rt, &fakeDiffer{}, &memSink{})

	err := engine.Admit(context.Background(), pipelineCase("c1"), nil)
	var repErr *ReproductionError
	require.ErrorAs(t, err, &repErr)
	assert.Equal(t, "gold", repErr.Stage)
}

// ambiguousWorkspace passes everywhere.
type ambiguousWorkspace struct{}

func (ambiguousWorkspace) RunWorkspace(context.Context, *casespec.CaseDefinition, []string) (bool, error) {
	return true, nil
}

func TestAdmitRejectsAmbiguousAttribution(t *testing.T) {
	def := pipelineCase("w1")
	def.MultiRepo = &casespec.MultiRepo{
		WorkspaceRepos: map[string]string{"api": "x", "core": "y"},
		PrimaryRepo:    "api",
		Attribution:    casespec.Attribution{CorrectRepo: "core"},
	}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, &memSink{})

	err := engine.Admit(context.Background(), def, ambiguousWorkspace{})
	assert.ErrorIs(t, err, attribution.ErrAmbiguous)
}

func TestAdmitMultiRepoRequiresWorkspaceRunner(t *testing.T) {
	def := pipelineCase("w1")
	def.MultiRepo = &casespec.MultiRepo{
		WorkspaceRepos: map[string]string{"api": "x", "core": "y"},
		PrimaryRepo:    "api",
		Attribution:    casespec.Attribution{CorrectRepo: "core"},
	}
	engine := NewEngine(passingRepro(), &fakeDiffer{}, &memSink{})
	assert.Error(t, engine.Admit(context.Background(), def, nil))
}
