// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives full case evaluations across a bounded
// worker pool.
//
// # Description
//
// One case evaluation is an isolated task: stable baseline
// reproduction, candidate reproduction, transition analysis, violation
// detection, scoring, and persistence. Many tasks run concurrently
// under a fixed-size pool; the only shared state is the read-only case
// catalog and the sink. Every evaluated case ends as a ScoreRecord or
// an explicit ExclusionRecord — no code path returns "no result".
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/crucible-eval/crucible/pkg/logging"
	"github.com/crucible-eval/crucible/services/engine/attribution"
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/diffrecord"
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/scorecard"
	"github.com/crucible-eval/crucible/services/engine/scoring"
	"github.com/crucible-eval/crucible/services/engine/transitions"
	"github.com/crucible-eval/crucible/services/engine/violations"
)

const tracerName = "crucible/pipeline"

// =============================================================================
// Collaborators
// =============================================================================

// CaseReproducer is the reproduction collaborator. Satisfied by
// *repro.Reproducer.
type CaseReproducer interface {
	Reproduce(ctx context.Context, def *casespec.CaseDefinition, target repro.Target) (*repro.ExecutionResult, error)
	ReproduceStable(ctx context.Context, def *casespec.CaseDefinition, target repro.Target) (*repro.ExecutionResult, error)
}

// Differ builds the structured diff for a candidate change, plus the
// log counters the violation catalog consumes.
type Differ interface {
	Diff(ctx context.Context, def *casespec.CaseDefinition, candidatePatch string) (*diffrecord.Record, violations.Logs, error)
}

// Sink persists evaluation outputs. Satisfied by *runstore.Store.
type Sink interface {
	PutScore(runID string, record scoring.ScoreRecord) error
	PutExclusion(runID string, record scorecard.ExclusionRecord) error
}

// =============================================================================
// Engine
// =============================================================================

// Engine evaluates candidate patches against admitted cases.
type Engine struct {
	repro   CaseReproducer
	differ  Differ
	sink    Sink
	logger  *logging.Logger
	metrics MetricsSource

	admitFirst bool
	workspace  attribution.WorkspaceRunner

	workers int
	runID   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds concurrent case evaluations.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRunID pins the run id instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithMetricsSource supplies per-case suite measurements to the
// composite scoring formulas. Without a source, composite suites score
// from zero metrics.
func WithMetricsSource(src MetricsSource) Option {
	return func(e *Engine) { e.metrics = src }
}

// WithAdmission makes Evaluate re-verify each case's admission
// invariant (baseline fails as declared, gold passes, unambiguous
// attribution) before evaluating it. The workspace runner serves
// multi-repo attribution trials; single-repo-only datasets may pass
// nil.
func WithAdmission(workspace attribution.WorkspaceRunner) Option {
	return func(e *Engine) {
		e.admitFirst = true
		e.workspace = workspace
	}
}

// NewEngine builds an evaluation engine.
func NewEngine(r CaseReproducer, d Differ, s Sink, opts ...Option) *Engine {
	e := &Engine{
		repro:   r,
		differ:  d,
		sink:    s,
		logger:  logging.Default(),
		workers: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summary reports one run's tallies.
type Summary struct {
	RunID      string
	Attempted  int
	Resolved   int
	Unresolved int
	Excluded   int
}

// Evaluate runs every (case, candidate patch) pair through the full
// pipeline under the worker pool.
//
// Per-case failures never abort the run: they become score records or
// exclusion records. The returned error covers sink failures only.
func (e *Engine) Evaluate(ctx context.Context, cases []*casespec.CaseDefinition, patches map[string]string) (Summary, error) {
	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.cases", len(cases)),
	)

	summary := Summary{RunID: runID, Attempted: len(cases)}
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)

	for _, def := range cases {
		def := def
		group.Go(func() error {
			outcome, err := e.evaluateCase(ctx, runID, def, patches[def.CaseID])
			if err != nil {
				return err
			}
			mu.Lock()
			switch outcome {
			case outcomeResolved:
				summary.Resolved++
			case outcomeUnresolved:
				summary.Unresolved++
			default:
				summary.Excluded++
			}
			mu.Unlock()
			return nil
		})
	}

	err := group.Wait()
	e.logger.Info("run complete",
		"run_id", runID,
		"attempted", summary.Attempted,
		"resolved", summary.Resolved,
		"unresolved", summary.Unresolved,
		"excluded", summary.Excluded,
	)
	return summary, err
}

// evaluateCase runs one case end to end and persists the outcome.
func (e *Engine) evaluateCase(ctx context.Context, runID string, def *casespec.CaseDefinition, candidatePatch string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.evaluateCase")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", def.CaseID))

	start := time.Now()
	defer func() { caseRunSeconds.Observe(time.Since(start).Seconds()) }()

	exclude := func(reason, detail string) (string, error) {
		span.SetStatus(codes.Error, reason)
		e.logger.Warn("case excluded", "case_id", def.CaseID, "reason", reason, "detail", detail)
		caseRunsTotal.WithLabelValues(outcomeExcluded).Inc()
		err := e.sink.PutExclusion(runID, scorecard.ExclusionRecord{
			CaseID: def.CaseID,
			Reason: reason,
			Detail: detail,
		})
		return outcomeExcluded, err
	}

	if e.admitFirst {
		if err := e.Admit(ctx, def, e.workspace); err != nil {
			var repErr *ReproductionError
			var detErr *repro.DeterminismError
			switch {
			case errors.Is(err, attribution.ErrAmbiguous):
				return exclude("attribution_ambiguous", err.Error())
			case errors.As(err, &repErr):
				return exclude("admission_rejected", repErr.Detail)
			case errors.As(err, &detErr):
				return exclude("quarantine", detErr.Error())
			default:
				return exclude("infrastructure", (&InfrastructureError{CaseID: def.CaseID, Err: err}).Error())
			}
		}
	}

	baseline, err := e.repro.ReproduceStable(ctx, def, repro.Baseline())
	if err != nil {
		var detErr *repro.DeterminismError
		if errors.As(err, &detErr) {
			return exclude("quarantine", detErr.Error())
		}
		return exclude("infrastructure", (&InfrastructureError{CaseID: def.CaseID, Err: err}).Error())
	}

	candidate, err := e.repro.Reproduce(ctx, def, repro.Candidate(candidatePatch))
	if err != nil {
		return exclude("infrastructure", (&InfrastructureError{CaseID: def.CaseID, Err: err}).Error())
	}

	verdict := transitions.Analyze(baseline, candidate, def.FailToPass, def.PassToPass)
	if verdict.CaseInvalid {
		return exclude("case_invalid", verdict.InvalidReason)
	}

	record, logs, err := e.differ.Diff(ctx, def, candidatePatch)
	if err != nil {
		return exclude("infrastructure", (&InfrastructureError{CaseID: def.CaseID, Err: err}).Error())
	}

	// A path policy that fails to compile would silently strip the
	// allowed-path exemption, so the case is invalid, not scorable.
	compiled, perr := casespec.CompilePolicy(def.PathConstraints)
	if perr != nil {
		return exclude("case_invalid", fmt.Sprintf("path constraints: %v", perr))
	}
	policy := violations.DefaultPolicy()
	policy.Paths = compiled
	report := violations.Detect(ctx, record, logs, policy)

	metrics := scoring.SuiteMetrics{}
	if e.metrics != nil {
		m, merr := e.metrics.Metrics(ctx, def, baseline, candidate, record)
		if merr != nil {
			return exclude("infrastructure", (&InfrastructureError{CaseID: def.CaseID, Err: merr}).Error())
		}
		metrics = m
	}

	score := scoring.Score(def, verdict, report, metrics, policy)
	score.Failure = candidate.Failure
	if candidate.TimedOut {
		score.Failure = repro.FailureTimeout
	}
	score.WrongRepo = wrongRepo(def, record)
	score.Secondary = scoring.Secondary{
		WallClockSeconds: candidate.WallClock.Seconds(),
		DiffSizeLines:    record.TotalLines(),
	}

	if err := e.sink.PutScore(runID, score); err != nil {
		return "", err
	}

	outcome := outcomeUnresolved
	if score.Resolved {
		outcome = outcomeResolved
	}
	caseRunsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.Float64("case.final_score", score.FinalScore),
		attribute.Bool("case.resolved", score.Resolved),
	)
	e.logger.Info("case evaluated",
		"case_id", def.CaseID,
		"suite", def.SuiteName.String(),
		"final_score", score.FinalScore,
		"resolved", score.Resolved,
	)
	return outcome, nil
}

// wrongRepo reports a multi-repo candidate whose change never touches
// the declared correct repo. Workspace trees are materialized as
// sibling directories named by repo, so the first path segment
// identifies the repo.
func wrongRepo(def *casespec.CaseDefinition, record *diffrecord.Record) bool {
	if !def.IsMultiRepo() || len(record.Files) == 0 {
		return false
	}
	correct := def.MultiRepo.Attribution.CorrectRepo
	for _, f := range record.Files {
		if repoOf(f.Path) == correct {
			return false
		}
	}
	return true
}

// repoOf extracts the leading path segment.
func repoOf(path string) string {
	if i := strings.IndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return path
}
