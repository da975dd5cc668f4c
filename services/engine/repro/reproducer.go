// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repro

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/crucible-eval/crucible/pkg/logging"
	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/sandbox"
)

const tracerName = "crucible/repro"

// =============================================================================
// Materialization
// =============================================================================

// Materializer produces a pristine working tree for a (case, target)
// pair. The returned dir is owned by the reproducer for the duration
// of the run.
type Materializer interface {
	// Materialize checks out the case's base state, applies the
	// target's change, and returns the tree root.
	Materialize(ctx context.Context, def *casespec.CaseDefinition, target Target) (dir string, err error)
}

// GitSource is the subset of git operations materialization needs.
// Satisfied by *gitrepo.Repo.
type GitSource interface {
	CheckoutDetached(ctx context.Context, sha string) error
	ApplyPatch(ctx context.Context, patchPath string) error
	CherryPick(ctx context.Context, sha string) error
}

// GitMaterializer materializes targets from a pre-cloned repository
// working tree. One materializer serves one case's repo; the pipeline
// holds a clone per case.
type GitMaterializer struct {
	// Repo is the clone of the case's repository.
	Repo GitSource

	// Dir is the clone's working tree root.
	Dir string

	// CaseDir resolves relative artifact refs (gold patch_ref).
	CaseDir string
}

var _ Materializer = (*GitMaterializer)(nil)

// Materialize implements Materializer. Checkout is forced and cleaned,
// so successive targets of the same case reuse one clone.
func (g *GitMaterializer) Materialize(ctx context.Context, def *casespec.CaseDefinition, target Target) (string, error) {
	if err := g.Repo.CheckoutDetached(ctx, def.BaseSHA); err != nil {
		return "", fmt.Errorf("checkout %s: %w", def.BaseSHA[:12], err)
	}

	switch target.Kind {
	case TargetBaseline:
		// Pinned tree as-is.

	case TargetGold:
		switch def.Gold.Type {
		case casespec.GoldMergeSHA:
			if err := g.Repo.CherryPick(ctx, def.Gold.MergeSHA); err != nil {
				return "", fmt.Errorf("applying gold commit: %w", err)
			}
		case casespec.GoldPatch:
			patch := filepath.Join(g.CaseDir, def.Gold.PatchRef)
			if err := g.Repo.ApplyPatch(ctx, patch); err != nil {
				return "", fmt.Errorf("applying gold patch: %w", err)
			}
		}

	case TargetCandidate:
		// An empty patch path is a candidate that produced no change:
		// the baseline tree stands, and the transition analysis will
		// find the fail_to_pass tests unflipped.
		if target.PatchPath != "" {
			if err := g.Repo.ApplyPatch(ctx, target.PatchPath); err != nil {
				return "", fmt.Errorf("applying candidate patch: %w", err)
			}
		}

	default:
		return "", fmt.Errorf("unknown target kind %q", target.Kind)
	}

	return g.Dir, nil
}

// =============================================================================
// Reproducer
// =============================================================================

// Reproducer executes a case's recipe at a target state.
type Reproducer struct {
	materializer Materializer
	runtime      sandbox.Runtime
	logger       *logging.Logger

	// logRoot is the root of the run-artifact layout; step logs land
	// under <logRoot>/<run-id>/<case-id>/.
	logRoot string
	runID   string

	quota  sandbox.Quota
	frozen time.Time
}

// Option configures a Reproducer.
type Option func(*Reproducer)

// WithQuota overrides the default resource quota.
func WithQuota(q sandbox.Quota) Option {
	return func(r *Reproducer) { r.quota = q }
}

// WithFrozenTime pins the in-sandbox clock.
func WithFrozenTime(t time.Time) Option {
	return func(r *Reproducer) { r.frozen = t }
}

// WithLogDir sets the run-artifact root and run id for step logs.
func WithLogDir(root, runID string) Option {
	return func(r *Reproducer) { r.logRoot, r.runID = root, runID }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reproducer) { r.logger = l }
}

// New builds a Reproducer over a materializer and a sandbox runtime.
func New(m Materializer, rt sandbox.Runtime, opts ...Option) *Reproducer {
	r := &Reproducer{
		materializer: m,
		runtime:      rt,
		logger:       logging.Default(),
		quota:        sandbox.DefaultQuota(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reproduce materializes the target, runs setup then evaluation steps
// strictly in order, and normalizes runner output.
//
// A failing step stops execution; the classification of the failure
// follows compile_error > test_failure > build_sys > timeout > unknown
// when multiple signals are present. An error return means the
// infrastructure failed, not the code under evaluation.
func (r *Reproducer) Reproduce(ctx context.Context, def *casespec.CaseDefinition, target Target) (*ExecutionResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "repro.Reproduce")
	defer span.End()
	span.SetAttributes(
		attribute.String("case.id", def.CaseID),
		attribute.String("case.target", string(target.Kind)),
	)

	start := time.Now()
	result := &ExecutionResult{
		CaseID: def.CaseID,
		Target: target.Kind,
		Tests:  make(map[TestID]Status),
	}

	dir, err := r.materializer.Materialize(ctx, def, target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("materializing %s at %s: %w", def.CaseID, target.Kind, err)
	}

	logDir, err := r.ensureLogDir(def.CaseID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result.LogDir = logDir

	setupOK := true
	for i, step := range def.SetupSteps {
		outcome, stepResult, err := r.runStep(ctx, dir, def, step, logDir, fmt.Sprintf("setup-%02d", i))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result.Steps = append(result.Steps, outcome)
		if stepResult.TimedOut {
			result.TimedOut = true
			result.Failure = FailureTimeout
			setupOK = false
			break
		}
		if stepResult.ExitCode != 0 {
			// Setup never runs tests, so a failure here is the build
			// system, unless the output shows a compiler diagnostic.
			result.Failure = classifyOutput(stepResult, false)
			if result.Failure == FailureUnknown || result.Failure == FailureTestFailure {
				result.Failure = FailureBuildSys
			}
			setupOK = false
			break
		}
	}

	if setupOK {
		for i, step := range def.EvaluationSteps {
			outcome, stepResult, err := r.runStep(ctx, dir, def, step, logDir, fmt.Sprintf("eval-%02d", i))
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			result.Steps = append(result.Steps, outcome)

			if adapter := AdapterFor(step); adapter != nil {
				for id, status := range adapter.Parse(stepResult.Stdout, stepResult.Stderr) {
					result.Tests[id] = status
				}
			}

			if stepResult.TimedOut {
				result.TimedOut = true
				result.Failure = FailureTimeout
				break
			}
			if stepResult.ExitCode != 0 && result.Failure == FailureNone {
				result.Failure = classifyOutput(stepResult, len(result.Tests) > 0)
			}
		}
	}

	result.WallClock = time.Since(start)
	r.writeRunArtifacts(logDir, target, result)
	r.logger.Info("reproduction complete",
		"case_id", def.CaseID,
		"target", string(target.Kind),
		"steps", len(result.Steps),
		"tests", len(result.Tests),
		"failure", string(result.Failure),
		"wall_clock", result.WallClock.String(),
	)
	span.SetAttributes(attribute.Int("repro.tests", len(result.Tests)))
	return result, nil
}

// runStep executes one recipe step in the sandbox and persists its log.
func (r *Reproducer) runStep(ctx context.Context, dir string, def *casespec.CaseDefinition, command, logDir, name string) (StepOutcome, sandbox.StepResult, error) {
	network := sandbox.NetworkNone
	if def.SuiteName == casespec.SuiteRetrieval {
		network = sandbox.NetworkLocalCorpus
	}

	stepResult, err := r.runtime.Execute(ctx, sandbox.Spec{
		Dir:        dir,
		Command:    command,
		Network:    network,
		FrozenTime: r.frozen,
		Quota:      r.quota,
	})
	if err != nil {
		return StepOutcome{}, sandbox.StepResult{}, fmt.Errorf("step %q: %w", command, err)
	}

	logRef := r.writeStepLog(logDir, name, command, stepResult)
	outcome := StepOutcome{
		Command:  command,
		ExitCode: stepResult.ExitCode,
		LogRef:   logRef,
		Duration: stepResult.Duration,
	}
	return outcome, stepResult, nil
}

// ensureLogDir creates the per-case artifact directory. Empty logRoot
// disables log persistence (tests).
func (r *Reproducer) ensureLogDir(caseID string) (string, error) {
	if r.logRoot == "" {
		return "", nil
	}
	dir := filepath.Join(r.logRoot, r.runID, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log dir: %w", err)
	}
	return dir, nil
}

// writeRunArtifacts completes the per-case artifact directory: the
// normalized result as report.json and, for candidate targets, a copy
// of the applied patch. Artifact failures are logged, not fatal.
func (r *Reproducer) writeRunArtifacts(logDir string, target Target, result *ExecutionResult) {
	if logDir == "" {
		return
	}
	if data, err := json.MarshalIndent(result, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(logDir, "report.json"), data, 0o644); err != nil {
			r.logger.Warn("report artifact not persisted", "case_id", result.CaseID, "error", err.Error())
		}
	}
	if target.Kind == TargetCandidate && target.PatchPath != "" {
		data, err := os.ReadFile(target.PatchPath)
		if err == nil {
			err = os.WriteFile(filepath.Join(logDir, "candidate.patch"), data, 0o644)
		}
		if err != nil {
			r.logger.Warn("patch artifact not persisted", "case_id", result.CaseID, "error", err.Error())
		}
	}
}

// writeStepLog persists one step's raw output. Log failures are not
// fatal to the reproduction.
func (r *Reproducer) writeStepLog(logDir, name, command string, res sandbox.StepResult) string {
	if logDir == "" {
		return ""
	}
	path := filepath.Join(logDir, name+".log")
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\nexit=%d timed_out=%v duration=%s\n", command, res.ExitCode, res.TimedOut, res.Duration)
	b.WriteString("--- stdout ---\n")
	b.WriteString(res.Stdout)
	b.WriteString("\n--- stderr ---\n")
	b.WriteString(res.Stderr)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		r.logger.Warn("step log not persisted", "path", path, "error", err.Error())
		return ""
	}
	return path
}

// =============================================================================
// Failure Classification
// =============================================================================

// compileSignals are diagnostics emitted by compilers and type
// checkers, as opposed to test harness or build orchestration output.
var compileSignals = []string{
	"syntax error",
	"undefined:",
	"undeclared identifier",
	"cannot find symbol",
	"error: expected",
	"compilation failed",
	"compile error",
	"SyntaxError:",
	"ImportError:",
	"ModuleNotFoundError:",
	"# command-line-arguments",
	"build failed",
}

// buildSysSignals come from build orchestration rather than source.
var buildSysSignals = []string{
	"No rule to make target",
	"missing go.sum entry",
	"could not resolve dependencies",
	"CMake Error",
	"Could not find a version that satisfies",
	"gradle build failed",
	"make: ***",
}

// classifyOutput classifies a non-zero step in priority order.
// hasTestResults reports whether an adapter extracted statuses from
// the run; with results present, a plain failure is a test failure.
func classifyOutput(res sandbox.StepResult, hasTestResults bool) FailureClass {
	combined := res.Stdout + "\n" + res.Stderr
	for _, sig := range compileSignals {
		if strings.Contains(combined, sig) {
			return FailureCompileError
		}
	}
	if hasTestResults {
		return FailureTestFailure
	}
	for _, sig := range buildSysSignals {
		if strings.Contains(combined, sig) {
			return FailureBuildSys
		}
	}
	return FailureUnknown
}
