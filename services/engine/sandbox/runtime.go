// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox defines the isolated-execution collaborator.
//
// # Description
//
// The engine specifies isolation at this interface boundary: a Runtime
// executes one step inside a resource-capped, network-restricted
// environment with a frozen clock. Container runtimes (podman, docker,
// firecracker) plug in behind the Runtime interface; LocalRuntime is
// the in-process implementation used for development and tests.
//
// Isolation policy is enforced here, not left to the code under
// evaluation: the candidate-producing actor never chooses its own
// network posture.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// =============================================================================
// Policy Types
// =============================================================================

// NetworkPolicy restricts what a step may reach.
type NetworkPolicy string

const (
	// NetworkNone disables network access entirely. Default for all
	// non-retrieval baselines.
	NetworkNone NetworkPolicy = "none"

	// NetworkLocalCorpus allows only the allow-listed local corpus
	// stub used by retrieval baselines.
	NetworkLocalCorpus NetworkPolicy = "local-corpus"
)

// Quota caps one run's resources. Zero fields mean "runtime default".
type Quota struct {
	// WallClock bounds the entire step. Exceeding it cancels the run.
	WallClock time.Duration

	// CPUSeconds caps CPU time (advisory for LocalRuntime).
	CPUSeconds int

	// MemoryBytes caps resident memory (advisory for LocalRuntime).
	MemoryBytes int64

	// DiskBytes caps scratch disk (advisory for LocalRuntime).
	DiskBytes int64
}

// DefaultQuota is applied when a case does not override resources.
func DefaultQuota() Quota {
	return Quota{
		WallClock:   30 * time.Minute,
		CPUSeconds:  3600,
		MemoryBytes: 8 << 30,
		DiskBytes:   20 << 30,
	}
}

// Spec describes one step execution.
type Spec struct {
	// Dir is the snapshot root the step runs in.
	Dir string

	// Command is the shell command line for the step.
	Command string

	// Network is the network posture for the step.
	Network NetworkPolicy

	// FrozenTime is exported into the environment so builds and test
	// tools that honor SOURCE_DATE_EPOCH see a fixed clock.
	FrozenTime time.Time

	// Quota caps the step's resources.
	Quota Quota

	// Env carries additional environment entries (KEY=VALUE).
	Env []string
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	// Command echoes the executed command line.
	Command string

	// ExitCode is the process exit code (-1 if it never ran).
	ExitCode int

	// Stdout and Stderr are the captured streams.
	Stdout string
	Stderr string

	// Duration is the wall-clock time the step took.
	Duration time.Duration

	// TimedOut reports that the wall-clock quota cancelled the step.
	TimedOut bool
}

// Runtime executes steps in isolation.
type Runtime interface {
	// Execute runs one step to completion and returns its result.
	// A non-zero exit code is not an error; error means the runtime
	// itself failed (infrastructure, not evaluation).
	Execute(ctx context.Context, spec Spec) (StepResult, error)
}

// =============================================================================
// Local Runtime
// =============================================================================

// LocalRuntime runs steps as local subprocesses through the shell.
//
// Resource quotas beyond wall clock are advisory here; production
// deployments substitute a container Runtime that enforces them with
// cgroups. Network policy is applied by proxy blackholing, which
// covers tools that honor proxy conventions.
type LocalRuntime struct {
	// Shell is the interpreter ("sh" when empty).
	Shell string
}

var _ Runtime = (*LocalRuntime)(nil)

// Execute implements Runtime.
func (l *LocalRuntime) Execute(ctx context.Context, spec Spec) (StepResult, error) {
	result := StepResult{Command: spec.Command, ExitCode: -1}

	if spec.Quota.WallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Quota.WallClock)
		defer cancel()
	}

	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	// The process never ran: missing shell, bad dir. Infrastructure.
	return result, fmt.Errorf("executing step %q: %w", spec.Command, err)
}

// buildEnv assembles the sanitized environment for a step.
//
// The environment is built from scratch rather than inherited so that
// host credentials never leak into the execution under evaluation.
func buildEnv(spec Spec) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + spec.Dir,
		"LANG=C.UTF-8",
		"TZ=UTC",
	}

	if !spec.FrozenTime.IsZero() {
		epoch := strconv.FormatInt(spec.FrozenTime.Unix(), 10)
		env = append(env,
			"SOURCE_DATE_EPOCH="+epoch,
			"CRUCIBLE_FROZEN_TIME="+spec.FrozenTime.UTC().Format(time.RFC3339),
		)
	}

	switch spec.Network {
	case NetworkLocalCorpus:
		env = append(env,
			"CRUCIBLE_NETWORK=local-corpus",
			"HTTP_PROXY=http://127.0.0.1:7777",
			"HTTPS_PROXY=http://127.0.0.1:7777",
			"NO_PROXY=127.0.0.1,localhost",
		)
	default:
		// Blackhole proxies: tools honoring proxy conventions fail
		// fast instead of reaching the network.
		env = append(env,
			"CRUCIBLE_NETWORK=none",
			"HTTP_PROXY=http://127.0.0.1:1",
			"HTTPS_PROXY=http://127.0.0.1:1",
			"NO_PROXY=",
			"GOPROXY=off",
			"PIP_NO_INDEX=1",
		)
	}

	return append(env, spec.Env...)
}
