// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCapturesExitCodeAndOutput(t *testing.T) {
	rt := &LocalRuntime{}

	result, err := rt.Execute(context.Background(), Spec{
		Dir:     t.TempDir(),
		Command: "echo out; echo err >&2; exit 3",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.False(t, result.TimedOut)
}

func TestExecuteWallClockTimeout(t *testing.T) {
	rt := &LocalRuntime{}

	result, err := rt.Execute(context.Background(), Spec{
		Dir:     t.TempDir(),
		Command: "sleep 5",
		Quota:   Quota{WallClock: 100 * time.Millisecond},
	})
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestExecuteFrozenClockEnv(t *testing.T) {
	rt := &LocalRuntime{}
	frozen := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	result, err := rt.Execute(context.Background(), Spec{
		Dir:        t.TempDir(),
		Command:    "echo $SOURCE_DATE_EPOCH $CRUCIBLE_FROZEN_TIME",
		FrozenTime: frozen,
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)

	fields := strings.Fields(result.Stdout)
	require.Len(t, fields, 2)
	assert.Equal(t, "1741608000", fields[0])
	assert.Equal(t, "2025-03-10T12:00:00Z", fields[1])
}

func TestExecuteNetworkPolicyEnv(t *testing.T) {
	rt := &LocalRuntime{}

	result, err := rt.Execute(context.Background(), Spec{
		Dir:     t.TempDir(),
		Command: "echo $CRUCIBLE_NETWORK $GOPROXY",
		Network: NetworkNone,
	})
	require.NoError(t, err)
	assert.Equal(t, "none off\n", result.Stdout)

	result, err = rt.Execute(context.Background(), Spec{
		Dir:     t.TempDir(),
		Command: "echo $CRUCIBLE_NETWORK",
		Network: NetworkLocalCorpus,
	})
	require.NoError(t, err)
	assert.Equal(t, "local-corpus\n", result.Stdout)
}

func TestExecuteDoesNotInheritHostEnv(t *testing.T) {
	t.Setenv("CRUCIBLE_HOST_SECRET", "leak")
	rt := &LocalRuntime{}

	result, err := rt.Execute(context.Background(), Spec{
		Dir:     t.TempDir(),
		Command: "echo [$CRUCIBLE_HOST_SECRET]",
	})
	require.NoError(t, err)
	assert.Equal(t, "[]\n", result.Stdout)
}

func TestExecuteInfrastructureFailure(t *testing.T) {
	rt := &LocalRuntime{Shell: "/nonexistent-shell"}

	_, err := rt.Execute(context.Background(), Spec{
		Dir:     t.TempDir(),
		Command: "true",
	})
	assert.Error(t, err)
}

func TestDefaultQuota(t *testing.T) {
	q := DefaultQuota()
	assert.Equal(t, 30*time.Minute, q.WallClock)
	assert.NotZero(t, q.MemoryBytes)
}
