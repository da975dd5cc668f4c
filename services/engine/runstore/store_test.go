// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-eval/crucible/services/engine/casespec"
	"github.com/crucible-eval/crucible/services/engine/scorecard"
	"github.com/crucible-eval/crucible/services/engine/scoring"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestScoreRoundTrip(t *testing.T) {
	store := openStore(t)

	record := scoring.ScoreRecord{
		CaseID:     "acme-0042",
		Suite:      casespec.SuiteCIFix,
		BaseScore:  100,
		FinalScore: 100,
		Resolved:   true,
		Secondary:  scoring.Secondary{WallClockSeconds: 12.5, DiffSizeLines: 40},
	}
	require.NoError(t, store.PutScore("run-1", record))

	got, err := store.Scores("run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, record, got[0])
}

func TestRunsAreIsolated(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutScore("run-1", scoring.ScoreRecord{CaseID: "a", Suite: casespec.SuiteCIFix}))
	require.NoError(t, store.PutScore("run-2", scoring.ScoreRecord{CaseID: "b", Suite: casespec.SuiteCIFix}))

	run1, err := store.Scores("run-1")
	require.NoError(t, err)
	require.Len(t, run1, 1)
	assert.Equal(t, "a", run1[0].CaseID)

	run2, err := store.Scores("run-2")
	require.NoError(t, err)
	require.Len(t, run2, 1)
	assert.Equal(t, "b", run2[0].CaseID)
}

func TestExclusionsSeparateFromScores(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutScore("run-1", scoring.ScoreRecord{CaseID: "scored", Suite: casespec.SuiteCIFix}))
	require.NoError(t, store.PutExclusion("run-1", scorecard.ExclusionRecord{
		CaseID: "quarantined",
		Reason: "quarantine",
		Detail: "run 2 diverged from run 1",
	}))

	scores, err := store.Scores("run-1")
	require.NoError(t, err)
	assert.Len(t, scores, 1)

	exclusions, err := store.Exclusions("run-1")
	require.NoError(t, err)
	require.Len(t, exclusions, 1)
	assert.Equal(t, "quarantined", exclusions[0].CaseID)
	assert.Equal(t, "quarantine", exclusions[0].Reason)
}

func TestOverwriteIsLastWriterWins(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutScore("run-1", scoring.ScoreRecord{CaseID: "a", Suite: casespec.SuiteCIFix, FinalScore: 0}))
	require.NoError(t, store.PutScore("run-1", scoring.ScoreRecord{CaseID: "a", Suite: casespec.SuiteCIFix, FinalScore: 100}))

	got, err := store.Scores("run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].FinalScore)
}

func TestEmptyRunReadsEmpty(t *testing.T) {
	store := openStore(t)

	scores, err := store.Scores("missing")
	require.NoError(t, err)
	assert.Empty(t, scores)
}
