// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contamination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var cutoff = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		created time.Time
		want    Risk
	}{
		{"after cutoff", cutoff.AddDate(0, 3, 0), RiskSafe},
		{"before cutoff", cutoff.AddDate(-1, 0, 0), RiskFlagged},
		{"exactly at cutoff", cutoff, RiskFlagged},
		{"one second after", cutoff.Add(time.Second), RiskSafe},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.created, cutoff))
		})
	}
}

func TestSameCaseDifferentModels(t *testing.T) {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	earlyModel := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lateModel := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, RiskSafe, Classify(created, earlyModel))
	assert.Equal(t, RiskFlagged, Classify(created, lateModel))
}

func TestClassifyCaseRecord(t *testing.T) {
	record := ClassifyCase("case-9", cutoff.AddDate(0, 1, 0), cutoff)
	assert.Equal(t, "case-9", record.CaseID)
	assert.Equal(t, RiskSafe, record.Risk)
}
