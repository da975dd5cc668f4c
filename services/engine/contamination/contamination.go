// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contamination partitions cases by temporal risk relative to
// a model's training cutoff.
//
// The classification is per (case, model) pairing: the same case may
// be SAFE for one model and FLAGGED for another. The partition is
// disjoint and exhaustive; there is no third bucket.
package contamination

import (
	"time"
)

// Risk is the contamination classification.
type Risk string

const (
	// RiskSafe means the case was created after the model's training
	// cutoff and cannot have been memorized.
	RiskSafe Risk = "SAFE"

	// RiskFlagged means the case predates (or equals) the cutoff and
	// may appear in training data.
	RiskFlagged Risk = "FLAGGED"
)

// Record is one (case, model) classification.
type Record struct {
	CaseID       string    `json:"case_id"`
	CreationDate time.Time `json:"task_creation_date"`
	ModelCutoff  time.Time `json:"model_cutoff"`
	Risk         Risk      `json:"risk"`
}

// Classify returns SAFE iff the task creation date is strictly after
// the model cutoff. Equality is FLAGGED: a case created on the cutoff
// day may still be in the training window.
func Classify(created, cutoff time.Time) Risk {
	if created.After(cutoff) {
		return RiskSafe
	}
	return RiskFlagged
}

// ClassifyCase builds the full record for one pairing.
func ClassifyCase(caseID string, created, cutoff time.Time) Record {
	return Record{
		CaseID:       caseID,
		CreationDate: created,
		ModelCutoff:  cutoff,
		Risk:         Classify(created, cutoff),
	}
}
