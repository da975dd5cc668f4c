// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scorecard

import (
	"github.com/crucible-eval/crucible/services/engine/repro"
	"github.com/crucible-eval/crucible/services/engine/scoring"
)

// FailureCategory buckets a non-passing case for the taxonomy
// histogram.
type FailureCategory string

const (
	FailurePolicyViolation FailureCategory = "policy_violation"
	FailureWrongRepo       FailureCategory = "wrong_repo"
	FailureTimeout         FailureCategory = "timeout"
	FailureCompileError    FailureCategory = "compile_error"
	FailureTestFailure     FailureCategory = "test_failure"
	FailureBuildSys        FailureCategory = "build_sys"
	FailureUnknown         FailureCategory = "unknown"
)

// Categorize assigns a non-resolved ScoreRecord to exactly one
// failure category in fixed priority order: policy_violation >
// wrong_repo > timeout > compile_error > test_failure > build_sys >
// unknown. Resolved records have no category.
func Categorize(record scoring.ScoreRecord) FailureCategory {
	threshold := scoring.PassThreshold(record.Suite)
	penaltiesSank := record.PenaltyPoints > 0 &&
		record.BaseScore >= threshold && record.FinalScore < threshold

	switch {
	case record.InstantFail || penaltiesSank:
		return FailurePolicyViolation
	case record.WrongRepo:
		return FailureWrongRepo
	case record.Failure == repro.FailureTimeout:
		return FailureTimeout
	case record.Failure == repro.FailureCompileError:
		return FailureCompileError
	case record.Failure == repro.FailureTestFailure:
		return FailureTestFailure
	case record.Failure == repro.FailureBuildSys:
		return FailureBuildSys
	default:
		return FailureUnknown
	}
}
