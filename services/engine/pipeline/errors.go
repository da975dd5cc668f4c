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
	"fmt"
)

// InfrastructureError marks an execution-environment failure: the
// evaluation could not run, so the case is excluded from the
// resolved-rate with an explicit exclusion record, never scored zero
// and never silently dropped.
type InfrastructureError struct {
	CaseID string
	Err    error
}

// Error implements error.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure evaluating %s: %v", e.CaseID, e.Err)
}

// Unwrap exposes the cause.
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// ReproductionError rejects a case at admission: the pinned baseline
// does not fail as declared, or the gold reference does not pass. This
// blocks admission permanently; it is never a runtime scoring error.
type ReproductionError struct {
	CaseID string

	// Stage is "baseline" or "gold".
	Stage string

	Detail string
}

// Error implements error.
func (e *ReproductionError) Error() string {
	return fmt.Sprintf("case %s rejected at admission (%s): %s", e.CaseID, e.Stage, e.Detail)
}
