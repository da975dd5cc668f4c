// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package casespec

import "fmt"

// SchemaError reports a missing or ill-typed case field. It is fatal
// to intake; the case never enters the evaluable pool.
type SchemaError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("case schema invalid: %s", e.Reason)
	}
	return fmt.Sprintf("case schema invalid: field %s: %s", e.Field, e.Reason)
}

// ArtifactNotFoundError reports a referenced artifact (patch file,
// repository) that does not exist. Fatal to intake.
type ArtifactNotFoundError struct {
	Artifact string
}

// Error implements error.
func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("case artifact not found: %s", e.Artifact)
}

// PathConstraintError reports an inconsistent path policy, such as a
// pattern listed as both allowed and forbidden, or a pattern that does
// not compile. Fatal to intake.
type PathConstraintError struct {
	Pattern string
	Reason  string
}

// Error implements error.
func (e *PathConstraintError) Error() string {
	return fmt.Sprintf("path constraint %q: %s", e.Pattern, e.Reason)
}
