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
	"strings"
)

// =============================================================================
// Adapter Registry
// =============================================================================

// Adapter parses one runner family's output into normalized statuses.
//
// Adapters are additive: a test the adapter cannot find in the output
// is simply absent from the returned map, and downstream lookups
// default it to MISSING. Ambiguity never becomes a PASS.
type Adapter interface {
	// Name identifies the runner family.
	Name() string

	// Matches reports whether this adapter handles the given
	// evaluation command line.
	Matches(command string) bool

	// Parse extracts test statuses from captured step output.
	Parse(stdout, stderr string) map[TestID]Status
}

// adapters is consulted in order; first match wins.
var adapters = []Adapter{
	goTestAdapter{},
	pytestAdapter{},
	junitAdapter{},
}

// AdapterFor selects the adapter for an evaluation command, nil when
// no family matches. Callers treat nil as "no test statuses extracted"
// and fall back to exit-code-only interpretation.
func AdapterFor(command string) Adapter {
	for _, a := range adapters {
		if a.Matches(command) {
			return a
		}
	}
	return nil
}

// containsToken reports whether command contains tok as a
// whitespace-delimited word.
func containsToken(command, tok string) bool {
	for _, f := range strings.Fields(command) {
		if f == tok || strings.HasSuffix(f, "/"+tok) {
			return true
		}
	}
	return false
}
