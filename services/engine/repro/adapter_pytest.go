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
	"regexp"
	"strings"
)

// pytestAdapter parses pytest verbose output lines of the form
//
//	tests/test_api.py::test_get PASSED [ 50%]
//	tests/test_api.py::TestSuite::test_post FAILED
//
// Cases pin `-v` in their evaluation steps so per-test lines appear.
type pytestAdapter struct{}

func (pytestAdapter) Name() string { return "pytest" }

func (pytestAdapter) Matches(command string) bool {
	return containsToken(command, "pytest") || containsToken(command, "py.test") ||
		strings.Contains(command, "-m pytest")
}

var pytestLineRe = regexp.MustCompile(`(?m)^(\S+::\S+)\s+(PASSED|FAILED|ERROR|XPASS|XFAIL|SKIPPED)\b`)

// Parse maps verdict words onto the normalized statuses. ERROR and
// XPASS count as FAIL: an erroring test did not pass, and an
// unexpectedly-passing xfail signals the tree diverged from the pinned
// expectations. SKIPPED is deliberately dropped so a skipped required
// test resolves to MISSING, never PASS.
func (pytestAdapter) Parse(stdout, stderr string) map[TestID]Status {
	results := make(map[TestID]Status)
	for _, out := range []string{stdout, stderr} {
		for _, m := range pytestLineRe.FindAllStringSubmatch(out, -1) {
			id, verdict := m[1], m[2]
			switch verdict {
			case "PASSED", "XFAIL":
				results[id] = StatusPass
			case "FAILED", "ERROR", "XPASS":
				results[id] = StatusFail
			}
		}
	}
	return results
}
