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
	"bufio"
	"encoding/json"
	"strings"
)

// goTestAdapter parses `go test -json` event streams.
type goTestAdapter struct{}

func (goTestAdapter) Name() string { return "gotest" }

func (goTestAdapter) Matches(command string) bool {
	return containsToken(command, "go") && strings.Contains(command, "test")
}

// goTestEvent mirrors the test2json event schema, only the fields the
// adapter consumes.
type goTestEvent struct {
	Action  string `json:"Action"`
	Package string `json:"Package"`
	Test    string `json:"Test"`
}

// Parse extracts terminal pass/fail events. Subtests report under
// their slash-joined name; both the bare test name and the
// package-qualified form are recorded so either spelling in a case's
// transition sets resolves.
func (goTestAdapter) Parse(stdout, _ string) map[TestID]Status {
	results := make(map[TestID]Status)
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			// go test interleaves plain lines when -json is combined
			// with build failures.
			continue
		}
		var ev goTestEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Test == "" {
			continue
		}

		var status Status
		switch ev.Action {
		case "pass":
			status = StatusPass
		case "fail":
			status = StatusFail
		default:
			continue
		}

		results[ev.Test] = status
		if ev.Package != "" {
			results[ev.Package+"."+ev.Test] = status
		}
	}
	return results
}
