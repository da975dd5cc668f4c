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
	"encoding/xml"
	"strings"
)

// junitAdapter parses JUnit-style XML test reports. Cases using maven,
// gradle, or ctest pin an evaluation step that cats the report XML to
// stdout, so the adapter reads the step's captured output directly.
type junitAdapter struct{}

func (junitAdapter) Name() string { return "junit" }

func (junitAdapter) Matches(command string) bool {
	return containsToken(command, "mvn") || containsToken(command, "gradle") ||
		containsToken(command, "gradlew") || containsToken(command, "ctest") ||
		strings.Contains(command, "surefire-reports")
}

type junitSuites struct {
	Suites []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name  string      `xml:"name,attr"`
	Cases []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string    `xml:"name,attr"`
	ClassName string    `xml:"classname,attr"`
	Failure   *struct{} `xml:"failure"`
	Error     *struct{} `xml:"error"`
	Skipped   *struct{} `xml:"skipped"`
}

// Parse accepts either a <testsuites> wrapper or a bare <testsuite>
// document, possibly surrounded by build-tool noise. Skipped cases are
// dropped so a skipped required test resolves to MISSING.
func (junitAdapter) Parse(stdout, _ string) map[TestID]Status {
	results := make(map[TestID]Status)

	doc := extractXML(stdout)
	if doc == "" {
		return results
	}

	var suites junitSuites
	if err := xml.Unmarshal([]byte(doc), &suites); err == nil && len(suites.Suites) > 0 {
		for _, s := range suites.Suites {
			addJUnitCases(results, s)
		}
		return results
	}

	var single junitSuite
	if err := xml.Unmarshal([]byte(doc), &single); err == nil {
		addJUnitCases(results, single)
	}
	return results
}

func addJUnitCases(results map[TestID]Status, s junitSuite) {
	for _, c := range s.Cases {
		if c.Skipped != nil {
			continue
		}
		status := StatusPass
		if c.Failure != nil || c.Error != nil {
			status = StatusFail
		}
		results[c.Name] = status
		if c.ClassName != "" {
			results[c.ClassName+"."+c.Name] = status
		}
	}
}

// extractXML isolates the report document from surrounding tool chatter.
func extractXML(out string) string {
	for _, tag := range []string{"<testsuites", "<testsuite"} {
		if i := strings.Index(out, tag); i >= 0 {
			return out[i:]
		}
	}
	return ""
}
