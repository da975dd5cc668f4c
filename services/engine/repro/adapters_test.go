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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterForSelection(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"go test -json ./...", "gotest"},
		{"/usr/local/go/bin/go test -json ./pkg/...", "gotest"},
		{"pytest -v tests/", "pytest"},
		{"python -m pytest -v", "pytest"},
		{"mvn test", "junit"},
		{"./gradlew test", "junit"},
		{"make check", ""},
	}
	for _, tc := range tests {
		adapter := AdapterFor(tc.command)
		if tc.want == "" {
			assert.Nil(t, adapter, tc.command)
			continue
		}
		require.NotNil(t, adapter, tc.command)
		assert.Equal(t, tc.want, adapter.Name(), tc.command)
	}
}

func TestGoTestAdapterParse(t *testing.T) {
	out := `{"Action":"run","Package":"example.com/m/pkg","Test":"TestAlpha"}
{"Action":"pass","Package":"example.com/m/pkg","Test":"TestAlpha","Elapsed":0.01}
{"Action":"fail","Package":"example.com/m/pkg","Test":"TestBeta","Elapsed":0.02}
{"Action":"pass","Package":"example.com/m/pkg","Elapsed":0.5}
not json noise from a build line
{"Action":"pass","Package":"example.com/m/pkg","Test":"TestAlpha/sub"}
`
	results := goTestAdapter{}.Parse(out, "")

	assert.Equal(t, StatusPass, results["TestAlpha"])
	assert.Equal(t, StatusFail, results["TestBeta"])
	assert.Equal(t, StatusPass, results["TestAlpha/sub"])
	assert.Equal(t, StatusPass, results["example.com/m/pkg.TestAlpha"])

	// Package-level events carry no Test and are not statuses.
	_, ok := results["example.com/m/pkg"]
	assert.False(t, ok)
}

func TestPytestAdapterParse(t *testing.T) {
	out := `collected 4 items

tests/test_api.py::test_get PASSED [ 25%]
tests/test_api.py::test_post FAILED [ 50%]
tests/test_api.py::TestAuth::test_token ERROR [ 75%]
tests/test_api.py::test_flaky SKIPPED [100%]
`
	results := pytestAdapter{}.Parse(out, "")

	assert.Equal(t, StatusPass, results["tests/test_api.py::test_get"])
	assert.Equal(t, StatusFail, results["tests/test_api.py::test_post"])
	assert.Equal(t, StatusFail, results["tests/test_api.py::TestAuth::test_token"])

	// Skips are dropped: a skipped required test must resolve MISSING.
	_, ok := results["tests/test_api.py::test_flaky"]
	assert.False(t, ok)
}

func TestJUnitAdapterParse(t *testing.T) {
	out := `[INFO] Surefire report follows
<testsuites>
  <testsuite name="com.acme.WidgetTest" tests="3">
    <testcase classname="com.acme.WidgetTest" name="rotates"/>
    <testcase classname="com.acme.WidgetTest" name="clamps">
      <failure message="expected 0"/>
    </testcase>
    <testcase classname="com.acme.WidgetTest" name="slow">
      <skipped/>
    </testcase>
  </testsuite>
</testsuites>
`
	results := junitAdapter{}.Parse(out, "")

	assert.Equal(t, StatusPass, results["rotates"])
	assert.Equal(t, StatusPass, results["com.acme.WidgetTest.rotates"])
	assert.Equal(t, StatusFail, results["com.acme.WidgetTest.clamps"])

	_, ok := results["slow"]
	assert.False(t, ok)
}

func TestJUnitAdapterBareSuite(t *testing.T) {
	out := `<testsuite name="smoke" tests="1">
  <testcase name="boots"/>
</testsuite>`
	results := junitAdapter{}.Parse(out, "")
	assert.Equal(t, StatusPass, results["boots"])
}

func TestStatusOfDefaultsToMissing(t *testing.T) {
	r := &ExecutionResult{Tests: map[TestID]Status{"TestAlpha": StatusPass}}
	assert.Equal(t, StatusPass, r.StatusOf("TestAlpha"))
	assert.Equal(t, StatusMissing, r.StatusOf("TestNeverRan"))
}
