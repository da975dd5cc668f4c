// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diffrecord

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// TargetCounts tallies test registrations per build-system family.
// A decrease between baseline and candidate means tests stopped being
// built or collected, which the instant-fail catalog flags.
type TargetCounts struct {
	// GoTestFuncs counts `func TestXxx(` declarations in _test.go.
	GoTestFuncs int

	// CTestTargets counts add_test( registrations in CMake files.
	CTestTargets int

	// PyTestFuncs counts `def test_` declarations in python test files.
	PyTestFuncs int

	// JUnitTestMethods counts @Test annotations in java test files.
	JUnitTestMethods int
}

// Total sums registrations across families.
func (t TargetCounts) Total() int {
	return t.GoTestFuncs + t.CTestTargets + t.PyTestFuncs + t.JUnitTestMethods
}

var (
	goTestFuncRe  = regexp.MustCompile(`(?m)^func Test[A-Z_]\w*\s*\(`)
	cmakeTestRe   = regexp.MustCompile(`(?mi)^\s*add_test\s*\(`)
	pyTestFuncRe  = regexp.MustCompile(`(?m)^\s*def test_\w+\s*\(`)
	junitMethodRe = regexp.MustCompile(`(?m)^\s*@Test\b`)
)

// CountTargets walks a tree and tallies test registrations.
//
// The count is a registration census, not an execution census:
// parameterized tests still count once. What matters is the delta
// between baseline and candidate, not absolute totals.
func CountTargets(root string) (TargetCounts, error) {
	var counts TargetCounts
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		counts.add(filepath.ToSlash(rel), func() []byte {
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil
			}
			return data
		})
		return nil
	})
	if err != nil {
		return TargetCounts{}, err
	}
	return counts, nil
}

// CountTargetsFromContents tallies registrations from an in-memory
// path -> content map. Used by tests and by callers that already hold
// the tree.
func CountTargetsFromContents(files map[string]string) TargetCounts {
	var counts TargetCounts
	for path, content := range files {
		body := content
		counts.add(path, func() []byte { return []byte(body) })
	}
	return counts
}

// add classifies one path and, when relevant, counts its
// registrations. The read callback keeps file IO lazy: paths that
// cannot register tests are never read.
func (t *TargetCounts) add(path string, read func() []byte) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "_test.go"):
		t.GoTestFuncs += len(goTestFuncRe.FindAll(read(), -1))
	case base == "CMakeLists.txt" || strings.HasSuffix(base, ".cmake"):
		t.CTestTargets += len(cmakeTestRe.FindAll(read(), -1))
	case strings.HasSuffix(base, ".py") && (strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py")):
		t.PyTestFuncs += len(pyTestFuncRe.FindAll(read(), -1))
	case strings.HasSuffix(base, ".java") && (strings.HasSuffix(base, "Test.java") || strings.HasSuffix(base, "Tests.java")):
		t.JUnitTestMethods += len(junitMethodRe.FindAll(read(), -1))
	}
}
