// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package violations

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// testFunc is one test function found in added source.
type testFunc struct {
	// Name is the declared function name.
	Name string

	// Asserts counts assertion-like statements in the body.
	Asserts int

	// Delegates reports a subtest/helper dispatch (t.Run), which
	// moves assertions out of the immediate body legitimately.
	Delegates bool
}

// scanTestFuncs parses added file content and extracts test functions.
// Unsupported languages and unparseable content yield nil; the caller
// treats that as "nothing provable", not as a violation.
func scanTestFuncs(filePath, src string) []testFunc {
	switch {
	case strings.HasSuffix(filePath, ".go"):
		return scanGoTests([]byte(src))
	case strings.HasSuffix(filePath, ".py"):
		return scanPyTests([]byte(src))
	}
	return nil
}

// =============================================================================
// Go
// =============================================================================

var goAssertCallRe = regexp.MustCompile(
	`^(assert|require)\.\w+$` +
		`|^\w+\.(Error|Errorf|Fatal|Fatalf|Fail|FailNow|NoError)$`)

const goTestQuery = `(function_declaration name: (identifier) @name body: (block) @body)`

func scanGoTests(src []byte) []testFunc {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil
	}
	defer tree.Close()

	query, err := sitter.NewQuery([]byte(goTestQuery), golang.GetLanguage())
	if err != nil {
		return nil
	}
	defer query.Close()

	var out []testFunc
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		var fn testFunc
		var body *sitter.Node
		for _, capture := range match.Captures {
			switch query.CaptureNameForId(capture.Index) {
			case "name":
				fn.Name = capture.Node.Content(src)
			case "body":
				body = capture.Node
			}
		}
		if !strings.HasPrefix(fn.Name, "Test") || body == nil {
			continue
		}
		walkCalls(body, src, func(callee string) {
			if goAssertCallRe.MatchString(callee) {
				fn.Asserts++
			}
			if strings.HasSuffix(callee, ".Run") {
				fn.Delegates = true
			}
		})
		out = append(out, fn)
	}
	return out
}

// walkCalls visits every call expression under node and reports the
// callee text.
func walkCalls(node *sitter.Node, src []byte, visit func(callee string)) {
	if node.Type() == "call_expression" {
		if callee := node.ChildByFieldName("function"); callee != nil {
			visit(callee.Content(src))
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkCalls(node.NamedChild(i), src, visit)
	}
}

// =============================================================================
// Python
// =============================================================================

var pyAssertCallRe = regexp.MustCompile(
	`^self\.assert\w+$` +
		`|^pytest\.raises$` +
		`|^pytest\.warns$`)

const pyTestQuery = `(function_definition name: (identifier) @name body: (block) @body)`

func scanPyTests(src []byte) []testFunc {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil
	}
	defer tree.Close()

	query, err := sitter.NewQuery([]byte(pyTestQuery), python.GetLanguage())
	if err != nil {
		return nil
	}
	defer query.Close()

	var out []testFunc
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, tree.RootNode())

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		var fn testFunc
		var body *sitter.Node
		for _, capture := range match.Captures {
			switch query.CaptureNameForId(capture.Index) {
			case "name":
				fn.Name = capture.Node.Content(src)
			case "body":
				body = capture.Node
			}
		}
		if !strings.HasPrefix(fn.Name, "test_") || body == nil {
			continue
		}
		countPyAsserts(body, src, &fn)
		out = append(out, fn)
	}
	return out
}

// countPyAsserts tallies bare assert statements and assertion-flavored
// calls under a function body.
func countPyAsserts(node *sitter.Node, src []byte, fn *testFunc) {
	switch node.Type() {
	case "assert_statement":
		fn.Asserts++
	case "call":
		if callee := node.ChildByFieldName("function"); callee != nil {
			if pyAssertCallRe.MatchString(callee.Content(src)) {
				fn.Asserts++
			}
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		countPyAsserts(node.NamedChild(i), src, fn)
	}
}
