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

import (
	"github.com/gobwas/glob"
)

// CompiledPolicy is the path policy with patterns compiled for
// matching against repository-relative paths. Allowed patterns are
// always consulted before forbidden ones.
type CompiledPolicy struct {
	allowed   []compiledPattern
	forbidden []compiledPattern
}

type compiledPattern struct {
	source string
	g      glob.Glob
}

// CompilePolicy compiles the constraint patterns.
//
// A pattern appearing in both lists, or a pattern that does not
// compile, is a *PathConstraintError and blocks intake.
func CompilePolicy(c Constraints) (*CompiledPolicy, error) {
	seen := make(map[string]bool, len(c.AllowedPaths))
	for _, p := range c.AllowedPaths {
		seen[p] = true
	}
	for _, p := range c.ForbiddenPaths {
		if seen[p] {
			return nil, &PathConstraintError{Pattern: p, Reason: "listed as both allowed and forbidden"}
		}
	}

	compiled := &CompiledPolicy{}
	var err error
	if compiled.allowed, err = compilePatterns(c.AllowedPaths); err != nil {
		return nil, err
	}
	if compiled.forbidden, err = compilePatterns(c.ForbiddenPaths); err != nil {
		return nil, err
	}
	return compiled, nil
}

func compilePatterns(patterns []string) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, &PathConstraintError{Pattern: p, Reason: "does not compile"}
		}
		out = append(out, compiledPattern{source: p, g: g})
	}
	return out, nil
}

// Allowed reports whether the path matches an allowed pattern.
func (p *CompiledPolicy) Allowed(path string) bool {
	for _, pat := range p.allowed {
		if pat.g.Match(path) {
			return true
		}
	}
	return false
}

// Forbidden reports whether the path violates the policy: it matches a
// forbidden pattern and no allowed pattern.
func (p *CompiledPolicy) Forbidden(path string) bool {
	if p.Allowed(path) {
		return false
	}
	for _, pat := range p.forbidden {
		if pat.g.Match(path) {
			return true
		}
	}
	return false
}

// UnmatchedPatterns returns the patterns that match no file in the
// pinned tree. A mismatch is a curation warning, not a hard failure.
func (p *CompiledPolicy) UnmatchedPatterns(tree []string) []string {
	var unmatched []string
	all := make([]compiledPattern, 0, len(p.allowed)+len(p.forbidden))
	all = append(all, p.allowed...)
	all = append(all, p.forbidden...)
	for _, pat := range all {
		hit := false
		for _, path := range tree {
			if pat.g.Match(path) {
				hit = true
				break
			}
		}
		if !hit {
			unmatched = append(unmatched, pat.source)
		}
	}
	return unmatched
}
