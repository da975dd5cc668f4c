// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitrepo is the version-control collaborator: checkout by
// commit, patch application, unified diffs, and content hashing of a
// working tree.
//
// All git operations shell out to the git binary with
// exec.CommandContext so callers control cancellation; the engine
// never links a git implementation.
package gitrepo

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repo wraps git operations for one working tree.
type Repo struct {
	// Dir is the working tree root.
	Dir string
}

// Open returns a Repo rooted at dir. No validation happens until the
// first operation.
func Open(dir string) *Repo {
	return &Repo{Dir: dir}
}

// Clone clones url into dir and returns the Repo. The clone is full,
// not shallow: cases pin arbitrary historic commits.
func Clone(ctx context.Context, url, dir string) (*Repo, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone %s: %w: %s", url, err, truncate(string(out)))
	}
	return &Repo{Dir: dir}, nil
}

// run executes a git subcommand in the repo directory.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, truncate(string(out)))
	}
	return string(out), nil
}

// CheckoutDetached checks out the given commit in detached-HEAD mode
// and resets the tree to a pristine state.
func (r *Repo) CheckoutDetached(ctx context.Context, sha string) error {
	if _, err := r.run(ctx, "-c", "advice.detachedHead=false", "checkout", "--force", "--detach", sha); err != nil {
		return err
	}
	// Drop untracked leftovers from a previous materialization.
	_, err := r.run(ctx, "clean", "-fdx", "--quiet")
	return err
}

// ApplyPatch applies a unified diff to the working tree without
// creating a commit.
func (r *Repo) ApplyPatch(ctx context.Context, patchPath string) error {
	_, err := r.run(ctx, "apply", "--whitespace=nowarn", patchPath)
	return err
}

// CherryPick applies the changes of a commit (a gold merge_sha) onto
// the current detached head without committing.
func (r *Repo) CherryPick(ctx context.Context, sha string) error {
	_, err := r.run(ctx, "cherry-pick", "--no-commit", "-X", "theirs", sha)
	return err
}

// DiffAgainst returns the unified diff between the given base commit
// and the current working tree, including untracked files.
func (r *Repo) DiffAgainst(ctx context.Context, baseSHA string) (string, error) {
	// Stage everything so new files appear in the diff.
	if _, err := r.run(ctx, "add", "--all"); err != nil {
		return "", err
	}
	return r.run(ctx, "diff", "--cached", "--no-color", baseSHA)
}

// LsFiles lists tracked repository-relative paths at the current head.
func (r *Repo) LsFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "ls-files")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// ResolveHead returns the full SHA of the current head.
func (r *Repo) ResolveHead(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// splitLines splits command output into non-empty lines.
func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// truncate bounds error output embedded in wrapped errors.
func truncate(s string) string {
	const max = 400
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
