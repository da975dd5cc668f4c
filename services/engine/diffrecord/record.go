// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diffrecord builds the structured change representation the
// violation rules consume: parsed hunks, per-file content hashes
// before and after, and build-target registration counts.
//
// Rules operate on this record instead of raw patch text so that
// string coincidences do not trigger false positives and restructured
// evasions (renames, relocations) do not produce false negatives.
package diffrecord

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/crucible-eval/crucible/services/engine/gitrepo"
)

// =============================================================================
// File Changes
// =============================================================================

// ChangeStatus categorizes what happened to a file.
type ChangeStatus string

const (
	// StatusAdded indicates a newly created file.
	StatusAdded ChangeStatus = "added"

	// StatusModified indicates an edited file.
	StatusModified ChangeStatus = "modified"

	// StatusDeleted indicates a removed file.
	StatusDeleted ChangeStatus = "deleted"
)

// Hunk is one contiguous change region with its boundary coordinates
// and the raw added/removed lines (prefixes stripped).
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Added    []string
	Removed  []string
}

// FileChange is the structured change for one file.
type FileChange struct {
	// Path is the repository-relative path after the change.
	Path string

	// Status is added, modified, or deleted.
	Status ChangeStatus

	// HashBefore is the baseline content hash ("" for added files).
	HashBefore string

	// HashAfter is the candidate content hash ("" for deleted files).
	HashAfter string

	// Hunks are the parsed change regions.
	Hunks []Hunk

	// IsTest reports whether the path looks like a test file.
	IsTest bool
}

// AddedLines returns every added line across all hunks.
func (f *FileChange) AddedLines() []string {
	var lines []string
	for _, h := range f.Hunks {
		lines = append(lines, h.Added...)
	}
	return lines
}

// RemovedLines returns every removed line across all hunks.
func (f *FileChange) RemovedLines() []string {
	var lines []string
	for _, h := range f.Hunks {
		lines = append(lines, h.Removed...)
	}
	return lines
}

// AddedText returns the added lines joined for scanners that want a
// contiguous buffer.
func (f *FileChange) AddedText() string {
	return strings.Join(f.AddedLines(), "\n")
}

// =============================================================================
// Record
// =============================================================================

// Record is the full structured diff between the baseline tree and a
// candidate tree.
type Record struct {
	// Files lists every changed file.
	Files []FileChange

	// BaselineTestHashes maps each baseline test file to its content
	// hash. Populated from the pinned tree before any change.
	BaselineTestHashes gitrepo.TreeHashes

	// CandidateHashSet is the set of content hashes present anywhere
	// in the candidate tree. Consulted by the rename-evasion check.
	CandidateHashSet map[string]bool

	// TargetsBefore and TargetsAfter are build-target registration
	// counts for the two trees.
	TargetsBefore TargetCounts
	TargetsAfter  TargetCounts

	// LinesAdded and LinesRemoved are totals across all files.
	LinesAdded   int
	LinesRemoved int
}

// Build parses a unified diff and joins it with tree state from both
// sides.
//
// # Inputs
//
//   - patch: Unified diff text (git format; a/ b/ prefixes handled).
//   - baseline: Content hashes of the pinned tree.
//   - candidate: Content hashes of the tree after the change.
//   - targetsBefore, targetsAfter: Build-target registration counts.
//
// # Outputs
//
//   - *Record: The structured record.
//   - error: Non-nil if the diff does not parse.
func Build(patch string, baseline, candidate gitrepo.TreeHashes, targetsBefore, targetsAfter TargetCounts) (*Record, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parsing unified diff: %w", err)
	}

	record := &Record{
		BaselineTestHashes: baselineTestHashes(baseline),
		CandidateHashSet:   candidate.HashSet(),
		TargetsBefore:      targetsBefore,
		TargetsAfter:       targetsAfter,
	}

	for _, fd := range fileDiffs {
		change := buildFileChange(fd, baseline, candidate)
		for _, h := range change.Hunks {
			record.LinesAdded += len(h.Added)
			record.LinesRemoved += len(h.Removed)
		}
		record.Files = append(record.Files, change)
	}
	return record, nil
}

// buildFileChange converts one parsed file diff.
func buildFileChange(fd *diff.FileDiff, baseline, candidate gitrepo.TreeHashes) FileChange {
	origName := stripPrefix(fd.OrigName)
	newName := stripPrefix(fd.NewName)

	change := FileChange{Path: newName}
	switch {
	case fd.OrigName == "/dev/null":
		change.Status = StatusAdded
	case fd.NewName == "/dev/null":
		change.Status = StatusDeleted
		change.Path = origName
	default:
		change.Status = StatusModified
	}

	change.HashBefore = baseline[pathForSide(change, origName)]
	change.HashAfter = candidate[change.Path]
	change.IsTest = gitrepo.IsTestPath(change.Path)

	for _, hunk := range fd.Hunks {
		parsed := Hunk{
			OldStart: int(hunk.OrigStartLine),
			OldLines: int(hunk.OrigLines),
			NewStart: int(hunk.NewStartLine),
			NewLines: int(hunk.NewLines),
		}
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				parsed.Added = append(parsed.Added, strings.TrimPrefix(line, "+"))
			case strings.HasPrefix(line, "-"):
				parsed.Removed = append(parsed.Removed, strings.TrimPrefix(line, "-"))
			}
		}
		change.Hunks = append(change.Hunks, parsed)
	}
	return change
}

// pathForSide picks the baseline-side path for hash lookup.
func pathForSide(change FileChange, origName string) string {
	if change.Status == StatusAdded {
		return ""
	}
	return origName
}

// stripPrefix drops the a/ or b/ prefix git puts on diff paths.
func stripPrefix(name string) string {
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// baselineTestHashes filters tree hashes down to test files.
func baselineTestHashes(tree gitrepo.TreeHashes) gitrepo.TreeHashes {
	out := make(gitrepo.TreeHashes)
	for path, hash := range tree {
		if gitrepo.IsTestPath(path) {
			out[path] = hash
		}
	}
	return out
}

// =============================================================================
// Queries
// =============================================================================

// DeletedFiles returns the paths removed by the change.
func (r *Record) DeletedFiles() []string {
	var paths []string
	for _, f := range r.Files {
		if f.Status == StatusDeleted {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// ChangedTestFiles returns the changes touching test files.
func (r *Record) ChangedTestFiles() []FileChange {
	var out []FileChange
	for _, f := range r.Files {
		if f.IsTest {
			out = append(out, f)
		}
	}
	return out
}

// MissingTestHashes returns baseline test files whose content hash is
// absent from the candidate tree entirely, regardless of path or
// filename. A rename or relocation keeps the hash present; only real
// content loss shows up here.
func (r *Record) MissingTestHashes() []string {
	var missing []string
	for path, hash := range r.BaselineTestHashes {
		if !r.CandidateHashSet[hash] {
			missing = append(missing, path)
		}
	}
	return missing
}

// TotalLines is the size of the change in changed lines.
func (r *Record) TotalLines() int {
	return r.LinesAdded + r.LinesRemoved
}
