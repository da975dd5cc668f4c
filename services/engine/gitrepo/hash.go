// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitrepo

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TreeHashes maps repository-relative path to the hex sha256 of the
// file content at that path.
type TreeHashes map[string]string

// HashSet returns the set of content hashes, discarding paths. The
// rename-evasion check needs "does this content exist anywhere",
// independent of location or filename.
func (t TreeHashes) HashSet() map[string]bool {
	set := make(map[string]bool, len(t))
	for _, h := range t {
		set[h] = true
	}
	return set
}

// HashTree walks the working tree and content-hashes every regular
// file, skipping the .git directory.
//
// # Outputs
//
//   - TreeHashes: path -> hex sha256.
//   - error: Non-nil on filesystem failure.
func HashTree(root string) (TreeHashes, error) {
	hashes := make(TreeHashes)
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
		if !d.Type().IsRegular() {
			return nil
		}
		h, err := hashFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hashes[filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// HashFiles hashes only the given repository-relative paths. Missing
// files are omitted, not an error: a deleted file is a legitimate tree
// state the caller inspects by absence.
func HashFiles(root string, paths []string) (TreeHashes, error) {
	hashes := make(TreeHashes, len(paths))
	for _, rel := range paths {
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		h, err := hashFile(full)
		if err != nil {
			return nil, err
		}
		hashes[rel] = h
	}
	return hashes, nil
}

// hashFile streams one file through sha256.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes content-hashes a byte slice the same way HashTree hashes
// files, so in-memory candidates compare against tree hashes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsTestPath reports whether a repository-relative path looks like a
// test file across the runner families the engine supports.
func IsTestPath(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "_test.go"):
		return true
	case strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
		return true
	case strings.HasSuffix(base, "_test.py"):
		return true
	case strings.HasSuffix(base, "Test.java"), strings.HasSuffix(base, "Tests.java"):
		return true
	case strings.HasSuffix(base, "_test.cc"), strings.HasSuffix(base, "_test.cpp"), strings.HasSuffix(base, "_unittest.cc"):
		return true
	}
	// Directory conventions: tests/, test/, spec/.
	for _, seg := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if seg == "tests" || seg == "test" || seg == "spec" {
			return true
		}
	}
	return false
}
