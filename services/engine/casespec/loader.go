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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is the shared validator instance. The validator is safe for
// concurrent use and caches struct metadata, so one instance serves
// the whole process.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, parses, and structurally validates a case definition.
//
// # Description
//
// Parsing is strict: unknown YAML fields are rejected so that typos in
// curated case files surface at intake rather than silently changing
// behavior. Referenced artifacts (patch files) are resolved relative
// to the case file's directory and must exist.
//
// # Inputs
//
//   - path: Path to the case YAML file.
//
// # Outputs
//
//   - *CaseDefinition: The validated definition.
//   - error: *SchemaError, *ArtifactNotFoundError, or
//     *PathConstraintError; any of these aborts intake.
func Load(path string) (*CaseDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ArtifactNotFoundError{Artifact: path}
		}
		return nil, fmt.Errorf("reading case file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := checkArtifacts(def, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return def, nil
}

// Parse decodes and validates a case definition from bytes. Artifact
// existence is not checked; Load does that with the case file's
// directory as the anchor.
func Parse(data []byte) (*CaseDefinition, error) {
	var def CaseDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, &SchemaError{Reason: err.Error()}
	}

	if err := validate.Struct(&def); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return nil, &SchemaError{
				Field:  first.Namespace(),
				Reason: fmt.Sprintf("failed %q constraint", first.Tag()),
			}
		}
		return nil, &SchemaError{Reason: err.Error()}
	}

	if err := checkGold(&def.Gold); err != nil {
		return nil, err
	}
	if _, err := CompilePolicy(def.PathConstraints); err != nil {
		return nil, err
	}
	if def.MultiRepo != nil {
		if err := checkMultiRepo(def.MultiRepo); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

// checkGold enforces the cross-field constraints the tag language
// cannot express.
func checkGold(gold *GoldOutcome) error {
	switch gold.Type {
	case GoldMergeSHA:
		if gold.MergeSHA == "" {
			return &SchemaError{Field: "gold_outcome.merge_sha", Reason: "required when type is merge_sha"}
		}
	case GoldPatch:
		if gold.PatchRef == "" {
			return &SchemaError{Field: "gold_outcome.patch_ref", Reason: "required when type is patch"}
		}
	}
	return nil
}

// checkMultiRepo validates that the attribution target and the primary
// repo are members of the workspace.
func checkMultiRepo(mr *MultiRepo) error {
	if _, ok := mr.WorkspaceRepos[mr.PrimaryRepo]; !ok {
		return &SchemaError{Field: "multi_repo.primary_repo", Reason: "not a workspace repo"}
	}
	if _, ok := mr.WorkspaceRepos[mr.Attribution.CorrectRepo]; !ok {
		return &SchemaError{Field: "multi_repo.attribution.correct_repo", Reason: "not a workspace repo"}
	}
	for _, repo := range mr.AllowedFixRepos {
		if _, ok := mr.WorkspaceRepos[repo]; !ok {
			return &SchemaError{Field: "multi_repo.allowed_fix_repos", Reason: fmt.Sprintf("%s is not a workspace repo", repo)}
		}
	}
	for repo := range mr.RepoURLs {
		if _, ok := mr.WorkspaceRepos[repo]; !ok {
			return &SchemaError{Field: "multi_repo.repo_urls", Reason: fmt.Sprintf("%s is not a workspace repo", repo)}
		}
	}
	return nil
}

// checkArtifacts verifies that referenced on-disk artifacts exist.
func checkArtifacts(def *CaseDefinition, baseDir string) error {
	if def.Gold.Type == GoldPatch {
		patchPath := def.Gold.PatchRef
		if !filepath.IsAbs(patchPath) {
			patchPath = filepath.Join(baseDir, patchPath)
		}
		if _, err := os.Stat(patchPath); err != nil {
			return &ArtifactNotFoundError{Artifact: patchPath}
		}
	}
	return nil
}

// shortHash derives the stable display id used in report tables.
func shortHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:8]
}
