// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// Exit codes are part of the CLI contract: CI wrappers branch on them.
const (
	exitOK     = 0
	exitFailed = 1
	exitInfra  = 2
)

// --- Global Command Variables ---
var (
	configPath string
	patchDir   string
	runID      string
	outPath    string

	rootCmd = &cobra.Command{
		Use:   "crucible",
		Short: "Evaluate coding-agent patches against curated benchmark cases",
		Long: `Crucible reproduces pinned repository states, runs candidate
patches through suite-specific evaluation recipes, screens them for
gaming patterns, and aggregates contamination-aware scorecards.`,
	}

	validateCmd = &cobra.Command{
		Use:   "validate [case.yaml ...]",
		Short: "Validate case definitions against the schema and artifact checks",
		Args:  cobra.MinimumNArgs(1),
		Run:   runValidate, // Defined in cmd_validate.go
	}

	evaluateCmd = &cobra.Command{
		Use:   "evaluate [case.yaml ...]",
		Short: "Run candidate patches through the full evaluation pipeline",
		Args:  cobra.MinimumNArgs(1),
		Run:   runEvaluate, // Defined in cmd_evaluate.go
	}

	scoreCmd = &cobra.Command{
		Use:   "score [case.yaml ...]",
		Short: "Aggregate a completed run into a contamination-aware scorecard",
		Args:  cobra.MinimumNArgs(1),
		Run:   runScore, // Defined in cmd_score.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "crucible.yaml", "engine configuration file")

	evaluateCmd.Flags().StringVar(&patchDir, "patch-dir", "", "directory of candidate patches named <case-id>.patch")
	evaluateCmd.Flags().StringVar(&runID, "run-id", "", "pin the run id instead of generating one")

	scoreCmd.Flags().StringVar(&runID, "run-id", "", "run id to aggregate")
	scoreCmd.Flags().StringVar(&outPath, "out", "", "write the scorecard JSON here instead of stdout")
	_ = scoreCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(validateCmd, evaluateCmd, scoreCmd)
}
