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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/crucible-eval/crucible/pkg/logging"
	"github.com/crucible-eval/crucible/services/engine/contamination"
	"github.com/crucible-eval/crucible/services/engine/runstore"
	"github.com/crucible-eval/crucible/services/engine/scorecard"
)

// runScore aggregates one completed run into a scorecard. The case
// files are re-read for their creation dates; any case the arguments
// omit stays unclassified and lands in the FLAGGED segment.
func runScore(_ *cobra.Command, args []string) {
	logger := logging.Default()

	cfg, err := engineConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(exitInfra)
	}

	cases, ok := loadCases(args, logger)
	if !ok {
		os.Exit(exitFailed)
	}

	store, err := runstore.Open(cfg.StoreDir)
	if err != nil {
		logger.Error("opening run store", "dir", cfg.StoreDir, "error", err)
		os.Exit(exitInfra)
	}
	defer store.Close()

	scores, err := store.Scores(runID)
	if err != nil {
		logger.Error("reading scores", "run_id", runID, "error", err)
		os.Exit(exitInfra)
	}
	exclusions, err := store.Exclusions(runID)
	if err != nil {
		logger.Error("reading exclusions", "run_id", runID, "error", err)
		os.Exit(exitInfra)
	}

	risks := make(map[string]contamination.Risk, len(cases))
	for _, c := range cases {
		risks[c.def.CaseID] = contamination.Classify(c.def.Meta.CreatedDate, cfg.ModelCutoff)
	}

	card := scorecard.Aggregate(scorecard.RunInfo{
		DatasetVersion: cfg.DatasetVersion,
		Model:          cfg.Model,
		BaselineMode:   cfg.BaselineMode,
	}, scores, risks, exclusions)

	out, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		logger.Error("encoding scorecard", "error", err)
		os.Exit(exitInfra)
	}
	out = append(out, '\n')

	if outPath != "" {
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			logger.Error("writing scorecard", "path", outPath, "error", err)
			os.Exit(exitInfra)
		}
	} else if _, err := os.Stdout.Write(out); err != nil {
		os.Exit(exitInfra)
	}

	logger.Info("scorecard generated",
		"run_id", runID,
		"attempted", card.Summary.Attempted,
		"resolved", card.Summary.Resolved,
	)
	os.Exit(exitOK)
}
