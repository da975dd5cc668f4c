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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/crucible-eval/crucible/services/engine/casespec"
)

// runValidate checks every case file and reports per-file results.
// Any invalid file makes the command exit non-zero so CI can gate
// dataset changes on it.
func runValidate(_ *cobra.Command, args []string) {
	os.Exit(validateFiles(args, os.Stdout))
}

func validateFiles(paths []string, out io.Writer) int {
	failed := 0
	for _, path := range paths {
		def, err := casespec.Load(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "OK   %s %s (%s)\n", def.ShortID(), def.CaseID, def.SuiteName)
	}
	if failed > 0 {
		fmt.Fprintf(out, "%d of %d case file(s) invalid\n", failed, len(paths))
		return exitFailed
	}
	return exitOK
}
