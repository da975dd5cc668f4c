// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore persists per-run score and exclusion records.
//
// # Description
//
// The store is an embedded badger database keyed by run and case:
//
//	run/<run-id>/case/<case-id>  -> ScoreRecord (JSON)
//	run/<run-id>/excl/<case-id>  -> ExclusionRecord (JSON)
//
// Every evaluated case ends up in exactly one of the two key spaces;
// there is no silent drop. The score command aggregates a run by
// reading both spaces back.
//
// # Thread Safety
//
// Store is safe for concurrent use; badger transactions provide the
// isolation.
package runstore

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/crucible-eval/crucible/services/engine/scorecard"
	"github.com/crucible-eval/crucible/services/engine/scoring"
)

// Store wraps the badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening run store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scoreKey(runID, caseID string) []byte {
	return []byte("run/" + runID + "/case/" + caseID)
}

func exclusionKey(runID, caseID string) []byte {
	return []byte("run/" + runID + "/excl/" + caseID)
}

// PutScore persists one case's score record under the run.
func (s *Store) PutScore(runID string, record scoring.ScoreRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding score record %s: %w", record.CaseID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(scoreKey(runID, record.CaseID), data)
	})
}

// PutExclusion persists an auditable exclusion for a case that
// produced no score.
func (s *Store) PutExclusion(runID string, record scorecard.ExclusionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding exclusion record %s: %w", record.CaseID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(exclusionKey(runID, record.CaseID), data)
	})
}

// Scores returns every score record stored for the run.
func (s *Store) Scores(runID string) ([]scoring.ScoreRecord, error) {
	var records []scoring.ScoreRecord
	err := s.scan([]byte("run/"+runID+"/case/"), func(value []byte) error {
		var record scoring.ScoreRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading scores for run %s: %w", runID, err)
	}
	return records, nil
}

// Exclusions returns every exclusion record stored for the run.
func (s *Store) Exclusions(runID string) ([]scorecard.ExclusionRecord, error) {
	var records []scorecard.ExclusionRecord
	err := s.scan([]byte("run/"+runID+"/excl/"), func(value []byte) error {
		var record scorecard.ExclusionRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading exclusions for run %s: %w", runID, err)
	}
	return records, nil
}

// scan iterates one key prefix in key order.
func (s *Store) scan(prefix []byte, visit func(value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(visit); err != nil {
				return err
			}
		}
		return nil
	})
}
