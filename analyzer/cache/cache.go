// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists per-file extractions in BadgerDB, keyed by relative
// path and content hash. The binary layout is private; only the schema
// version embedded in the key namespace is stable, and bumping it
// invalidates every entry without migration code.
package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// SchemaVersion is bumped whenever the FileExtraction layout changes.
const SchemaVersion = 1

// keyPrefix namespaces extraction entries; the schema version lives in the
// prefix so a bump orphans old entries wholesale.
var keyPrefix = fmt.Sprintf("exc:extract:v%d:", SchemaVersion)

// Store is the badger-backed extraction cache.
//
// Description:
//
//	Values are gzip-compressed JSON FileExtractions. Keys are
//	"exc:extract:v<schema>:<relPath>:<contentHash16>", so a content change
//	simply misses rather than invalidating in place. BadgerDB handles
//	concurrent readers with a single writer.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the cache store at dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens an in-memory store, used by tests and --no-cache runs
// that still want write-through behavior.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory cache: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached extraction for (relPath, content), or false on a
// miss. A corrupt entry is treated as a miss and logged; the file will be
// re-extracted and the entry overwritten.
func (s *Store) Get(relPath string, content []byte) (*ast.FileExtraction, bool) {
	key := s.key(relPath, content)

	var compressed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}

	fx, err := decode(compressed)
	if err != nil {
		s.logger.Warn("skipping corrupt cache entry",
			slog.String("file", relPath), slog.Any("error", err))
		return nil, false
	}
	return fx, true
}

// Put stores the extraction for (relPath, content).
func (s *Store) Put(relPath string, content []byte, fx *ast.FileExtraction) error {
	data, err := encode(fx)
	if err != nil {
		return fmt.Errorf("encoding extraction for %s: %w", relPath, err)
	}
	key := s.key(relPath, content)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry for %s: %w", relPath, err)
	}
	return nil
}

// key builds the namespaced cache key for a file's current content.
func (s *Store) key(relPath string, content []byte) []byte {
	return []byte(keyPrefix + relPath + ":" + ast.ContentHash(content))
}

// encode serializes and compresses one extraction.
func encode(fx *ast.FileExtraction) ([]byte, error) {
	jsonData, err := json.Marshal(fx)
	if err != nil {
		return nil, fmt.Errorf("marshaling: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decode decompresses and deserializes one extraction.
func decode(data []byte) (*ast.FileExtraction, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("reading decompressed data: %w", err)
	}
	var fx ast.FileExtraction
	if err := json.Unmarshal(jsonData, &fx); err != nil {
		return nil, fmt.Errorf("unmarshaling: %w", err)
	}
	return &fx, nil
}
