// Package store persists jobs, units, stage results, attempt histories,
// delivered pages and the translation memory in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection serialises writes from
	// the worker pools instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		document_hash TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		unit_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		job_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		paragraph_index INTEGER NOT NULL,
		PRIMARY KEY (job_id, idx),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	-- stage_results holds the committed output of each completed stage
	CREATE TABLE IF NOT EXISTS stage_results (
		job_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		output TEXT NOT NULL,
		truncated BOOLEAN NOT NULL DEFAULT FALSE,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_output_tokens INTEGER NOT NULL DEFAULT 0,
		metrics TEXT NOT NULL DEFAULT '{}',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (job_id, stage),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	-- attempts records every attempt of every logical call for auditing
	CREATE TABLE IF NOT EXISTS attempts (
		job_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		call_id TEXT NOT NULL,
		attempt_index INTEGER NOT NULL,
		ladder_stage TEXT NOT NULL,
		reason TEXT NOT NULL,
		max_output_tokens INTEGER NOT NULL,
		using_fallback_model BOOLEAN NOT NULL DEFAULT FALSE,
		using_segment_retry BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS pages (
		job_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		page_index INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (job_id, stage, page_index),
		FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS translation_memory (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		final_text TEXT NOT NULL,
		draft_text TEXT NOT NULL DEFAULT '',
		service_used TEXT NOT NULL DEFAULT '',
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(source_text, source_lang, target_lang)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_hash ON jobs(document_hash, source_lang, target_lang);
	CREATE INDEX IF NOT EXISTS idx_attempts_job ON attempts(job_id, stage);
	CREATE INDEX IF NOT EXISTS idx_memory_lookup ON translation_memory(source_text, source_lang, target_lang);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent memory key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
