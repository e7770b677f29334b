package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is one translation memory record.
type MemoryEntry struct {
	ID          string
	SourceText  string
	SourceLang  string
	TargetLang  string
	FinalText   string
	DraftText   string
	ServiceUsed string
	UsageCount  int
	Invalidated bool
	LastUsed    time.Time
}

// CacheStats summarises translation memory usage.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
}

// Recall returns the remembered translation of sourceText and bumps its
// usage counter. Invalidated entries are never returned.
func (s *Store) Recall(ctx context.Context, sourceText, sourceLang, targetLang string) (string, bool, error) {
	key := normalizeText(sourceText)
	var (
		finalText   string
		invalidated bool
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT final_text, invalidated FROM translation_memory WHERE source_text = ? AND source_lang = ? AND target_lang = ?`,
		key, sourceLang, targetLang).Scan(&finalText, &invalidated)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && invalidated) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_memory SET usage_count = usage_count + 1, last_used = ? WHERE source_text = ? AND source_lang = ? AND target_lang = ?`,
		time.Now().UTC(), key, sourceLang, targetLang)
	return finalText, true, err
}

// Remember stores a translation, replacing any entry for the same source
// and language pair and clearing its invalidation.
func (s *Store) Remember(ctx context.Context, e MemoryEntry) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translation_memory (id, source_text, source_lang, target_lang, final_text, draft_text, service_used, usage_count, invalidated, last_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, FALSE, ?, ?)
		 ON CONFLICT(source_text, source_lang, target_lang) DO UPDATE SET
			final_text = excluded.final_text,
			draft_text = excluded.draft_text,
			service_used = excluded.service_used,
			invalidated = FALSE,
			last_used = excluded.last_used`,
		uuid.NewString(), normalizeText(e.SourceText), e.SourceLang, e.TargetLang, e.FinalText, e.DraftText, e.ServiceUsed, now, now)
	return err
}

func (s *Store) InvalidateMemory(ctx context.Context, id string) error {
	return s.affectOne(ctx, `UPDATE translation_memory SET invalidated = TRUE WHERE id = ?`, id)
}

// DeleteMemory permanently removes a translation memory entry by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.affectOne(ctx, `DELETE FROM translation_memory WHERE id = ?`, id)
}

func (s *Store) affectOne(ctx context.Context, query, id string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearMemory removes all translation memory entries.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMemory returns all translation memory entries ordered by most recently used.
func (s *Store) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_text, source_lang, target_lang, final_text, draft_text, service_used, usage_count, invalidated, last_used
		 FROM translation_memory ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.SourceText, &e.SourceLang, &e.TargetLang, &e.FinalText, &e.DraftText, &e.ServiceUsed, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// Stats returns summary statistics for the translation memory.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM translation_memory`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
