package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/pagination"
	"github.com/valpere/peredoc/internal/resilience"
)

// StageResult is the committed output of one pipeline stage.
type StageResult struct {
	JobID           string             `json:"job_id"`
	Stage           string             `json:"stage"`
	Output          json.RawMessage    `json:"output"`
	Truncated       bool               `json:"truncated"`
	Attempts        int                `json:"attempts"`
	MaxOutputTokens int                `json:"max_output_tokens"`
	Metrics         resilience.Metrics `json:"metrics"`
	Usage           generation.Usage   `json:"usage"`
	CreatedAt       time.Time          `json:"created_at"`
}

// AttemptRecord is one persisted attempt.
type AttemptRecord struct {
	JobID  string `json:"job_id"`
	Stage  string `json:"stage"`
	CallID string `json:"call_id"`
	resilience.AttemptContext
}

// SaveStageResult stores or replaces the result of a stage.
func (s *Store) SaveStageResult(ctx context.Context, r StageResult) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO stage_results (job_id, stage, output, truncated, attempts, max_output_tokens, metrics, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Stage, string(r.Output), r.Truncated, r.Attempts, r.MaxOutputTokens, string(metrics), r.Usage.InputTokens, r.Usage.OutputTokens, r.CreatedAt)
	return err
}

// GetStageResult returns the stored result of a stage.
func (s *Store) GetStageResult(ctx context.Context, jobID, stage string) (*StageResult, error) {
	var (
		r       StageResult
		output  string
		metrics string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, stage, output, truncated, attempts, max_output_tokens, metrics, input_tokens, output_tokens, created_at
		 FROM stage_results WHERE job_id = ? AND stage = ?`, jobID, stage).
		Scan(&r.JobID, &r.Stage, &output, &r.Truncated, &r.Attempts, &r.MaxOutputTokens, &metrics, &r.Usage.InputTokens, &r.Usage.OutputTokens, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Output = json.RawMessage(output)
	r.Usage.TotalTokens = r.Usage.InputTokens + r.Usage.OutputTokens
	if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return &r, nil
}

// SaveAttempts appends the attempt history of one logical call.
func (s *Store) SaveAttempts(ctx context.Context, jobID, stage, callID string, history []resilience.AttemptContext) error {
	if len(history) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, a := range history {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts (job_id, stage, call_id, attempt_index, ladder_stage, reason, max_output_tokens, using_fallback_model, using_segment_retry, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, stage, callID, a.AttemptIndex, string(a.Stage), string(a.Reason), a.MaxOutputTokens, a.UsingFallbackModel, a.UsingSegmentRetry, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Attempts returns every recorded attempt of a job in insertion order.
func (s *Store) Attempts(ctx context.Context, jobID string) ([]AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, stage, call_id, attempt_index, ladder_stage, reason, max_output_tokens, using_fallback_model, using_segment_retry
		 FROM attempts WHERE job_id = ? ORDER BY rowid`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var (
			r             AttemptRecord
			ladder, reasn string
		)
		if err := rows.Scan(&r.JobID, &r.Stage, &r.CallID, &r.AttemptIndex, &ladder, &reasn, &r.MaxOutputTokens, &r.UsingFallbackModel, &r.UsingSegmentRetry); err != nil {
			return nil, err
		}
		r.AttemptContext.Stage = resilience.Stage(ladder)
		r.Reason = resilience.Reason(reasn)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePages replaces the pages of a stage.
func (s *Store) SavePages(ctx context.Context, jobID, stage string, pages []pagination.Page) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE job_id = ? AND stage = ?`, jobID, stage); err != nil {
		return err
	}
	for _, p := range pages {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (job_id, stage, page_index, body) VALUES (?, ?, ?, ?)`,
			jobID, stage, p.Index, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Pages returns the pages of a stage in order. ErrNotFound means the stage
// has not produced pages yet.
func (s *Store) Pages(ctx context.Context, jobID, stage string) ([]pagination.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM pages WHERE job_id = ? AND stage = ? ORDER BY page_index`, jobID, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []pagination.Page
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p pagination.Page
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrNotFound
	}
	return pages, nil
}
