package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/valpere/peredoc/internal"
)

const jobColumns = `id, name, document_hash, source_lang, target_lang, status, stage, error, unit_count, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*internal.Job, error) {
	var j internal.Job
	var status string
	err := row.Scan(&j.ID, &j.Name, &j.DocumentHash, &j.SourceLang, &j.TargetLang, &status, &j.Stage, &j.Error, &j.UnitCount, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = internal.JobStatus(status)
	return &j, nil
}

// CreateJob inserts job together with its units in one transaction.
func (s *Store) CreateJob(ctx context.Context, job *internal.Job, units []internal.Unit) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.UnitCount = len(units)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.DocumentHash, job.SourceLang, job.TargetLang, string(job.Status), job.Stage, job.Error, job.UnitCount, job.CreatedAt, job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO units (job_id, idx, id, text, paragraph_index) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, job.ID, u.Index, u.ID, u.Text, u.ParagraphIndex); err != nil {
			return fmt.Errorf("insert unit %d: %w", u.Index, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetJob(ctx context.Context, id string) (*internal.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

// FindJob returns the most recent job for the same document and language
// pair that has not failed.
func (s *Store) FindJob(ctx context.Context, documentHash, sourceLang, targetLang string) (*internal.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE document_hash = ? AND source_lang = ? AND target_lang = ? AND status != ?
		 ORDER BY created_at DESC LIMIT 1`,
		documentHash, sourceLang, targetLang, string(internal.JobFailed)))
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]internal.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []internal.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJob sets the lifecycle fields of a job.
func (s *Store) UpdateJob(ctx context.Context, id string, status internal.JobStatus, stage, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, stage = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), stage, errMsg, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Units returns the units of a job in order.
func (s *Store) Units(ctx context.Context, jobID string) ([]internal.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, id, text, paragraph_index FROM units WHERE job_id = ? ORDER BY idx`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []internal.Unit
	for rows.Next() {
		var u internal.Unit
		if err := rows.Scan(&u.Index, &u.ID, &u.Text, &u.ParagraphIndex); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}
