package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// timeFormat is how timestamps are stored in sqlite.
const timeFormat = time.RFC3339Nano

// SQLiteStore implements Store on an embedded sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas for performance + concurrency.
	// WAL allows concurrent readers while a writer is active.
	// busy_timeout reduces SQLITE_BUSY errors under contention.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job metadata: %w", err)
	}
	return string(b), nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	meta, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, case_id, job_type, status, total_units, completed_units,
			failed_units, error, metadata, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CaseID, job.JobType, string(job.Status),
		job.TotalUnits, job.CompletedUnits, job.FailedUnits,
		job.Error, meta, fmtTime(created), fmtTime(time.Now().UTC()),
		fmtTimePtr(job.StartedAt), fmtTimePtr(job.CompletedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		job                    Job
		status, meta           string
		createdAt, updatedAt   string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&job.ID, &job.CaseID, &job.JobType, &status,
		&job.TotalUnits, &job.CompletedUnits, &job.FailedUnits,
		&job.Error, &meta, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatus(status)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.StartedAt = parseTimePtr(startedAt)
	job.CompletedAt = parseTimePtr(completedAt)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	return &job, nil
}

const jobColumns = `id, case_id, job_type, status, total_units, completed_units,
	failed_units, error, metadata, created_at, updated_at, started_at, completed_at`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if upd.Metadata != nil {
		meta, err := marshalMetadata(upd.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, meta)
	}
	if upd.TotalUnits != nil {
		sets = append(sets, "total_units = ?")
		args = append(args, *upd.TotalUnits)
	}
	if upd.CompletedUnits != nil {
		sets = append(sets, "completed_units = ?")
		args = append(args, *upd.CompletedUnits)
	}
	if upd.FailedUnits != nil {
		sets = append(sets, "failed_units = ?")
		args = append(args, *upd.FailedUnits)
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fmtTime(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, fmtTime(*upd.CompletedAt))
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var conds []string
	var args []any

	if filter.CaseID != "" {
		conds = append(conds, "case_id = ?")
		args = append(args, filter.CaseID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.UpdatedBefore.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, fmtTime(filter.UpdatedBefore))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateUnits(ctx context.Context, units []*ChunkUnit) error {
	if len(units) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now().UTC())
	for _, u := range units {
		created := now
		if !u.CreatedAt.IsZero() {
			created = fmtTime(u.CreatedAt)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO job_units (id, job_id, seq, unit_type, status, error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.JobID, u.Seq, u.UnitType, string(u.Status), u.Error, created, now)
		if err != nil {
			return fmt.Errorf("failed to insert unit %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListUnits(ctx context.Context, jobID string, statuses ...UnitStatus) ([]*ChunkUnit, error) {
	query := `SELECT id, job_id, seq, unit_type, status, error, created_at, updated_at
		FROM job_units WHERE job_id = ?`
	args := []any{jobID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var out []*ChunkUnit
	for rows.Next() {
		var (
			u                    ChunkUnit
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&u.ID, &u.JobID, &u.Seq, &u.UnitType, &status, &u.Error, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.Status = UnitStatus(status)
		u.CreatedAt = parseTime(createdAt)
		u.UpdatedAt = parseTime(updatedAt)
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateUnit(ctx context.Context, id string, status UnitStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_units SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateUnits(ctx context.Context, jobID string, from []UnitStatus, to UnitStatus, errMsg string) (int, error) {
	query := `UPDATE job_units SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`
	args := []any{string(to), errMsg, fmtTime(time.Now().UTC()), jobID}

	if len(from) > 0 {
		placeholders := make([]string, len(from))
		for i, st := range from {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update units: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) DeleteUnits(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_units WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete units: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, case_id, name, path, text, confidence, extracted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CaseID, doc.Name, doc.Path, doc.Text, doc.Confidence,
		fmtTimePtr(doc.ExtractedAt), fmtTime(created))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, caseID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, name, path, text, confidence, extracted_at, created_at
		FROM documents WHERE case_id = ? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var (
			d           Document
			extractedAt sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Name, &d.Path, &d.Text, &d.Confidence, &extractedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.ExtractedAt = parseTimePtr(extractedAt)
		d.CreatedAt = parseTime(createdAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveExtractedText(ctx context.Context, docID, text string, confidence float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET text = ?, confidence = ?, extracted_at = ? WHERE id = ?`,
		text, confidence, fmtTime(time.Now().UTC()), docID)
	if err != nil {
		return fmt.Errorf("failed to save extracted text: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, res *AnalysisResult) error {
	created := res.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_results (id, case_id, job_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		res.ID, res.CaseID, res.JobID, string(res.Payload), fmtTime(created))
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestAnalysis(ctx context.Context, caseID string) (*AnalysisResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, job_id, payload, created_at
		FROM analysis_results WHERE case_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, caseID)

	var (
		res       AnalysisResult
		payload   string
		createdAt string
	)
	err := row.Scan(&res.ID, &res.CaseID, &res.JobID, &payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	res.Payload = []byte(payload)
	res.CreatedAt = parseTime(createdAt)
	return &res, nil
}

func (s *SQLiteStore) AppendCaseEvents(ctx context.Context, events []*CaseEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now().UTC())
	for _, e := range events {
		created := now
		if !e.CreatedAt.IsZero() {
			created = fmtTime(e.CreatedAt)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO case_events (id, case_id, date, description, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.CaseID, e.Date, e.Description, e.Source, created)
		if err != nil {
			return fmt.Errorf("failed to insert case event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListCaseEvents(ctx context.Context, caseID string) ([]*CaseEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, date, description, source, created_at
		FROM case_events WHERE case_id = ? ORDER BY date ASC, id ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list case events: %w", err)
	}
	defer rows.Close()

	var out []*CaseEvent
	for rows.Next() {
		var (
			e         CaseEvent
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Date, &e.Description, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan case event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}
