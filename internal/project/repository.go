package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, projectID string) (*Snapshot, error)
	ListProjectIDs(ctx context.Context) ([]string, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, projectID string, limit int) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, completed, total int) error

	Charge(ctx context.Context, c *Charge) error
	TotalCharged(ctx context.Context, projectID string) (int, error)
	ListCharges(ctx context.Context, projectID string) ([]*Charge, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveSnapshot sanitizes snap and upserts it as the project's record.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	snap = Sanitize(snap)
	if snap.ProjectID == "" {
		return fmt.Errorf("snapshot has no project id")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	now := snap.UpdatedAt.Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO projects (id, snapshot, combined_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			combined_url = excluded.combined_url,
			updated_at = excluded.updated_at
	`, snap.ProjectID, string(data), nullString(snap.CombinedURL), now, now)
	return err
}

func (r *SQLiteRepository) GetSnapshot(ctx context.Context, projectID string) (*Snapshot, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT snapshot FROM projects WHERE id = ?", projectID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", projectID, err)
	}
	return &snap, nil
}

func (r *SQLiteRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM projects ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, project_id, kind, status, completed, total, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.ProjectID, j.Kind, j.Status, j.Completed, j.Total, nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, kind, status, completed, total, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)

	var j Job
	var errMsg sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.ProjectID, &j.Kind, &j.Status, &j.Completed, &j.Total, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

// ListJobs returns the newest jobs first. An empty projectID lists every project.
func (r *SQLiteRepository) ListJobs(ctx context.Context, projectID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, kind, status, completed, total, error, created_at, updated_at
		FROM jobs WHERE (? = '' OR project_id = ?)
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, projectID, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var errMsg sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &j.ProjectID, &j.Kind, &j.Status, &j.Completed, &j.Total, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.Error = errMsg.String
		j.CreatedAt = parseTime(createdAt)
		j.UpdatedAt = parseTime(updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, completed, total int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET completed = ?, total = ?, updated_at = ? WHERE id = ?
	`, completed, total, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// Charge appends an entry to the local usage ledger.
func (r *SQLiteRepository) Charge(ctx context.Context, c *Charge) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_charges (id, project_id, job_id, amount, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, nullString(c.JobID), c.Amount, nullString(c.Memo), c.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) TotalCharged(ctx context.Context, projectID string) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM usage_charges WHERE project_id = ?", projectID,
	).Scan(&total)
	return total, err
}

func (r *SQLiteRepository) ListCharges(ctx context.Context, projectID string) ([]*Charge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, job_id, amount, memo, created_at
		FROM usage_charges WHERE project_id = ? ORDER BY created_at ASC, rowid ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []*Charge
	for rows.Next() {
		var c Charge
		var jobID, memo sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &jobID, &c.Amount, &memo, &createdAt); err != nil {
			return nil, err
		}
		c.JobID = jobID.String
		c.Memo = memo.String
		c.CreatedAt = parseTime(createdAt)
		charges = append(charges, &c)
	}
	return charges, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// parseTime accepts both RFC3339 and SQLite's datetime('now') layout, which
// restart marking writes.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
