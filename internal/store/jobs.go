package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"propscout-engine/internal/domain"
)

// Jobs persists scrape job history. Rows are archived, never deleted, so
// counters and warnings survive restarts for auditing.
type Jobs struct {
	DB *sql.DB
}

func (s *Jobs) InsertJob(ctx context.Context, j domain.Job) error {
	criteriaB, _ := json.Marshal(j.Criteria)
	countsB, _ := json.Marshal(j.Counts)
	warningsB := marshalWarnings(j.Warnings)

	_, err := s.DB.ExecContext(ctx, `
INSERT INTO scrape_jobs (
  id, data_source, criteria, max_pages, status, counts, attempt_count,
  error, warnings, created_at, started_at, completed_at, archived
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?);`,
		j.ID, string(j.Source), string(criteriaB), j.MaxPages, string(j.Status),
		string(countsB), j.AttemptCount, j.Error, string(warningsB),
		j.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(j.StartedAt), nullTime(j.CompletedAt), boolToInt(j.Archived),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Jobs) UpdateJob(ctx context.Context, j domain.Job) error {
	countsB, _ := json.Marshal(j.Counts)
	warningsB := marshalWarnings(j.Warnings)

	res, err := s.DB.ExecContext(ctx, `
UPDATE scrape_jobs SET
  status = ?, counts = ?, attempt_count = ?, error = ?, warnings = ?,
  started_at = ?, completed_at = ?, archived = ?
WHERE id = ?;`,
		string(j.Status), string(countsB), j.AttemptCount, j.Error,
		string(warningsB), nullTime(j.StartedAt), nullTime(j.CompletedAt),
		boolToInt(j.Archived), j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update job %s: not found", j.ID)
	}
	return nil
}

func (s *Jobs) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM scrape_jobs WHERE id = ?;`, id)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobs returns unarchived jobs, newest first.
func (s *Jobs) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM scrape_jobs WHERE archived = 0
ORDER BY created_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *Jobs) ArchiveJob(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE scrape_jobs SET archived = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("archive job %s: not found", id)
	}
	return nil
}

const jobColumns = `id, data_source, criteria, max_pages, status, counts,
  attempt_count, error, warnings, created_at, started_at, completed_at, archived`

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j                      domain.Job
		source, status         string
		criteriaJS, countsJS   string
		warningsJS             string
		createdAt              string
		startedAt, completedAt sql.NullString
		archived               int
	)
	err := row.Scan(&j.ID, &source, &criteriaJS, &j.MaxPages, &status,
		&countsJS, &j.AttemptCount, &j.Error, &warningsJS, &createdAt,
		&startedAt, &completedAt, &archived)
	if err != nil {
		return nil, err
	}

	j.Source = domain.DataSource(source)
	j.Status = domain.JobStatus(status)
	j.Archived = archived != 0
	_ = json.Unmarshal([]byte(criteriaJS), &j.Criteria)
	_ = json.Unmarshal([]byte(countsJS), &j.Counts)
	_ = json.Unmarshal([]byte(warningsJS), &j.Warnings)
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.StartedAt = fromNullTime(startedAt)
	j.CompletedAt = fromNullTime(completedAt)
	return &j, nil
}

func marshalWarnings(ws []string) []byte {
	if ws == nil {
		return []byte("[]")
	}
	b, _ := json.Marshal(ws)
	return b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func fromNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}
