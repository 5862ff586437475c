package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// RunSummary is one row of sync_runs.
type RunSummary struct {
	ID         string         `json:"id"`
	CourseID   int64          `json:"course_id"`
	Status     string         `json:"status"`
	Total      int            `json:"total"`
	Counts     map[string]int `json:"counts"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

type RunLog struct{ db *sql.DB }

func NewRunLog(db *sql.DB) *RunLog { return &RunLog{db: db} }

func (r *RunLog) Append(ctx context.Context, rep BatchReport) error {
	counts, err := json.Marshal(rep.Counts)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, course_id, status, total, counts, error, started_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rep.RunID, rep.CourseID, rep.Status(), rep.Total, string(counts), rep.Error,
		rep.StartedAt.UnixMilli(), rep.FinishedAt.UnixMilli())
	return err
}

// Recent lists the latest runs, newest first.
func (r *RunLog) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, status, total, counts, error, started_at, finished_at
		FROM sync_runs ORDER BY started_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var (
			s                 RunSummary
			counts            string
			started, finished int64
		)
		if err := rows.Scan(&s.ID, &s.CourseID, &s.Status, &s.Total, &counts, &s.Error, &started, &finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(counts), &s.Counts); err != nil {
			s.Counts = map[string]int{}
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		s.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
