package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/wpptriage/internal/report"
)

// InsertReport appends an analysis report snapshot.
func (db *DB) InsertReport(runID string, r *report.PriorityReport, createdAt time.Time) (int64, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}
	res, err := db.Exec(`
		INSERT INTO analysis_reports (run_id, total_conversations, urgent_conversations,
			important_conversations, normal_conversations, summary, report_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.TotalConversations, len(r.Urgent), len(r.Important), len(r.Normal),
		r.Summary, string(data), createdAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestReport returns the most recently created report, or nil if none exist.
func (db *DB) LatestReport() (*StoredReport, error) {
	reports, err := db.ListReports(1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

// ListReports returns up to limit reports, newest first.
func (db *DB) ListReports(limit int) ([]StoredReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT id, run_id, report_data, created_at
		FROM analysis_reports
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StoredReport
	for rows.Next() {
		var (
			sr        StoredReport
			data      string
			createdAt int64
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &data, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &sr.Report); err != nil {
			return nil, fmt.Errorf("decode report %d: %w", sr.ID, err)
		}
		sr.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// GetReport returns a report by run id, or nil if it does not exist.
func (db *DB) GetReport(runID string) (*StoredReport, error) {
	var (
		sr        StoredReport
		data      string
		createdAt int64
	)
	err := db.QueryRow(`SELECT id, run_id, report_data, created_at FROM analysis_reports WHERE run_id = ?`, runID).
		Scan(&sr.ID, &sr.RunID, &data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &sr.Report); err != nil {
		return nil, fmt.Errorf("decode report %d: %w", sr.ID, err)
	}
	sr.CreatedAt = time.UnixMilli(createdAt)
	return &sr, nil
}
