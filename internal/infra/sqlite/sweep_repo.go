package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"business-escalation/internal/domain"
)

const sweepColumns = `id, node_id, trigger_by, started_at, finished_at, succeeded, failed, error, results`

// SweepRepository implements domain.SweepRepository with SQLite.
type SweepRepository struct {
	db *sql.DB
}

// NewSweepRepository creates a new SQLite sweep repository.
func NewSweepRepository(db *sql.DB) *SweepRepository {
	return &SweepRepository{db: db}
}

// Save inserts or replaces a sweep report.
func (r *SweepRepository) Save(ctx context.Context, report *domain.SweepReport) error {
	results, err := json.Marshal(report.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep results: %w", err)
	}

	var finishedAt sql.NullInt64
	if !report.FinishedAt.IsZero() {
		finishedAt = sql.NullInt64{Int64: toNanos(report.FinishedAt), Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sweeps (`+sweepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.NodeID,
		report.Trigger,
		toNanos(report.StartedAt),
		finishedAt,
		report.Succeeded,
		report.Failed,
		report.Error,
		string(results),
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep report %s: %w", report.ID, err)
	}
	return nil
}

// Get retrieves a sweep report by its ID.
func (r *SweepRepository) Get(ctx context.Context, id string) (*domain.SweepReport, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sweepColumns+` FROM sweeps WHERE id = ?`, id)
	report, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSweepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep report %s: %w", id, err)
	}
	return report, nil
}

// List retrieves sweep reports newest first.
func (r *SweepRepository) List(ctx context.Context, page, pageSize int) ([]*domain.SweepReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sweepColumns+` FROM sweeps ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*domain.SweepReport, 0, pageSize)
	for rows.Next() {
		report, err := scanSweep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sweep report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sweep reports: %w", err)
	}
	return reports, nil
}

func scanSweep(row rowScanner) (*domain.SweepReport, error) {
	var (
		report     domain.SweepReport
		startedAt  int64
		finishedAt sql.NullInt64
		results    string
	)

	err := row.Scan(&report.ID, &report.NodeID, &report.Trigger, &startedAt, &finishedAt,
		&report.Succeeded, &report.Failed, &report.Error, &results)
	if err != nil {
		return nil, err
	}

	report.StartedAt = fromNanos(startedAt)
	if finishedAt.Valid {
		report.FinishedAt = fromNanos(finishedAt.Int64)
	}
	if err := json.Unmarshal([]byte(results), &report.Results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results of sweep %s: %w", report.ID, err)
	}
	return &report, nil
}
