package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"business-escalation/internal/domain"
)

const businessColumns = `id, name, contact_person, email, phone, services, lat, lng, coverage_radius_km,
	capacity, current_load, reliability, avg_response_time_hours, operating_hours, timezone,
	last_contacted_at, is_active, total_assigned, successful_assignments, created_at, updated_at`

// BusinessRepository implements domain.BusinessRepository with SQLite.
// Counter updates are single conditional UPDATE statements.
type BusinessRepository struct {
	db *sql.DB
}

// NewBusinessRepository creates a new SQLite business repository.
func NewBusinessRepository(db *sql.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// Save inserts or replaces a business.
func (r *BusinessRepository) Save(ctx context.Context, b *domain.Business) error {
	services, err := json.Marshal(b.Services)
	if err != nil {
		return fmt.Errorf("failed to marshal services: %w", err)
	}
	hours, err := json.Marshal(b.OperatingHours)
	if err != nil {
		return fmt.Errorf("failed to marshal operating hours: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO businesses (`+businessColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.Name,
		b.ContactPerson,
		b.Email,
		b.Phone,
		string(services),
		b.Location.Lat,
		b.Location.Lng,
		b.CoverageRadiusKm,
		b.Capacity,
		b.CurrentLoad,
		b.Reliability,
		b.AvgResponseTimeHours,
		string(hours),
		b.Timezone,
		nullNanos(b.LastContactedAt),
		boolToInt(b.IsActive),
		b.TotalAssigned,
		b.SuccessfulAssignments,
		toNanos(b.CreatedAt),
		toNanos(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save business %s: %w", b.ID, err)
	}
	return nil
}

// Get retrieves a business by its ID.
func (r *BusinessRepository) Get(ctx context.Context, id string) (*domain.Business, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)
	b, err := scanBusiness(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business %s: %w", id, err)
	}
	return b, nil
}

// Find retrieves businesses matching the filter, ordered by ID.
func (r *BusinessRepository) Find(ctx context.Context, filter domain.BusinessFilter) ([]*domain.Business, error) {
	return r.query(ctx, filter, " ORDER BY id")
}

// FindSorted retrieves businesses matching the filter in the given order.
func (r *BusinessRepository) FindSorted(ctx context.Context, filter domain.BusinessFilter, sortBy domain.BusinessSort) ([]*domain.Business, error) {
	switch sortBy {
	case domain.SortByReliability:
		return r.query(ctx, filter, " ORDER BY reliability DESC, avg_response_time_hours ASC, id")
	default:
		return nil, fmt.Errorf("unsupported business sort %q", sortBy)
	}
}

func (r *BusinessRepository) query(ctx context.Context, filter domain.BusinessFilter, orderBy string) ([]*domain.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE 1=1`
	args := []any{}

	if filter.ActiveOnly {
		query += " AND is_active = 1"
	}
	if filter.HasCapacity {
		query += " AND current_load < capacity"
	}
	if !filter.ContactedBefore.IsZero() {
		query += " AND (last_contacted_at IS NULL OR last_contacted_at <= ?)"
		args = append(args, toNanos(filter.ContactedBefore))
	}
	if filter.MinTotalAssigned > 0 {
		query += " AND total_assigned >= ?"
		args = append(args, filter.MinTotalAssigned)
	}
	query += orderBy

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find businesses: %w", err)
	}
	defer rows.Close()

	businesses := make([]*domain.Business, 0)
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		// Services are a JSON column, so the category clause runs here.
		if filter.Category != "" && !b.Offers(filter.Category) {
			continue
		}
		businesses = append(businesses, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate businesses: %w", err)
	}
	return businesses, nil
}

// ClaimCapacity takes one unit of capacity only if current_load < capacity
// when the UPDATE runs.
func (r *BusinessRepository) ClaimCapacity(ctx context.Context, id string, now time.Time) (*domain.Business, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE businesses
		 SET current_load = current_load + 1,
		     total_assigned = total_assigned + 1,
		     last_contacted_at = ?,
		     updated_at = ?
		 WHERE id = ? AND current_load < capacity`,
		toNanos(now), toNanos(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim capacity on business %s: %w", id, err)
	}
	if err := r.requireRow(ctx, res, id, domain.ErrCapacityExhausted); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// ReleaseCapacity gives back one unit of capacity, never going below zero.
func (r *BusinessRepository) ReleaseCapacity(ctx context.Context, id string) (*domain.Business, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE businesses SET current_load = MAX(current_load - 1, 0) WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to release capacity on business %s: %w", id, err)
	}
	if err := r.requireRow(ctx, res, id, domain.ErrBusinessNotFound); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// ReleaseClaim reverts a claim whose contact was never recorded.
func (r *BusinessRepository) ReleaseClaim(ctx context.Context, id string, previousContact *time.Time) (*domain.Business, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE businesses
		 SET current_load = MAX(current_load - 1, 0),
		     total_assigned = MAX(total_assigned - 1, 0),
		     last_contacted_at = ?
		 WHERE id = ?`,
		nullNanos(previousContact), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to release claim on business %s: %w", id, err)
	}
	if err := r.requireRow(ctx, res, id, domain.ErrBusinessNotFound); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// RecordSuccess increments the successful assignment counter.
func (r *BusinessRepository) RecordSuccess(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE businesses SET successful_assignments = successful_assignments + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to record success on business %s: %w", id, err)
	}
	return r.requireRow(ctx, res, id, domain.ErrBusinessNotFound)
}

// ResetLoad zeroes current_load on every active business.
func (r *BusinessRepository) ResetLoad(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE businesses SET current_load = 0 WHERE is_active = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset business load: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset row count: %w", err)
	}
	return int(n), nil
}

// requireRow returns nil if the update touched a row. Otherwise it tells a
// missing business apart from a failed condition.
func (r *BusinessRepository) requireRow(ctx context.Context, res sql.Result, id string, conditionErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM businesses WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrBusinessNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check business %s: %w", id, err)
	}
	return conditionErr
}

func scanBusiness(row rowScanner) (*domain.Business, error) {
	var (
		b               domain.Business
		services        string
		hours           string
		lastContactedAt sql.NullInt64
		isActive        int
		createdAt       int64
		updatedAt       int64
	)

	err := row.Scan(
		&b.ID, &b.Name, &b.ContactPerson, &b.Email, &b.Phone, &services,
		&b.Location.Lat, &b.Location.Lng, &b.CoverageRadiusKm,
		&b.Capacity, &b.CurrentLoad, &b.Reliability, &b.AvgResponseTimeHours, &hours, &b.Timezone,
		&lastContactedAt, &isActive, &b.TotalAssigned, &b.SuccessfulAssignments, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(services), &b.Services); err != nil {
		return nil, fmt.Errorf("failed to unmarshal services of business %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(hours), &b.OperatingHours); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operating hours of business %s: %w", b.ID, err)
	}
	b.LastContactedAt = timePtr(lastContactedAt)
	b.IsActive = isActive != 0
	b.CreatedAt = fromNanos(createdAt)
	b.UpdatedAt = fromNanos(updatedAt)
	return &b, nil
}
