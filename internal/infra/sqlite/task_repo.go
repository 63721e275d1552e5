package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"business-escalation/internal/domain"
)

const taskColumns = `id, title, description, category, urgency, lat, lng, people_needed, accepted_volunteer_count,
	requester_name, requester_email, requester_phone, created_at, escalation_deadline, end_time,
	contacted, contacted_at, assigned_business_id, volunteer_info`

// TaskRepository implements domain.TaskRepository with SQLite.
type TaskRepository struct {
	db *sql.DB
}

// NewTaskRepository creates a new SQLite task repository.
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Save inserts or replaces a task.
func (r *TaskRepository) Save(ctx context.Context, task *domain.Task) error {
	var volunteerInfo sql.NullString
	if task.BusinessVolunteerInfo != nil {
		b, err := json.Marshal(task.BusinessVolunteerInfo)
		if err != nil {
			return fmt.Errorf("failed to marshal volunteer info: %w", err)
		}
		volunteerInfo = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Title,
		task.Description,
		task.Category,
		string(task.Urgency),
		task.Location.Lat,
		task.Location.Lng,
		task.PeopleNeeded,
		task.AcceptedVolunteerCount,
		task.Requester.Name,
		task.Requester.Email,
		task.Requester.Phone,
		toNanos(task.CreatedAt),
		toNanos(task.EscalationDeadline),
		nullNanos(task.EndTime),
		boolToInt(task.Contacted),
		nullNanos(task.ContactedAt),
		nullString(task.AssignedBusinessID),
		volunteerInfo,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// Get retrieves a task by its ID.
func (r *TaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// Find retrieves tasks matching the filter, ordered by escalation deadline.
func (r *TaskRepository) Find(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	where, args := taskWhere(filter)
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY escalation_deadline, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// Count counts tasks matching the filter.
func (r *TaskRepository) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	where, args := taskWhere(filter)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func taskWhere(filter domain.TaskFilter) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}

	if !filter.DeadlineBefore.IsZero() {
		where += " AND escalation_deadline <= ?"
		args = append(args, toNanos(filter.DeadlineBefore))
	}
	if filter.NoAcceptedVolunteers {
		where += " AND accepted_volunteer_count = 0"
	}
	if filter.NotContacted {
		where += " AND contacted = 0"
	}
	if !filter.ActiveAt.IsZero() {
		where += " AND (end_time IS NULL OR end_time > ?)"
		args = append(args, toNanos(filter.ActiveAt))
	}
	if filter.AssignedBusinessID != "" {
		where += " AND assigned_business_id = ?"
		args = append(args, filter.AssignedBusinessID)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task          domain.Task
		urgency       string
		createdAt     int64
		deadline      int64
		endTime       sql.NullInt64
		contacted     int
		contactedAt   sql.NullInt64
		assignedTo    sql.NullString
		volunteerInfo sql.NullString
	)

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Category, &urgency,
		&task.Location.Lat, &task.Location.Lng, &task.PeopleNeeded, &task.AcceptedVolunteerCount,
		&task.Requester.Name, &task.Requester.Email, &task.Requester.Phone,
		&createdAt, &deadline, &endTime,
		&contacted, &contactedAt, &assignedTo, &volunteerInfo,
	)
	if err != nil {
		return nil, err
	}

	task.Urgency = domain.Urgency(urgency)
	task.CreatedAt = fromNanos(createdAt)
	task.EscalationDeadline = fromNanos(deadline)
	task.EndTime = timePtr(endTime)
	task.Contacted = contacted != 0
	task.ContactedAt = timePtr(contactedAt)
	task.AssignedBusinessID = assignedTo.String
	if volunteerInfo.Valid {
		var info domain.VolunteerInfo
		if err := json.Unmarshal([]byte(volunteerInfo.String), &info); err != nil {
			return nil, fmt.Errorf("failed to unmarshal volunteer info of task %s: %w", task.ID, err)
		}
		task.BusinessVolunteerInfo = &info
	}
	return &task, nil
}
