// internal/infra/etcd/etcd_task_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"business-escalation/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TaskSaveDir = "/escalation/tasks/"
)

type etcdTaskRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdTaskRepository creates a new task store backed by etcd.
func NewEtcdTaskRepository(client *clientv3.Client, logger *slog.Logger) domain.TaskRepository {
	return &etcdTaskRepository{
		client: client,
		logger: logger.With("component", "etcd-task-repo"),
		tracer: otel.Tracer("business-escalation-etcd-task-repo"),
	}
}

// Save persists the task as JSON under its ID.
func (r *etcdTaskRepository) Save(ctx context.Context, task *domain.Task) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveTask")
	defer span.End()

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task to JSON: %w", err)
	}

	key := path.Join(TaskSaveDir, task.ID)
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(taskJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put task to etcd")
		return fmt.Errorf("failed to save task %s to etcd: %w", task.ID, err)
	}
	return nil
}

func (r *etcdTaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	resp, err := r.client.Get(ctx, path.Join(TaskSaveDir, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get task from etcd")
		return nil, fmt.Errorf("failed to get task %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrTaskNotFound
	}

	var task domain.Task
	if err := json.Unmarshal(resp.Kvs[0].Value, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s from JSON: %w", id, err)
	}
	return &task, nil
}

// Find scans the task prefix and applies the filter client side. Results are
// ordered by escalation deadline, then ID.
func (r *etcdTaskRepository) Find(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.FindTasks")
	defer span.End()

	resp, err := r.client.Get(ctx, TaskSaveDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks from etcd")
		return nil, fmt.Errorf("failed to list tasks from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	tasks := make([]*domain.Task, 0)
	for _, kv := range resp.Kvs {
		var task domain.Task
		if err := json.Unmarshal(kv.Value, &task); err != nil {
			r.logger.Warn("failed to unmarshal task from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		if filter.Matches(&task) {
			tasks = append(tasks, &task)
		}
	}
	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := a.EscalationDeadline.Compare(b.EscalationDeadline); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

func (r *etcdTaskRepository) Count(ctx context.Context, filter domain.TaskFilter) (int, error) {
	tasks, err := r.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}
