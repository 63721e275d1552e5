// internal/infra/etcd/etcd_sweep_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"business-escalation/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SweepHistoryDir = "/escalation/sweeps/"
)

type etcdSweepRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdSweepRepository creates a new repository for sweep reports backed by etcd.
func NewEtcdSweepRepository(client *clientv3.Client, logger *slog.Logger) domain.SweepRepository {
	return &etcdSweepRepository{
		client: client,
		logger: logger.With("component", "etcd-sweep-repo"),
		tracer: otel.Tracer("business-escalation-etcd-sweep-repo"),
	}
}

// Save persists a sweep report under /escalation/sweeps/{id}.
func (r *etcdSweepRepository) Save(ctx context.Context, report *domain.SweepReport) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveSweep")
	defer span.End()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal sweep report")
		return fmt.Errorf("failed to marshal sweep report %s to JSON: %w", report.ID, err)
	}

	key := path.Join(SweepHistoryDir, report.ID)
	span.SetAttributes(
		attribute.String("sweep.id", report.ID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(reportJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put sweep report to etcd")
		return fmt.Errorf("failed to save sweep report %s to etcd: %w", report.ID, err)
	}
	return nil
}

func (r *etcdSweepRepository) Get(ctx context.Context, id string) (*domain.SweepReport, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetSweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep.id", id))

	resp, err := r.client.Get(ctx, path.Join(SweepHistoryDir, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get sweep report from etcd")
		return nil, fmt.Errorf("failed to get sweep report %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrSweepNotFound
	}

	var report domain.SweepReport
	if err := json.Unmarshal(resp.Kvs[0].Value, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sweep report %s from JSON: %w", id, err)
	}
	return &report, nil
}

// List returns sweep reports newest first, paginated in memory.
func (r *etcdSweepRepository) List(ctx context.Context, page, pageSize int) ([]*domain.SweepReport, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListSweeps")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	resp, err := r.client.Get(ctx, SweepHistoryDir,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sweep reports from etcd")
		return nil, fmt.Errorf("failed to list sweep reports from etcd: %w", err)
	}

	// etcd has no offset, so pages are cut from the sorted key range.
	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize

	reports := make([]*domain.SweepReport, 0, pageSize)
	for i, kv := range resp.Kvs {
		if i < startIdx {
			continue
		}
		if i >= endIdx {
			break
		}

		var report domain.SweepReport
		if err := json.Unmarshal(kv.Value, &report); err != nil {
			r.logger.Warn("failed to unmarshal sweep report from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		reports = append(reports, &report)
	}
	span.SetAttributes(attribute.Int("records_returned", len(reports)))
	return reports, nil
}
