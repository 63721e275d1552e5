// internal/infra/etcd/etcd_business_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"business-escalation/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	BusinessSaveDir = "/escalation/businesses/"
	// maxTxnAttempts bounds the compare-and-swap retries of a counter update.
	maxTxnAttempts = 5
)

// ErrTxnConflict is returned when a counter update kept losing its
// compare-and-swap to concurrent writers.
var ErrTxnConflict = errors.New("etcd transaction conflict")

type etcdBusinessRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdBusinessRepository creates a new business registry backed by etcd.
// Counter updates are transactions guarded by the key's ModRevision.
func NewEtcdBusinessRepository(client *clientv3.Client, logger *slog.Logger) domain.BusinessRepository {
	return &etcdBusinessRepository{
		client: client,
		logger: logger.With("component", "etcd-business-repo"),
		tracer: otel.Tracer("business-escalation-etcd-business-repo"),
	}
}

func (r *etcdBusinessRepository) Save(ctx context.Context, business *domain.Business) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveBusiness")
	defer span.End()

	businessJSON, err := json.Marshal(business)
	if err != nil {
		return fmt.Errorf("failed to marshal business to JSON: %w", err)
	}

	key := path.Join(BusinessSaveDir, business.ID)
	span.SetAttributes(
		attribute.String("business.id", business.ID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(businessJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put business to etcd")
		return fmt.Errorf("failed to save business %s to etcd: %w", business.ID, err)
	}
	return nil
}

func (r *etcdBusinessRepository) Get(ctx context.Context, id string) (*domain.Business, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetBusiness")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", id))

	business, _, err := r.get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrBusinessNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get business from etcd")
	}
	return business, err
}

// Find scans the business prefix and applies the filter client side.
func (r *etcdBusinessRepository) Find(ctx context.Context, filter domain.BusinessFilter) ([]*domain.Business, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.FindBusinesses")
	defer span.End()

	resp, err := r.client.Get(ctx, BusinessSaveDir, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list businesses from etcd")
		return nil, fmt.Errorf("failed to list businesses from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	businesses := make([]*domain.Business, 0)
	for _, kv := range resp.Kvs {
		var business domain.Business
		if err := json.Unmarshal(kv.Value, &business); err != nil {
			r.logger.Warn("failed to unmarshal business from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		if filter.Matches(&business) {
			businesses = append(businesses, &business)
		}
	}
	slices.SortFunc(businesses, func(a, b *domain.Business) int { return strings.Compare(a.ID, b.ID) })
	return businesses, nil
}

func (r *etcdBusinessRepository) FindSorted(ctx context.Context, filter domain.BusinessFilter, sortBy domain.BusinessSort) ([]*domain.Business, error) {
	businesses, err := r.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(businesses, func(a, b *domain.Business) int { return domain.CompareBusinesses(sortBy, a, b) })
	return businesses, nil
}

func (r *etcdBusinessRepository) ClaimCapacity(ctx context.Context, id string, now time.Time) (*domain.Business, error) {
	return r.update(ctx, "repo.etcd.ClaimCapacity", id, func(b *domain.Business) error {
		if b.CurrentLoad >= b.Capacity {
			return domain.ErrCapacityExhausted
		}
		contacted := now
		b.CurrentLoad++
		b.TotalAssigned++
		b.LastContactedAt = &contacted
		b.UpdatedAt = now
		return nil
	})
}

func (r *etcdBusinessRepository) ReleaseCapacity(ctx context.Context, id string) (*domain.Business, error) {
	return r.update(ctx, "repo.etcd.ReleaseCapacity", id, func(b *domain.Business) error {
		if b.CurrentLoad > 0 {
			b.CurrentLoad--
		}
		return nil
	})
}

func (r *etcdBusinessRepository) ReleaseClaim(ctx context.Context, id string, previousContact *time.Time) (*domain.Business, error) {
	return r.update(ctx, "repo.etcd.ReleaseClaim", id, func(b *domain.Business) error {
		if b.CurrentLoad > 0 {
			b.CurrentLoad--
		}
		if b.TotalAssigned > 0 {
			b.TotalAssigned--
		}
		if previousContact == nil {
			b.LastContactedAt = nil
		} else {
			contacted := *previousContact
			b.LastContactedAt = &contacted
		}
		return nil
	})
}

func (r *etcdBusinessRepository) RecordSuccess(ctx context.Context, id string) error {
	_, err := r.update(ctx, "repo.etcd.RecordSuccess", id, func(b *domain.Business) error {
		b.SuccessfulAssignments++
		return nil
	})
	return err
}

func (r *etcdBusinessRepository) ResetLoad(ctx context.Context) (int, error) {
	active, err := r.Find(ctx, domain.BusinessFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}

	for _, b := range active {
		if b.CurrentLoad == 0 {
			continue
		}
		_, err := r.update(ctx, "repo.etcd.ResetLoad", b.ID, func(stored *domain.Business) error {
			if stored.IsActive {
				stored.CurrentLoad = 0
			}
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrBusinessNotFound) {
			return 0, fmt.Errorf("failed to reset load of business %s: %w", b.ID, err)
		}
	}
	return len(active), nil
}

// update applies mutate to the stored business and writes it back only if the
// key has not changed since it was read. Conflicts are retried.
func (r *etcdBusinessRepository) update(ctx context.Context, op, id string, mutate func(b *domain.Business) error) (*domain.Business, error) {
	ctx, span := r.tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("business.id", id))

	key := path.Join(BusinessSaveDir, id)
	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		business, modRevision, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(business); err != nil {
			return nil, err
		}

		businessJSON, err := json.Marshal(business)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal business to JSON: %w", err)
		}

		resp, err := r.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", modRevision)).
			Then(clientv3.OpPut(key, string(businessJSON))).
			Commit()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to commit business update")
			return nil, fmt.Errorf("failed to update business %s in etcd: %w", id, err)
		}
		if resp.Succeeded {
			span.SetAttributes(attribute.Int("txn.attempts", attempt))
			return business, nil
		}
		r.logger.Debug("business update conflicted, retrying", "business_id", id, "attempt", attempt)
	}

	span.SetStatus(codes.Error, "business update kept conflicting")
	return nil, fmt.Errorf("failed to update business %s after %d attempts: %w", id, maxTxnAttempts, ErrTxnConflict)
}

func (r *etcdBusinessRepository) get(ctx context.Context, id string) (*domain.Business, int64, error) {
	resp, err := r.client.Get(ctx, path.Join(BusinessSaveDir, id))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get business %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, domain.ErrBusinessNotFound
	}

	var business domain.Business
	if err := json.Unmarshal(resp.Kvs[0].Value, &business); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal business %s from JSON: %w", id, err)
	}
	return &business, resp.Kvs[0].ModRevision, nil
}
