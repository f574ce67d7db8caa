// Package isolation confines reads and writes of user-owned resources to their owner.
//
// Every lookup goes through the store's owner-scoped methods, so a resource that
// exists but belongs to someone else is indistinguishable from one that does not
// exist. Both surface as services.ErrResourceNotFound.
package isolation

import (
	"context"
	"errors"

	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/repositories"
	"github.com/taskpulse/backend/services"
	"go.uber.org/zap"
)

// OwnedStore is the owner-scoped persistence contract for a resource T with patch
// type P. Implementations must filter by owner in the same query that selects the
// row and return repositories.ErrNotFound when nothing matches.
type OwnedStore[T any, P any] interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]*T, error)
	GetByIDAndOwner(ctx context.Context, id, ownerID int64) (*T, error)
	Create(ctx context.Context, resource *T) error
	UpdateByIDAndOwner(ctx context.Context, id, ownerID int64, patch P) (*T, error)
	DeleteByIDAndOwner(ctx context.Context, id, ownerID int64) error
}

// Scope wraps an OwnedStore and translates its results into domain errors
type Scope[T any, P any] struct {
	kind     string
	store    OwnedStore[T, P]
	setOwner func(*T, int64)
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewScope creates a Scope. kind names the resource in logs; setOwner stamps the
// owner onto a resource before it is created.
func NewScope[T any, P any](kind string, store OwnedStore[T, P], setOwner func(*T, int64), metrics *observability.Metrics, logger *zap.Logger) *Scope[T, P] {
	return &Scope[T, P]{
		kind:     kind,
		store:    store,
		setOwner: setOwner,
		metrics:  metrics,
		logger:   logger,
	}
}

// ListOwned returns the owner's resources in id order
func (s *Scope[T, P]) ListOwned(ctx context.Context, ownerID int64) ([]*T, error) {
	if ownerID <= 0 {
		return nil, services.ErrUnauthorized
	}
	items, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.translate(err, "list", 0, ownerID)
	}
	return items, nil
}

// GetOwned returns the resource only if ownerID owns it
func (s *Scope[T, P]) GetOwned(ctx context.Context, id, ownerID int64) (*T, error) {
	if ownerID <= 0 {
		return nil, services.ErrUnauthorized
	}
	item, err := s.store.GetByIDAndOwner(ctx, id, ownerID)
	if err != nil {
		return nil, s.translate(err, "get", id, ownerID)
	}
	return item, nil
}

// CreateOwned stores resource with its owner forced to ownerID, whatever the caller set
func (s *Scope[T, P]) CreateOwned(ctx context.Context, ownerID int64, resource *T) (*T, error) {
	if ownerID <= 0 {
		return nil, services.ErrUnauthorized
	}
	s.setOwner(resource, ownerID)
	if err := s.store.Create(ctx, resource); err != nil {
		return nil, s.translate(err, "create", 0, ownerID)
	}
	return resource, nil
}

// UpdateOwned applies patch in a single owner-scoped statement and returns the
// refreshed resource
func (s *Scope[T, P]) UpdateOwned(ctx context.Context, id, ownerID int64, patch P) (*T, error) {
	if ownerID <= 0 {
		return nil, services.ErrUnauthorized
	}
	item, err := s.store.UpdateByIDAndOwner(ctx, id, ownerID, patch)
	if err != nil {
		return nil, s.translate(err, "update", id, ownerID)
	}
	return item, nil
}

// DeleteOwned removes the resource only if ownerID owns it
func (s *Scope[T, P]) DeleteOwned(ctx context.Context, id, ownerID int64) error {
	if ownerID <= 0 {
		return services.ErrUnauthorized
	}
	if err := s.store.DeleteByIDAndOwner(ctx, id, ownerID); err != nil {
		return s.translate(err, "delete", id, ownerID)
	}
	return nil
}

// MutateOwned runs a resource specific owner-scoped write that OwnedStore does not
// cover, such as an atomic flag flip. fn must filter by ownerID itself; its result is
// translated like UpdateOwned's.
func (s *Scope[T, P]) MutateOwned(ctx context.Context, op string, id, ownerID int64, fn func(ctx context.Context) (*T, error)) (*T, error) {
	if ownerID <= 0 {
		return nil, services.ErrUnauthorized
	}
	item, err := fn(ctx)
	if err != nil {
		return nil, s.translate(err, op, id, ownerID)
	}
	return item, nil
}

// CheckPathOwner is the second ownership layer for routes that carry a user id in
// the path. A mismatch is reported exactly like a missing resource.
func (s *Scope[T, P]) CheckPathOwner(pathUserID, principalID int64) error {
	return CheckPathOwner(pathUserID, principalID, s.metrics)
}

// CheckPathOwner compares the path user id against the authenticated principal
func CheckPathOwner(pathUserID, principalID int64, metrics *observability.Metrics) error {
	if principalID <= 0 {
		return services.ErrUnauthorized
	}
	if pathUserID != principalID {
		metrics.NotFound()
		return services.ErrResourceNotFound
	}
	return nil
}

func (s *Scope[T, P]) translate(err error, op string, id, ownerID int64) error {
	if errors.Is(err, repositories.ErrNotFound) {
		s.metrics.NotFound()
		s.logger.Debug("scoped lookup found nothing",
			zap.String("resource", s.kind),
			zap.String("op", op),
			zap.Int64("id", id),
			zap.Int64("owner_id", ownerID))
		return services.ErrResourceNotFound
	}
	s.logger.Error("owned store failed",
		zap.String("resource", s.kind),
		zap.String("op", op),
		zap.Error(err))
	return services.WrapInternal("failed to "+op+" "+s.kind, err)
}
