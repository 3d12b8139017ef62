package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	// DefaultCartMaxAge is how long a cart line may sit untouched before it counts as abandoned.
	DefaultCartMaxAge = 30 * 24 * time.Hour
	// DefaultCancelledOrderMaxAge is how long cancelled orders are kept after their order date.
	DefaultCancelledOrderMaxAge = 48 * time.Hour
)

// ErrRetentionUnavailable indicates a sweep could not reach the store.
var ErrRetentionUnavailable = errors.New("retention: unavailable")

// RetentionServiceDeps configures the sweeper.
type RetentionServiceDeps struct {
	Lines                repositories.CartLineRepository
	Orders               repositories.OrderRepository
	Cache                CartCache
	Clock                func() time.Time
	CartMaxAge           time.Duration
	CancelledOrderMaxAge time.Duration
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type retentionService struct {
	lines       repositories.CartLineRepository
	orders      repositories.OrderRepository
	cache       CartCache
	clock       func() time.Time
	cartMaxAge  time.Duration
	orderMaxAge time.Duration
	logger      func(context.Context, string, map[string]any)
}

// NewRetentionService constructs the abandoned cart and cancelled order sweeper.
func NewRetentionService(deps RetentionServiceDeps) (RetentionService, error) {
	if deps.Lines == nil {
		return nil, errors.New("retention service: cart line repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("retention service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cartMaxAge := deps.CartMaxAge
	if cartMaxAge <= 0 {
		cartMaxAge = DefaultCartMaxAge
	}
	orderMaxAge := deps.CancelledOrderMaxAge
	if orderMaxAge <= 0 {
		orderMaxAge = DefaultCancelledOrderMaxAge
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &retentionService{
		lines:       deps.Lines,
		orders:      deps.Orders,
		cache:       deps.Cache,
		clock:       func() time.Time { return clock().UTC() },
		cartMaxAge:  cartMaxAge,
		orderMaxAge: orderMaxAge,
		logger:      logger,
	}, nil
}

// PurgeAbandonedCarts deletes cart lines created strictly before now minus the cart max age.
func (s *retentionService) PurgeAbandonedCarts(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.cartMaxAge)
	result, err := s.lines.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, s.wrap("purge abandoned carts", err)
	}
	if s.cache != nil && len(result.UserIDs) > 0 {
		if err := s.cache.Invalidate(ctx, result.UserIDs...); err != nil {
			s.logger(ctx, "cart.cache.error", map[string]any{"op": "invalidate", "users": len(result.UserIDs), "error": err.Error()})
		}
	}
	s.logger(ctx, "retention.carts.purged", map[string]any{
		"deleted": result.Deleted,
		"users":   len(result.UserIDs),
		"cutoff":  cutoff.Format(time.RFC3339),
	})
	return result.Deleted, nil
}

// PurgeCancelledOrders deletes cancelled orders, with their lines, whose order date is strictly before
// now minus the cancelled order max age.
func (s *retentionService) PurgeCancelledOrders(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.orderMaxAge)
	deleted, err := s.orders.DeleteByStatusBefore(ctx, domain.OrderStatusCancelled, cutoff)
	if err != nil {
		return 0, s.wrap("purge cancelled orders", err)
	}
	s.logger(ctx, "retention.orders.purged", map[string]any{
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
	return deleted, nil
}

// RunScheduledSweep runs both purges. Failures are logged and never returned.
func (s *retentionService) RunScheduledSweep(ctx context.Context) {
	sweeps := []struct {
		name string
		run  func(context.Context) (int64, error)
	}{
		{name: "carts", run: s.PurgeAbandonedCarts},
		{name: "orders", run: s.PurgeCancelledOrders},
	}
	for _, sweep := range sweeps {
		if err := s.safeRun(ctx, sweep.run); err != nil {
			s.logger(ctx, "retention.sweep.failed", map[string]any{"sweep": sweep.name, "error": err.Error()})
		}
	}
}

func (s *retentionService) safeRun(ctx context.Context, run func(context.Context) (int64, error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retention: panic: %v", r)
		}
	}()
	_, err = run(ctx)
	return err
}

func (s *retentionService) wrap(op string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %s: %v", ErrRetentionUnavailable, op, err)
	}
	return fmt.Errorf("retention: %s: %w", op, err)
}
