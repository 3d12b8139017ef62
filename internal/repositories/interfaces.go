package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// ErrStatusChanged reports that a conditional lifecycle update found the order in a different status.
var ErrStatusChanged = errors.New("repositories: order status changed")

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	CartLines() CartLineRepository
	Orders() OrderRepository
	Users() UserRepository
	Addresses() AddressRepository
	Products() ProductRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called with the
// context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartLineRepository persists deduplicated cart lines.
type CartLineRepository interface {
	// AddOrIncrement inserts a line for the key or atomically adds quantity to the existing one.
	AddOrIncrement(ctx context.Context, key domain.CartLineKey, quantity int, now time.Time) (domain.CartLine, error)
	FindByID(ctx context.Context, lineID int64) (domain.CartLine, error)
	FindByKey(ctx context.Context, key domain.CartLineKey) (domain.CartLine, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.CartLine, error)
	UpdateQuantity(ctx context.Context, lineID int64, quantity int, now time.Time) (domain.CartLine, error)
	Delete(ctx context.Context, lineID int64) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	// DeleteCreatedBefore removes lines created strictly before cutoff and reports the affected users.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (CartPurgeResult, error)
}

// CartPurgeResult describes the outcome of an abandoned cart sweep.
type CartPurgeResult struct {
	Deleted int64
	UserIDs []int64
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     *int64
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders and their frozen lines.
type OrderRepository interface {
	// Insert persists the order shell (without lines) and returns it with its identifier.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	InsertLine(ctx context.Context, line domain.OrderLine) (domain.OrderLine, error)
	// UpdateTotals writes subtotal, tax, shipping, total and status in one statement.
	UpdateTotals(ctx context.Context, order domain.Order) error
	// UpdateLifecycle moves the order from one status to another, writing notes and updated timestamp.
	// It returns ErrStatusChanged when the stored status is no longer from.
	UpdateLifecycle(ctx context.Context, orderID int64, from, to domain.OrderStatus, notes string, updatedAt time.Time) error
	FindByID(ctx context.Context, orderID int64) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Delete removes the order and cascades to its lines.
	Delete(ctx context.Context, orderID int64) error
	// DeleteByStatusBefore removes orders in status whose order date is strictly before cutoff.
	DeleteByStatusBefore(ctx context.Context, status domain.OrderStatus, cutoff time.Time) (int64, error)
}

// UserRepository reads the live user records snapshotted at checkout.
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (domain.User, error)
}

// AddressRepository reads saved addresses snapshotted at checkout.
type AddressRepository interface {
	FindByID(ctx context.Context, addressID int64) (domain.Address, error)
}

// ProductRepository reads catalogue products and their variants.
type ProductRepository interface {
	FindByID(ctx context.Context, productID int64) (domain.Product, error)
}

// HealthRepository probes backing dependencies for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
