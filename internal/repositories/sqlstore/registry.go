package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Migrate creates or updates every table owned by the store.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("sqlstore: database is required")
	}
	if err := db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Option customises the registry.
type Option func(*Registry)

// WithUsers overrides the user directory, e.g. with a Firestore-backed one.
func WithUsers(repo repositories.UserRepository) Option {
	return func(r *Registry) {
		if repo != nil {
			r.users = repo
		}
	}
}

// WithAddresses overrides the address directory.
func WithAddresses(repo repositories.AddressRepository) Option {
	return func(r *Registry) {
		if repo != nil {
			r.addresses = repo
		}
	}
}

// WithProducts overrides the product catalogue.
func WithProducts(repo repositories.ProductRepository) Option {
	return func(r *Registry) {
		if repo != nil {
			r.products = repo
		}
	}
}

// WithCloser registers an extra shutdown hook run after the database is closed.
func WithCloser(fn func(context.Context) error) Option {
	return func(r *Registry) {
		if fn != nil {
			r.closers = append(r.closers, fn)
		}
	}
}

// Registry wires the gorm repositories behind repositories.Registry.
type Registry struct {
	db        *gorm.DB
	uow       *sqldb.UnitOfWork
	cartLines *CartLineRepository
	orders    *OrderRepository
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	products  repositories.ProductRepository
	closers   []func(context.Context) error
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the registry over db. Directory repositories default to the SQL tables.
func NewRegistry(db *gorm.DB, opts ...Option) (*Registry, error) {
	uow, err := sqldb.NewUnitOfWork(db)
	if err != nil {
		return nil, err
	}
	cartLines, err := NewCartLineRepository(db)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(db)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(db)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(db)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		db:        db,
		uow:       uow,
		cartLines: cartLines,
		orders:    orders,
		users:     users,
		addresses: addresses,
		products:  products,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

func (r *Registry) CartLines() repositories.CartLineRepository { return r.cartLines }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Users() repositories.UserRepository { return r.users }

func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

// RunInTx delegates to the gorm unit of work.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// Ping reports whether the database answers.
func (r *Registry) Ping(ctx context.Context) error {
	return sqldb.Ping(ctx, r.db)
}

// Close releases the pool and any registered closers.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	if err := sqldb.Close(r.db); err != nil {
		errs = append(errs, err)
	}
	for _, fn := range r.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
