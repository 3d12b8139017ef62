package sqldb

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type txKey struct{}

// UnitOfWork runs callbacks inside a gorm transaction carried on the context.
type UnitOfWork struct {
	db *gorm.DB
}

// NewUnitOfWork constructs a UnitOfWork bound to db.
func NewUnitOfWork(db *gorm.DB) (*UnitOfWork, error) {
	if db == nil {
		return nil, errors.New("sqldb: database is required")
	}
	return &UnitOfWork{db: db}, nil
}

// RunInTx executes fn in a transaction. A transaction already present on ctx is reused through a
// savepoint so nested units roll back independently.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("sqldb: transaction function is nil")
	}
	base := Conn(ctx, u.db)
	err := base.Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
	// errors returned by fn are surfaced unchanged; only driver level failures are wrapped
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return WrapError("transaction", err)
	}
	return err
}

// WithTx stores tx on the context.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction stored on ctx, or db bound to ctx when none is active.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
