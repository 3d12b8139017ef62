package sqlstore

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

// UserRepository reads users from the relational store.
type UserRepository struct {
	db *gorm.DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errors.New("user repository requires database")
	}
	return &UserRepository{db: db}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	var row userModel
	if err := sqldb.Conn(ctx, r.db).Where("id = ?", userID).Take(&row).Error; err != nil {
		return domain.User{}, sqldb.WrapError("users.find", err)
	}
	return row.toDomain(), nil
}

// AddressRepository reads saved addresses from the relational store.
type AddressRepository struct {
	db *gorm.DB
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

func NewAddressRepository(db *gorm.DB) (*AddressRepository, error) {
	if db == nil {
		return nil, errors.New("address repository requires database")
	}
	return &AddressRepository{db: db}, nil
}

func (r *AddressRepository) FindByID(ctx context.Context, addressID int64) (domain.Address, error) {
	var row addressModel
	if err := sqldb.Conn(ctx, r.db).Where("id = ?", addressID).Take(&row).Error; err != nil {
		return domain.Address{}, sqldb.WrapError("addresses.find", err)
	}
	return row.toDomain(), nil
}

// ProductRepository reads products with their variants. Variants keep insertion order so the
// first variant is the one used as the fallback price.
type ProductRepository struct {
	db *gorm.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(db *gorm.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires database")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID int64) (domain.Product, error) {
	var row productModel
	err := sqldb.Conn(ctx, r.db).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", productID).
		Take(&row).Error
	if err != nil {
		return domain.Product{}, sqldb.WrapError("products.find", err)
	}
	return row.toDomain(), nil
}
