package firestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	userCollection    = "users"
	addressCollection = "addresses"
	productCollection = "products"
)

type userDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
	City  string `firestore:"city,omitempty"`
	Role  string `firestore:"role,omitempty"`
}

type addressDocument struct {
	UserID int64  `firestore:"userId"`
	Line1  string `firestore:"line1"`
	Line2  string `firestore:"line2,omitempty"`
	City   string `firestore:"city"`
	State  string `firestore:"state,omitempty"`
	Zip    string `firestore:"zip,omitempty"`
	Phone  string `firestore:"phone,omitempty"`
	Label  string `firestore:"label,omitempty"`
}

type productDocument struct {
	Name        string            `firestore:"name"`
	Description string            `firestore:"description,omitempty"`
	ImageURL    string            `firestore:"imageUrl,omitempty"`
	Category    string            `firestore:"category,omitempty"`
	Variants    []variantDocument `firestore:"variants"`
}

// prices are stored as decimal strings to avoid float rounding.
type variantDocument struct {
	ID       int64  `firestore:"id"`
	Size     string `firestore:"size"`
	Price    string `firestore:"price"`
	Quantity int    `firestore:"quantity"`
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// UserRepository reads user profiles from the users collection, keyed by numeric id.
type UserRepository struct {
	users *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user directory.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{users: pfirestore.NewCollection[userDocument](provider, userCollection)}, nil
}

// FindByID loads the user document.
func (r *UserRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	if r == nil || r.users == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	doc, err := r.users.Get(ctx, docID(userID))
	if err != nil {
		return domain.User{}, err
	}
	role := domain.RoleUser
	if strings.TrimSpace(doc.Role) != "" {
		if parsed, err := domain.ParseRole(doc.Role); err == nil {
			role = parsed
		}
	}
	return domain.User{
		ID:    userID,
		Name:  doc.Name,
		Email: doc.Email,
		Phone: doc.Phone,
		City:  doc.City,
		Role:  role,
	}, nil
}

// SaveUser seeds or replaces a user document.
func (r *UserRepository) SaveUser(ctx context.Context, user domain.User) error {
	return r.users.Set(ctx, docID(user.ID), userDocument{
		Name:  user.Name,
		Email: user.Email,
		Phone: user.Phone,
		City:  user.City,
		Role:  string(user.Role),
	})
}

// AddressRepository reads saved addresses from the addresses collection.
type AddressRepository struct {
	addresses *pfirestore.Collection[addressDocument]
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address directory.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{addresses: pfirestore.NewCollection[addressDocument](provider, addressCollection)}, nil
}

// FindByID loads the address document. Ownership is checked by the caller.
func (r *AddressRepository) FindByID(ctx context.Context, addressID int64) (domain.Address, error) {
	if r == nil || r.addresses == nil {
		return domain.Address{}, errors.New("address repository not initialised")
	}
	doc, err := r.addresses.Get(ctx, docID(addressID))
	if err != nil {
		return domain.Address{}, err
	}
	return domain.Address{
		ID:     addressID,
		UserID: doc.UserID,
		Line1:  doc.Line1,
		Line2:  doc.Line2,
		City:   doc.City,
		State:  doc.State,
		Zip:    doc.Zip,
		Phone:  doc.Phone,
		Label:  doc.Label,
	}, nil
}

// SaveAddress seeds or replaces an address document.
func (r *AddressRepository) SaveAddress(ctx context.Context, address domain.Address) error {
	return r.addresses.Set(ctx, docID(address.ID), addressDocument{
		UserID: address.UserID,
		Line1:  address.Line1,
		Line2:  address.Line2,
		City:   address.City,
		State:  address.State,
		Zip:    address.Zip,
		Phone:  address.Phone,
		Label:  address.Label,
	})
}

// ProductRepository reads catalogue products with embedded variants.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product catalogue.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productCollection)}, nil
}

// FindByID loads the product. Variants keep their stored order.
func (r *ProductRepository) FindByID(ctx context.Context, productID int64) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, docID(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(productID, doc)
}

// SaveProduct seeds or replaces a product document.
func (r *ProductRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	return r.products.Set(ctx, docID(product.ID), fromDomainProduct(product))
}

func toDomainProduct(id int64, doc productDocument) (domain.Product, error) {
	product := domain.Product{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		ImageURL:    doc.ImageURL,
		Category:    doc.Category,
		Variants:    make([]domain.ProductVariant, 0, len(doc.Variants)),
	}
	for _, v := range doc.Variants {
		price, err := decimal.NewFromString(strings.TrimSpace(v.Price))
		if err != nil {
			return domain.Product{}, fmt.Errorf("products.get: decode variant %d price %q: %w", v.ID, v.Price, err)
		}
		product.Variants = append(product.Variants, domain.ProductVariant{
			ID:       v.ID,
			Size:     v.Size,
			Price:    price.Round(2),
			Quantity: v.Quantity,
		})
	}
	return product, nil
}

func fromDomainProduct(product domain.Product) productDocument {
	doc := productDocument{
		Name:        product.Name,
		Description: product.Description,
		ImageURL:    product.ImageURL,
		Category:    product.Category,
		Variants:    make([]variantDocument, 0, len(product.Variants)),
	}
	for _, v := range product.Variants {
		doc.Variants = append(doc.Variants, variantDocument{
			ID:       v.ID,
			Size:     v.Size,
			Price:    v.Price.StringFixed(2),
			Quantity: v.Quantity,
		})
	}
	return doc
}
