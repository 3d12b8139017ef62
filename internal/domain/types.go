package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard page inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage represents a page of results alongside the token to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// CartLineKey identifies a cart line for deduplication. Two lines are the same only when every field matches.
type CartLineKey struct {
	UserID    int64
	ProductID int64
	Size      string
	Price     decimal.Decimal
}

// Equal reports whether both keys address the same cart line.
func (k CartLineKey) Equal(other CartLineKey) bool {
	return k.UserID == other.UserID &&
		k.ProductID == other.ProductID &&
		k.Size == other.Size &&
		k.Price.Equal(other.Price)
}

// CartLine is one deduplicated (user, product, size, price) entry awaiting checkout.
type CartLine struct {
	ID        int64
	UserID    int64
	ProductID int64
	Size      string
	Price     decimal.Decimal
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the deduplication key of the line.
func (l CartLine) Key() CartLineKey {
	return CartLineKey{UserID: l.UserID, ProductID: l.ProductID, Size: l.Size, Price: l.Price}
}

// CartAction enumerates the operations accepted by a batch cart update.
type CartAction string

const (
	CartActionAdd    CartAction = "add"
	CartActionUpdate CartAction = "update"
	CartActionRemove CartAction = "remove"
)

// CartOperation is one step of a batch cart update. Update and remove locate their target by key.
type CartOperation struct {
	Action    CartAction
	ProductID int64
	Quantity  int
	Size      string
	Price     *decimal.Decimal
}

// CustomerSnapshot freezes the ordering user's contact details at checkout time.
type CustomerSnapshot struct {
	Name  string
	Email string
	Phone string
	City  string
}

// ShippingSnapshot freezes the delivery address at checkout time.
type ShippingSnapshot struct {
	Line1 string
	Line2 string
	City  string
	State string
	Zip   string
	Phone string
}

// Order is the aggregate produced by checkout. Lines and snapshots never change after creation.
type Order struct {
	ID            int64
	OrderNumber   string
	UserID        int64
	Customer      CustomerSnapshot
	Shipping      *ShippingSnapshot
	Lines         []OrderLine
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	ShippingCost  decimal.Decimal
	TotalAmount   decimal.Decimal
	Status        OrderStatus
	PaymentMethod string
	Notes         string
	DeliveryDate  *time.Time
	OrderDate     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderLine is a frozen copy of a purchased product.
type OrderLine struct {
	ID                 int64
	OrderID            int64
	Position           int
	ProductID          int64
	ProductName        string
	ProductDescription string
	ProductImageURL    string
	ProductCategory    string
	Size               string
	UnitPrice          decimal.Decimal
	Quantity           int
	TotalPrice         decimal.Decimal
}

// User is the live account record read when an order snapshots its customer.
type User struct {
	ID    int64
	Name  string
	Email string
	Phone string
	City  string
	Role  Role
}

// Address is a saved delivery address owned by a user.
type Address struct {
	ID     int64
	UserID int64
	Line1  string
	Line2  string
	City   string
	State  string
	Zip    string
	Phone  string
	Label  string
}

// Product is the catalogue view consumed by cart and checkout.
type Product struct {
	ID          int64
	Name        string
	Description string
	ImageURL    string
	Category    string
	Variants    []ProductVariant
}

// ProductVariant is a purchasable size of a product.
type ProductVariant struct {
	ID       int64
	Size     string
	Price    decimal.Decimal
	Quantity int
}
