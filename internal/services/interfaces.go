package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLine       = domain.CartLine
	CartOperation  = domain.CartOperation
	Order          = domain.Order
	OrderLine      = domain.OrderLine
	OrderStatus    = domain.OrderStatus
	Product        = domain.Product
	ProductVariant = domain.ProductVariant

	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages deduplicated cart lines for a user.
type CartService interface {
	AddLine(ctx context.Context, cmd AddCartLineCommand) (CartLine, error)
	ListLines(ctx context.Context, userID int64) ([]CartLine, error)
	GetLine(ctx context.Context, lineID int64) (CartLine, error)
	UpdateQuantity(ctx context.Context, lineID int64, quantity int) (CartLine, error)
	RemoveLine(ctx context.Context, lineID int64) error
	Clear(ctx context.Context, userID int64) error
	BatchApply(ctx context.Context, cmd BatchCartCommand) ([]CartLine, error)
}

// OrderService assembles orders at checkout and drives their lifecycle afterwards.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
}

// RetentionService removes abandoned carts and stale cancelled orders.
type RetentionService interface {
	PurgeAbandonedCarts(ctx context.Context) (int64, error)
	PurgeCancelledOrders(ctx context.Context) (int64, error)
	RunScheduledSweep(ctx context.Context)
}

// SystemService reports service readiness and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Build() BuildInfo
}

// CartCache is the read-through cache consulted by ListLines. Get returns cache.ErrCacheMiss on a miss.
type CartCache interface {
	Get(ctx context.Context, userID int64) ([]CartLine, error)
	// Generation returns the invalidation counter for the user's cart.
	Generation(ctx context.Context, userID int64) (int64, error)
	// Set stores lines only while the generation is unchanged, otherwise it returns cache.ErrStaleGeneration.
	Set(ctx context.Context, userID int64, generation int64, lines []CartLine) error
	Invalidate(ctx context.Context, userIDs ...int64) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// Order event types.
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status.changed"
	OrderEventCancelled     = "order.cancelled"
	OrderEventDeleted       = "order.deleted"
)

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrderID        int64     `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	UserID         int64     `json:"userId"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	TotalAmount    string    `json:"totalAmount,omitempty"`
	ActorID        int64     `json:"actorId,omitempty"`
	Nominal        bool      `json:"nominal,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// AddCartLineCommand adds quantity to the line identified by (user, product, size, price).
// A nil price is resolved from the first product variant.
type AddCartLineCommand struct {
	UserID    int64
	ProductID int64
	Size      string
	Price     *decimal.Decimal
	Quantity  int
}

// BatchCartCommand applies operations to one user's cart inside a single transaction.
type BatchCartCommand struct {
	UserID     int64
	Operations []CartOperation
}

// OrderItemInput is one requested checkout line.
type OrderItemInput struct {
	ProductID int64
	Quantity  int
	Size      string
	Price     *decimal.Decimal
}

// CreateOrderCommand carries a checkout request. TotalAmount is the client computed total and is persisted as given.
type CreateOrderCommand struct {
	UserID        int64
	AddressID     *int64
	Items         []OrderItemInput
	PaymentMethod string
	Notes         string
	ShippingCost  decimal.Decimal
	TotalAmount   decimal.Decimal
	DeliveryDate  string
}

// UpdateOrderStatusCommand is an administrative status override.
type UpdateOrderStatusCommand struct {
	OrderID int64
	Status  OrderStatus
	ActorID int64
}

// CancelOrderCommand is a customer initiated cancellation.
type CancelOrderCommand struct {
	OrderID int64
	UserID  int64
	Reason  string
}
