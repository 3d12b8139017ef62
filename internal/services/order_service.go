package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	orderNumberPrefix  = "ORD-"
	deliveryDateLayout = "2006-01-02"
	noCancelReason     = "No reason provided"
	maxOrderNotes      = 4000
)

var (
	// ErrOrderInvalidInput indicates the request failed validation before anything was written.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or one of its referenced records does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order status does not allow the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a uniqueness violation such as a duplicate order number, or a status changed by another writer.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store cannot serve the request.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Users        repositories.UserRepository
	Addresses    repositories.AddressRepository
	Products     repositories.ProductRepository
	UnitOfWork   repositories.UnitOfWork
	Events       OrderEventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	OrderNumbers func(now time.Time) string
	// TaxRate and TotalTolerance fall back to the package defaults when nil. Zero is a valid setting.
	TaxRate        *decimal.Decimal
	TotalTolerance *decimal.Decimal
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	users       repositories.UserRepository
	addresses   repositories.AddressRepository
	products    repositories.ProductRepository
	unitOfWork  repositories.UnitOfWork
	events      OrderEventPublisher
	clock       func() time.Time
	newID       func() string
	orderNumber func(time.Time) string
	taxRate     decimal.Decimal
	tolerance   decimal.Decimal
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	numbers := deps.OrderNumbers
	if numbers == nil {
		numbers = generateOrderNumber
	}

	taxRate := DefaultTaxRate
	if deps.TaxRate != nil {
		if deps.TaxRate.IsNegative() {
			return nil, errors.New("order service: tax rate must not be negative")
		}
		taxRate = *deps.TaxRate
	}
	tolerance := DefaultTotalTolerance
	if deps.TotalTolerance != nil {
		if deps.TotalTolerance.IsNegative() {
			return nil, errors.New("order service: total tolerance must not be negative")
		}
		tolerance = *deps.TotalTolerance
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		users:      deps.Users,
		addresses:  deps.Addresses,
		products:   deps.Products,
		unitOfWork: unit,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		orderNumber: numbers,
		taxRate:     taxRate,
		tolerance:   tolerance,
		logger:      logger,
	}, nil
}

// CreateOrder converts a checkout request into a persisted order with frozen customer, shipping and
// product snapshots. The whole assembly commits or rolls back as one unit.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	deliveryDate, err := validateCreateOrder(cmd)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	var created Order
	var reconciliation Reconciliation
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		user, err := s.users.FindByID(txCtx, cmd.UserID)
		if err != nil {
			return s.mapRepositoryError(err, "user")
		}

		order := Order{
			OrderNumber: s.orderNumber(now),
			UserID:      user.ID,
			Customer: domain.CustomerSnapshot{
				Name:  user.Name,
				Email: user.Email,
				Phone: user.Phone,
				City:  user.City,
			},
			Status:        domain.OrderStatusPending,
			PaymentMethod: strings.TrimSpace(cmd.PaymentMethod),
			Notes:         truncateNotes(textutil.SanitizeText(cmd.Notes)),
			ShippingCost:  NormalizeMoney(cmd.ShippingCost),
			TotalAmount:   NormalizeMoney(cmd.TotalAmount),
			DeliveryDate:  deliveryDate,
			OrderDate:     now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if cmd.AddressID != nil {
			shipping, err := s.snapshotAddress(txCtx, *cmd.AddressID, user.ID)
			if err != nil {
				return err
			}
			order.Shipping = shipping
		}

		saved, err := s.orders.Insert(txCtx, order)
		if err != nil {
			return s.mapRepositoryError(err, "order")
		}

		lines := make([]OrderLine, 0, len(cmd.Items))
		for i, item := range cmd.Items {
			line, err := s.buildLine(txCtx, saved.ID, i, item)
			if err != nil {
				return err
			}
			persisted, err := s.orders.InsertLine(txCtx, line)
			if err != nil {
				return s.mapRepositoryError(err, "order line")
			}
			lines = append(lines, persisted)
		}

		totals := ComputeTotals(lines, order.ShippingCost, s.taxRate)
		reconciliation = Reconcile(order.TotalAmount, totals.Total, s.tolerance)
		if reconciliation.Mismatch() {
			s.logger(txCtx, "order.total_mismatch", map[string]any{
				"orderNumber": saved.OrderNumber,
				"clientTotal": reconciliation.Client.StringFixed(moneyScale),
				"computed":    reconciliation.Computed.StringFixed(moneyScale),
				"difference":  reconciliation.Difference.StringFixed(moneyScale),
				"tolerance":   s.tolerance.String(),
			})
		}

		saved.Subtotal = totals.Subtotal
		saved.Tax = totals.Tax
		saved.ShippingCost = totals.ShippingCost
		saved.TotalAmount = order.TotalAmount
		saved.Status = domain.OrderStatusPending
		if err := s.orders.UpdateTotals(txCtx, saved); err != nil {
			return s.mapRepositoryError(err, "order")
		}

		reloaded, err := s.orders.FindByID(txCtx, saved.ID)
		if err != nil {
			return s.mapRepositoryError(err, "order")
		}
		created = reloaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"userId":      created.UserID,
		"lines":       len(created.Lines),
		"total":       created.TotalAmount.StringFixed(moneyScale),
		"mismatch":    reconciliation.Mismatch(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventCreated,
		OrderID:     created.ID,
		OrderNumber: created.OrderNumber,
		UserID:      created.UserID,
		Status:      string(created.Status),
		TotalAmount: created.TotalAmount.StringFixed(moneyScale),
	})
	return created, nil
}

func (s *orderService) snapshotAddress(ctx context.Context, addressID, userID int64) (*domain.ShippingSnapshot, error) {
	if addressID <= 0 {
		return nil, fmt.Errorf("%w: address id must be positive", ErrOrderInvalidInput)
	}
	address, err := s.addresses.FindByID(ctx, addressID)
	if err != nil {
		return nil, s.mapRepositoryError(err, "address")
	}
	if address.UserID != userID {
		return nil, fmt.Errorf("%w: address %d", ErrOrderNotFound, addressID)
	}
	return &domain.ShippingSnapshot{
		Line1: address.Line1,
		Line2: address.Line2,
		City:  address.City,
		State: address.State,
		Zip:   address.Zip,
		Phone: address.Phone,
	}, nil
}

func (s *orderService) buildLine(ctx context.Context, orderID int64, position int, item OrderItemInput) (OrderLine, error) {
	product, err := s.products.FindByID(ctx, item.ProductID)
	if err != nil {
		return OrderLine{}, s.mapRepositoryError(err, "product")
	}
	unit, size, err := ResolveUnitPrice(product, item.Price, item.Size)
	if err != nil {
		return OrderLine{}, fmt.Errorf("%w: item %d: %v", ErrOrderInvalidInput, position, err)
	}
	return OrderLine{
		OrderID:            orderID,
		Position:           position,
		ProductID:          product.ID,
		ProductName:        product.Name,
		ProductDescription: product.Description,
		ProductImageURL:    product.ImageURL,
		ProductCategory:    product.Category,
		Size:               size,
		UnitPrice:          unit,
		Quantity:           item.Quantity,
		TotalPrice:         LineTotal(unit, item.Quantity),
	}, nil
}

// GetOrder loads an order together with its lines.
func (s *orderService) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	if orderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err, "order")
	}
	return order, nil
}

// ListOrders returns a page of orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	if filter.Pagination.PageSize < 0 {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: page size must not be negative", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err, "order")
	}
	return page, nil
}

// UpdateStatus overwrites the status. Administrative updates are not checked against the lifecycle graph.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	if cmd.OrderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	var previous OrderStatus
	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err, "order")
		}
		previous = order.Status
		now := s.now()
		if err := s.orders.UpdateLifecycle(txCtx, order.ID, previous, cmd.Status, order.Notes, now); err != nil {
			if errors.Is(err, repositories.ErrStatusChanged) {
				return fmt.Errorf("%w: order %d changed status concurrently", ErrOrderConflict, order.ID)
			}
			return s.mapRepositoryError(err, "order")
		}
		order.Status = cmd.Status
		order.UpdatedAt = now
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	nominal := previous.CanTransitionTo(cmd.Status)
	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId":  updated.ID,
		"from":     string(previous),
		"to":       string(cmd.Status),
		"actorId":  cmd.ActorID,
		"nominal":  nominal,
		"terminal": cmd.Status.IsTerminal(),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		Status:         string(updated.Status),
		PreviousStatus: string(previous),
		ActorID:        cmd.ActorID,
		Nominal:        nominal,
	})
	return updated, nil
}

// Cancel lets the owner cancel a pending order, appending the reason to the notes.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if cmd.OrderID <= 0 {
		return Order{}, fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}
	if cmd.UserID <= 0 {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	var cancelled Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return s.mapRepositoryError(err, "order")
		}
		if order.UserID != cmd.UserID {
			return fmt.Errorf("%w: order %d does not belong to user %d", ErrOrderForbidden, order.ID, cmd.UserID)
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled, order is %s", ErrOrderInvalidState, order.Status)
		}

		now := s.now()
		notes := appendCancellationNote(order.Notes, cmd.Reason, now)
		if err := s.orders.UpdateLifecycle(txCtx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, notes, now); err != nil {
			if errors.Is(err, repositories.ErrStatusChanged) {
				return fmt.Errorf("%w: order %d is no longer pending", ErrOrderInvalidState, order.ID)
			}
			return s.mapRepositoryError(err, "order")
		}
		order.Status = domain.OrderStatusCancelled
		order.Notes = notes
		order.UpdatedAt = now
		cancelled = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": cancelled.ID,
		"userId":  cmd.UserID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.OrderNumber,
		UserID:         cancelled.UserID,
		Status:         string(domain.OrderStatusCancelled),
		PreviousStatus: string(domain.OrderStatusPending),
		ActorID:        cmd.UserID,
		Nominal:        true,
	})
	return cancelled, nil
}

// DeleteOrder removes an order and its lines.
func (s *orderService) DeleteOrder(ctx context.Context, orderID int64) error {
	if orderID <= 0 {
		return fmt.Errorf("%w: order id must be positive", ErrOrderInvalidInput)
	}

	var deleted Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err, "order")
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err, "order")
		}
		deleted = order
		return nil
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventDeleted,
		OrderID:     deleted.ID,
		OrderNumber: deleted.OrderNumber,
		UserID:      deleted.UserID,
		Status:      string(deleted.Status),
	})
	return nil
}

func validateCreateOrder(cmd CreateOrderCommand) (*time.Time, error) {
	if cmd.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if item.ProductID <= 0 {
			return nil, fmt.Errorf("%w: item %d: product id must be positive", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d: quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: item %d: price must not be negative", ErrOrderInvalidInput, i)
		}
	}
	if !cmd.TotalAmount.IsPositive() {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrOrderInvalidInput)
	}
	if cmd.ShippingCost.IsNegative() {
		return nil, fmt.Errorf("%w: shipping cost must not be negative", ErrOrderInvalidInput)
	}

	raw := strings.TrimSpace(cmd.DeliveryDate)
	if raw == "" {
		return nil, nil
	}
	date, err := time.ParseInLocation(deliveryDateLayout, raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid delivery date %q", ErrOrderInvalidInput, raw)
	}
	return &date, nil
}

func appendCancellationNote(notes, reason string, at time.Time) string {
	reason = textutil.SanitizeText(reason)
	if reason == "" {
		reason = noCancelReason
	}
	note := "[" + at.UTC().Format(time.RFC3339) + "] Cancelled by user. Reason: " + reason
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

func truncateNotes(notes string) string {
	runes := []rune(notes)
	if len(runes) <= maxOrderNotes {
		return notes
	}
	return string(runes[:maxOrderNotes])
}

func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("%s%d-%s", orderNumberPrefix, now.UnixMilli(), suffix)
}

func (s *orderService) mapRepositoryError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrOrderNotFound, entity, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrOrderConflict, entity, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return fmt.Errorf("order: %s: %w", entity, err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	event.ID = s.newID()
	event.OccurredAt = s.now()
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}
