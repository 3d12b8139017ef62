package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

var orderNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type orderFixture struct {
	orders    *memoryOrders
	uow       *recordingUnitOfWork
	publisher *recordingPublisher
	logs      *logRecorder
	service   OrderService
}

func newOrderFixture(t *testing.T, orders *memoryOrders, opts ...func(*OrderServiceDeps)) *orderFixture {
	t.Helper()
	if orders == nil {
		orders = newMemoryOrders()
	}
	f := &orderFixture{
		orders:    orders,
		uow:       &recordingUnitOfWork{},
		publisher: &recordingPublisher{},
		logs:      &logRecorder{},
	}
	users := &stubUserRepository{
		findFunc: func(_ context.Context, userID int64) (domain.User, error) {
			if userID != 7 && userID != 8 {
				return domain.User{}, notFoundErr()
			}
			return domain.User{ID: userID, Name: "Aiko", Email: "aiko@example.com", Phone: "555-0100", City: "Osaka"}, nil
		},
	}
	addresses := &stubAddressRepository{
		findFunc: func(_ context.Context, addressID int64) (domain.Address, error) {
			switch addressID {
			case 3:
				return domain.Address{ID: 3, UserID: 7, Line1: "1-2-3 Chuo", City: "Osaka", State: "Osaka", Zip: "530-0001", Phone: "555-0101"}, nil
			case 4:
				return domain.Address{ID: 4, UserID: 8, Line1: "elsewhere"}, nil
			}
			return domain.Address{}, notFoundErr()
		},
	}
	products := productCatalog(
		domain.Product{ID: 10, Name: "Tee", Description: "Cotton tee", ImageURL: "https://cdn.example.com/tee.png", Category: "apparel",
			Variants: []domain.ProductVariant{{Size: "M", Price: dec("21.00")}}},
		domain.Product{ID: 11, Name: "Mug", Variants: []domain.ProductVariant{{Size: "", Price: dec("8.50")}}},
		domain.Product{ID: 12, Name: "Sticker"},
	)
	deps := OrderServiceDeps{
		Orders:       orders,
		Users:        users,
		Addresses:    addresses,
		Products:     products,
		UnitOfWork:   f.uow,
		Events:       f.publisher,
		Clock:        func() time.Time { return orderNow },
		IDGenerator:  func() string { return "evt-1" },
		OrderNumbers: func(now time.Time) string { return "ORD-TEST" },
		Logger:       f.logs.log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing order service: %v", err)
	}
	f.service = svc
	return f
}

func TestCreateOrderComputesTotalsAndSnapshots(t *testing.T) {
	f := newOrderFixture(t, nil)
	addressID := int64(3)

	order, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:        7,
		AddressID:     &addressID,
		Items:         []OrderItemInput{{ProductID: 10, Quantity: 2, Size: "M", Price: decPtr("19.99")}},
		PaymentMethod: " card ",
		Notes:         "leave at <b>door</b>",
		ShippingCost:  dec("5.00"),
		TotalAmount:   dec("48.18"),
		DeliveryDate:  "2024-06-05",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.OrderNumber != "ORD-TEST" || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order header %+v", order)
	}
	if len(order.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(order.Lines))
	}
	line := order.Lines[0]
	if !line.TotalPrice.Equal(dec("39.98")) || !line.UnitPrice.Equal(dec("19.99")) {
		t.Fatalf("unexpected line pricing %+v", line)
	}
	if line.ProductName != "Tee" || line.ProductCategory != "apparel" || line.Size != "M" {
		t.Fatalf("expected product snapshot on line, got %+v", line)
	}
	if !order.Subtotal.Equal(dec("39.98")) || !order.Tax.Equal(dec("3.20")) || !order.TotalAmount.Equal(dec("48.18")) {
		t.Fatalf("unexpected totals subtotal=%s tax=%s total=%s", order.Subtotal, order.Tax, order.TotalAmount)
	}
	if order.Customer.Name != "Aiko" || order.Customer.City != "Osaka" {
		t.Fatalf("unexpected customer snapshot %+v", order.Customer)
	}
	if order.Shipping == nil || order.Shipping.Zip != "530-0001" {
		t.Fatalf("unexpected shipping snapshot %+v", order.Shipping)
	}
	if order.PaymentMethod != "card" || order.Notes != "leave at door" {
		t.Fatalf("unexpected payment/notes %q %q", order.PaymentMethod, order.Notes)
	}
	if order.DeliveryDate == nil || order.DeliveryDate.Format("2006-01-02") != "2024-06-05" {
		t.Fatalf("unexpected delivery date %v", order.DeliveryDate)
	}
	if f.uow.calls != 1 || f.orders.txWrites != f.orders.writes {
		t.Fatalf("expected all writes in one transaction, calls=%d writes=%d tx=%d", f.uow.calls, f.orders.writes, f.orders.txWrites)
	}
	if _, ok := f.logs.find("order.total_mismatch"); ok {
		t.Fatalf("did not expect a mismatch log")
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventCreated || f.publisher.events[0].TotalAmount != "48.18" {
		t.Fatalf("unexpected events %+v", f.publisher.events)
	}
}

func TestCreateOrderKeepsClientTotalOnMismatch(t *testing.T) {
	f := newOrderFixture(t, nil)

	order, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:       7,
		Items:        []OrderItemInput{{ProductID: 11, Quantity: 3}},
		ShippingCost: dec("0"),
		TotalAmount:  dec("20.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 3 x 8.50 = 25.50, tax 2.04, computed 27.54
	if !order.Subtotal.Equal(dec("25.50")) || !order.Tax.Equal(dec("2.04")) {
		t.Fatalf("unexpected computed amounts subtotal=%s tax=%s", order.Subtotal, order.Tax)
	}
	if !order.TotalAmount.Equal(dec("20.00")) {
		t.Fatalf("expected client total persisted, got %s", order.TotalAmount)
	}
	entry, ok := f.logs.find("order.total_mismatch")
	if !ok {
		t.Fatalf("expected mismatch log")
	}
	if entry.fields["computed"] != "27.54" || entry.fields["difference"] != "7.54" {
		t.Fatalf("unexpected mismatch fields %+v", entry.fields)
	}
	if order.Shipping != nil {
		t.Fatalf("expected no shipping snapshot without address")
	}
}

func TestCreateOrderHonoursZeroTaxRateAndTolerance(t *testing.T) {
	f := newOrderFixture(t, nil, func(deps *OrderServiceDeps) {
		deps.TaxRate = decPtr("0")
		deps.TotalTolerance = decPtr("0")
	})

	order, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:       7,
		Items:        []OrderItemInput{{ProductID: 11, Quantity: 3}},
		ShippingCost: dec("0"),
		TotalAmount:  dec("25.50"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !order.Tax.Equal(dec("0")) || !order.TotalAmount.Equal(dec("25.50")) {
		t.Fatalf("expected untaxed order, got tax=%s total=%s", order.Tax, order.TotalAmount)
	}
	if _, ok := f.logs.find("order.total_mismatch"); ok {
		t.Fatalf("expected exact total to reconcile")
	}

	// A one cent deviation passes the default tolerance but not a zero one.
	if _, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:       7,
		Items:        []OrderItemInput{{ProductID: 11, Quantity: 3}},
		ShippingCost: dec("0"),
		TotalAmount:  dec("25.51"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.logs.find("order.total_mismatch"); !ok {
		t.Fatalf("expected mismatch log with zero tolerance")
	}
}

func TestNewOrderServiceRejectsNegativeRates(t *testing.T) {
	base := OrderServiceDeps{
		Orders:    newMemoryOrders(),
		Users:     &stubUserRepository{},
		Addresses: &stubAddressRepository{},
		Products:  productCatalog(),
	}
	withTax := base
	withTax.TaxRate = decPtr("-0.01")
	if _, err := NewOrderService(withTax); err == nil {
		t.Fatalf("expected error for negative tax rate")
	}
	withTolerance := base
	withTolerance.TotalTolerance = decPtr("-1")
	if _, err := NewOrderService(withTolerance); err == nil {
		t.Fatalf("expected error for negative tolerance")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	valid := func() CreateOrderCommand {
		return CreateOrderCommand{
			UserID:       7,
			Items:        []OrderItemInput{{ProductID: 10, Quantity: 1}},
			ShippingCost: dec("0"),
			TotalAmount:  dec("22.68"),
		}
	}
	cases := map[string]func(*CreateOrderCommand){
		"missing user":      func(c *CreateOrderCommand) { c.UserID = 0 },
		"no items":          func(c *CreateOrderCommand) { c.Items = nil },
		"bad product":       func(c *CreateOrderCommand) { c.Items[0].ProductID = 0 },
		"zero quantity":     func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 },
		"zero total":        func(c *CreateOrderCommand) { c.TotalAmount = dec("0") },
		"negative shipping": func(c *CreateOrderCommand) { c.ShippingCost = dec("-1") },
		"bad date":          func(c *CreateOrderCommand) { c.DeliveryDate = "06/05/2024" },
		"no price source":   func(c *CreateOrderCommand) { c.Items[0].ProductID = 12 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newOrderFixture(t, nil)
			cmd := valid()
			mutate(&cmd)
			if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
			if len(f.publisher.events) != 0 {
				t.Fatalf("expected no events on failure")
			}
		})
	}
}

func TestCreateOrderNotFoundReferences(t *testing.T) {
	foreign := int64(4)
	missing := int64(99)
	cases := map[string]CreateOrderCommand{
		"user":            {UserID: 9, Items: []OrderItemInput{{ProductID: 10, Quantity: 1}}, TotalAmount: dec("1")},
		"product":         {UserID: 7, Items: []OrderItemInput{{ProductID: 10, Quantity: 1}, {ProductID: 404, Quantity: 1}}, TotalAmount: dec("1")},
		"address":         {UserID: 7, AddressID: &missing, Items: []OrderItemInput{{ProductID: 10, Quantity: 1}}, TotalAmount: dec("1")},
		"foreign address": {UserID: 7, AddressID: &foreign, Items: []OrderItemInput{{ProductID: 10, Quantity: 1}}, TotalAmount: dec("1")},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			f := newOrderFixture(t, nil)
			if _, err := f.service.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderNotFound) {
				t.Fatalf("expected ErrOrderNotFound, got %v", err)
			}
		})
	}
}

func TestCreateOrderRollsBackWhenTransactionFails(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.uow.err = &repositoryErrorStub{unavailable: true}

	_, err := f.service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:      7,
		Items:       []OrderItemInput{{ProductID: 10, Quantity: 1}},
		TotalAmount: dec("22.68"),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if f.orders.writes != 0 || len(f.publisher.events) != 0 {
		t.Fatalf("expected nothing written or published")
	}
}

func TestCreateOrderDefaultOrderNumberFormat(t *testing.T) {
	number := generateOrderNumber(orderNow)
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != "ORD" {
		t.Fatalf("unexpected order number %q", number)
	}
	if parts[1] != "1717234200000" {
		t.Fatalf("expected millisecond timestamp, got %q", parts[1])
	}
	if len(parts[2]) != 8 || strings.ToUpper(parts[2]) != parts[2] {
		t.Fatalf("expected 8 upper case characters, got %q", parts[2])
	}
	if generateOrderNumber(orderNow) == number {
		t.Fatalf("expected random suffix to differ")
	}
}

func pendingOrder(id, userID int64, notes string) domain.Order {
	return domain.Order{ID: id, UserID: userID, OrderNumber: "ORD-1", Status: domain.OrderStatusPending, Notes: notes, OrderDate: orderNow}
}

func TestCancelPendingOrderAppendsReason(t *testing.T) {
	f := newOrderFixture(t, newMemoryOrders(pendingOrder(1, 7, "ring the bell")))

	order, err := f.service.Cancel(context.Background(), CancelOrderCommand{OrderID: 1, UserID: 7, Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	want := "ring the bell\n[2024-06-01T09:30:00Z] Cancelled by user. Reason: changed my mind"
	if stored := f.orders.orders[1]; stored.Notes != want || stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if !order.UpdatedAt.Equal(orderNow) {
		t.Fatalf("expected updated at %s, got %s", orderNow, order.UpdatedAt)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventCancelled {
		t.Fatalf("unexpected events %+v", f.publisher.events)
	}
}

func TestCancelWithoutReasonOrNotes(t *testing.T) {
	f := newOrderFixture(t, newMemoryOrders(pendingOrder(1, 7, "")))

	order, err := f.service.Cancel(context.Background(), CancelOrderCommand{OrderID: 1, UserID: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Notes != "[2024-06-01T09:30:00Z] Cancelled by user. Reason: No reason provided" {
		t.Fatalf("unexpected notes %q", order.Notes)
	}
}

func TestCancelRejectsOtherUsersOrder(t *testing.T) {
	f := newOrderFixture(t, newMemoryOrders(pendingOrder(1, 7, "")))

	if _, err := f.service.Cancel(context.Background(), CancelOrderCommand{OrderID: 1, UserID: 8}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if f.orders.orders[1].Status != domain.OrderStatusPending {
		t.Fatalf("expected status untouched")
	}
}

func TestCancelRejectsNonPendingOrder(t *testing.T) {
	order := pendingOrder(1, 7, "")
	order.Status = domain.OrderStatusConfirmed
	f := newOrderFixture(t, newMemoryOrders(order))

	if _, err := f.service.Cancel(context.Background(), CancelOrderCommand{OrderID: 1, UserID: 7}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if f.orders.writes != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestCancelRejectsOrderShippedAfterLoad(t *testing.T) {
	orders := newMemoryOrders(pendingOrder(1, 7, "ring the bell"))
	orders.racedStatus = domain.OrderStatusShipped
	f := newOrderFixture(t, orders)

	if _, err := f.service.Cancel(context.Background(), CancelOrderCommand{OrderID: 1, UserID: 7}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	stored := f.orders.orders[1]
	if stored.Status != domain.OrderStatusShipped || stored.Notes != "ring the bell" {
		t.Fatalf("expected shipped order untouched, got %+v", stored)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("expected no events, got %+v", f.publisher.events)
	}
}

func TestUpdateStatusReportsConcurrentChange(t *testing.T) {
	orders := newMemoryOrders(pendingOrder(1, 7, ""))
	orders.racedStatus = domain.OrderStatusCancelled
	f := newOrderFixture(t, orders)

	_, err := f.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: 1, Status: domain.OrderStatusConfirmed, ActorID: 1})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
	if f.orders.orders[1].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected concurrent status kept, got %s", f.orders.orders[1].Status)
	}
}

func TestUpdateStatusIsUnconstrained(t *testing.T) {
	order := pendingOrder(1, 7, "keep")
	order.Status = domain.OrderStatusDelivered
	f := newOrderFixture(t, newMemoryOrders(order))

	updated, err := f.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: 1, Status: domain.OrderStatusPending, ActorID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.OrderStatusPending || f.orders.orders[1].Notes != "keep" {
		t.Fatalf("unexpected updated order %+v", f.orders.orders[1])
	}
	events := f.publisher.events
	if len(events) != 1 || events[0].PreviousStatus != "DELIVERED" || events[0].Nominal {
		t.Fatalf("expected non-nominal status change event, got %+v", events)
	}

	if _, err := f.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: 1, Status: "LOST"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status, got %v", err)
	}
	if _, err := f.service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: 2, Status: domain.OrderStatusShipped}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestDeleteOrderPublishesEvent(t *testing.T) {
	f := newOrderFixture(t, newMemoryOrders(pendingOrder(1, 7, "")))

	if err := f.service.DeleteOrder(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.orders.orders[1]; ok {
		t.Fatalf("expected order deleted")
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventDeleted {
		t.Fatalf("unexpected events %+v", f.publisher.events)
	}
	if err := f.service.DeleteOrder(context.Background(), 1); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrdersPassesFilter(t *testing.T) {
	f := newOrderFixture(t, newMemoryOrders(pendingOrder(1, 7, ""), pendingOrder(2, 8, ""), pendingOrder(3, 7, "")))
	userID := int64(7)

	page, err := f.service.ListOrders(context.Background(), repositories.OrderListFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != 3 {
		t.Fatalf("expected newest first for user 7, got %+v", page.Items)
	}

	_, err = f.service.ListOrders(context.Background(), repositories.OrderListFilter{Status: []domain.OrderStatus{"LOST"}})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestPublishFailureIsLogged(t *testing.T) {
	f := newOrderFixture(t, newMemoryOrders(pendingOrder(1, 7, "")))
	f.publisher.err = errBoom

	if _, err := f.service.Cancel(context.Background(), CancelOrderCommand{OrderID: 1, UserID: 7}); err != nil {
		t.Fatalf("publish failure must not fail the operation: %v", err)
	}
	if _, ok := f.logs.find("order.event.publish_failed"); !ok {
		t.Fatalf("expected publish failure to be logged")
	}
}
