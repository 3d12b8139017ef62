package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn    func(context.Context, int64) (services.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[services.Order], error)
	statusFn func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFn func(context.Context, services.CancelOrderCommand) (services.Order, error)
	deleteFn func(context.Context, int64) error
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID int64) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, orderID int64) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID)
	}
	return errors.New("not implemented")
}

func newOrderRouter(svc services.OrderService, opts ...OrderOption) chi.Router {
	handler := NewOrderHandlers(nil, svc, opts...)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func sampleOrder(id, userID int64) services.Order {
	placed := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	delivery := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          id,
		OrderNumber: "ORD-20240601-ABCDEF",
		UserID:      userID,
		Customer:    domain.CustomerSnapshot{Name: "Aki", Email: "aki@example.com", City: "Osaka"},
		Shipping:    &domain.ShippingSnapshot{Line1: "1-2-3 Namba", City: "Osaka", Zip: "542-0076"},
		Lines: []services.OrderLine{{
			ID:          1,
			OrderID:     id,
			ProductID:   3,
			ProductName: "Seal",
			Size:        "M",
			UnitPrice:   decimal.RequireFromString("10"),
			Quantity:    2,
			TotalPrice:  decimal.RequireFromString("20"),
		}},
		Subtotal:      decimal.RequireFromString("20"),
		Tax:           decimal.RequireFromString("1.6"),
		ShippingCost:  decimal.RequireFromString("5"),
		TotalAmount:   decimal.RequireFromString("26.6"),
		Status:        domain.OrderStatusPending,
		PaymentMethod: "CARD",
		DeliveryDate:  &delivery,
		OrderDate:     placed,
		CreatedAt:     placed,
		UpdatedAt:     placed,
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(77, cmd.UserID), nil
		},
	}

	body := `{"addressId":5,"items":[{"productId":3,"quantity":2,"size":"M","price":"10"}],"paymentMethod":"CARD","shippingCost":"5","totalAmount":"26.60","deliveryDate":"2024-06-10"}`
	rec := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodPost, "/orders", body, 9, domain.RoleUser))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/orders/77" {
		t.Fatalf("unexpected location %q", got)
	}
	if captured.UserID != 9 || captured.AddressID == nil || *captured.AddressID != 5 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != 3 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if !captured.TotalAmount.Equal(decimal.RequireFromString("26.6")) || captured.DeliveryDate != "2024-06-10" {
		t.Fatalf("unexpected totals %+v", captured)
	}

	var payload orderPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.TotalAmount != "26.60" || payload.Tax != "1.60" || payload.Status != "PENDING" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.ShippingAddress == nil || payload.ShippingAddress.City != "Osaka" {
		t.Fatalf("expected shipping snapshot, got %+v", payload.ShippingAddress)
	}
	if payload.DeliveryDate != "2024-06-10" || len(payload.Items) != 1 || payload.Items[0].TotalPrice != "20.00" {
		t.Fatalf("unexpected payload details %+v", payload)
	}
}

func TestOrderHandlersCreateOrderIdempotentReplay(t *testing.T) {
	calls := 0
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			calls++
			return sampleOrder(int64(calls), cmd.UserID), nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithScope(func(r *http.Request) string {
		identity, _ := auth.IdentityFromContext(r.Context())
		return identity.Scope()
	}))
	router := newOrderRouter(service, WithCheckoutIdempotency(mw))

	body := `{"items":[{"productId":3,"quantity":1}],"totalAmount":"10"}`
	var first string
	for i := 0; i < 2; i++ {
		req := authedRequest(http.MethodPost, "/orders", body, 9, domain.RoleUser)
		req.Header.Set("Idempotency-Key", "checkout-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d: %s", i, rec.Code, rec.Body.String())
		}
		if i == 0 {
			first = rec.Body.String()
		} else if rec.Body.String() != first {
			t.Fatalf("expected replayed body, got %s", rec.Body.String())
		}
	}
	if calls != 1 {
		t.Fatalf("expected single checkout, got %d", calls)
	}
}

func TestOrderHandlersCreateOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid", err: fmt.Errorf("%w: items required", services.ErrOrderInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing product", err: services.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found"},
		{name: "conflict", err: services.ErrOrderConflict, status: http.StatusConflict, code: "order_conflict"},
		{name: "unavailable", err: services.ErrOrderUnavailable, status: http.StatusServiceUnavailable, code: "order_service_unavailable"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			rec := httptest.NewRecorder()
			newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodPost, "/orders", `{"items":[]}`, 1, domain.RoleUser))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if code := decodeErrorCode(t, rec); code != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, code)
			}
		})
	}
}

func TestOrderHandlersListMyOrders(t *testing.T) {
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID == nil || *filter.UserID != 9 {
				t.Fatalf("expected user filter 9, got %+v", filter.UserID)
			}
			if filter.Pagination.PageSize != 5 {
				t.Fatalf("expected page size 5, got %d", filter.Pagination.PageSize)
			}
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder(1, 9)}, NextPageToken: "next"}, nil
		},
	}

	rec := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/orders/my?pageSize=5", "", 9, domain.RoleUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp orderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersListMyOrdersInvalidPageSize(t *testing.T) {
	rec := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rec, authedRequest(http.MethodGet, "/orders/my?pageSize=-1", "", 9, domain.RoleUser))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderHandlersListOrdersRequiresStaff(t *testing.T) {
	service := &stubOrderService{
		listFn: func(context.Context, repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
			t.Fatalf("list should not be called")
			return domain.CursorPage[services.Order]{}, nil
		},
	}
	rec := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/orders", "", 9, domain.RoleUser))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestOrderHandlersListOrdersFilters(t *testing.T) {
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
			if filter.UserID == nil || *filter.UserID != 4 {
				t.Fatalf("expected user filter 4, got %+v", filter.UserID)
			}
			want := []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusShipped, domain.OrderStatusCancelled}
			if len(filter.Status) != len(want) {
				t.Fatalf("unexpected statuses %v", filter.Status)
			}
			for i := range want {
				if filter.Status[i] != want[i] {
					t.Fatalf("unexpected statuses %v", filter.Status)
				}
			}
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	rec := httptest.NewRecorder()
	target := "/orders?userId=4&status=pending,SHIPPED&status=cancelled"
	newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, target, "", 1, domain.RoleSupervisor))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rec, authedRequest(http.MethodGet, "/orders?status=lost", "", 1, domain.RoleAdmin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderHandlersGetOrderOwnership(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID int64) (services.Order, error) {
			return sampleOrder(orderID, 9), nil
		},
	}
	router := newOrderRouter(service)

	cases := []struct {
		name   string
		userID int64
		role   domain.Role
		status int
	}{
		{name: "owner", userID: 9, role: domain.RoleUser, status: http.StatusOK},
		{name: "stranger", userID: 10, role: domain.RoleUser, status: http.StatusNotFound},
		{name: "admin", userID: 1, role: domain.RoleAdmin, status: http.StatusOK},
		{name: "supervisor", userID: 2, role: domain.RoleSupervisor, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, authedRequest(http.MethodGet, "/orders/3", "", tc.userID, tc.role))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.OrderID != 3 || cmd.UserID != 9 || cmd.Reason != "changed my mind" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			order := sampleOrder(3, 9)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	rec := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodPut, "/orders/3/cancel", `{"reason":"changed my mind"}`, 9, domain.RoleUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "" {
				t.Fatalf("expected empty reason, got %q", cmd.Reason)
			}
			return sampleOrder(3, 9), nil
		},
	}
	rec := httptest.NewRecorder()
	newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodPut, "/orders/3/cancel", "", 9, domain.RoleUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOrderHandlersCancelOrderErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: services.ErrOrderForbidden, status: http.StatusForbidden},
		{err: services.ErrOrderInvalidState, status: http.StatusConflict},
		{err: services.ErrOrderNotFound, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		service := &stubOrderService{
			cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
				return services.Order{}, tc.err
			},
		}
		rec := httptest.NewRecorder()
		newOrderRouter(service).ServeHTTP(rec, authedRequest(http.MethodPut, "/orders/3/cancel", "", 9, domain.RoleUser))
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	service := &stubOrderService{
		statusFn: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			if cmd.OrderID != 3 || cmd.Status != domain.OrderStatusShipped || cmd.ActorID != 1 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			order := sampleOrder(3, 9)
			order.Status = cmd.Status
			return order, nil
		},
	}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/orders/3/status", `{"status":"shipped"}`, 1, domain.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/orders/3/status", `{"status":"teleported"}`, 1, domain.RoleAdmin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/orders/3/status", `{"status":"shipped"}`, 9, domain.RoleUser))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rec.Code)
	}
}

func TestOrderHandlersDeleteOrder(t *testing.T) {
	deleted := int64(0)
	service := &stubOrderService{
		deleteFn: func(ctx context.Context, orderID int64) error {
			deleted = orderID
			return nil
		},
	}
	router := newOrderRouter(service)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/orders/3", "", 2, domain.RoleSupervisor))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for supervisor, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/orders/3", "", 1, domain.RoleAdmin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if deleted != 3 {
		t.Fatalf("expected order 3 deleted, got %d", deleted)
	}
}

func TestOrderHandlersServiceUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	newOrderRouter(nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/orders/my", "", 9, domain.RoleUser))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
