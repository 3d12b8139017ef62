package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxCheckoutBodySize    = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
	maxOrderStatusBodySize = 1024
)

// OrderHandlers exposes checkout and order lifecycle endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderOption customises order handlers.
type OrderOption func(*OrderHandlers)

// WithCheckoutIdempotency guards POST /orders with the given middleware. It runs after authentication.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleUser, domain.RoleAdmin, domain.RoleSupervisor))
	}

	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}

	r.Get("/my", h.listMyOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/cancel", h.cancelOrder)

	r.Group(func(staff chi.Router) {
		staff.Use(requireRoles(domain.RoleAdmin, domain.RoleSupervisor))
		staff.Get("/", h.listOrders)
		staff.Put("/{orderID}/status", h.updateStatus)
	})
	r.Group(func(admin chi.Router) {
		admin.Use(requireRoles(domain.RoleAdmin))
		admin.Delete("/{orderID}", h.deleteOrder)
	})
}

type checkoutItemRequest struct {
	ProductID int64            `json:"productId"`
	Quantity  int              `json:"quantity"`
	Size      string           `json:"size"`
	Price     *decimal.Decimal `json:"price"`
}

type checkoutRequest struct {
	AddressID     *int64                `json:"addressId"`
	Items         []checkoutItemRequest `json:"items"`
	PaymentMethod string                `json:"paymentMethod"`
	Notes         string                `json:"notes"`
	ShippingCost  decimal.Decimal       `json:"shippingCost"`
	TotalAmount   decimal.Decimal       `json:"totalAmount"`
	DeliveryDate  string                `json:"deliveryDate"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type orderShippingPayload struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state,omitempty"`
	Zip   string `json:"zip,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderLinePayload struct {
	ID                 int64  `json:"id"`
	ProductID          int64  `json:"productId"`
	ProductName        string `json:"productName"`
	ProductDescription string `json:"productDescription,omitempty"`
	ProductImageURL    string `json:"productImageUrl,omitempty"`
	ProductCategory    string `json:"productCategory,omitempty"`
	Size               string `json:"size,omitempty"`
	UnitPrice          string `json:"unitPrice"`
	Quantity           int    `json:"quantity"`
	TotalPrice         string `json:"totalPrice"`
}

type orderPayload struct {
	ID              int64                 `json:"id"`
	OrderNumber     string                `json:"orderNumber"`
	UserID          int64                 `json:"userId"`
	UserName        string                `json:"userName"`
	UserEmail       string                `json:"userEmail"`
	UserPhone       string                `json:"userPhone,omitempty"`
	UserCity        string                `json:"userCity,omitempty"`
	ShippingAddress *orderShippingPayload `json:"shippingAddress,omitempty"`
	Items           []orderLinePayload    `json:"items"`
	Subtotal        string                `json:"subtotal"`
	Tax             string                `json:"tax"`
	ShippingCost    string                `json:"shippingCost"`
	TotalAmount     string                `json:"totalAmount"`
	Status          string                `json:"status"`
	PaymentMethod   string                `json:"paymentMethod,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	DeliveryDate    string                `json:"deliveryDate,omitempty"`
	OrderDate       string                `json:"orderDate"`
	CreatedAt       string                `json:"createdAt"`
	UpdatedAt       string                `json:"updatedAt"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeBody(w, r, maxCheckoutBodySize, false, &req) {
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Price:     item.Price,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:        identity.UserID,
		AddressID:     req.AddressID,
		Items:         items,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
		ShippingCost:  req.ShippingCost,
		TotalAmount:   req.TotalAmount,
		DeliveryDate:  req.DeliveryDate,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/orders/"+strconv.FormatInt(order.ID, 10))
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	params, ok := parseOrderPagination(w, r)
	if !ok {
		return
	}
	userID := identity.UserID
	h.writeOrderPage(ctx, w, repositories.OrderListFilter{UserID: &userID, Pagination: params})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.ready(ctx, w); !ok {
		return
	}
	params, ok := parseOrderPagination(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := repositories.OrderListFilter{Pagination: params}
	if raw := strings.TrimSpace(query.Get("userId")); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "userId must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.UserID = &userID
	}
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := domain.ParseOrderStatus(part)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}
	h.writeOrderPage(ctx, w, filter)
}

func (h *OrderHandlers) writeOrderPage(ctx context.Context, w http.ResponseWriter, filter repositories.OrderListFilter) {
	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	resp := orderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.UserID != identity.UserID && !identity.Privileged() {
		writeOrderError(ctx, w, services.ErrOrderNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeBody(w, r, maxOrderCancelBodySize, true, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  identity.UserID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}

	var req updateOrderStatusRequest
	if !decodeBody(w, r, maxOrderStatusBodySize, false, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  status,
		ActorID: identity.UserID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.ready(ctx, w); !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	if err := h.orders.DeleteOrder(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) ready(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

// requireRoles checks the identity placed on the context by the authenticator.
func requireRoles(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := requireIdentity(r.Context(), w)
			if !ok {
				return
			}
			if !identity.HasRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseOrderPagination(w http.ResponseWriter, r *http.Request) (domain.Pagination, bool) {
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return domain.Pagination{}, false
	}
	return domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		UserName:      order.Customer.Name,
		UserEmail:     order.Customer.Email,
		UserPhone:     order.Customer.Phone,
		UserCity:      order.Customer.City,
		Items:         make([]orderLinePayload, 0, len(order.Lines)),
		Subtotal:      order.Subtotal.StringFixed(2),
		Tax:           order.Tax.StringFixed(2),
		ShippingCost:  order.ShippingCost.StringFixed(2),
		TotalAmount:   order.TotalAmount.StringFixed(2),
		Status:        string(order.Status),
		PaymentMethod: order.PaymentMethod,
		Notes:         order.Notes,
		OrderDate:     formatTime(order.OrderDate),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	if order.Shipping != nil {
		payload.ShippingAddress = &orderShippingPayload{
			Line1: order.Shipping.Line1,
			Line2: order.Shipping.Line2,
			City:  order.Shipping.City,
			State: order.Shipping.State,
			Zip:   order.Shipping.Zip,
			Phone: order.Shipping.Phone,
		}
	}
	if order.DeliveryDate != nil {
		payload.DeliveryDate = order.DeliveryDate.UTC().Format("2006-01-02")
	}
	for _, line := range order.Lines {
		payload.Items = append(payload.Items, orderLinePayload{
			ID:                 line.ID,
			ProductID:          line.ProductID,
			ProductName:        line.ProductName,
			ProductDescription: line.ProductDescription,
			ProductImageURL:    line.ProductImageURL,
			ProductCategory:    line.ProductCategory,
			Size:               line.Size,
			UnitPrice:          line.UnitPrice.StringFixed(2),
			Quantity:           line.Quantity,
			TotalPrice:         line.TotalPrice.StringFixed(2),
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order request failed", http.StatusInternalServerError))
	}
}
