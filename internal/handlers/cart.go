package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxCartBodySize      = 16 * 1024
	maxBatchCartBodySize = 64 * 1024
)

// CartHandlers exposes the authenticated /cart endpoints.
type CartHandlers struct {
	authn   *auth.Authenticator
	carts   services.CartService
	limiter rateLimiter
}

// CartOption customises cart handlers.
type CartOption func(*CartHandlers)

// WithCartRateLimit throttles mutating cart requests to limit per window for each user.
// A non-positive limit or window disables throttling.
func WithCartRateLimit(limit int, window time.Duration) CartOption {
	return withCartLimiter(newFixedWindowLimiter(limit, window, nil))
}

func withCartLimiter(limiter rateLimiter) CartOption {
	return func(h *CartHandlers) {
		h.limiter = limiter
	}
}

// NewCartHandlers constructs cart handlers. All cart routes accept every role.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{authn: authn, carts: carts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleUser, domain.RoleAdmin, domain.RoleSupervisor))
	}
	r.Get("/", h.listLines)
	r.Group(func(mut chi.Router) {
		mut.Use(rateLimitByIdentity(h.limiter))
		mut.Post("/add", h.addLine)
		mut.Post("/batch", h.batch)
		mut.Delete("/clear", h.clear)
		mut.Put("/{lineID}", h.updateQuantity)
		mut.Delete("/{lineID}", h.removeLine)
	})
}

type addCartLineRequest struct {
	ProductID int64            `json:"productId"`
	Quantity  int              `json:"quantity"`
	Size      string           `json:"size"`
	Price     *decimal.Decimal `json:"price"`
}

type updateCartLineRequest struct {
	Quantity int `json:"quantity"`
}

type batchCartRequest struct {
	Operations []batchCartOperation `json:"operations"`
}

type batchCartOperation struct {
	Action    string           `json:"action"`
	ProductID int64            `json:"productId"`
	Quantity  int              `json:"quantity"`
	Size      string           `json:"size"`
	Price     *decimal.Decimal `json:"price"`
}

type cartLinePayload struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId"`
	ProductID int64  `json:"productId"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type cartLinesResponse struct {
	Items []cartLinePayload `json:"items"`
}

func (h *CartHandlers) listLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}

	lines, err := h.carts.ListLines(ctx, identity.UserID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartLinesResponse{Items: buildCartLines(lines)})
}

func (h *CartHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}

	var req addCartLineRequest
	if !decodeBody(w, r, maxCartBodySize, false, &req) {
		return
	}

	line, err := h.carts.AddLine(ctx, services.AddCartLineCommand{
		UserID:    identity.UserID,
		ProductID: req.ProductID,
		Size:      req.Size,
		Price:     req.Price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartLine(line))
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}

	var req updateCartLineRequest
	if !decodeBody(w, r, maxCartBodySize, false, &req) {
		return
	}
	if !h.ownsLine(ctx, w, identity, lineID) {
		return
	}

	line, err := h.carts.UpdateQuantity(ctx, lineID, req.Quantity)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartLine(line))
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	if !h.ownsLine(ctx, w, identity, lineID) {
		return
	}

	if err := h.carts.RemoveLine(ctx, lineID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, identity.UserID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) batch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.ready(ctx, w)
	if !ok {
		return
	}

	var req batchCartRequest
	if !decodeBody(w, r, maxBatchCartBodySize, false, &req) {
		return
	}

	ops := make([]domain.CartOperation, 0, len(req.Operations))
	for i, op := range req.Operations {
		action := domain.CartAction(strings.ToLower(strings.TrimSpace(op.Action)))
		switch action {
		case domain.CartActionAdd, domain.CartActionUpdate, domain.CartActionRemove:
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("operations[%d]: unknown action %q", i, op.Action), http.StatusBadRequest))
			return
		}
		ops = append(ops, domain.CartOperation{
			Action:    action,
			ProductID: op.ProductID,
			Quantity:  op.Quantity,
			Size:      op.Size,
			Price:     op.Price,
		})
	}

	lines, err := h.carts.BatchApply(ctx, services.BatchCartCommand{UserID: identity.UserID, Operations: ops})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartLinesResponse{Items: buildCartLines(lines)})
}

func (h *CartHandlers) ready(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

// ownsLine hides lines of other users behind a 404 before any mutation by id.
func (h *CartHandlers) ownsLine(ctx context.Context, w http.ResponseWriter, identity *auth.Identity, lineID int64) bool {
	line, err := h.carts.GetLine(ctx, lineID)
	if err != nil {
		writeCartError(ctx, w, err)
		return false
	}
	if line.UserID != identity.UserID {
		writeCartError(ctx, w, services.ErrCartNotFound)
		return false
	}
	return true
}

func buildCartLines(lines []services.CartLine) []cartLinePayload {
	items := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		items = append(items, buildCartLine(line))
	}
	return items
}

func buildCartLine(line services.CartLine) cartLinePayload {
	return cartLinePayload{
		ID:        line.ID,
		UserID:    line.UserID,
		ProductID: line.ProductID,
		Size:      line.Size,
		Price:     line.Price.StringFixed(2),
		Quantity:  line.Quantity,
		CreatedAt: formatTime(line.CreatedAt),
		UpdatedAt: formatTime(line.UpdatedAt),
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line or product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart request failed", http.StatusInternalServerError))
	}
}
