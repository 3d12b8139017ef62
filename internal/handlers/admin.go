package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// AdminHandlers exposes on-demand maintenance for administrators.
type AdminHandlers struct {
	authn     *auth.Authenticator
	retention services.RetentionService
}

// NewAdminHandlers constructs admin maintenance handlers.
func NewAdminHandlers(authn *auth.Authenticator, retention services.RetentionService) *AdminHandlers {
	return &AdminHandlers{authn: authn, retention: retention}
}

// Routes registers the /admin endpoints. Every route requires ADMIN.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(domain.RoleAdmin))
	} else {
		r.Use(requireRoles(domain.RoleAdmin))
	}
	r.Post("/maintenance/purge-cancelled-orders", h.purgeCancelledOrders)
	r.Post("/maintenance/purge-abandoned-carts", h.purgeAbandonedCarts)
}

type purgeResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *AdminHandlers) purgeCancelledOrders(w http.ResponseWriter, r *http.Request) {
	h.runPurge(w, r, func(ctx context.Context) (int64, error) {
		return h.retention.PurgeCancelledOrders(ctx)
	})
}

func (h *AdminHandlers) purgeAbandonedCarts(w http.ResponseWriter, r *http.Request) {
	h.runPurge(w, r, func(ctx context.Context) (int64, error) {
		return h.retention.PurgeAbandonedCarts(ctx)
	})
}

func (h *AdminHandlers) runPurge(w http.ResponseWriter, r *http.Request, purge func(context.Context) (int64, error)) {
	ctx := r.Context()
	if h.retention == nil {
		httpx.WriteError(ctx, w, httpx.NewError("retention_unavailable", "retention service unavailable", http.StatusServiceUnavailable))
		return
	}
	deleted, err := purge(ctx)
	if err != nil {
		if errors.Is(err, services.ErrRetentionUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("retention_unavailable", "retention service unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("retention_error", "purge failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, purgeResponse{Deleted: deleted})
}
