package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

type stubRetentionService struct {
	cartsFn  func(context.Context) (int64, error)
	ordersFn func(context.Context) (int64, error)
}

func (s *stubRetentionService) PurgeAbandonedCarts(ctx context.Context) (int64, error) {
	if s.cartsFn != nil {
		return s.cartsFn(ctx)
	}
	return 0, nil
}

func (s *stubRetentionService) PurgeCancelledOrders(ctx context.Context) (int64, error) {
	if s.ordersFn != nil {
		return s.ordersFn(ctx)
	}
	return 0, nil
}

func (s *stubRetentionService) RunScheduledSweep(context.Context) {}

func newAdminRouter(svc services.RetentionService) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(nil, svc).Routes)
	return router
}

func TestAdminHandlersPurge(t *testing.T) {
	svc := &stubRetentionService{
		cartsFn:  func(context.Context) (int64, error) { return 4, nil },
		ordersFn: func(context.Context) (int64, error) { return 2, nil },
	}
	router := newAdminRouter(svc)

	cases := map[string]int64{
		"/admin/maintenance/purge-abandoned-carts":  4,
		"/admin/maintenance/purge-cancelled-orders": 2,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, path, "", 1, domain.RoleAdmin))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var resp purgeResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode response: %v", path, err)
		}
		if resp.Deleted != want {
			t.Fatalf("%s: expected %d deleted, got %d", path, want, resp.Deleted)
		}
	}
}

func TestAdminHandlersRequireAdmin(t *testing.T) {
	svc := &stubRetentionService{
		ordersFn: func(context.Context) (int64, error) {
			t.Fatalf("purge should not run")
			return 0, nil
		},
	}
	router := newAdminRouter(svc)

	for _, role := range []domain.Role{domain.RoleUser, domain.RoleSupervisor} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/maintenance/purge-cancelled-orders", "", 2, role))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", role, rec.Code)
		}
	}
}

func TestAdminHandlersPurgeErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: fmt.Errorf("%w: no cart repository", services.ErrRetentionUnavailable), status: http.StatusServiceUnavailable},
		{err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &stubRetentionService{
			cartsFn: func(context.Context) (int64, error) { return 0, tc.err },
		}
		rec := httptest.NewRecorder()
		newAdminRouter(svc).ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/maintenance/purge-abandoned-carts", "", 1, domain.RoleAdmin))
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}
