package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type stubTokenVerifier struct {
	claims   Claims
	err      error
	received string
	calls    int
}

func (s *stubTokenVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	s.calls++
	s.received = token
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func serve(handler http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{claims: Claims{
		"userId": float64(42),
		"role":   "ROLE_ADMIN",
		"email":  "admin@example.com",
		"sub":    "admin@example.com",
	}}
	authn := NewAuthenticator(verifier)

	handlerCalled := false
	handler := authn.RequireAuth(domain.RoleAdmin, domain.RoleSupervisor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UserID != 42 || identity.Role != domain.RoleAdmin {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if !identity.Privileged() || identity.Scope() != "user:42" {
			t.Fatalf("unexpected privilege or scope for %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := serve(handler, "Bearer token-value")

	if rr.Code != http.StatusNoContent || !handlerCalled {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute without a token")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer   "} {
		rr := serve(handler, header)
		if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "unauthenticated" {
			t.Fatalf("header %q: expected unauthenticated 401, got %d %s", header, rr.Code, rr.Body.String())
		}
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired})
	handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute on expired token")
	}))

	rr := serve(handler, "Bearer expired")

	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "token_expired" {
		t.Fatalf("expected token_expired 401, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequireAuth_RejectsInsufficientRole(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{claims: Claims{"userId": "7", "role": "user"}})
	handler := authn.RequireAuth(domain.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not execute for plain users")
	}))

	rr := serve(handler, "Bearer token")

	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "insufficient_role" {
		t.Fatalf("expected insufficient_role 403, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestRequireAuth_RejectsBadClaims(t *testing.T) {
	cases := map[string]Claims{
		"missing user id":  {"role": "USER"},
		"fractional id":    {"userId": 1.5, "role": "USER"},
		"negative id":      {"userId": float64(-1), "role": "USER"},
		"unknown role":     {"userId": float64(1), "role": "ROOT"},
		"no role fallback": {"userId": float64(1)},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{claims: claims})
			handler := authn.RequireAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler should not execute")
			}))
			rr := serve(handler, "Bearer token")
			if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "invalid_token" {
				t.Fatalf("expected invalid_token 401, got %d %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRequireAuth_FallbackRoleAndSubject(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{claims: Claims{"sub": "15"}}, WithFallbackRole(domain.RoleUser))
	handler := authn.RequireAuth(domain.RoleUser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if identity.UserID != 15 || identity.Role != domain.RoleUser {
			t.Fatalf("unexpected identity %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if rr := serve(handler, "Bearer token"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireAuth_ReusesIdentityFromOuterMiddleware(t *testing.T) {
	verifier := &stubTokenVerifier{claims: Claims{"userId": float64(3), "role": "SUPERVISOR"}}
	authn := NewAuthenticator(verifier)
	inner := authn.RequireAuth(domain.RoleSupervisor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler := authn.RequireAuth()(inner)

	if rr := serve(handler, "Bearer token"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.calls != 1 {
		t.Fatalf("expected token verified once, got %d", verifier.calls)
	}
}
