package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

const (
	defaultUserIDClaim   = "userId"
	defaultRoleClaim     = "role"
	defaultEmailClaim    = "email"
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the verified claim set of a bearer token.
type Claims map[string]any

// TokenVerifier verifies a raw bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Authenticator turns verified bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier TokenVerifier

	userIDClaim string
	roleClaim   string
	emailClaim  string

	fallbackRole domain.Role
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithUserIDClaim overrides the claim carrying the numeric user id. The subject is used when it is absent.
func WithUserIDClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.userIDClaim = claim
		}
	}
}

// WithRoleClaim overrides the claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithEmailClaim overrides the claim used to populate Identity.Email.
func WithEmailClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.emailClaim = claim
		}
	}
}

// WithFallbackRole sets the role assumed when the token carries none.
func WithFallbackRole(role domain.Role) Option {
	return func(a *Authenticator) {
		a.fallbackRole = role
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:    verifier,
		userIDClaim: defaultUserIDClaim,
		roleClaim:   defaultRoleClaim,
		emailClaim:  defaultEmailClaim,
		timeout:     defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are given, ensures the identity holds one.
func (a *Authenticator) RequireAuth(allowedRoles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := IdentityFromContext(ctx)
			if !ok {
				var err error
				identity, err = a.authenticate(r)
				if err != nil {
					requestctx.Logger(ctx).Debug("authentication failed", zap.Error(err))
					respondVerificationError(ctx, w, err)
					return
				}
				ctx = WithIdentity(ctx, identity)
			}

			if len(allowedRoles) > 0 && !identity.HasRole(allowedRoles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errMissingBearer = errors.New("auth: authorization header missing or invalid")

func (a *Authenticator) authenticate(r *http.Request) (*Identity, error) {
	tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, errMissingBearer
	}
	if a == nil || a.verifier == nil {
		return nil, errors.New("auth: verifier unavailable")
	}

	ctx, cancel := a.contextWithTimeout(r.Context())
	if cancel != nil {
		defer cancel()
	}

	claims, err := a.verifier.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	return a.identityFromClaims(claims)
}

func (a *Authenticator) identityFromClaims(claims Claims) (*Identity, error) {
	subject := claimAsString(claims, "sub")
	raw, ok := claims[a.userIDClaim]
	if !ok {
		raw = subject
	}
	userID, err := claimAsInt64(raw)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: %s claim must be a positive integer", ErrTokenInvalid, a.userIDClaim)
	}

	role := a.fallbackRole
	if rawRole := claimAsString(claims, a.roleClaim); rawRole != "" {
		parsed, err := domain.ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		role = parsed
	}
	if role == "" {
		return nil, fmt.Errorf("%w: no role associated with identity", ErrTokenInvalid)
	}

	return &Identity{
		UserID:  userID,
		Role:    role,
		Email:   claimAsString(claims, a.emailClaim),
		Subject: subject,
	}, nil
}

func (a *Authenticator) contextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

func claimAsString(claims Claims, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		// first entry of a role list
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func claimAsInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.New("not an integer")
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported claim type %T", raw)
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMissingBearer):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
	case errors.Is(err, ErrTokenExpired):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "bearer token expired", http.StatusUnauthorized))
	case errors.Is(err, ErrTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "bearer token invalid", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "bearer token verification failed", http.StatusUnauthorized))
	}
}
