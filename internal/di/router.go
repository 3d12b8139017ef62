package di

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/observability"
)

// Handler assembles the HTTP surface over the container's services.
func (c *Container) Handler(logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := c.Config

	checkoutIdempotency := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithScope(identityScope),
	)

	cartHandlers := handlers.NewCartHandlers(c.Authenticator, c.Services.Cart,
		handlers.WithCartRateLimit(cfg.RateLimits.CartMutations, cfg.RateLimits.Window),
	)
	orderHandlers := handlers.NewOrderHandlers(c.Authenticator, c.Services.Orders,
		handlers.WithCheckoutIdempotency(checkoutIdempotency),
	)
	adminHandlers := handlers.NewAdminHandlers(c.Authenticator, c.Services.Retention)
	healthHandlers := handlers.NewHealthHandlers(handlers.WithHealthSystemService(c.Services.System))

	httpLogger := logger.Named("http")
	return handlers.NewRouter(
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithMiddlewares(
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(httpLogger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)
}

func identityScope(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Scope()
	}
	return "anonymous"
}
