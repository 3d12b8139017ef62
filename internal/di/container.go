package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/cache"
	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/jobs"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
	firestoreRepo "github.com/hanko-field/commerce/internal/repositories/firestore"
	"github.com/hanko-field/commerce/internal/repositories/sqlstore"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	databaseCheckTimeout  = 2 * time.Second
	redisCheckTimeout     = time.Second
	firestoreCheckTimeout = 1500 * time.Millisecond
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart      services.CartService
	Orders    services.OrderService
	Retention services.RetentionService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store
	Scheduler     *services.RetentionScheduler

	closers []func(context.Context) error
}

// Option customises container construction, mainly for tests.
type Option func(*options)

type options struct {
	db       *gorm.DB
	verifier auth.TokenVerifier
	events   services.OrderEventPublisher
	redis    redis.UniversalClient
	build    services.BuildInfo
	clock    func() time.Time
}

// WithDatabase reuses an open gorm handle instead of dialling cfg.Database.
func WithDatabase(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithTokenVerifier replaces the verifier selected by cfg.Auth.Provider.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithOrderEventPublisher replaces the Pub/Sub publisher.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.events = publisher }
}

// WithRedisClient reuses a Redis client instead of dialling cfg.Redis.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithBuildInfo sets the metadata reported by the system service.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. On failure everything opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	var registryOpts []sqlstore.Option
	var firestoreProvider *pfirestore.Provider
	switch cfg.Directory.Backend {
	case "", config.DirectorySQL:
	case config.DirectoryFirestore:
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, firestoreProvider.Close)
		users, err := firestoreRepo.NewUserRepository(firestoreProvider)
		if err != nil {
			return nil, err
		}
		addresses, err := firestoreRepo.NewAddressRepository(firestoreProvider)
		if err != nil {
			return nil, err
		}
		products, err := firestoreRepo.NewProductRepository(firestoreProvider)
		if err != nil {
			return nil, err
		}
		registryOpts = append(registryOpts,
			sqlstore.WithUsers(users),
			sqlstore.WithAddresses(addresses),
			sqlstore.WithProducts(products),
		)
	default:
		return nil, fmt.Errorf("di: unsupported directory backend %q", cfg.Directory.Backend)
	}

	db := o.db
	if db == nil {
		db, err = sqldb.Open(ctx, cfg.Database, logger.Named("sql"))
		if err != nil {
			return nil, err
		}
	}
	if cfg.Database.AutoMigrate {
		if err := sqlstore.Migrate(ctx, db); err != nil {
			_ = sqldb.Close(db)
			return nil, err
		}
	}

	registry, err := sqlstore.NewRegistry(db, registryOpts...)
	if err != nil {
		_ = sqldb.Close(db)
		return nil, err
	}
	c.Repositories = registry
	c.closers = append(c.closers, registry.Close)

	redisClient := o.redis
	if redisClient == nil && strings.TrimSpace(cfg.Redis.Addr) != "" {
		client := cache.NewRedisClient(cfg.Redis)
		redisClient = client
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	}

	var cartCache services.CartCache
	if redisClient != nil {
		cartCache = cache.NewCartCache(redisClient, cfg.Redis.CartCacheTTL)
		c.Idempotency = idempotency.NewRedisStore(redisClient)
	} else {
		logger.Info("redis not configured; cart cache disabled and idempotency keys kept in memory")
		c.Idempotency = idempotency.NewMemoryStore()
	}

	events := o.events
	if events == nil && strings.TrimSpace(cfg.PubSub.OrderEventsTopic) != "" {
		publisher, closeFn, err := newPubSubPublisher(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		events = publisher
		c.closers = append(c.closers, closeFn)
	}

	verifier := o.verifier
	if verifier == nil {
		verifier, err = newTokenVerifier(ctx, cfg.Auth)
		if err != nil {
			return nil, err
		}
	}
	c.Authenticator = auth.NewAuthenticator(verifier,
		auth.WithUserIDClaim(cfg.Auth.UserIDClaim),
		auth.WithRoleClaim(cfg.Auth.RoleClaim),
	)

	svc, err := buildServices(registry, cfg, o, cartCache, events, logger)
	if err != nil {
		return nil, err
	}

	system, err := buildSystemService(registry, redisClient, firestoreProvider, o, logger)
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system
	c.Services = svc

	if cfg.Retention.Enabled {
		hour, minute, err := cfg.Retention.RunAtClock()
		if err != nil {
			return nil, err
		}
		scheduler, err := services.NewRetentionScheduler(svc.Retention, hour, minute, cfg.Retention.Timeout,
			services.WithSchedulerLogger(observability.EventLogger(logger.Named("retention"))),
		)
		if err != nil {
			return nil, fmt.Errorf("build retention scheduler: %w", err)
		}
		c.Scheduler = scheduler
	}

	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildServices(reg repositories.Registry, cfg config.Config, o options, cartCache services.CartCache, events services.OrderEventPublisher, logger *zap.Logger) (Services, error) {
	var svc Services

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Lines:      reg.CartLines(),
		Products:   reg.Products(),
		UnitOfWork: reg,
		Cache:      cartCache,
		Clock:      o.clock,
		Logger:     observability.EventLogger(logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	taxRate, tolerance := cfg.Checkout.TaxRate, cfg.Checkout.TotalTolerance
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Users:          reg.Users(),
		Addresses:      reg.Addresses(),
		Products:       reg.Products(),
		UnitOfWork:     reg,
		Events:         events,
		Clock:          o.clock,
		TaxRate:        &taxRate,
		TotalTolerance: &tolerance,
		Logger:         observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	retentionSvc, err := services.NewRetentionService(services.RetentionServiceDeps{
		Lines:                reg.CartLines(),
		Orders:               reg.Orders(),
		Cache:                cartCache,
		Clock:                o.clock,
		CartMaxAge:           cfg.Retention.CartMaxAge,
		CancelledOrderMaxAge: cfg.Retention.CancelledOrderMaxAge,
		Logger:               observability.EventLogger(logger.Named("retention")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build retention service: %w", err)
	}
	svc.Retention = retentionSvc

	return svc, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func buildSystemService(reg repositories.Registry, redisClient redis.UniversalClient, provider *pfirestore.Provider, o options, logger *zap.Logger) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if p, ok := reg.(pinger); ok {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "database",
			Critical: true,
			Timeout:  databaseCheckTimeout,
			Check:    p.Ping,
		})
	}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: redisCheckTimeout,
			Check: func(ctx context.Context) error {
				return cache.Ping(ctx, redisClient)
			},
		})
	}
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: firestoreCheckTimeout,
			Check:   provider.Ping,
		})
	}

	repo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            o.clock,
		Build:            o.build,
		Logger:           observability.EventLogger(logger.Named("system")),
	})
}

func newTokenVerifier(ctx context.Context, cfg config.AuthConfig) (auth.TokenVerifier, error) {
	switch cfg.Provider {
	case "", config.AuthProviderJWT:
		return auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	case config.AuthProviderFirebase:
		return auth.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, nil)
	default:
		return nil, fmt.Errorf("di: unsupported auth provider %q", cfg.Provider)
	}
}

func newPubSubPublisher(ctx context.Context, cfg config.PubSubConfig) (services.OrderEventPublisher, func(context.Context) error, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("di: create pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.OrderEventsTopic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func(context.Context) error {
		publisher.Stop()
		return client.Close()
	}
	return publisher, closeFn, nil
}
