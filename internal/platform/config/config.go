package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultBasePath           = "/api/v1"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultDatabaseDriver     = "postgres"
	defaultMaxOpenConns       = 20
	defaultMaxIdleConns       = 5
	defaultConnMaxLifetime    = 30 * time.Minute
	defaultDirectoryBackend   = "sql"
	defaultCartCacheTTL       = 15 * time.Minute
	defaultAuthProvider       = "jwt"
	defaultUserIDClaim        = "userId"
	defaultRoleClaim          = "role"
	defaultTaxRate            = "0.08"
	defaultTotalTolerance     = "0.01"
	defaultCartMaxAge         = 30 * 24 * time.Hour
	defaultCancelledOrderAge  = 48 * time.Hour
	defaultRetentionRunAt     = "02:00"
	defaultRetentionTimeout   = 5 * time.Minute
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultCartRateLimit      = 120
	defaultCartRateLimitEvery = time.Minute
)

const (
	DirectorySQL       = "sql"
	DirectoryFirestore = "firestore"

	AuthProviderJWT      = "jwt"
	AuthProviderFirebase = "firebase"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Directory   DirectoryConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Auth        AuthConfig
	Checkout    CheckoutConfig
	Retention   RetentionConfig
	Idempotency IdempotencyConfig
	RateLimits  RateLimitConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects the relational store holding carts and orders.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DirectoryConfig selects where users, addresses and products are read from.
type DirectoryConfig struct {
	Backend string
}

// FirestoreConfig stores Firestore connection parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig configures the cart cache and idempotency store. An empty Addr disables Redis.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	CartCacheTTL time.Duration
}

// PubSubConfig configures order event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Provider          string
	JWTSecret         string
	JWTIssuer         string
	UserIDClaim       string
	RoleClaim         string
	FirebaseProjectID string
}

// CheckoutConfig holds the monetary rules applied during order assembly.
type CheckoutConfig struct {
	TaxRate        decimal.Decimal
	TotalTolerance decimal.Decimal
}

// RetentionConfig controls the background purge of abandoned carts and cancelled orders.
type RetentionConfig struct {
	Enabled              bool
	CartMaxAge           time.Duration
	CancelledOrderMaxAge time.Duration
	RunAt                string
	Timeout              time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// RateLimitConfig controls per-user throttling of cart mutations.
type RateLimitConfig struct {
	CartMutations int
	Window        time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns the raw value for key using the same precedence as Load. It lets callers read
// bootstrap values (such as the Secret Manager project) before the full configuration is loaded.
func Lookup(key string, opts ...Option) (string, bool, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", false, err
	}
	value, ok := lookup(key)
	return value, ok, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	var invalid []string
	decimalField := func(key, fallback string) decimal.Decimal {
		raw := stringWithDefault(lookup, key, fallback)
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			invalid = append(invalid, key)
			return decimal.RequireFromString(fallback)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			BasePath:     stringWithDefault(lookup, "API_SERVER_BASE_PATH", defaultBasePath),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			AutoMigrate:     boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
		},
		Directory: DirectoryConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_DIRECTORY_BACKEND", defaultDirectoryBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:         stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password:     stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:           intWithDefault(lookup, "API_REDIS_DB", 0),
			CartCacheTTL: durationWithDefault(lookup, "API_REDIS_CART_CACHE_TTL", defaultCartCacheTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Auth: AuthConfig{
			Provider:          strings.ToLower(stringWithDefault(lookup, "API_AUTH_PROVIDER", defaultAuthProvider)),
			JWTSecret:         stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
			JWTIssuer:         stringWithDefault(lookup, "API_AUTH_JWT_ISSUER", ""),
			UserIDClaim:       stringWithDefault(lookup, "API_AUTH_USER_ID_CLAIM", defaultUserIDClaim),
			RoleClaim:         stringWithDefault(lookup, "API_AUTH_ROLE_CLAIM", defaultRoleClaim),
			FirebaseProjectID: stringWithDefault(lookup, "API_AUTH_FIREBASE_PROJECT_ID", ""),
		},
		Checkout: CheckoutConfig{
			TaxRate:        decimalField("API_CHECKOUT_TAX_RATE", defaultTaxRate),
			TotalTolerance: decimalField("API_CHECKOUT_TOTAL_TOLERANCE", defaultTotalTolerance),
		},
		Retention: RetentionConfig{
			Enabled:              boolWithDefault(lookup, "API_RETENTION_ENABLED", true),
			CartMaxAge:           durationWithDefault(lookup, "API_RETENTION_CART_MAX_AGE", defaultCartMaxAge),
			CancelledOrderMaxAge: durationWithDefault(lookup, "API_RETENTION_CANCELLED_ORDER_MAX_AGE", defaultCancelledOrderAge),
			RunAt:                stringWithDefault(lookup, "API_RETENTION_RUN_AT", defaultRetentionRunAt),
			Timeout:              durationWithDefault(lookup, "API_RETENTION_TIMEOUT", defaultRetentionTimeout),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		RateLimits: RateLimitConfig{
			CartMutations: intWithDefault(lookup, "API_RATELIMIT_CART_MUTATIONS", defaultCartRateLimit),
			Window:        durationWithDefault(lookup, "API_RATELIMIT_WINDOW", defaultCartRateLimitEvery),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Auth.FirebaseProjectID == "" {
		cfg.Auth.FirebaseProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Database.DSN,
		&cfg.Redis.Password,
		&cfg.Auth.JWTSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RunAtClock parses RetentionConfig.RunAt into hour and minute.
func (c RetentionConfig) RunAtClock() (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(c.RunAt))
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid retention run time %q: %w", c.RunAt, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		missing = append(missing, "Database.Driver")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	switch cfg.Directory.Backend {
	case DirectorySQL:
	case DirectoryFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Directory.Backend")
	}
	switch cfg.Auth.Provider {
	case AuthProviderJWT:
		if cfg.Auth.JWTSecret == "" {
			missing = append(missing, "Auth.JWTSecret")
		}
	case AuthProviderFirebase:
		if cfg.Auth.FirebaseProjectID == "" {
			missing = append(missing, "Auth.FirebaseProjectID")
		}
	default:
		missing = append(missing, "Auth.Provider")
	}
	if !cfg.Checkout.TaxRate.IsPositive() && !cfg.Checkout.TaxRate.IsZero() {
		missing = append(missing, "Checkout.TaxRate")
	}
	if cfg.Checkout.TotalTolerance.IsNegative() {
		missing = append(missing, "Checkout.TotalTolerance")
	}
	if cfg.Retention.CartMaxAge <= 0 {
		missing = append(missing, "Retention.CartMaxAge")
	}
	if cfg.Retention.CancelledOrderMaxAge <= 0 {
		missing = append(missing, "Retention.CancelledOrderMaxAge")
	}
	if _, _, err := cfg.Retention.RunAtClock(); err != nil {
		missing = append(missing, "Retention.RunAt")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
	}
	return fallback
}
