package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultLogLevel            = "info"
	defaultBackendTimeout      = 10 * time.Second
	defaultBreakerMaxRequests  = 1
	defaultBreakerInterval     = time.Minute
	defaultBreakerOpenTimeout  = 30 * time.Second
	defaultBreakerFailures     = 5
	defaultDeliveryFee         = "60.00"
	defaultSessionIdleTTL      = 30 * time.Minute
	defaultCartDriver          = CartDriverMemory
	defaultCartTTL             = 72 * time.Hour
	defaultSessionCookieName   = "storefront_session"
	defaultSessionLifetime     = 12 * time.Hour
	defaultSessionIdleTimeout  = 2 * time.Hour
	minimumSessionHashKeyBytes = 32
)

// Supported cart store drivers.
const (
	CartDriverMemory = "memory"
	CartDriverRedis  = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	LogLevel  string
	Server    ServerConfig
	Backend   BackendConfig
	Breaker   BreakerConfig
	Checkout  CheckoutConfig
	CartStore CartStoreConfig
	Session   SessionConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// BackendConfig points at the storefront backend exposing the product and order endpoints.
// An empty BaseURL switches the client to the in-process fake.
type BackendConfig struct {
	BaseURL     string
	Timeout     time.Duration
	StaticToken string
}

// BreakerConfig tunes the circuit breakers guarding backend calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

// CheckoutConfig holds checkout pricing and lookup settings.
type CheckoutConfig struct {
	DeliveryFee          decimal.Decimal
	CityTablePath        string
	StockRefreshInterval time.Duration
	SessionIdleTTL       time.Duration
}

// CartStoreConfig selects and configures the cart backing store.
type CartStoreConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// SessionConfig controls the shopper session cookie.
type SessionConfig struct {
	CookieName   string
	HashKey      string
	BlockKey     string
	CookieSecure bool
	Lifetime     time.Duration
	IdleTimeout  time.Duration
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

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// explicit overrides, in increasing order of precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	deliveryFee, ok := decimalWithDefault(lookup, "STOREFRONT_CHECKOUT_DELIVERY_FEE", defaultDeliveryFee)
	if !ok {
		invalid = append(invalid, "Checkout.DeliveryFee")
	}

	cfg := Config{
		LogLevel: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Backend: BackendConfig{
			BaseURL:     strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BACKEND_BASE_URL", ""), "/"),
			Timeout:     durationWithDefault(lookup, "STOREFRONT_BACKEND_TIMEOUT", defaultBackendTimeout),
			StaticToken: stringWithDefault(lookup, "STOREFRONT_BACKEND_STATIC_TOKEN", ""),
		},
		Breaker: BreakerConfig{
			MaxRequests:      uint32(intWithDefault(lookup, "STOREFRONT_BREAKER_MAX_REQUESTS", defaultBreakerMaxRequests)),
			Interval:         durationWithDefault(lookup, "STOREFRONT_BREAKER_INTERVAL", defaultBreakerInterval),
			OpenTimeout:      durationWithDefault(lookup, "STOREFRONT_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
			FailureThreshold: uint32(intWithDefault(lookup, "STOREFRONT_BREAKER_FAILURE_THRESHOLD", defaultBreakerFailures)),
		},
		Checkout: CheckoutConfig{
			DeliveryFee:          deliveryFee,
			CityTablePath:        stringWithDefault(lookup, "STOREFRONT_CITY_TABLE_PATH", ""),
			StockRefreshInterval: durationWithDefault(lookup, "STOREFRONT_CHECKOUT_STOCK_REFRESH_INTERVAL", 0),
			SessionIdleTTL:       durationWithDefault(lookup, "STOREFRONT_CHECKOUT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
		},
		CartStore: CartStoreConfig{
			Driver:        strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CART_DRIVER", defaultCartDriver)),
			RedisAddr:     stringWithDefault(lookup, "STOREFRONT_CART_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "STOREFRONT_CART_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "STOREFRONT_CART_REDIS_DB", 0),
			TTL:           durationWithDefault(lookup, "STOREFRONT_CART_TTL", defaultCartTTL),
		},
		Session: SessionConfig{
			CookieName:   stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE_NAME", defaultSessionCookieName),
			HashKey:      stringWithDefault(lookup, "STOREFRONT_SESSION_HASH_KEY", ""),
			BlockKey:     stringWithDefault(lookup, "STOREFRONT_SESSION_BLOCK_KEY", ""),
			CookieSecure: boolWithDefault(lookup, "STOREFRONT_SESSION_COOKIE_SECURE", false),
			Lifetime:     durationWithDefault(lookup, "STOREFRONT_SESSION_LIFETIME", defaultSessionLifetime),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SESSION_IDLE_TIMEOUT", defaultSessionIdleTimeout),
		},
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Backend.Timeout <= 0 {
		missing = append(missing, "Backend.Timeout")
	}
	if cfg.Breaker.FailureThreshold == 0 {
		missing = append(missing, "Breaker.FailureThreshold")
	}
	if cfg.Checkout.DeliveryFee.IsNegative() {
		missing = append(missing, "Checkout.DeliveryFee")
	}
	if cfg.Checkout.StockRefreshInterval < 0 {
		missing = append(missing, "Checkout.StockRefreshInterval")
	}
	switch cfg.CartStore.Driver {
	case CartDriverMemory:
	case CartDriverRedis:
		if strings.TrimSpace(cfg.CartStore.RedisAddr) == "" {
			missing = append(missing, "CartStore.RedisAddr")
		}
	default:
		missing = append(missing, "CartStore.Driver")
	}
	if key := cfg.Session.HashKey; key != "" && len(key) < minimumSessionHashKeyBytes {
		missing = append(missing, "Session.HashKey")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		missing = append(missing, "Session.BlockKey")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
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
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// decimalWithDefault parses a money amount. The second result is false when a value was set
// but could not be parsed.
func decimalWithDefault(lookup func(string) (string, bool), key, fallback string) (decimal.Decimal, bool) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return decimal.RequireFromString(fallback), false
		}
		return parsed, true
	}
	return decimal.RequireFromString(fallback), true
}
