package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tiann-Paete/Nars-web/internal/backend"
	"github.com/Tiann-Paete/Nars-web/internal/cartstore"
	"github.com/Tiann-Paete/Nars-web/internal/geo"
	"github.com/Tiann-Paete/Nars-web/internal/platform/config"
	"github.com/Tiann-Paete/Nars-web/internal/platform/observability"
	"github.com/Tiann-Paete/Nars-web/internal/platform/session"
	"github.com/Tiann-Paete/Nars-web/internal/services"
)

// carts hides the difference between the memory and Redis cart providers.
type carts interface {
	cartFor(sessionID string) services.CartStore
	drop(ctx context.Context, sessionID string) error
	ping(ctx context.Context) error
	// durable reports whether carts outlive the checkout that used them.
	durable() bool
}

type memoryCarts struct{ store *cartstore.Memory }

func (m memoryCarts) cartFor(id string) services.CartStore { return m.store.CartFor(id) }
func (m memoryCarts) drop(_ context.Context, id string) error {
	m.store.Drop(id)
	return nil
}
func (memoryCarts) ping(context.Context) error { return nil }
func (memoryCarts) durable() bool              { return false }

type redisCarts struct{ store *cartstore.Redis }

func (r redisCarts) cartFor(id string) services.CartStore       { return r.store.CartFor(id) }
func (r redisCarts) drop(ctx context.Context, id string) error { return r.store.Drop(ctx, id) }
func (r redisCarts) ping(ctx context.Context) error            { return r.store.Ping(ctx) }
func (redisCarts) durable() bool                               { return true }

// Options overrides collaborators for tests.
type Options struct {
	Redis redis.UniversalClient
	Fake  *backend.Fake
	Clock func() time.Time
}

// Container wires configuration, platform services and the checkout registry for runtime use.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Cities   *geo.Table
	Backend  *backend.Client
	Sessions *session.Manager
	Registry *services.SessionRegistry

	carts   carts
	events  func(ctx context.Context, event string, fields map[string]any)
	closers []func() error
}

// NewContainer constructs the runtime dependencies.
func NewContainer(cfg config.Config, logger *zap.Logger, opts Options) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
		events:  observability.EventLogger(logger.Named("checkout")),
	}

	cities, err := geo.Load(cfg.Checkout.CityTablePath)
	if err != nil {
		return nil, fmt.Errorf("load city table: %w", err)
	}
	c.Cities = cities

	c.Backend = backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Breaker: backend.BreakerSettings{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		},
		Fake:   opts.Fake,
		Logger: observability.EventLogger(logger.Named("backend")),
	})
	if c.Backend.Offline() {
		logger.Warn("backend base URL not configured; serving stock and orders from the in-process fake")
	}

	if err := c.buildCarts(cfg.CartStore, opts.Redis); err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.CookieSecure,
		IdleTimeout:  cfg.Session.IdleTimeout,
		Lifetime:     cfg.Session.Lifetime,
		Now:          opts.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}
	if cfg.Session.HashKey == "" {
		logger.Warn("session hash key not configured; sessions will not survive a restart")
	}
	c.Sessions = sessions

	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		Factory:   c.newCheckout,
		IdleTTL:   cfg.Checkout.SessionIdleTTL,
		Clock:     opts.Clock,
		Logger:    c.events,
		OnRelease: c.releaseCart,
	})
	if err != nil {
		return nil, fmt.Errorf("session registry: %w", err)
	}
	c.Registry = registry
	return c, nil
}

func (c *Container) buildCarts(cfg config.CartStoreConfig, client redis.UniversalClient) error {
	switch cfg.Driver {
	case "", config.CartDriverMemory:
		c.carts = memoryCarts{store: cartstore.NewMemory()}
	case config.CartDriverRedis:
		if client == nil {
			rc := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			c.closers = append(c.closers, rc.Close)
			client = rc
		}
		c.carts = redisCarts{store: cartstore.NewRedis(client, cfg.TTL)}
	default:
		return fmt.Errorf("unsupported cart driver %q", cfg.Driver)
	}
	return nil
}

func (c *Container) newCheckout(sessionID string) (*services.CheckoutOrchestrator, error) {
	var policy services.RefreshPolicy = services.ManualRefresh{}
	if every := c.Config.Checkout.StockRefreshInterval; every > 0 {
		policy = services.IntervalRefresh{Every: every}
	}
	catalog, err := services.NewStockCatalog(services.StockCatalogDeps{
		Source:   c.Backend,
		Policy:   policy,
		Logger:   c.events,
		Recorder: c.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return services.NewCheckoutOrchestrator(services.CheckoutOrchestratorDeps{
		Cart:        c.carts.cartFor(sessionID),
		Stock:       catalog,
		Cities:      c.Cities,
		Placer:      c.Backend,
		Credentials: services.ContextCredential{Fallback: c.Config.Backend.StaticToken},
		DeliveryFee: c.Config.Checkout.DeliveryFee,
		Logger:      c.events,
		Recorder:    c.Metrics,
		OnOrderConfirmed: func(ctx context.Context, orderID string) {
			c.events(ctx, "checkout.order_placed", map[string]any{"session_id": sessionID, "order_id": orderID})
		},
	})
}

// releaseCart runs when the registry disposes a checkout. Memory carts go with it; durable
// carts stay until their TTL so the shopper finds them again.
func (c *Container) releaseCart(ctx context.Context, sessionID string) {
	if c.carts.durable() {
		return
	}
	c.dropCart(ctx, sessionID)
}

// SessionExpired ends the checkout of an expired session and deletes its cart.
func (c *Container) SessionExpired(ctx context.Context, sessionID string) {
	c.Registry.Release(ctx, sessionID)
	c.dropCart(ctx, sessionID)
}

func (c *Container) dropCart(ctx context.Context, sessionID string) {
	if err := c.carts.drop(ctx, sessionID); err != nil {
		c.events(ctx, "checkout.cart_drop_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// CartReady reports whether the cart store is reachable.
func (c *Container) CartReady(ctx context.Context) error {
	return c.carts.ping(ctx)
}

// Close disposes every checkout and releases client connections.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Registry != nil {
		c.Registry.Close(ctx)
	}
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
