package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Tiann-Paete/Nars-web/internal/domain"
)

const stockFlightKey = "stock"

// RefreshPolicy decides whether a previously attempted stock fetch should be repeated.
type RefreshPolicy interface {
	Stale(lastAttempt, now time.Time) bool
}

// ManualRefresh fetches once; later loads only happen through Refresh.
type ManualRefresh struct{}

// Stale implements RefreshPolicy.
func (ManualRefresh) Stale(time.Time, time.Time) bool { return false }

// IntervalRefresh refetches once Every has elapsed since the last attempt.
type IntervalRefresh struct {
	Every time.Duration
}

// Stale implements RefreshPolicy.
func (p IntervalRefresh) Stale(lastAttempt, now time.Time) bool {
	if p.Every <= 0 {
		return false
	}
	return now.Sub(lastAttempt) >= p.Every
}

// StockCatalogDeps wires the dependencies of a StockCatalog.
type StockCatalogDeps struct {
	Source   StockSource
	Policy   RefreshPolicy
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Recorder CheckoutRecorder
}

// StockCatalog holds the stock snapshot of one checkout session. A failed fetch never surfaces
// to readers: they see the last good snapshot, or an empty one meaning zero stock everywhere.
type StockCatalog struct {
	source   StockSource
	policy   RefreshPolicy
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	recorder CheckoutRecorder
	group    singleflight.Group

	mu          sync.RWMutex
	snapshot    domain.StockSnapshot
	attempted   bool
	lastAttempt time.Time
}

// NewStockCatalog constructs a StockCatalog validating required dependencies.
func NewStockCatalog(deps StockCatalogDeps) (*StockCatalog, error) {
	if deps.Source == nil {
		return nil, errors.New("stock catalog: stock source is required")
	}
	policy := deps.Policy
	if policy == nil {
		policy = ManualRefresh{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StockCatalog{
		source:   deps.Source,
		policy:   policy,
		now:      func() time.Time { return clock().UTC() },
		logger:   loggerOrNoop(deps.Logger),
		recorder: recorderOrNoop(deps.Recorder),
	}, nil
}

// Fetch returns the current snapshot, loading it first when it was never attempted or the
// refresh policy reports it stale.
func (c *StockCatalog) Fetch(ctx context.Context) domain.StockSnapshot {
	c.mu.RLock()
	needsLoad := !c.attempted || c.policy.Stale(c.lastAttempt, c.now())
	c.mu.RUnlock()
	if needsLoad {
		_ = c.Refresh(ctx)
	}
	return c.Snapshot()
}

// Refresh loads a fresh snapshot. Concurrent callers share one remote call.
func (c *StockCatalog) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(stockFlightKey, func() (any, error) {
		snapshot, err := c.source.FetchStock(ctx)
		now := c.now()

		c.mu.Lock()
		c.attempted = true
		c.lastAttempt = now
		if err == nil {
			snapshot = normaliseSnapshot(snapshot, now)
			c.snapshot = snapshot
		}
		kept := c.snapshot.Loaded()
		c.mu.Unlock()

		c.recorder.StockFetched(err == nil)
		if err != nil {
			c.logger(ctx, "checkout.stock_fetch_failed", map[string]any{
				"error":         err.Error(),
				"kept_snapshot": kept,
			})
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Prime starts a background fetch detached from the caller's cancellation. The returned
// channel closes when the fetch finishes.
func (c *StockCatalog) Prime(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		c.Fetch(detached)
	}()
	return done
}

// Current returns the snapshot readers should act on. Once a first fetch has been attempted, a
// snapshot the refresh policy reports stale is reloaded before returning. The first load belongs
// to Prime, so Current never blocks on it.
func (c *StockCatalog) Current(ctx context.Context) domain.StockSnapshot {
	c.mu.RLock()
	stale := c.attempted && c.policy.Stale(c.lastAttempt, c.now())
	c.mu.RUnlock()
	if stale {
		_ = c.Refresh(ctx)
	}
	return c.Snapshot()
}

// Snapshot returns the current snapshot without fetching.
func (c *StockCatalog) Snapshot() domain.StockSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Stock returns the known stock of one item; unknown items and unloaded snapshots report zero.
func (c *StockCatalog) Stock(itemID string) int {
	return c.Snapshot().Available(itemID)
}

func normaliseSnapshot(s domain.StockSnapshot, now time.Time) domain.StockSnapshot {
	levels := make(map[string]int, len(s.Levels))
	for id, qty := range s.Levels {
		if qty < 0 {
			qty = 0
		}
		levels[id] = qty
	}
	fetchedAt := s.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now
	}
	return domain.StockSnapshot{Levels: levels, FetchedAt: fetchedAt.UTC()}
}
