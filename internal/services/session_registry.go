package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSessionIdleTTL = 30 * time.Minute

// ErrSessionRequired indicates a registry lookup without a session identifier.
var ErrSessionRequired = errors.New("checkout: session id required")

// CheckoutFactory builds the orchestrator of a new session.
type CheckoutFactory func(sessionID string) (*CheckoutOrchestrator, error)

// SessionRegistryDeps wires the dependencies of a SessionRegistry.
type SessionRegistryDeps struct {
	Factory   CheckoutFactory
	IdleTTL   time.Duration
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	OnRelease func(ctx context.Context, sessionID string)
}

type sessionEntry struct {
	checkout *CheckoutOrchestrator
	lastUsed time.Time
}

// SessionRegistry keeps one orchestrator per shopper session and disposes idle ones.
type SessionRegistry struct {
	factory   CheckoutFactory
	idleTTL   time.Duration
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	onRelease func(ctx context.Context, sessionID string)

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewSessionRegistry constructs a SessionRegistry validating required dependencies.
func NewSessionRegistry(deps SessionRegistryDeps) (*SessionRegistry, error) {
	if deps.Factory == nil {
		return nil, errors.New("session registry: checkout factory is required")
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultSessionIdleTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionRegistry{
		factory:   deps.Factory,
		idleTTL:   ttl,
		now:       func() time.Time { return clock().UTC() },
		logger:    loggerOrNoop(deps.Logger),
		onRelease: deps.OnRelease,
		sessions:  make(map[string]*sessionEntry),
	}, nil
}

// Get returns the session's orchestrator, creating and starting it on first use.
func (r *SessionRegistry) Get(ctx context.Context, sessionID string) (*CheckoutOrchestrator, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sessionID]; ok {
		entry.lastUsed = r.now()
		return entry.checkout, nil
	}
	checkout, err := r.factory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	r.sessions[sessionID] = &sessionEntry{checkout: checkout, lastUsed: r.now()}
	checkout.Start(ctx)
	r.logger(ctx, "checkout.session_started", map[string]any{"session_id": sessionID})
	return checkout, nil
}

// Release disposes the session's orchestrator.
func (r *SessionRegistry) Release(ctx context.Context, sessionID string) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.dispose(ctx, sessionID, entry, "released")
}

// Sweep disposes sessions idle for longer than the TTL and returns how many were removed.
func (r *SessionRegistry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTTL)
	expired := make(map[string]*sessionEntry)

	r.mu.Lock()
	for id, entry := range r.sessions {
		if entry.lastUsed.Before(cutoff) {
			expired[id] = entry
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for id, entry := range expired {
		r.dispose(ctx, id, entry, "idle")
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is cancelled.
func (r *SessionRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.idleTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close disposes every session.
func (r *SessionRegistry) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*sessionEntry)
	r.mu.Unlock()
	for id, entry := range sessions {
		r.dispose(ctx, id, entry, "shutdown")
	}
}

func (r *SessionRegistry) dispose(ctx context.Context, sessionID string, entry *sessionEntry, cause string) {
	entry.checkout.Close()
	if r.onRelease != nil {
		r.onRelease(ctx, sessionID)
	}
	r.logger(ctx, "checkout.session_released", map[string]any{
		"session_id": sessionID,
		"cause":      cause,
	})
}
