package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
)

const (
	defaultCookieName  = "storefront_session"
	defaultCookiePath  = "/"
	defaultLifetime    = 12 * time.Hour
	defaultIdleTimeout = 2 * time.Hour
)

// ErrExpired indicates the stored session is no longer valid due to idle or absolute expiry.
var ErrExpired = errors.New("session expired")

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

type contextKey struct{}

// Data is the payload persisted in the signed cookie.
type Data struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

// Session is the shopper session for the current request.
type Session struct {
	data       Data
	previousID string
	destroyed  bool
}

// Config controls cookie encoding and lifecycle limits for the session manager.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookiePath   string
	CookieSecure bool

	IdleTimeout time.Duration
	Lifetime    time.Duration
	Now         func() time.Time
}

// Manager decodes and persists shopper sessions via signed (and optionally encrypted) cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager. Without a hash key a random one is generated, which
// invalidates every session on restart.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		cfg.HashKey = securecookie.GenerateRandomKey(32)
		if cfg.HashKey == nil {
			return nil, fmt.Errorf("%w: unable to generate hash key", ErrInvalidConfig)
		}
	}
	switch len(cfg.BlockKey) {
	case 0:
		cfg.BlockKey = nil
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime.Seconds()))

	return &Manager{cfg: cfg, codec: codec, now: nowFn}, nil
}

// Load retrieves the session from the incoming request. Missing or tampered cookies yield a
// fresh session. An expired session also yields a fresh one, together with ErrExpired; the
// stale identifier is available through PreviousID.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	now := m.now()
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.newSession(now), nil
	}

	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil || stored.ID == "" {
		return m.newSession(now), nil
	}

	if m.isExpired(stored, now) {
		fresh := m.newSession(now)
		fresh.previousID = stored.ID
		return fresh, ErrExpired
	}
	return &Session{data: stored}, nil
}

// Save writes the session back to the response. Destroyed sessions clear the cookie.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	if sess.destroyed {
		http.SetCookie(w, m.expiredCookie())
		return nil
	}

	now := m.now().UTC()
	if now.After(sess.data.LastActive) {
		sess.data.LastActive = now
	}

	encoded, err := m.codec.Encode(m.cfg.CookieName, sess.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	cookie := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if !sess.data.ExpiresAt.IsZero() {
		cookie.Expires = sess.data.ExpiresAt.UTC()
		remaining := sess.data.ExpiresAt.Sub(now)
		if remaining <= 0 {
			cookie.MaxAge = -1
		} else {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		}
	}
	http.SetCookie(w, cookie)
	return nil
}

// Middleware loads the session, stores its ID on the request context and refreshes the cookie.
// onExpired is called with the stale ID when an expired session is replaced.
func (m *Manager) Middleware(onExpired func(ctx context.Context, id string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := m.Load(r)
			if errors.Is(err, ErrExpired) && onExpired != nil && sess.PreviousID() != "" {
				onExpired(r.Context(), sess.PreviousID())
			}
			if err := m.Save(w, sess); err != nil {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// Destroy invalidates the session cookie immediately.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, m.expiredCookie())
}

func (m *Manager) newSession(now time.Time) *Session {
	now = now.UTC()
	return &Session{data: Data{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		CreatedAt:  now,
		LastActive: now,
		ExpiresAt:  now.Add(m.cfg.Lifetime),
	}}
}

func (m *Manager) isExpired(d Data, now time.Time) bool {
	now = now.UTC()
	if !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt.UTC()) {
		return true
	}
	last := d.LastActive
	if last.IsZero() {
		last = d.CreatedAt
	}
	return !last.IsZero() && now.Sub(last) > m.cfg.IdleTimeout
}

func (m *Manager) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.data.ID }

// PreviousID returns the identifier of the expired session this one replaced, if any.
func (s *Session) PreviousID() string { return s.previousID }

// CreatedAt returns the session creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.data.CreatedAt }

// LastActive returns the last access timestamp.
func (s *Session) LastActive() time.Time { return s.data.LastActive }

// ExpiresAt returns the absolute expiry timestamp.
func (s *Session) ExpiresAt() time.Time { return s.data.ExpiresAt }

// Destroy marks the session for deletion when it is next saved.
func (s *Session) Destroy() { s.destroyed = true }

// WithSession stores the session on the context.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session stored by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(contextKey{}).(*Session)
	return sess, ok && sess != nil
}
