// Package conn is the ephemeral session index: opaque connection ids mapped
// to an auth mode and a status snapshot. Credential validity is never cached
// here — it is re-checked through the token manager on every call, so losing
// a connection only forces a re-initiate, never a re-consent.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
)

// Status of a connection. pending_auth is a normal state, not a failure:
// the caller is told where to complete the consent flow.
const (
	StatusPendingAuth   = "pending_auth"
	StatusAuthenticated = "authenticated"
)

// Auth modes accepted by Initiate.
const (
	ModeOAuth = "oauth"
	ModePAT   = "pat"
)

// DefaultTTL evicts connections idle this long.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned by Resolve for unknown or evicted connection ids.
var ErrNotFound = errors.New("unknown connection id")

// ErrInvalidAuthMode is returned for auth modes other than oauth/pat, and for
// pat when no personal access token is configured.
var ErrInvalidAuthMode = errors.New("invalid auth mode")

// Connection binds one caller session to an authentication mode.
type Connection struct {
	ID        string    `json:"connection_id"`
	AuthMode  string    `json:"auth_mode"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	lastSeen time.Time
}

// Authenticator is the credential probe; implemented by token.Manager.
type Authenticator interface {
	Valid(ctx context.Context) (token.Credential, error)
}

// Registry owns the connection table. Eviction is swept lazily during
// Initiate and Resolve; no background goroutine runs outside a request.
type Registry struct {
	auth          Authenticator
	ttl           time.Duration
	patConfigured bool

	mu    sync.Mutex
	conns map[string]*Connection

	now func() time.Time // test hook
}

func NewRegistry(auth Authenticator, ttl time.Duration, patConfigured bool) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		auth:          auth,
		ttl:           ttl,
		patConfigured: patConfigured,
		conns:         make(map[string]*Connection),
		now:           time.Now,
	}
}

// Initiate creates a connection, probing the token manager once to decide the
// initial status. A missing or unrefreshable credential yields pending_auth —
// the caller-facing instructions come from the HTTP layer.
func (r *Registry) Initiate(ctx context.Context, authMode string) (*Connection, error) {
	if authMode == "" {
		authMode = ModeOAuth
	}
	switch authMode {
	case ModeOAuth:
	case ModePAT:
		if !r.patConfigured {
			return nil, fmt.Errorf("%w: pat requested but no personal access token configured", ErrInvalidAuthMode)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidAuthMode, authMode)
	}

	status := StatusAuthenticated
	if authMode == ModeOAuth {
		if _, err := r.auth.Valid(ctx); err != nil {
			status = StatusPendingAuth
		}
	}

	now := r.now()
	c := &Connection{
		ID:        uuid.NewString(),
		AuthMode:  authMode,
		Status:    status,
		CreatedAt: now,
		lastSeen:  now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
	r.conns[c.ID] = c
	return snapshot(c), nil
}

// Resolve looks a connection up and bumps its idle clock.
func (r *Registry) Resolve(id string) (*Connection, error) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)

	c, ok := r.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.lastSeen = now
	return snapshot(c), nil
}

// MarkAuthenticated flips a pending connection once a later credential check
// succeeds. Unknown ids are ignored: the connection may have been evicted
// while the check was in flight.
func (r *Registry) MarkAuthenticated(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Status = StatusAuthenticated
	}
}

// Len reports the live connection count (tests, /mcp/info).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) sweepLocked(now time.Time) {
	for id, c := range r.conns {
		if now.Sub(c.lastSeen) > r.ttl {
			delete(r.conns, id)
		}
	}
}

func snapshot(c *Connection) *Connection {
	cp := *c
	return &cp
}
