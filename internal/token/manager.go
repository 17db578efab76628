package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSkew is the refresh grace window: a credential this close to hard
// expiry is refreshed proactively.
const DefaultSkew = 60 * time.Second

// Refresher exchanges a refresh token for a fresh credential. Implemented by
// oauth.Coordinator; faked in tests.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// Manager is the composite getValid operation: it hands out a non-expired
// credential, refreshing through the Refresher when needed. All refresh
// decisions for the account are serialized through one mutex, so N callers
// racing on an expired credential produce exactly one refresh exchange —
// the rest block and pick up the saved result.
type Manager struct {
	store     Store
	refresher Refresher
	skew      time.Duration
	logger    *slog.Logger

	refreshMu chan struct{} // capacity 1, held across the refresh exchange
}

func NewManager(store Store, refresher Refresher, skew time.Duration, logger *slog.Logger) *Manager {
	if skew <= 0 {
		skew = DefaultSkew
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		refresher: refresher,
		skew:      skew,
		logger:    logger,
		refreshMu: make(chan struct{}, 1),
	}
	return m
}

// Store exposes the underlying store for callers that persist exchange
// results (the OAuth coordinator) or clear on logout.
func (m *Manager) Store() Store { return m.store }

// Skew returns the configured refresh grace window.
func (m *Manager) Skew() time.Duration { return m.skew }

// Valid returns a credential guaranteed non-expired at the time of return.
// ErrNoCredential means nobody has authenticated yet; ErrAuthExpired means a
// credential exists but the provider rejected its refresh token.
func (m *Manager) Valid(ctx context.Context) (Credential, error) {
	cred, err := m.store.Load()
	if err != nil {
		return Credential{}, err
	}
	if !cred.Expired(m.skew) {
		return cred, nil
	}

	// Expired: take the refresh lock. Whoever loses the race re-reads the
	// store and usually finds the winner's result already saved.
	select {
	case m.refreshMu <- struct{}{}:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	defer func() { <-m.refreshMu }()

	cred, err = m.store.Load()
	if err != nil {
		return Credential{}, err
	}
	if !cred.Expired(m.skew) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return Credential{}, ErrAuthExpired
	}

	m.logger.Info("refreshing access token", "account_id", cred.AccountID)
	fresh, err := m.refresher.Refresh(ctx, cred)
	if err != nil {
		// Leave the stored record alone: the stale credential is the
		// diagnostic trail for what the provider rejected.
		m.logger.Warn("token refresh failed", "error", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Credential{}, err
		}
		return Credential{}, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	if err := m.store.Save(fresh); err != nil {
		return Credential{}, fmt.Errorf("persisting refreshed credential: %w", err)
	}
	m.logger.Info("access token refreshed", "expires_at", fresh.ExpiresAt)
	return fresh, nil
}
