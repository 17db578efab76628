// Package token owns the persisted OAuth credential: durable storage,
// expiry detection, and the single-flight refresh path every caller
// goes through before touching the Basecamp API.
package token

import (
	"errors"
	"time"
)

// ErrNoCredential is returned by Store.Load when nothing has been persisted yet.
var ErrNoCredential = errors.New("no credential stored")

// ErrAuthExpired is returned by Manager.Valid when a credential exists but the
// refresh exchange was rejected. The stored record is left untouched so the
// diagnostic trail survives; the user has to re-consent.
var ErrAuthExpired = errors.New("credential expired and refresh failed")

// Credential is the OAuth token pair plus metadata for one Basecamp account.
// Exactly one exists per configured account; it is replaced whole on every write.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccountID    string    `json:"account_id"`
	Scope        string    `json:"scope,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// Expired reports whether the credential is within skew of its hard expiry.
// A zero ExpiresAt means the provider never told us; treat as expired so the
// refresh path decides.
func (c Credential) Expired(skew time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return !time.Now().Add(skew).Before(c.ExpiresAt)
}
