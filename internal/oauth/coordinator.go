// Package oauth drives the authorization-code and refresh-token exchanges
// against the 37signals Launchpad identity provider. These are the only
// calls in the system that cross the process boundary to the provider.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
)

// Launchpad endpoints. The same endpoints serve Basecamp 2 and 3.
const (
	DefaultAuthURL     = "https://launchpad.37signals.com/authorization/new"
	DefaultTokenURL    = "https://launchpad.37signals.com/authorization/token"
	DefaultIdentityURL = "https://launchpad.37signals.com/authorization.json"
)

const exchangeTimeout = 10 * time.Second

// ErrInvalidState means the OAuth state parameter failed verification — the
// callback did not originate from an authorization URL we issued.
var ErrInvalidState = errors.New("invalid oauth state")

// ErrRefreshFailed means the provider rejected the refresh-token grant
// (revoked or expired refresh token). Not retried; the user must re-consent.
var ErrRefreshFailed = errors.New("refresh token rejected")

// Config carries the resolved identity-provider settings. Sourcing them from
// files or env is the config package's concern.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	UserAgent    string
	AccountID    string // optional; resolved from identity when empty
	StateSecret  string

	// Endpoint overrides for tests. Empty means Launchpad.
	AuthURL     string
	TokenURL    string
	IdentityURL string
}

// Coordinator implements the two token exchanges and writes results through
// the token store. It satisfies token.Refresher.
type Coordinator struct {
	cfg    Config
	store  token.Store
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, store token.Store, logger *slog.Logger) *Coordinator {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: exchangeTimeout},
		logger: logger,
	}
}

// AuthorizationURL builds the consent URL the user is sent to, carrying a
// signed state parameter for CSRF protection on the callback.
func (c *Coordinator) AuthorizationURL() (string, error) {
	state, err := c.newState()
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	params := url.Values{
		"type":         {"web_server"},
		"client_id":    {c.cfg.ClientID},
		"redirect_uri": {c.cfg.RedirectURI},
		"state":        {state},
	}
	return c.cfg.AuthURL + "?" + params.Encode(), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
}

// Exchange trades an authorization code for a credential and persists it.
// The state must verify against one we issued.
func (c *Coordinator) Exchange(ctx context.Context, code, state string) (token.Credential, error) {
	if err := c.verifyState(state); err != nil {
		return token.Credential{}, err
	}

	form := url.Values{
		"type":          {"web_server"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"redirect_uri":  {c.cfg.RedirectURI},
		"code":          {code},
	}
	tr, err := c.postToken(ctx, form)
	if err != nil {
		return token.Credential{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	accountID := c.cfg.AccountID
	if accountID == "" {
		accountID, err = c.lookupAccountID(ctx, tr.AccessToken)
		if err != nil {
			// Tool calls need an account id; surface now rather than on
			// the first dispatch.
			return token.Credential{}, fmt.Errorf("resolving account id: %w", err)
		}
	}

	now := time.Now()
	cred := token.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		AccountID:    accountID,
		Scope:        tr.Scope,
		ObtainedAt:   now,
	}
	if err := c.store.Save(cred); err != nil {
		return token.Credential{}, fmt.Errorf("persisting credential: %w", err)
	}
	c.logger.Info("authorization code exchanged", "account_id", accountID, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// Refresh exchanges the refresh token for a new access token. The caller
// (token.Manager) persists the result; a rejected grant returns
// ErrRefreshFailed and leaves the store untouched.
func (c *Coordinator) Refresh(ctx context.Context, cred token.Credential) (token.Credential, error) {
	form := url.Values{
		"type":          {"refresh"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {cred.RefreshToken},
	}
	tr, err := c.postToken(ctx, form)
	if err != nil {
		return token.Credential{}, err
	}

	now := time.Now()
	fresh := cred
	fresh.AccessToken = tr.AccessToken
	fresh.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	fresh.ObtainedAt = now
	if tr.RefreshToken != "" {
		// Launchpad may rotate the refresh token; keep the old one otherwise.
		fresh.RefreshToken = tr.RefreshToken
	}
	if tr.Scope != "" {
		fresh.Scope = tr.Scope
	}
	return fresh, nil
}

func (c *Coordinator) postToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %d %s", ErrRefreshFailed, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &tr, nil
}

type identityResponse struct {
	Accounts []struct {
		ID      json.Number `json:"id"`
		Product string      `json:"product"`
	} `json:"accounts"`
}

// lookupAccountID asks the identity endpoint which accounts the token can
// see and picks the first Basecamp 3 one.
func (c *Coordinator) lookupAccountID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.IdentityURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity endpoint returned %d", resp.StatusCode)
	}
	var ident identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return "", fmt.Errorf("decoding identity: %w", err)
	}
	for _, acct := range ident.Accounts {
		if acct.Product == "bc3" {
			return acct.ID.String(), nil
		}
	}
	if len(ident.Accounts) > 0 {
		return ident.Accounts[0].ID.String(), nil
	}
	return "", fmt.Errorf("identity lists no accounts")
}
