package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Basecamp    BasecampConfig    `toml:"basecamp"`
	Auth        AuthConfig        `toml:"auth"`
	Connections ConnectionsConfig `toml:"connections"`
	Audit       AuditConfig       `toml:"audit"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicURL is what callers are told to open to complete the OAuth
	// consent flow. Defaults to http://localhost<addr>.
	PublicURL string `toml:"public_url"`
}

type BasecampConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccountID    string `toml:"account_id"`
	UserAgent    string `toml:"user_agent"`
	// APIBaseURL overrides the Basecamp API root (tests). Empty = production.
	APIBaseURL string `toml:"api_base_url"`
	// AccessToken is an optional personal access token for auth_mode "pat";
	// it bypasses the OAuth refresh machinery entirely.
	AccessToken string `toml:"access_token"`
}

type AuthConfig struct {
	TokenFile      string `toml:"token_file"`
	StateSecret    string `toml:"state_secret"`
	RefreshSkewSec int    `toml:"refresh_skew_sec"`
	// EncryptionKey (64 hex chars) seals the token file at rest. Empty =
	// plaintext JSON.
	EncryptionKey string `toml:"encryption_key"`
}

type ConnectionsConfig struct {
	TTLMin int `toml:"ttl_min"`
}

type AuditConfig struct {
	// Path of the audit SQLite database. Empty disables auditing.
	Path string `toml:"path"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":5001",
		},
		Basecamp: BasecampConfig{
			UserAgent: "Basecamp MCP Server (github.com/georgeantonopoulos/Basecamp-MCP-Server)",
		},
		Auth: AuthConfig{
			TokenFile:      "data/oauth_tokens.json",
			RefreshSkewSec: 60,
		},
		Connections: ConnectionsConfig{
			TTLMin: 30,
		},
	}
}

// Load reads the config file (missing file is fine: defaults apply), then
// lets environment variables override — the original deployment is driven by
// a .env file and those names are kept.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	applyEnv(cfg)
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://localhost" + cfg.Server.Addr
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("BASECAMP_CLIENT_ID", &cfg.Basecamp.ClientID)
	envStr("BASECAMP_CLIENT_SECRET", &cfg.Basecamp.ClientSecret)
	envStr("BASECAMP_REDIRECT_URI", &cfg.Basecamp.RedirectURI)
	envStr("BASECAMP_ACCOUNT_ID", &cfg.Basecamp.AccountID)
	envStr("BASECAMP_TOKEN", &cfg.Basecamp.AccessToken)
	envStr("USER_AGENT", &cfg.Basecamp.UserAgent)
	envStr("TOKEN_FILE", &cfg.Auth.TokenFile)
	envStr("STATE_SECRET", &cfg.Auth.StateSecret)
	envStr("TOKEN_ENCRYPTION_KEY", &cfg.Auth.EncryptionKey)
	envStr("AUDIT_DB", &cfg.Audit.Path)
}

// Validate reports the settings serve cannot run without.
func (c *Config) Validate() error {
	if c.Basecamp.ClientID == "" || c.Basecamp.ClientSecret == "" {
		return fmt.Errorf("basecamp client_id and client_secret are required (BASECAMP_CLIENT_ID / BASECAMP_CLIENT_SECRET)")
	}
	if c.Basecamp.RedirectURI == "" {
		return fmt.Errorf("basecamp redirect_uri is required (BASECAMP_REDIRECT_URI)")
	}
	if c.Basecamp.UserAgent == "" {
		return fmt.Errorf("user_agent is required (USER_AGENT)")
	}
	if c.Auth.StateSecret == "" {
		return fmt.Errorf("auth state_secret is required (STATE_SECRET)")
	}
	return nil
}
