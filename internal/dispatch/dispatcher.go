// Package dispatch is the single funnel every tool call goes through:
// schema lookup, parameter validation, live auth resolution, upstream
// invocation, and classification of the result into a response envelope.
// The connection-scoped and direct entry points are the same function with
// two callers; their validation and error semantics cannot diverge.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/basecamp"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/conn"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/tools"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/pkg/audit"
)

// maxReadAttempts bounds retries for read-only tools on transient upstream
// failures. Mutating tools are never retried.
const maxReadAttempts = 3

const retryBackoff = 500 * time.Millisecond

// Handler executes one tool against an authenticated Basecamp client.
type Handler func(ctx context.Context, client *basecamp.Client, params map[string]any) (any, error)

// Call is one inbound tool invocation. ConnectionID is empty in direct mode.
type Call struct {
	Tool         string
	Params       map[string]any
	ConnectionID string
	Transport    string // http, mcp, stdio — audit trail only
}

// Config carries the resolved settings the dispatcher needs.
type Config struct {
	UserAgent        string
	BaseURL          string // empty = production Basecamp
	AuthInstructions string // where to complete the consent flow
	PATToken         string // optional personal access token
	PATAccountID     string
}

// Dispatcher wires the schema registry, token manager, connection registry
// and handler table together.
type Dispatcher struct {
	cfg      Config
	schemas  *tools.Registry
	tokens   *token.Manager
	conns    *conn.Registry
	handlers map[string]Handler
	logger   *slog.Logger
	auditLog audit.Logger // nil = disabled

	sleep func(context.Context, time.Duration) error // test hook
}

func New(cfg Config, schemas *tools.Registry, tokens *token.Manager, conns *conn.Registry, logger *slog.Logger, auditLog audit.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		schemas:  schemas,
		tokens:   tokens,
		conns:    conns,
		handlers: make(map[string]Handler),
		logger:   logger,
		auditLog: auditLog,
		sleep:    sleepCtx,
	}
}

// Register binds a handler to a tool name. Names not present in the schema
// catalogue are rejected so a malformed handler cannot be registered silently.
func (d *Dispatcher) Register(name string, h Handler) error {
	if _, ok := d.schemas.Get(name); !ok {
		return fmt.Errorf("handler for undeclared tool: %s", name)
	}
	if _, dup := d.handlers[name]; dup {
		return fmt.Errorf("duplicate handler: %s", name)
	}
	d.handlers[name] = h
	return nil
}

// Dispatch runs the full algorithm. Steps short-circuit in strict order:
// nothing with a side effect runs before all cheaper checks pass, and no
// upstream call is ever made without a valid credential.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Envelope {
	start := time.Now()
	env := d.dispatch(ctx, call)
	d.record(call, env, time.Since(start))
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) Envelope {
	def, ok := d.schemas.Get(call.Tool)
	if !ok {
		return failure(CodeUnknownTool, fmt.Sprintf("unknown tool: %s", call.Tool))
	}

	if err := tools.Validate(def, call.Params); err != nil {
		return failure(CodeValidationError, err.Error())
	}

	cred, env, ok := d.resolveAuth(ctx, call.ConnectionID)
	if !ok {
		return env
	}

	handler, ok := d.handlers[call.Tool]
	if !ok {
		// Declared in the catalogue but never registered: a wiring bug,
		// surfaced as an unknown tool rather than a panic.
		d.logger.Error("tool declared but not registered", "tool", call.Tool)
		return failure(CodeUnknownTool, fmt.Sprintf("unknown tool: %s", call.Tool))
	}

	client := basecamp.NewClient(cred.AccountID, d.cfg.UserAgent, cred.AccessToken, d.clientOpts()...)
	return d.invoke(ctx, def, handler, client, call.Params)
}

func (d *Dispatcher) clientOpts() []basecamp.Option {
	if d.cfg.BaseURL == "" {
		return nil
	}
	return []basecamp.Option{basecamp.WithBaseURL(d.cfg.BaseURL)}
}

// resolveAuth produces the credential for this call, or the error envelope
// that ends it. Connection-scoped and direct mode differ only in how the auth
// context is found; both end at the token manager.
func (d *Dispatcher) resolveAuth(ctx context.Context, connectionID string) (token.Credential, Envelope, bool) {
	authMode := conn.ModeOAuth
	if connectionID != "" {
		c, err := d.conns.Resolve(connectionID)
		if err != nil {
			env := failure(CodeAuthRequired, fmt.Sprintf("invalid connection id: %s", connectionID))
			env.Instructions = d.cfg.AuthInstructions
			return token.Credential{}, env, false
		}
		authMode = c.AuthMode
	}

	if authMode == conn.ModePAT {
		if d.cfg.PATToken == "" || d.cfg.PATAccountID == "" {
			env := failure(CodeAuthRequired, "personal access token not configured")
			env.Instructions = d.cfg.AuthInstructions
			return token.Credential{}, env, false
		}
		return token.Credential{AccessToken: d.cfg.PATToken, AccountID: d.cfg.PATAccountID}, Envelope{}, true
	}

	cred, err := d.tokens.Valid(ctx)
	if err != nil {
		var env Envelope
		switch {
		case errors.Is(err, token.ErrNoCredential):
			env = failure(CodeAuthRequired, "no credential stored; authentication required")
		case errors.Is(err, token.ErrAuthExpired):
			env = failure(CodeAuthExpired, "credential expired and refresh was rejected; re-authentication required")
		default:
			env = failure(CodeUpstreamUnavailable, fmt.Sprintf("credential check failed: %v", err))
		}
		env.Instructions = d.cfg.AuthInstructions
		return token.Credential{}, env, false
	}
	if connectionID != "" {
		d.conns.MarkAuthenticated(connectionID)
	}
	return cred, Envelope{}, true
}

// invoke runs the handler, retrying transient failures for read-only tools
// with backoff that honors a provider Retry-After hint.
func (d *Dispatcher) invoke(ctx context.Context, def tools.Definition, handler Handler, client *basecamp.Client, params map[string]any) Envelope {
	attempts := 1
	if def.ReadOnly {
		attempts = maxReadAttempts
	}

	var lastEnv Envelope
	for attempt := 1; attempt <= attempts; attempt++ {
		data, err := handler(ctx, client, params)
		if err == nil {
			return success(data)
		}

		env, retryAfter, transient := classify(err)
		lastEnv = env
		if env.ErrorCode == CodeAuthRequired || env.ErrorCode == CodeAuthExpired {
			env.Instructions = d.cfg.AuthInstructions
			return env
		}
		if !transient || attempt == attempts {
			return env
		}

		delay := retryAfter
		if delay <= 0 {
			delay = retryBackoff * time.Duration(attempt)
		}
		d.logger.Warn("retrying read tool after transient upstream failure",
			"tool", def.Name, "attempt", attempt, "delay", delay, "error", err)
		if err := d.sleep(ctx, delay); err != nil {
			return failure(CodeUpstreamUnavailable, "request cancelled during retry backoff")
		}
	}
	return lastEnv
}

// classify sorts an upstream failure into the error taxonomy. The bool
// reports whether a retry may help.
func classify(err error) (Envelope, time.Duration, bool) {
	var apiErr *basecamp.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			// The provider no longer accepts the token even though it
			// looked fresh locally.
			return failure(CodeAuthExpired, apiErr.Error()), 0, false
		case apiErr.StatusCode == 429:
			return failure(CodeUpstreamTransientError, apiErr.Error()), apiErr.RetryAfter, true
		case apiErr.StatusCode >= 500:
			return failure(CodeUpstreamTransientError, apiErr.Error()), apiErr.RetryAfter, true
		default:
			return failure(CodeUpstreamClientError, apiErr.Error()), 0, false
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failure(CodeUpstreamUnavailable, err.Error()), 0, false
	}
	// Network-level failure: DNS, refused connection, timeout.
	return failure(CodeUpstreamUnavailable, err.Error()), 0, true
}

func (d *Dispatcher) record(call Call, env Envelope, took time.Duration) {
	if d.auditLog == nil {
		return
	}
	params, _ := json.Marshal(call.Params)
	entry := &audit.Entry{
		Action:       call.Tool,
		Transport:    call.Transport,
		ConnectionID: call.ConnectionID,
		Parameters:   string(params),
		ErrorCode:    env.ErrorCode,
		Error:        env.Error,
		DurationMs:   took.Milliseconds(),
		Status:       env.Status,
	}
	d.auditLog.LogAsync(entry)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
