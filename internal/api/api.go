// Package api is the HTTP surface: connection management, tool invocation,
// schema discovery, and the browser-facing OAuth flow. Every tool call — the
// connection-scoped path and the direct path alike — funnels into the one
// dispatcher.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/conn"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/dispatch"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/oauth"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/tools"
)

type API struct {
	dispatcher *dispatch.Dispatcher
	conns      *conn.Registry
	tokens     *token.Manager
	oauth      *oauth.Coordinator
	schemas    *tools.Registry
	logger     *slog.Logger
	publicURL  string
	version    string
}

func New(dispatcher *dispatch.Dispatcher, conns *conn.Registry, tokens *token.Manager, coordinator *oauth.Coordinator, schemas *tools.Registry, publicURL, version string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		dispatcher: dispatcher,
		conns:      conns,
		tokens:     tokens,
		oauth:      coordinator,
		schemas:    schemas,
		logger:     logger,
		publicURL:  publicURL,
		version:    version,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /schema", a.handleSchema)
	mux.HandleFunc("GET /check_auth", a.handleCheckAuth)
	mux.HandleFunc("GET /mcp/info", a.handleInfo)

	mux.HandleFunc("POST /check_required_parameters", a.handleCheckRequiredParameters)
	mux.HandleFunc("POST /initiate_connection", a.handleInitiateConnection)
	mux.HandleFunc("POST /check_active_connection", a.handleCheckActiveConnection)
	mux.HandleFunc("POST /tool/{connection_id}", a.handleTool)
	mux.HandleFunc("POST /mcp/action", a.handleAction)

	mux.HandleFunc("GET /", a.handleHome)
	mux.HandleFunc("GET /auth/callback", a.handleAuthCallback)
	mux.HandleFunc("GET /logout", a.handleLogout)
	mux.HandleFunc("GET /token/info", a.handleTokenInfo)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "basecamp-mcp-server",
	})
}

// handleSchema serves the tool catalogue for discovery. Same source as
// pre-dispatch validation and the MCP listing, so they cannot drift.
func (a *API) handleSchema(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{
		"tools": a.schemas.List(),
	})
}

func (a *API) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	_, err := a.tokens.Valid(r.Context())
	jsonResp(w, http.StatusOK, map[string]bool{"authenticated": err == nil})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	type action struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	defs := a.schemas.List()
	actions := make([]action, 0, len(defs))
	for _, d := range defs {
		actions = append(actions, action{Name: d.Name, Description: d.Description})
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"name":        "Basecamp",
		"version":     a.version,
		"description": "Basecamp 3 API integration over the MCP tool protocol",
		"actions":     actions,
	})
}

// handleCheckRequiredParameters tells a client what it must supply before
// initiating a connection. With a live credential nothing is needed; otherwise
// the caller picks an auth mode and completes the consent flow.
func (a *API) handleCheckRequiredParameters(w http.ResponseWriter, r *http.Request) {
	type param struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Required    bool   `json:"required"`
	}
	params := []param{}
	if _, err := a.tokens.Valid(r.Context()); err != nil {
		params = append(params, param{
			Name:        "auth_mode",
			Description: "Authentication mode (oauth or pat)",
			Required:    true,
		})
	}
	jsonResp(w, http.StatusOK, map[string]any{"parameters": params})
}

func (a *API) handleInitiateConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AuthMode string `json:"auth_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := a.conns.Initiate(r.Context(), req.AuthMode)
	if err != nil {
		if errors.Is(err, conn.ErrInvalidAuthMode) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.logger.Error("initiate connection failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"connection_id": c.ID,
		"status":        c.Status,
		"auth_mode":     c.AuthMode,
	}
	if c.Status == conn.StatusPendingAuth {
		resp["instructions"] = a.authInstructions()
	}
	jsonResp(w, http.StatusOK, resp)
}

func (a *API) handleCheckActiveConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status := "inactive"
	if _, err := a.conns.Resolve(req.ConnectionID); err == nil {
		status = "active"
	}
	jsonResp(w, http.StatusOK, map[string]string{
		"connection_id": req.ConnectionID,
		"status":        status,
	})
}

type toolRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// handleTool is the connection-scoped entry point.
func (a *API) handleTool(w http.ResponseWriter, r *http.Request) {
	connectionID := r.PathValue("connection_id")
	a.dispatchCall(w, r, connectionID)
}

// handleAction is the direct entry point: no connection id, same core.
func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	a.dispatchCall(w, r, "")
}

func (a *API) dispatchCall(w http.ResponseWriter, r *http.Request, connectionID string) {
	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		jsonError(w, "action is required", http.StatusBadRequest)
		return
	}

	env := a.dispatcher.Dispatch(r.Context(), dispatch.Call{
		Tool:         req.Action,
		Params:       req.Params,
		ConnectionID: connectionID,
		Transport:    "http",
	})
	// Failures are structured envelopes, not HTTP errors: the transport
	// succeeded even when the tool call did not.
	jsonResp(w, http.StatusOK, env)
}

func (a *API) authInstructions() string {
	return "Authentication required. Open " + a.publicURL + "/ in a browser and log in with your Basecamp account, then retry."
}

// --- Helpers ---

func jsonResp(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
