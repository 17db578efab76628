package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/conn"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/dispatch"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/oauth"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/tools"
)

type fixture struct {
	store   *token.MemStore
	conns   *conn.Registry
	handler http.Handler
}

// noRefresh fails every refresh; tests that need a live credential save a
// non-expired one directly.
type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context, cred token.Credential) (token.Credential, error) {
	return token.Credential{}, context.DeadlineExceeded
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: token.NewMemStore()}

	tokens := token.NewManager(f.store, noRefresh{}, token.DefaultSkew, nil)
	f.conns = conn.NewRegistry(tokens, conn.DefaultTTL, false)
	coord := oauth.New(oauth.Config{
		ClientID:    "client-id",
		RedirectURI: "http://localhost:5001/auth/callback",
		StateSecret: "state-secret",
	}, f.store, nil)

	schemas, err := tools.NewRegistry(tools.Catalogue())
	if err != nil {
		t.Fatal(err)
	}
	d := dispatch.New(dispatch.Config{
		UserAgent:        "test-agent",
		AuthInstructions: "open http://localhost:5001/ and log in",
	}, schemas, tokens, f.conns, nil, nil)
	if err := dispatch.RegisterBasecampHandlers(d); err != nil {
		t.Fatal(err)
	}

	a := New(d, f.conns, tokens, coord, schemas, "http://localhost:5001", "test", nil)
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	f.handler = CORS(mux)
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestSchemaListsCatalogue(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/schema")
	body := decode[struct {
		Tools []tools.Definition `json:"tools"`
	}](t, rec)
	if len(body.Tools) == 0 {
		t.Fatal("schema lists no tools")
	}
	found := false
	for _, d := range body.Tools {
		if d.Name == "create_todo" {
			found = true
		}
	}
	if !found {
		t.Error("create_todo missing from /schema")
	}
}

func TestCheckAuth(t *testing.T) {
	f := newFixture(t)
	body := decode[map[string]bool](t, f.get(t, "/check_auth"))
	if body["authenticated"] {
		t.Error("authenticated without a credential")
	}

	f.store.Save(token.Credential{
		AccessToken: "live",
		ExpiresAt:   time.Now().Add(time.Hour),
		AccountID:   "1",
	})
	body = decode[map[string]bool](t, f.get(t, "/check_auth"))
	if !body["authenticated"] {
		t.Error("not authenticated with a live credential")
	}
}

func TestCheckRequiredParameters(t *testing.T) {
	f := newFixture(t)

	body := decode[struct {
		Parameters []struct {
			Name     string `json:"name"`
			Required bool   `json:"required"`
		} `json:"parameters"`
	}](t, f.post(t, "/check_required_parameters", map[string]any{}))
	if len(body.Parameters) != 1 || body.Parameters[0].Name != "auth_mode" {
		t.Errorf("parameters = %+v, want auth_mode required", body.Parameters)
	}

	f.store.Save(token.Credential{
		AccessToken: "live",
		ExpiresAt:   time.Now().Add(time.Hour),
		AccountID:   "1",
	})
	body = decode[struct {
		Parameters []struct {
			Name     string `json:"name"`
			Required bool   `json:"required"`
		} `json:"parameters"`
	}](t, f.post(t, "/check_required_parameters", map[string]any{}))
	if len(body.Parameters) != 0 {
		t.Errorf("parameters = %+v, want none with a live credential", body.Parameters)
	}
}

func TestInitiateConnection(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/initiate_connection", map[string]string{"auth_mode": "oauth"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	id, _ := body["connection_id"].(string)
	if id == "" {
		t.Fatal("no connection_id in response")
	}
	if body["status"] != conn.StatusPendingAuth {
		t.Errorf("status = %v, want pending_auth", body["status"])
	}
	if inst, _ := body["instructions"].(string); !strings.Contains(inst, "log in") {
		t.Errorf("instructions = %v", body["instructions"])
	}

	check := decode[map[string]string](t, f.post(t, "/check_active_connection", map[string]string{"connection_id": id}))
	if check["status"] != "active" {
		t.Errorf("check_active_connection = %v", check)
	}
	check = decode[map[string]string](t, f.post(t, "/check_active_connection", map[string]string{"connection_id": "bogus"}))
	if check["status"] != "inactive" {
		t.Errorf("bogus connection = %v", check)
	}
}

func TestInitiateConnectionBadMode(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/initiate_connection", map[string]string{"auth_mode": "pat"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unconfigured pat", rec.Code)
	}
}

func TestActionEnvelopeAlwaysHTTP200(t *testing.T) {
	f := newFixture(t)

	t.Run("validation error", func(t *testing.T) {
		rec := f.post(t, "/mcp/action", map[string]any{
			"action": "get_todos",
			"params": map[string]any{"todolist_id": "2"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 for structured failure", rec.Code)
		}
		env := decode[dispatch.Envelope](t, rec)
		if env.ErrorCode != dispatch.CodeValidationError {
			t.Errorf("error_code = %q", env.ErrorCode)
		}
		if env.Error != "missing field: project_id" {
			t.Errorf("error = %q", env.Error)
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		rec := f.post(t, "/mcp/action", map[string]any{"action": "fly_me_to_the_moon"})
		env := decode[dispatch.Envelope](t, rec)
		if env.ErrorCode != dispatch.CodeUnknownTool {
			t.Errorf("error_code = %q", env.ErrorCode)
		}
	})

	t.Run("auth required", func(t *testing.T) {
		rec := f.post(t, "/mcp/action", map[string]any{"action": "get_projects"})
		env := decode[dispatch.Envelope](t, rec)
		if env.ErrorCode != dispatch.CodeAuthRequired {
			t.Errorf("error_code = %q", env.ErrorCode)
		}
		if env.Instructions == "" {
			t.Error("no instructions on auth failure")
		}
	})

	t.Run("missing action", func(t *testing.T) {
		rec := f.post(t, "/mcp/action", map[string]any{"params": map[string]any{}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400 for missing action", rec.Code)
		}
	})
}

func TestToolEndpointSharesDispatch(t *testing.T) {
	f := newFixture(t)
	c, err := f.conns.Initiate(context.Background(), conn.ModeOAuth)
	if err != nil {
		t.Fatal(err)
	}

	rec := f.post(t, "/tool/"+c.ID, map[string]any{
		"action": "get_todos",
		"params": map[string]any{"todolist_id": "2"},
	})
	env := decode[dispatch.Envelope](t, rec)
	// Same validation semantics as /mcp/action.
	if env.ErrorCode != dispatch.CodeValidationError {
		t.Errorf("error_code = %q", env.ErrorCode)
	}

	rec = f.post(t, "/tool/not-a-connection", map[string]any{"action": "get_projects"})
	env = decode[dispatch.Envelope](t, rec)
	if env.ErrorCode != dispatch.CodeAuthRequired {
		t.Errorf("unknown connection error_code = %q", env.ErrorCode)
	}
}

func TestInfoEndpoint(t *testing.T) {
	f := newFixture(t)
	body := decode[struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Actions []struct {
			Name string `json:"name"`
		} `json:"actions"`
	}](t, f.get(t, "/mcp/info"))
	if body.Name != "Basecamp" || body.Version != "test" {
		t.Errorf("info = %+v", body)
	}
	if len(body.Actions) == 0 {
		t.Error("info lists no actions")
	}
}

func TestHomePage(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := rec.Body.String()
	if !strings.Contains(page, "launchpad.37signals.com/authorization/new") {
		t.Error("home page has no authorization link")
	}

	f.store.Save(token.Credential{
		AccessToken: "0123456789abcdefghijklmnop",
		ExpiresAt:   time.Now().Add(time.Hour),
		AccountID:   "999",
	})
	page = f.get(t, "/").Body.String()
	if !strings.Contains(page, "authenticated") {
		t.Error("authenticated home page missing status")
	}
	if strings.Contains(page, "0123456789abcdefghijklmnop") {
		t.Error("home page leaks the raw access token")
	}

	if rec := f.get(t, "/nonexistent"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestTokenInfo(t *testing.T) {
	f := newFixture(t)
	if rec := f.get(t, "/token/info"); rec.Code != http.StatusNotFound {
		t.Errorf("empty store status = %d, want 404", rec.Code)
	}

	f.store.Save(token.Credential{
		AccessToken:  "0123456789abcdefghijklmnop",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		AccountID:    "999",
	})
	rec := f.get(t, "/token/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	masked, _ := body["access_token"].(string)
	if masked == "" || strings.Contains(rec.Body.String(), "0123456789abcdefghijklmnop") {
		t.Errorf("token not masked: %v", body["access_token"])
	}
	if body["has_refresh_token"] != true {
		t.Errorf("has_refresh_token = %v", body["has_refresh_token"])
	}
}

func TestAuthCallbackRejectsBadState(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/auth/callback?code=abc&state=forged",
		"/auth/callback?code=abc",
		"/auth/callback?error=access_denied",
	} {
		rec := f.get(t, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
	if _, err := f.store.Load(); err == nil {
		t.Error("credential stored despite rejected callback")
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.store.Save(token.Credential{
		AccessToken: "live",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	rec := f.get(t, "/logout")
	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want redirect", rec.Code)
	}
	if _, err := f.store.Load(); err == nil {
		t.Error("credential survived logout")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp/action", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Allow-Origin header")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Error("missing Allow-Methods header")
	}
}
