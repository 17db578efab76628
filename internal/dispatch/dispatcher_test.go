package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/basecamp"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/conn"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/tools"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/pkg/audit"
)

func testCatalogue(t *testing.T) *tools.Registry {
	t.Helper()
	r, err := tools.NewRegistry([]tools.Definition{
		{
			Name:     "get_projects",
			ReadOnly: true,
		},
		{
			Name:     "get_todos",
			ReadOnly: true,
			Params: []tools.Param{
				{Name: "project_id", Type: "string", Required: true},
				{Name: "todolist_id", Type: "string", Required: true},
			},
		},
		{
			Name: "create_todo",
			Params: []tools.Param{
				{Name: "project_id", Type: "string", Required: true},
				{Name: "todolist_id", Type: "string", Required: true},
				{Name: "content", Type: "string", Required: true},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

type fakeRefresher struct {
	calls atomic.Int64
	fail  error
}

func (r *fakeRefresher) Refresh(ctx context.Context, cred token.Credential) (token.Credential, error) {
	r.calls.Add(1)
	if r.fail != nil {
		return token.Credential{}, r.fail
	}
	fresh := cred
	fresh.AccessToken = "refreshed"
	fresh.ExpiresAt = time.Now().Add(time.Hour)
	return fresh, nil
}

// harness wires a dispatcher over a memory store with instrumented hooks.
type harness struct {
	d         *Dispatcher
	store     *token.MemStore
	refresher *fakeRefresher
	conns     *conn.Registry
	slept     []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     token.NewMemStore(),
		refresher: &fakeRefresher{},
	}
	tokens := token.NewManager(h.store, h.refresher, token.DefaultSkew, nil)
	h.conns = conn.NewRegistry(tokens, conn.DefaultTTL, false)
	h.d = New(Config{
		UserAgent:        "test-agent",
		AuthInstructions: "open http://localhost:5001/ and log in",
	}, testCatalogue(t), tokens, h.conns, nil, nil)
	h.d.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

func (h *harness) saveFresh(t *testing.T) {
	t.Helper()
	err := h.store.Save(token.Credential{
		AccessToken:  "live",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
		AccountID:    "99999999",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (h *harness) saveExpired(t *testing.T) {
	t.Helper()
	err := h.store.Save(token.Credential{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
		AccountID:    "99999999",
	})
	if err != nil {
		t.Fatal(err)
	}
}

// register installs a handler that counts invocations and pops errs in order.
func (h *harness) register(t *testing.T, tool string, calls *int, errs ...error) {
	t.Helper()
	i := 0
	err := h.d.Register(tool, func(ctx context.Context, c *basecamp.Client, p map[string]any) (any, error) {
		*calls++
		if i < len(errs) {
			e := errs[i]
			i++
			if e != nil {
				return nil, e
			}
		}
		return map[string]any{"ok": true}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegisterUndeclaredTool(t *testing.T) {
	h := newHarness(t)
	err := h.d.Register("not_in_catalogue", func(ctx context.Context, c *basecamp.Client, p map[string]any) (any, error) {
		return nil, nil
	})
	if err == nil {
		t.Error("undeclared tool accepted")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls)

	env := h.d.Dispatch(context.Background(), Call{Tool: "launch_rocket"})
	if env.OK() || env.ErrorCode != CodeUnknownTool {
		t.Errorf("envelope = %+v, want UnknownTool", env)
	}
	if calls != 0 {
		t.Errorf("handler invoked %d times for unknown tool", calls)
	}
}

func TestDispatchValidationBeforeAuth(t *testing.T) {
	// No credential stored: if validation ran after auth this would surface
	// AuthRequired instead of the field error.
	h := newHarness(t)
	calls := 0
	h.register(t, "get_todos", &calls)

	env := h.d.Dispatch(context.Background(), Call{
		Tool:   "get_todos",
		Params: map[string]any{"todolist_id": "2"},
	})
	if env.ErrorCode != CodeValidationError {
		t.Fatalf("ErrorCode = %q, want ValidationError", env.ErrorCode)
	}
	if env.Error != "missing field: project_id" {
		t.Errorf("Error = %q", env.Error)
	}
	if calls != 0 {
		t.Error("handler invoked despite validation failure")
	}
	if n := h.refresher.calls.Load(); n != 0 {
		t.Errorf("refresh attempted %d times before validation passed", n)
	}
}

func TestDispatchAuthRequired(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.register(t, "get_projects", &calls)

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if env.ErrorCode != CodeAuthRequired {
		t.Fatalf("ErrorCode = %q, want AuthRequired", env.ErrorCode)
	}
	if env.Instructions == "" {
		t.Error("auth failure carries no instructions")
	}
	if calls != 0 {
		t.Error("handler invoked without a credential")
	}
}

func TestDispatchExpiredTriggersOneRefresh(t *testing.T) {
	h := newHarness(t)
	h.saveExpired(t)
	calls := 0
	h.register(t, "get_projects", &calls)

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if !env.OK() {
		t.Fatalf("envelope = %+v, want success", env)
	}
	if n := h.refresher.calls.Load(); n != 1 {
		t.Errorf("refresh ran %d times, want 1", n)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestDispatchRefreshRejected(t *testing.T) {
	h := newHarness(t)
	h.saveExpired(t)
	h.refresher.fail = errors.New("invalid_grant")
	calls := 0
	h.register(t, "get_projects", &calls)

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if env.ErrorCode != CodeAuthExpired {
		t.Fatalf("ErrorCode = %q, want AuthExpired", env.ErrorCode)
	}
	if env.Instructions == "" {
		t.Error("AuthExpired carries no instructions")
	}
	if calls != 0 {
		t.Error("handler invoked after rejected refresh")
	}
}

func TestDispatchRetriesReadOn429(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls,
		&basecamp.APIError{StatusCode: 429, RetryAfter: 2 * time.Second},
		&basecamp.APIError{StatusCode: 503},
		nil,
	)

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if !env.OK() {
		t.Fatalf("envelope = %+v, want success on third attempt", env)
	}
	if calls != 3 {
		t.Errorf("handler ran %d times, want 3", calls)
	}
	if len(h.slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(h.slept))
	}
	// First delay honors Retry-After; second falls back to scaled backoff.
	if h.slept[0] != 2*time.Second {
		t.Errorf("first delay = %v, want Retry-After 2s", h.slept[0])
	}
	if h.slept[1] != time.Second {
		t.Errorf("second delay = %v, want 1s backoff", h.slept[1])
	}
}

func TestDispatchReadRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls,
		&basecamp.APIError{StatusCode: 503},
		&basecamp.APIError{StatusCode: 503},
		&basecamp.APIError{StatusCode: 503},
	)

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if env.ErrorCode != CodeUpstreamTransientError {
		t.Errorf("ErrorCode = %q, want UpstreamTransientError", env.ErrorCode)
	}
	if calls != 3 {
		t.Errorf("handler ran %d times, want 3", calls)
	}
}

func TestDispatchNeverRetriesWrites(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "create_todo", &calls, &basecamp.APIError{StatusCode: 503})

	env := h.d.Dispatch(context.Background(), Call{
		Tool:   "create_todo",
		Params: map[string]any{"project_id": "1", "todolist_id": "2", "content": "x"},
	})
	if env.ErrorCode != CodeUpstreamTransientError {
		t.Errorf("ErrorCode = %q", env.ErrorCode)
	}
	if calls != 1 {
		t.Errorf("mutating handler ran %d times, want exactly 1", calls)
	}
	if len(h.slept) != 0 {
		t.Errorf("backoff slept for a write: %v", h.slept)
	}
}

func TestDispatchClientErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls, &basecamp.APIError{StatusCode: 404, Body: "not found"})

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if env.ErrorCode != CodeUpstreamClientError {
		t.Errorf("ErrorCode = %q, want UpstreamClientError", env.ErrorCode)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times for a 404, want 1", calls)
	}
}

func TestDispatchUpstream401(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls, &basecamp.APIError{StatusCode: 401})

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if env.ErrorCode != CodeAuthExpired {
		t.Errorf("ErrorCode = %q, want AuthExpired on upstream 401", env.ErrorCode)
	}
	if env.Instructions == "" {
		t.Error("upstream auth rejection carries no instructions")
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1 (auth errors never retried)", calls)
	}
}

func TestDispatchNetworkErrorRetried(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls, errors.New("dial tcp: connection refused"), nil)

	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects"})
	if !env.OK() {
		t.Fatalf("envelope = %+v, want success after retry", env)
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestDispatchInvalidConnection(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	calls := 0
	h.register(t, "get_projects", &calls)

	env := h.d.Dispatch(context.Background(), Call{
		Tool:         "get_projects",
		ConnectionID: "never-issued",
	})
	if env.ErrorCode != CodeAuthRequired {
		t.Errorf("ErrorCode = %q, want AuthRequired for unknown connection", env.ErrorCode)
	}
	if calls != 0 {
		t.Error("handler invoked for unknown connection")
	}
}

func TestDispatchMarksConnectionAuthenticated(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.register(t, "get_projects", &calls)

	// Initiated before any credential exists: pending.
	c, err := h.conns.Initiate(context.Background(), conn.ModeOAuth)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != conn.StatusPendingAuth {
		t.Fatalf("precondition: status = %q", c.Status)
	}

	h.saveFresh(t)
	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects", ConnectionID: c.ID})
	if !env.OK() {
		t.Fatalf("envelope = %+v", env)
	}

	got, err := h.conns.Resolve(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != conn.StatusAuthenticated {
		t.Errorf("status = %q after successful dispatch", got.Status)
	}
}

func TestDispatchPATMode(t *testing.T) {
	h := newHarness(t)
	h.d.cfg.PATToken = "pat-token"
	h.d.cfg.PATAccountID = "424242"
	h.conns = conn.NewRegistry(h.d.tokens, conn.DefaultTTL, true)
	h.d.conns = h.conns
	calls := 0
	h.register(t, "get_projects", &calls)

	c, err := h.conns.Initiate(context.Background(), conn.ModePAT)
	if err != nil {
		t.Fatal(err)
	}
	env := h.d.Dispatch(context.Background(), Call{Tool: "get_projects", ConnectionID: c.ID})
	if !env.OK() {
		t.Fatalf("envelope = %+v", env)
	}
	// No OAuth credential was ever stored or refreshed.
	if n := h.refresher.calls.Load(); n != 0 {
		t.Errorf("refresh ran %d times in pat mode", n)
	}
}

// memAudit captures entries synchronously for assertions.
type memAudit struct{ entries []*audit.Entry }

func (m *memAudit) Log(ctx context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}
func (m *memAudit) LogAsync(e *audit.Entry) { m.entries = append(m.entries, e) }
func (m *memAudit) Close() error            { return nil }

func TestDispatchAuditsEveryCall(t *testing.T) {
	h := newHarness(t)
	h.saveFresh(t)
	sink := &memAudit{}
	h.d.auditLog = sink
	calls := 0
	h.register(t, "get_projects", &calls)

	h.d.Dispatch(context.Background(), Call{Tool: "get_projects", Transport: "mcp"})
	h.d.Dispatch(context.Background(), Call{Tool: "launch_rocket", Transport: "http"})

	if len(sink.entries) != 2 {
		t.Fatalf("audited %d calls, want 2", len(sink.entries))
	}
	if sink.entries[0].Action != "get_projects" || sink.entries[0].Status != "success" {
		t.Errorf("first entry = %+v", sink.entries[0])
	}
	if sink.entries[0].Transport != "mcp" {
		t.Errorf("transport = %q", sink.entries[0].Transport)
	}
	if sink.entries[1].ErrorCode != CodeUnknownTool {
		t.Errorf("second entry code = %q", sink.entries[1].ErrorCode)
	}
}
