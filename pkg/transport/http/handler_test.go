package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelgate/modelgate/pkg/admin"
	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/auth"
	"github.com/modelgate/modelgate/pkg/auth/adminjwt"
	"github.com/modelgate/modelgate/pkg/config"
	"github.com/modelgate/modelgate/pkg/connector"
	"github.com/modelgate/modelgate/pkg/router"
	"github.com/modelgate/modelgate/pkg/storage/memory"
	"github.com/modelgate/modelgate/pkg/usage"
)

// stubConnector returns queued results in order, repeating the last one.
type stubConnector struct {
	name    string
	results []connector.Result
	calls   int
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Chat(_ context.Context, _ *api.ChatCompletionRequest) connector.Result {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

func completion(provider string) connector.Result {
	return connector.Completed(&api.ChatCompletionResponse{
		ID:      api.NewCompletionID(),
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   provider + "-model",
		Choices: []api.Choice{{Message: api.ChatMessage{Role: api.RoleAssistant, Content: "hello"}, FinishReason: "stop"}},
		Usage:   api.Usage{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10},
	}, 15*time.Millisecond)
}

// testEnv is a fully wired handler over in-memory stores.
type testEnv struct {
	handler http.Handler
	kv      *memory.KV
	admin   *admin.Manager
}

func newTestEnv(t *testing.T, connectors ...connector.Connector) *testEnv {
	t.Helper()

	cfg := config.Defaults()
	for _, c := range connectors {
		if p := cfg.Provider(c.Name()); p != nil && p.Name != config.FallbackProvider {
			p.APIKey = "key-" + p.Name
		}
	}

	kv := memory.NewKV()
	logs := memory.NewLogStore()
	registry := connector.NewRegistry(connectors...)
	recorder := usage.NewRecorder(kv, logs, nil, nil)
	gateway := router.NewGateway(registry,
		router.NewPrioritySelector(&cfg), router.NewFailover(&cfg, registry), recorder)
	manager := admin.NewManager(kv, &cfg, registry)

	h := NewHandler(HandlerConfig{
		Gateway:     gateway,
		Authn:       auth.NewAuthenticator(kv, true),
		Limiter:     auth.NewRateLimiter(memory.NewKV(), 1000),
		Recorder:    recorder,
		Admin:       manager,
		Sessions:    adminjwt.New("test-secret", time.Hour),
		MetricsPath: "/metrics",
	})

	return &testEnv{handler: h, kv: kv, admin: manager}
}

func (e *testEnv) do(method, path, apiKey string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func chatBody(provider string) map[string]any {
	return map[string]any{
		"provider": provider,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}
}

func TestPreflightAnyPath(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/v1/chat/completions", "/admin/users", "/nowhere"} {
		rec := env.do(http.MethodOptions, path, "", nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s = %d, want 204", path, rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("OPTIONS %s missing CORS origin header", path)
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "x-api-key") {
			t.Errorf("OPTIONS %s must allow the x-api-key header", path)
		}
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want healthy", body["status"])
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"]); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", body["timestamp"], err)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers must be stamped on ordinary responses too")
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	openai := &stubConnector{name: "openai", results: []connector.Result{completion("openai")}}
	env := newTestEnv(t, openai)

	rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey, chatBody(""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp api.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not a completion: %v", err)
	}
	if !api.ValidateCompletionID(resp.ID) {
		t.Errorf("ID %q is not a valid completion id", resp.ID)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want 10", resp.Usage.TotalTokens)
	}
	if rec.Header().Get("X-Provider") != "openai" {
		t.Errorf("X-Provider = %q, want openai", rec.Header().Get("X-Provider"))
	}
}

func TestChatCompletionRequiresAuth(t *testing.T) {
	env := newTestEnv(t, &stubConnector{name: "openai", results: []connector.Result{completion("openai")}})

	rec := env.do(http.MethodPost, "/v1/chat/completions", "", chatBody(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "Unauthorized" {
		t.Errorf("error = %q, want Unauthorized", body["error"])
	}
}

func TestChatCompletionFailover(t *testing.T) {
	openai := &stubConnector{name: "openai", results: []connector.Result{connector.Failure("upstream down", time.Millisecond)}}
	deepseek := &stubConnector{name: "deepseek", results: []connector.Result{completion("deepseek")}}
	env := newTestEnv(t, openai, deepseek)

	rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey, chatBody(""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Provider") != "deepseek" {
		t.Errorf("X-Provider = %q, want failover target deepseek", rec.Header().Get("X-Provider"))
	}
}

func TestChatCompletionAllProvidersFailed(t *testing.T) {
	openai := &stubConnector{name: "openai", results: []connector.Result{connector.Failure("down", time.Millisecond)}}
	cloudflare := &stubConnector{name: "cloudflare", results: []connector.Result{connector.Failure("down too", time.Millisecond)}}
	env := newTestEnv(t, openai, cloudflare)

	rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey, chatBody(""))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != router.ErrAllProvidersFailed {
		t.Errorf("error = %q, want %q", body["error"], router.ErrAllProvidersFailed)
	}
}

func TestChatCompletionInvalidProvider(t *testing.T) {
	env := newTestEnv(t, &stubConnector{name: "openai", results: []connector.Result{completion("openai")}})

	rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey, chatBody("not-a-provider"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for unrecognized provider", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != connector.ErrInvalidProvider {
		t.Errorf("error = %q, want %q", body["error"], connector.ErrInvalidProvider)
	}
}

func TestChatCompletionEmptyMessages(t *testing.T) {
	openai := &stubConnector{name: "openai", results: []connector.Result{completion("openai")}}
	env := newTestEnv(t, openai)

	rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey,
		map[string]any{"messages": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if openai.calls != 0 {
		t.Error("invalid requests must not reach any connector")
	}
}

func TestChatCompletionMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{nope"))
	req.Header.Set("x-api-key", auth.TestKey)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	openai := &stubConnector{name: "openai", results: []connector.Result{completion("openai")}}
	env := newTestEnv(t, openai)

	if rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey, chatBody("")); rec.Code != http.StatusOK {
		t.Fatalf("seeding request failed: %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/stats", auth.TestKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		UserID string `json:"user_id"`
		Usage  []struct {
			Provider     string `json:"provider"`
			RequestCount int64  `json:"request_count"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if body.UserID != "test-user-1" {
		t.Errorf("user_id = %q, want test-user-1", body.UserID)
	}
	if len(body.Usage) != 1 || body.Usage[0].Provider != "openai" || body.Usage[0].RequestCount != 1 {
		t.Errorf("usage = %+v, want one openai row", body.Usage)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := &panickingConnector{}
	env := newTestEnv(t, panicking)

	rec := env.do(http.MethodPost, "/v1/chat/completions", auth.TestKey, chatBody("openai"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != "Internal server error" {
		t.Errorf("error = %q, want Internal server error", body["error"])
	}
}

type panickingConnector struct{}

func (p *panickingConnector) Name() string { return "openai" }

func (p *panickingConnector) Chat(context.Context, *api.ChatCompletionRequest) connector.Result {
	panic("connector bug")
}
