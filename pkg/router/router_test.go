package router

import (
	"context"
	"testing"
	"time"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/auth"
	"github.com/modelgate/modelgate/pkg/config"
	"github.com/modelgate/modelgate/pkg/connector"
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

func success(provider string, tokens int) connector.Result {
	return connector.Completed(&api.ChatCompletionResponse{
		ID:      api.NewCompletionID(),
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   provider + "-model",
		Choices: []api.Choice{{Message: api.ChatMessage{Role: api.RoleAssistant, Content: "ok"}, FinishReason: "stop"}},
		Usage:   api.Usage{PromptTokens: tokens / 2, CompletionTokens: tokens - tokens/2, TotalTokens: tokens},
	}, 25*time.Millisecond)
}

func failure(message string) connector.Result {
	return connector.Failure(message, 10*time.Millisecond)
}

// testConfig returns a config where only the named providers hold keys.
func testConfig(t *testing.T, withKeys ...string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	for _, name := range withKeys {
		p := cfg.Provider(name)
		if p == nil {
			t.Fatalf("unknown provider %q", name)
		}
		p.APIKey = "key-" + name
	}
	return &cfg
}

func chatRequest(provider string) *api.ChatCompletionRequest {
	return &api.ChatCompletionRequest{
		Provider: provider,
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: "hi"}},
	}
}

func TestSelectorPicksFirstHealthyByPriority(t *testing.T) {
	// openai (priority 1) has no key; deepseek (priority 2) does.
	s := NewPrioritySelector(testConfig(t, "deepseek", "grok"))

	if got := s.Select(chatRequest("")); got != "deepseek" {
		t.Errorf("Select = %q, want deepseek", got)
	}
}

func TestSelectorExplicitProviderWins(t *testing.T) {
	s := NewPrioritySelector(testConfig(t, "openai"))

	// Explicit choice wins even without a credential.
	if got := s.Select(chatRequest("grok")); got != "grok" {
		t.Errorf("Select = %q, want explicit grok", got)
	}
}

func TestSelectorFallsBackToCloudflare(t *testing.T) {
	// No keys anywhere: cloudflare is the only healthy provider.
	s := NewPrioritySelector(testConfig(t))

	if got := s.Select(chatRequest("")); got != "cloudflare" {
		t.Errorf("Select = %q, want cloudflare", got)
	}
}

func TestGatewayHappyPath(t *testing.T) {
	cfg := testConfig(t, "openai")
	openai := &stubConnector{name: "openai", results: []connector.Result{success("openai", 30)}}
	registry := connector.NewRegistry(openai)

	recorder := usage.NewRecorder(memory.NewKV(), memory.NewLogStore(), nil, nil)
	g := NewGateway(registry, NewPrioritySelector(cfg), NewFailover(cfg, registry), recorder)

	user := &auth.User{ID: "u-1"}
	provider, result := g.Complete(context.Background(), user, chatRequest(""))

	if !result.Success {
		t.Fatalf("Complete failed: %s", result.Error)
	}
	if provider != "openai" {
		t.Errorf("provider = %q, want openai", provider)
	}
	if result.TokensUsed != 30 {
		t.Errorf("TokensUsed = %d, want 30", result.TokensUsed)
	}
}

func TestGatewayFailoverAttribution(t *testing.T) {
	cfg := testConfig(t, "openai", "deepseek")
	openai := &stubConnector{name: "openai", results: []connector.Result{failure("upstream 500")}}
	deepseek := &stubConnector{name: "deepseek", results: []connector.Result{success("deepseek", 20)}}
	registry := connector.NewRegistry(openai, deepseek)

	logs := memory.NewLogStore()
	recorder := usage.NewRecorder(memory.NewKV(), logs, nil, nil)
	g := NewGateway(registry, NewPrioritySelector(cfg), NewFailover(cfg, registry), recorder)

	provider, result := g.Complete(context.Background(), &auth.User{ID: "u-1"}, chatRequest(""))

	if !result.Success {
		t.Fatalf("Complete failed: %s", result.Error)
	}
	if provider != "deepseek" {
		t.Errorf("provider = %q, want failover target deepseek", provider)
	}
	if openai.calls != 1 || deepseek.calls != 1 {
		t.Errorf("calls = openai:%d deepseek:%d, want one each", openai.calls, deepseek.calls)
	}

	// Billing follows the provider that served the request.
	rows := logs.Rows()
	if len(rows) != 1 {
		t.Fatalf("log rows = %d, want 1", len(rows))
	}
	if rows[0].Provider != "deepseek" {
		t.Errorf("logged provider = %q, want deepseek", rows[0].Provider)
	}
	if !rows[0].Success {
		t.Error("logged row should be the successful outcome")
	}
}

func TestGatewayFailoverSkipsUnhealthyAndFailed(t *testing.T) {
	// deepseek has a key but its backend fails; gemini has no key and must
	// be skipped; cloudflare succeeds without one.
	cfg := testConfig(t, "deepseek")
	deepseek := &stubConnector{name: "deepseek", results: []connector.Result{failure("boom")}}
	gemini := &stubConnector{name: "gemini", results: []connector.Result{success("gemini", 5)}}
	cloudflare := &stubConnector{name: "cloudflare", results: []connector.Result{success("cloudflare", 8)}}
	registry := connector.NewRegistry(deepseek, gemini, cloudflare)

	g := NewGateway(registry, NewPrioritySelector(cfg), NewFailover(cfg, registry), nil)

	provider, result := g.Complete(context.Background(), nil, chatRequest(""))

	if !result.Success {
		t.Fatalf("Complete failed: %s", result.Error)
	}
	if provider != "cloudflare" {
		t.Errorf("provider = %q, want cloudflare", provider)
	}
	if gemini.calls != 0 {
		t.Error("unhealthy provider must never be dialed")
	}
	if deepseek.calls != 1 {
		t.Errorf("deepseek calls = %d, want 1 (no retry of the failed provider)", deepseek.calls)
	}
}

func TestGatewayAllProvidersFailed(t *testing.T) {
	cfg := testConfig(t, "openai")
	openai := &stubConnector{name: "openai", results: []connector.Result{failure("down")}}
	cloudflare := &stubConnector{name: "cloudflare", results: []connector.Result{failure("also down")}}
	registry := connector.NewRegistry(openai, cloudflare)

	logs := memory.NewLogStore()
	recorder := usage.NewRecorder(memory.NewKV(), logs, nil, nil)
	g := NewGateway(registry, NewPrioritySelector(cfg), NewFailover(cfg, registry), recorder)

	provider, result := g.Complete(context.Background(), &auth.User{ID: "u-1"}, chatRequest(""))

	if result.Success {
		t.Fatal("expected total failure")
	}
	if result.Error != ErrAllProvidersFailed {
		t.Errorf("Error = %q, want %q", result.Error, ErrAllProvidersFailed)
	}
	if provider != "openai" {
		t.Errorf("provider = %q, want originally selected openai", provider)
	}

	// The failure is still logged, attributed to the selected provider.
	rows := logs.Rows()
	if len(rows) != 1 || rows[0].Success || rows[0].ErrorMessage != ErrAllProvidersFailed {
		t.Errorf("log rows = %+v, want one failure row", rows)
	}
}

func TestGatewayInvalidProvider(t *testing.T) {
	cfg := testConfig(t, "openai")
	openai := &stubConnector{name: "openai", results: []connector.Result{success("openai", 10)}}
	registry := connector.NewRegistry(openai)

	logs := memory.NewLogStore()
	recorder := usage.NewRecorder(memory.NewKV(), logs, nil, nil)
	g := NewGateway(registry, NewPrioritySelector(cfg), NewFailover(cfg, registry), recorder)

	_, result := g.Complete(context.Background(), &auth.User{ID: "u-1"}, chatRequest("not-a-provider"))

	if result.Success {
		t.Fatal("expected failure for unknown provider")
	}
	if result.Error != connector.ErrInvalidProvider {
		t.Errorf("Error = %q, want %q", result.Error, connector.ErrInvalidProvider)
	}
	if openai.calls != 0 {
		t.Error("no connector may be dialed for an unknown provider")
	}
	if logs.Len() != 0 {
		t.Error("unknown provider requests are not billed")
	}
}

func TestGatewayRejectsEmptyMessages(t *testing.T) {
	cfg := testConfig(t, "openai")
	openai := &stubConnector{name: "openai", results: []connector.Result{success("openai", 10)}}
	registry := connector.NewRegistry(openai)

	g := NewGateway(registry, NewPrioritySelector(cfg), NewFailover(cfg, registry), nil)

	_, result := g.Complete(context.Background(), nil, &api.ChatCompletionRequest{})

	if result.Success {
		t.Fatal("expected validation failure")
	}
	if openai.calls != 0 {
		t.Error("validation failures must not reach the network")
	}
}
