package workersai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelgate/modelgate/pkg/api"
)

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt([]api.ChatMessage{
		{Role: api.RoleSystem, Content: "Be terse."},
		{Role: api.RoleUser, Content: "Hi"},
		{Role: api.RoleAssistant, Content: "Hello"},
		{Role: api.RoleUser, Content: "Again"},
	})
	want := "System: Be terse.\n\nHuman: Hi\n\nAssistant: Hello\n\nHuman: Again\n\nAssistant: "
	if got != want {
		t.Errorf("BuildPrompt = %q, want %q", got, want)
	}
}

func TestChatSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody runRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(runResponse{
			Success: true,
			Result:  runResult{Response: "Hi from the edge"},
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, AccountID: "acct-1", APIToken: "cf-token"})
	if c.Name() != "cloudflare" {
		t.Errorf("Name() = %q, want cloudflare", c.Name())
	}

	res := c.Chat(context.Background(), &api.ChatCompletionRequest{
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: "Hi"}},
	})
	if !res.Success {
		t.Fatalf("Chat failed: %s", res.Error)
	}

	if gotPath != "/accounts/acct-1/ai/run/@cf/meta/llama-2-7b-chat-fp16" {
		t.Errorf("path = %s, want default model under the account's ai/run", gotPath)
	}
	if gotAuth != "Bearer cf-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.Prompt != "Human: Hi\n\nAssistant: " {
		t.Errorf("prompt = %q, want flattened turns", gotBody.Prompt)
	}

	if got := res.Data.Choices[0].Message.Content; got != "Hi from the edge" {
		t.Errorf("content = %q, want result.response", got)
	}
	if res.Data.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", res.Data.Choices[0].FinishReason)
	}

	// Usage is estimated from character counts on both sides.
	wantUsage := api.EstimateUsage("Human: Hi\n\nAssistant: ", "Hi from the edge")
	if res.Data.Usage != wantUsage {
		t.Errorf("Usage = %+v, want %+v", res.Data.Usage, wantUsage)
	}
	if res.TokensUsed != wantUsage.TotalTokens {
		t.Errorf("TokensUsed = %d, want %d", res.TokensUsed, wantUsage.TotalTokens)
	}
}

func TestChatWithoutCredential(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(runResponse{Success: true, Result: runResult{Response: "ok"}})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, AccountID: "acct-1"})
	res := c.Chat(context.Background(), &api.ChatCompletionRequest{
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: "Hi"}},
	})

	if !res.Success {
		t.Fatalf("Chat failed: %s", res.Error)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want no header without a token", gotAuth)
	}
}

func TestChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(runResponse{
			Success: false,
			Errors:  []apiError{{Code: 10000, Message: "Authentication error"}},
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, AccountID: "acct-1"})
	res := c.Chat(context.Background(), &api.ChatCompletionRequest{
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: "Hi"}},
	})

	if res.Success {
		t.Fatal("expected failure for API error")
	}
	if res.Error != "Authentication error" {
		t.Errorf("Error = %q, want backend message", res.Error)
	}
	if res.TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0", res.TokensUsed)
	}
}

func TestChatUnsuccessfulEnvelope(t *testing.T) {
	// Cloudflare can return 200 with success=false in the envelope.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(runResponse{
			Success: false,
			Errors:  []apiError{{Code: 7000, Message: "No route for that URI"}},
		})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, AccountID: "acct-1"})
	res := c.Chat(context.Background(), &api.ChatCompletionRequest{
		Messages: []api.ChatMessage{{Role: api.RoleUser, Content: "Hi"}},
	})

	if res.Success {
		t.Fatal("expected failure when envelope reports success=false")
	}
	if res.Error != "No route for that URI" {
		t.Errorf("Error = %q, want envelope error", res.Error)
	}
}
