// Package workersai implements the connector for Cloudflare Workers AI.
// It is the designated fallback provider: unlike every other backend it
// is treated as available even without a configured credential, so a
// deployment with no API keys at all can still serve completions.
package workersai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/connector"
)

// DefaultModel is used when the request does not name a model.
const DefaultModel = "@cf/meta/llama-2-7b-chat-fp16"

// Config parameterizes the Workers AI connector.
type Config struct {
	// BaseURL is the Cloudflare API root, e.g. "https://api.cloudflare.com/client/v4".
	BaseURL string

	// AccountID selects the Cloudflare account whose AI binding is invoked.
	AccountID string

	// APIToken is optional; when empty the request is sent unauthenticated.
	APIToken string

	// DefaultModel overrides DefaultModel when set.
	DefaultModel string

	// Timeout bounds each outbound call. Defaults to connector.DefaultTimeout.
	Timeout time.Duration
}

// Connector translates chat requests into Workers AI text-generation runs.
type Connector struct {
	cfg    Config
	client *http.Client
}

var _ connector.Connector = (*Connector)(nil)

// New creates the Workers AI connector.
func New(cfg Config) *Connector {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = connector.DefaultTimeout
	}
	return &Connector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns "cloudflare".
func (c *Connector) Name() string { return "cloudflare" }

// Chat flattens the conversation into a single prompt, runs the model, and
// wraps the generated text in a canonical response. Workers AI reports no
// token usage, so both sides are estimated from character counts.
func (c *Connector) Chat(ctx context.Context, req *api.ChatCompletionRequest) connector.Result {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	prompt := BuildPrompt(req.Messages)

	wire := runRequest{Prompt: prompt}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return connector.Failure(fmt.Sprintf("encoding request: %s", err), time.Since(start))
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.cfg.BaseURL, c.cfg.AccountID, model)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return connector.Failure(fmt.Sprintf("building request: %s", err), time.Since(start))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return connector.Failure(err.Error(), time.Since(start))
	}
	defer httpResp.Body.Close()

	var wireResp runResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return connector.Failure(fmt.Sprintf("parsing backend response: %s", err), time.Since(start))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 || !wireResp.Success {
		msg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
		if len(wireResp.Errors) > 0 && wireResp.Errors[0].Message != "" {
			msg = wireResp.Errors[0].Message
		}
		return connector.Failure(msg, time.Since(start))
	}

	resp := &api.ChatCompletionResponse{
		ID:      api.NewCompletionID(),
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      api.ChatMessage{Role: api.RoleAssistant, Content: wireResp.Result.Response},
			FinishReason: "stop",
		}},
		Usage: api.EstimateUsage(prompt, wireResp.Result.Response),
	}

	return connector.Completed(resp, time.Since(start))
}

// BuildPrompt flattens a message list into the "System:/Human:/Assistant:"
// turn format Workers AI text models expect, ending with an open
// "Assistant: " turn for the model to complete.
func BuildPrompt(messages []api.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case api.RoleSystem:
			b.WriteString("System: ")
		case api.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("Human: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}
