// Package openaicompat implements a connector for backends speaking the
// OpenAI Chat Completions wire protocol with bearer-token authentication.
// Several members of the provider enumeration (openai, deepseek,
// siliconflow, grok, openrouter) are instances of this connector with
// different base URLs, credentials, and defaults.
package openaicompat

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
	"github.com/modelgate/modelgate/pkg/debug"
)

// Defaults applied when neither the request nor the configuration sets
// the sampling parameters.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// Config parameterizes one provider instance.
type Config struct {
	// Provider is the registry identifier (e.g., "openai", "deepseek").
	Provider string

	// BaseURL is the API root including any version segment
	// (e.g., "https://api.openai.com/v1").
	BaseURL string

	// APIKey is sent as a bearer token. May be empty for local backends.
	APIKey string

	// DefaultModel is used when the request does not name a model.
	DefaultModel string

	// DefaultMaxTokens is used when the request does not set max_tokens.
	// Zero falls back to DefaultMaxTokens (1024).
	DefaultMaxTokens int

	// DefaultTemperature is used when the request does not set temperature.
	// Zero falls back to DefaultTemperature (0.7).
	DefaultTemperature float64

	// ExtraHeaders are added to every outbound request. OpenRouter uses
	// these for its HTTP-Referer/X-Title attribution headers.
	ExtraHeaders map[string]string

	// Timeout bounds each outbound call. Defaults to connector.DefaultTimeout.
	Timeout time.Duration
}

// Connector is a bearer-token JSON REST connector for OpenAI-wire backends.
type Connector struct {
	cfg    Config
	client *http.Client
}

var _ connector.Connector = (*Connector)(nil)

// New creates a connector instance for one OpenAI-compatible provider.
func New(cfg Config) *Connector {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = connector.DefaultTimeout
	}
	if cfg.DefaultMaxTokens == 0 {
		cfg.DefaultMaxTokens = DefaultMaxTokens
	}
	if cfg.DefaultTemperature == 0 {
		cfg.DefaultTemperature = DefaultTemperature
	}
	return &Connector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier this instance serves.
func (c *Connector) Name() string {
	return c.cfg.Provider
}

// Chat forwards the request to the backend's /chat/completions endpoint and
// normalizes the reply. All transport and parse failures are reported as a
// failed Result with the elapsed wall time.
func (c *Connector) Chat(ctx context.Context, req *api.ChatCompletionRequest) connector.Result {
	start := time.Now()

	wire := chatRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		Stream:           false,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if wire.Model == "" {
		wire.Model = c.cfg.DefaultModel
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	} else {
		wire.MaxTokens = c.cfg.DefaultMaxTokens
	}
	if req.Temperature != nil {
		wire.Temperature = *req.Temperature
	} else {
		wire.Temperature = c.cfg.DefaultTemperature
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return connector.Failure(fmt.Sprintf("encoding request: %s", err), time.Since(start))
	}

	debug.Log("connectors", "backend request",
		"provider", c.cfg.Provider, "model", wire.Model, "messages", len(wire.Messages))
	if debug.TraceIsEnabled("connectors") {
		debug.Raw("connectors", string(body))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return connector.Failure(fmt.Sprintf("building request: %s", err), time.Since(start))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "modelgate/1.0")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return connector.Failure(err.Error(), time.Since(start))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := extractErrorMessage(httpResp)
		debug.Log("connectors", "backend error",
			"provider", c.cfg.Provider, "status", httpResp.StatusCode, "error", debug.Truncate(msg, 200))
		return connector.Failure(msg, time.Since(start))
	}

	var resp api.ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return connector.Failure(fmt.Sprintf("parsing backend response: %s", err), time.Since(start))
	}

	normalizeResponse(&resp, wire.Model, req.Messages)

	return connector.Completed(&resp, time.Since(start))
}

// normalizeResponse fills gaps a backend may leave: missing ID/object/model
// fields and absent usage counts. Usage totals are always reconciled so that
// total = prompt + completion.
func normalizeResponse(resp *api.ChatCompletionResponse, model string, prompt []api.ChatMessage) {
	if resp.ID == "" {
		resp.ID = api.NewCompletionID()
	}
	if resp.Object == "" {
		resp.Object = api.ObjectChatCompletion
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Model == "" {
		resp.Model = model
	}

	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 && resp.Usage.TotalTokens == 0 {
		var promptText, completionText strings.Builder
		for _, m := range prompt {
			promptText.WriteString(m.Content)
		}
		for _, ch := range resp.Choices {
			completionText.WriteString(ch.Message.Content)
		}
		resp.Usage = api.EstimateUsage(promptText.String(), completionText.String())
		return
	}

	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
}
