// Package gemini implements the connector for Google's Gemini
// generateContent API, translating between the canonical chat-completion
// schema and Gemini's contents/parts wire format.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/connector"
)

const (
	// DefaultModel is used when the request does not name a model.
	DefaultModel = "gemini-pro"

	defaultMaxOutputTokens = 1024
	defaultTemperature     = 0.7
	defaultTopP            = 0.8
)

// Config parameterizes the Gemini connector.
type Config struct {
	// BaseURL is the API root, e.g.
	// "https://generativelanguage.googleapis.com/v1beta".
	BaseURL string

	// APIKey is passed as the "key" query parameter, per Google's scheme.
	APIKey string

	// DefaultModel overrides DefaultModel when set.
	DefaultModel string

	// Timeout bounds each outbound call. Defaults to connector.DefaultTimeout.
	Timeout time.Duration
}

// Connector translates canonical requests into Gemini generateContent calls.
type Connector struct {
	cfg    Config
	client *http.Client
}

var _ connector.Connector = (*Connector)(nil)

// New creates the Gemini connector.
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

// Name returns "gemini".
func (c *Connector) Name() string { return "gemini" }

// Chat forwards the request to Gemini's generateContent endpoint. System
// messages are dropped during translation: the generateContent contents
// array only accepts user and model turns.
func (c *Connector) Chat(ctx context.Context, req *api.ChatCompletionRequest) connector.Result {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	wire := translateRequest(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return connector.Failure(fmt.Sprintf("encoding request: %s", err), time.Since(start))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(c.cfg.APIKey))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return connector.Failure(fmt.Sprintf("building request: %s", err), time.Since(start))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return connector.Failure(err.Error(), time.Since(start))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
		if json.NewDecoder(httpResp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return connector.Failure(msg, time.Since(start))
	}

	var wireResp generateContentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return connector.Failure(fmt.Sprintf("parsing backend response: %s", err), time.Since(start))
	}

	resp, err := translateResponse(&wireResp, model, req.Messages)
	if err != nil {
		return connector.Failure(err.Error(), time.Since(start))
	}

	return connector.Completed(resp, time.Since(start))
}

func translateRequest(req *api.ChatCompletionRequest) *generateContentRequest {
	wire := &generateContentRequest{
		GenerationConfig: generationConfig{
			MaxOutputTokens: defaultMaxOutputTokens,
			Temperature:     defaultTemperature,
			TopP:            defaultTopP,
		},
	}
	if req.MaxTokens != nil {
		wire.GenerationConfig.MaxOutputTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		wire.GenerationConfig.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		wire.GenerationConfig.TopP = *req.TopP
	}

	for _, m := range req.Messages {
		role := ""
		switch m.Role {
		case api.RoleUser:
			role = "user"
		case api.RoleAssistant:
			role = "model"
		default:
			// System messages have no generateContent equivalent.
			continue
		}
		wire.Contents = append(wire.Contents, content{
			Role:  role,
			Parts: []part{{Text: m.Content}},
		})
	}
	return wire
}

func translateResponse(wire *generateContentResponse, model string, prompt []api.ChatMessage) (*api.ChatCompletionResponse, error) {
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("backend returned no candidates")
	}

	candidate := wire.Candidates[0]
	var text strings.Builder
	for _, p := range candidate.Content.Parts {
		text.WriteString(p.Text)
	}

	finish := strings.ToLower(candidate.FinishReason)
	if finish == "" {
		finish = "stop"
	}

	usage := api.Usage{
		PromptTokens:     wire.UsageMetadata.PromptTokenCount,
		CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      wire.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
			var promptText strings.Builder
			for _, m := range prompt {
				promptText.WriteString(m.Content)
			}
			usage = api.EstimateUsage(promptText.String(), text.String())
		} else {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
	}

	return &api.ChatCompletionResponse{
		ID:      api.NewCompletionID(),
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.Choice{{
			Index:        0,
			Message:      api.ChatMessage{Role: api.RoleAssistant, Content: text.String()},
			FinishReason: finish,
		}},
		Usage: usage,
	}, nil
}
