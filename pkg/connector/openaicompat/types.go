package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modelgate/modelgate/pkg/api"
)

// chatRequest is the outbound wire shape. It matches the canonical request
// except that defaults have been resolved into concrete values.
type chatRequest struct {
	Model            string            `json:"model"`
	Messages         []api.ChatMessage `json:"messages"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	Temperature      float64           `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	Stream           bool              `json:"stream"`
}

// errorEnvelope covers the two error body shapes seen in the wild:
// OpenAI's nested {"error": {"message": ...}} and the flat
// {"error": "..."} some compatible backends return.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
}

// extractErrorMessage pulls a human-readable message out of a non-2xx
// response body, falling back to the HTTP status when the body is opaque.
func extractErrorMessage(resp *http.Response) string {
	fallback := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	if err != nil || len(body) == 0 {
		return fallback
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return fallback
	}

	var flat string
	if err := json.Unmarshal(env.Error, &flat); err == nil && flat != "" {
		return flat
	}

	var detail errorDetail
	if err := json.Unmarshal(env.Error, &detail); err == nil && detail.Message != "" {
		return detail.Message
	}

	return fallback
}
