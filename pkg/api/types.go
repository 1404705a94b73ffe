package api

// Message roles. The canonical schema recognizes exactly these three;
// connectors remap them when a backend uses different role names.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation. Order within a request is
// chronological and semantically meaningful.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the canonical inbound request. Provider and model
// are optional; connectors supply provider-specific defaults for any unset
// generation parameter.
type ChatCompletionRequest struct {
	Provider         string        `json:"provider,omitempty"`
	Model            string        `json:"model,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

// Choice is a single completion alternative in the canonical response.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage reports token accounting for one completion. TotalTokens is always
// PromptTokens + CompletionTokens, whether the counts came from the backend
// or from the character-based estimate.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the canonical completion object returned to
// callers. Object is always "chat.completion" and Created is unix seconds.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ObjectChatCompletion is the fixed value of ChatCompletionResponse.Object.
const ObjectChatCompletion = "chat.completion"
