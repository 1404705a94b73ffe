package workersai

// Wire types for the Cloudflare AI run endpoint.

type runRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type runResponse struct {
	Result  runResult  `json:"result"`
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
}

type runResult struct {
	Response string `json:"response"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
