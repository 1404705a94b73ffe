package api

import (
	"errors"
	"fmt"
)

// ErrNoMessages is returned when a request carries an empty conversation.
// Such requests are rejected before any provider call is attempted.
var ErrNoMessages = errors.New("messages must contain at least one entry")

// Validate checks a ChatCompletionRequest for structural validity. Provider
// membership in the closed enumeration is checked by the dispatcher, not
// here, because the valid set is owned by the connector registry.
func (r *ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}

	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
	}

	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", *r.MaxTokens)
	}

	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %g", *r.Temperature)
	}

	if r.TopP != nil && (*r.TopP < 0.0 || *r.TopP > 1.0) {
		return fmt.Errorf("top_p must be between 0.0 and 1.0, got %g", *r.TopP)
	}

	return nil
}
