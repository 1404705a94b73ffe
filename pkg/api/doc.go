// Package api defines the gateway's canonical chat-completion schema.
//
// Every connector translates its provider's native wire format to and from
// these types, so callers see one uniform request/response shape regardless
// of which backend served the request. The shape follows the widely used
// OpenAI Chat Completions JSON layout.
package api
