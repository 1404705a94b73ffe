// Command mock-backend runs a deterministic OpenAI-compatible chat
// completions server for exercising the gateway without real provider
// credentials. Point any provider's base_url at it:
//
//	MODELGATE_OPENAI_API_KEY=dummy modelgate -config config.yaml
//
// Responses are derived from the last user message, so routing and
// failover behavior can be verified end to end. A message containing
// "fail please" yields a 500, which triggers the gateway's failover path.
//
// Configuration:
//
//	MOCK_PORT - Listen port (default: 9090)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelgate/modelgate/pkg/api"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", handleChatCompletions)
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []api.ChatMessage `json:"messages"`
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	prompt := lastUserMessage(req.Messages)
	if strings.Contains(strings.ToLower(prompt), "fail please") {
		writeError(w, http.StatusInternalServerError, "simulated provider outage")
		return
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	text := respond(prompt)
	resp := api.ChatCompletionResponse{
		ID:      api.NewCompletionID(),
		Object:  api.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []api.Choice{{
			Message:      api.ChatMessage{Role: api.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
		Usage: api.EstimateUsage(prompt, text),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// respond derives a deterministic answer from the prompt so gateway tests
// can assert on content.
func respond(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "count from 1 to 5"):
		return "1, 2, 3, 4, 5"
	case strings.Contains(lower, "ping"):
		return "pong"
	case prompt == "":
		return "Hello from the mock backend."
	default:
		return fmt.Sprintf("You said: %s", prompt)
	}
}

func handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "modelgate-mock"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"mock_error"}}`, message)
}

func lastUserMessage(messages []api.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == api.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
