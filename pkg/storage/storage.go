package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("key not found")
)

// KV is a key-value namespace with optional per-key expiry. Keys are flat
// strings namespaced by convention ("apikey:", "user:", "stats:",
// "rate_limit:"). A zero TTL means the entry never expires.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key. A positive ttl bounds the entry's lifetime.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys beginning with prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// RequestLog is one persisted per-request accounting row.
type RequestLog struct {
	ID               string
	UserID           string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMS        int64
	CostUSD          float64
	Timestamp        time.Time
	Success          bool
	ErrorMessage     string
}

// ProviderUsage is a per-provider aggregate over a caller's request logs.
type ProviderUsage struct {
	Provider     string  `json:"provider"`
	RequestCount int64   `json:"request_count"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost"`
	AvgLatencyMS float64 `json:"avg_latency"`
}

// RequestLogStore appends request logs and answers per-caller aggregate
// queries. Insert failures are swallowed by the caller; implementations
// should still return them so they can be logged.
type RequestLogStore interface {
	// Insert appends one request log row.
	Insert(ctx context.Context, log *RequestLog) error

	// UsageByUser aggregates a caller's logs since the given time,
	// grouped by provider.
	UsageByUser(ctx context.Context, userID string, since time.Time) ([]ProviderUsage, error)
}
