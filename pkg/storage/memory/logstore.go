package memory

import (
	"context"
	"sync"
	"time"

	"github.com/modelgate/modelgate/pkg/storage"
)

// LogStore is an in-memory storage.RequestLogStore. Rows are held in append
// order; aggregation scans the slice, which is fine at test scale.
type LogStore struct {
	mu   sync.RWMutex
	rows []storage.RequestLog
}

var _ storage.RequestLogStore = (*LogStore)(nil)

// NewLogStore creates an empty in-memory request log store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// Insert appends one request log row.
func (s *LogStore) Insert(_ context.Context, log *storage.RequestLog) error {
	s.mu.Lock()
	s.rows = append(s.rows, *log)
	s.mu.Unlock()
	return nil
}

// UsageByUser aggregates a caller's rows since the given time by provider.
func (s *LogStore) UsageByUser(_ context.Context, userID string, since time.Time) ([]storage.ProviderUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		count   int64
		tokens  int64
		cost    float64
		latency int64
	}
	byProvider := make(map[string]*acc)
	var order []string

	for _, row := range s.rows {
		if row.UserID != userID || row.Timestamp.Before(since) {
			continue
		}
		a, ok := byProvider[row.Provider]
		if !ok {
			a = &acc{}
			byProvider[row.Provider] = a
			order = append(order, row.Provider)
		}
		a.count++
		a.tokens += int64(row.TotalTokens)
		a.cost += row.CostUSD
		a.latency += row.LatencyMS
	}

	var out []storage.ProviderUsage
	for _, p := range order {
		a := byProvider[p]
		out = append(out, storage.ProviderUsage{
			Provider:     p,
			RequestCount: a.count,
			TotalTokens:  a.tokens,
			TotalCostUSD: a.cost,
			AvgLatencyMS: float64(a.latency) / float64(a.count),
		})
	}
	return out, nil
}

// Len reports how many rows have been inserted. Test helper.
func (s *LogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Rows returns a copy of all inserted rows. Test helper.
func (s *LogStore) Rows() []storage.RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.RequestLog, len(s.rows))
	copy(out, s.rows)
	return out
}
