// Package usage maintains request accounting: rolling hourly and daily
// stats buckets in the KV store, per-request log rows, and the cost tables
// used to price each call.
//
// Bucket writes are best-effort. A failed write is logged and counted but
// never fails the request that triggered it; the affected window simply
// undercounts.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/pkg/observability"
	"github.com/modelgate/modelgate/pkg/storage"
)

// Bucket retention. Hourly buckets feed the 24h/7d windows; daily summaries
// feed longer-range comparisons.
const (
	hourlyTTL = 30 * 24 * time.Hour
	dailyTTL  = 90 * 24 * time.Hour
)

// Key layouts in the KV store.
const (
	hourlyKeyFormat = "stats:2006-01-02-15"
	dailyKeySuffix  = "-summary"
	dailyDateFormat = "stats:2006-01-02"
	defaultCallCost = 0.001
)

// Record describes one completed (or failed) gateway request.
type Record struct {
	UserID           string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMS        int64
	Success          bool
	ErrorMessage     string
}

// hourlyBucket is the stored shape of stats:<YYYY-MM-DD-HH>.
type hourlyBucket struct {
	Count   int64    `json:"count"`
	Cost    float64  `json:"cost"`
	Latency int64    `json:"latency"`
	Users   []string `json:"users"`
}

// dailySummary is the stored shape of stats:<YYYY-MM-DD>-summary. Unlike
// the hourly bucket it keeps Users as a plain number, not a caller set, so
// the record stays bounded over a full day of traffic. Distinct-caller
// counts come from the hourly buckets.
type dailySummary struct {
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
	Latency  int64   `json:"latency"`
	Users    int64   `json:"users"`
}

// Recorder accumulates usage into KV buckets and, optionally, a request log.
type Recorder struct {
	kv           storage.KV
	logs         storage.RequestLogStore // nil disables per-request rows
	costPerCall  map[string]float64
	costPerToken map[string]float64
	now          func() time.Time
}

// NewRecorder creates a recorder. The cost maps are keyed by provider name;
// providers absent from costPerCall are billed at the default flat rate.
// logs may be nil to disable per-request log rows.
func NewRecorder(kv storage.KV, logs storage.RequestLogStore, costPerCall, costPerToken map[string]float64) *Recorder {
	return &Recorder{
		kv:           kv,
		logs:         logs,
		costPerCall:  costPerCall,
		costPerToken: costPerToken,
		now:          time.Now,
	}
}

// Record books one request into the current hourly bucket, the current
// daily summary, and the request log. It never returns an error: accounting
// failures must not surface to the caller being billed.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	now := r.now().UTC()
	cost := r.callCost(rec.Provider)

	r.updateHourly(ctx, now, rec, cost)
	r.updateDaily(ctx, now, rec, cost)
	r.appendLog(ctx, now, rec)
}

func (r *Recorder) callCost(provider string) float64 {
	if c, ok := r.costPerCall[provider]; ok {
		return c
	}
	return defaultCallCost
}

func (r *Recorder) tokenCost(provider string, tokens int) float64 {
	return r.costPerToken[provider] * float64(tokens)
}

func (r *Recorder) updateHourly(ctx context.Context, now time.Time, rec Record, cost float64) {
	key := now.Format(hourlyKeyFormat)

	var bucket hourlyBucket
	data, err := r.kv.Get(ctx, key)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &bucket); jsonErr != nil {
			slog.Warn("discarding corrupt stats bucket", "key", key, "error", jsonErr)
			bucket = hourlyBucket{}
		}
	case errors.Is(err, storage.ErrNotFound):
		// First request this hour.
	default:
		r.writeFailed(key, err)
		return
	}

	bucket.Count++
	bucket.Cost += cost
	bucket.Latency += rec.LatencyMS
	bucket.Users = addUser(bucket.Users, rec.UserID)

	out, _ := json.Marshal(bucket)
	if err := r.kv.Put(ctx, key, out, hourlyTTL); err != nil {
		r.writeFailed(key, err)
	}
}

func (r *Recorder) updateDaily(ctx context.Context, now time.Time, rec Record, cost float64) {
	key := now.Format(dailyDateFormat) + dailyKeySuffix

	var summary dailySummary
	data, err := r.kv.Get(ctx, key)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &summary); jsonErr != nil {
			slog.Warn("discarding corrupt stats summary", "key", key, "error", jsonErr)
			summary = dailySummary{}
		}
	case errors.Is(err, storage.ErrNotFound):
		// First request today.
	default:
		r.writeFailed(key, err)
		return
	}

	summary.Requests++
	summary.Cost += cost
	summary.Latency += rec.LatencyMS

	out, _ := json.Marshal(summary)
	if err := r.kv.Put(ctx, key, out, dailyTTL); err != nil {
		r.writeFailed(key, err)
	}
}

func (r *Recorder) appendLog(ctx context.Context, now time.Time, rec Record) {
	if r.logs == nil {
		return
	}
	row := storage.RequestLog{
		ID:               uuid.NewString(),
		UserID:           rec.UserID,
		Provider:         rec.Provider,
		Model:            rec.Model,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		LatencyMS:        rec.LatencyMS,
		CostUSD:          r.tokenCost(rec.Provider, rec.TotalTokens),
		Timestamp:        now,
		Success:          rec.Success,
		ErrorMessage:     rec.ErrorMessage,
	}
	if err := r.logs.Insert(ctx, &row); err != nil {
		slog.Warn("request log insert failed", "user_id", rec.UserID, "error", err)
	}
}

func (r *Recorder) writeFailed(key string, err error) {
	slog.Warn("usage bucket write failed", "key", key, "error", err)
	observability.UsageWriteFailuresTotal.Inc()
}

// addUser appends id to the set unless it is already present.
func addUser(users []string, id string) []string {
	if id == "" || slices.Contains(users, id) {
		return users
	}
	return append(users, id)
}

// UsageByUser returns the caller's per-provider aggregates from the request
// log, covering the last 30 days.
func (r *Recorder) UsageByUser(ctx context.Context, userID string) ([]storage.ProviderUsage, error) {
	if r.logs == nil {
		return nil, nil
	}
	since := r.now().Add(-30 * 24 * time.Hour)
	return r.logs.UsageByUser(ctx, userID, since)
}

// SetClock replaces the recorder's time source. Test helper.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}
