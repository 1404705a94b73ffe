package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/modelgate/modelgate/pkg/storage"
)

// Aggregate is the rollup of one time window.
type Aggregate struct {
	Requests     int64   `json:"requests"`
	Cost         float64 `json:"cost"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	ActiveUsers  int     `json:"active_users"`
}

// WindowStats pairs a window's aggregate with its change versus the window
// immediately before it.
type WindowStats struct {
	Aggregate
	RequestsChange string `json:"requests_change"`
	CostChange     string `json:"cost_change"`
	LatencyChange  string `json:"latency_change"`
	UsersChange    string `json:"users_change"`
}

// Window sums the hourly buckets for the `hours` hours ending at `end`
// (inclusive of end's hour). Missing buckets contribute nothing.
func (r *Recorder) Window(ctx context.Context, end time.Time, hours int) (Aggregate, error) {
	end = end.UTC().Truncate(time.Hour)

	var requests, latency int64
	var cost float64
	users := map[string]struct{}{}

	for i := 0; i < hours; i++ {
		key := end.Add(-time.Duration(i) * time.Hour).Format(hourlyKeyFormat)

		data, err := r.kv.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Aggregate{}, fmt.Errorf("reading stats bucket %s: %w", key, err)
		}

		var bucket hourlyBucket
		if err := json.Unmarshal(data, &bucket); err != nil {
			// Corrupt buckets are skipped rather than failing the window.
			continue
		}

		requests += bucket.Count
		cost += bucket.Cost
		latency += bucket.Latency
		for _, u := range bucket.Users {
			users[u] = struct{}{}
		}
	}

	agg := Aggregate{
		Requests:    requests,
		Cost:        cost,
		ActiveUsers: len(users),
	}
	if requests > 0 {
		agg.AvgLatencyMS = float64(latency) / float64(requests)
	}
	return agg, nil
}

// WindowWithChange computes the current window's aggregate plus change
// percentages against the window immediately preceding it.
func (r *Recorder) WindowWithChange(ctx context.Context, hours int) (*WindowStats, error) {
	now := r.now().UTC()

	current, err := r.Window(ctx, now, hours)
	if err != nil {
		return nil, err
	}
	previous, err := r.Window(ctx, now.Add(-time.Duration(hours)*time.Hour), hours)
	if err != nil {
		return nil, err
	}

	return &WindowStats{
		Aggregate:      current,
		RequestsChange: Change(float64(current.Requests), float64(previous.Requests)),
		CostChange:     Change(current.Cost, previous.Cost),
		LatencyChange:  Change(current.AvgLatencyMS, previous.AvgLatencyMS),
		UsersChange:    Change(float64(current.ActiveUsers), float64(previous.ActiveUsers)),
	}, nil
}

// Change renders the percentage movement from previous to current as a
// sign-prefixed string like "+12%" or "-5%". A missing or zero previous
// window yields "+100%" when there is current activity and "+0%" otherwise.
func Change(current, previous float64) string {
	if previous == 0 {
		if current > 0 {
			return "+100%"
		}
		return "+0%"
	}
	pct := math.Round((current - previous) / previous * 100)
	return fmt.Sprintf("%+d%%", int(pct))
}
