package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelgate/modelgate/pkg/storage/memory"
)

// failingKV rejects every operation.
type failingKV struct{}

var errKVDown = errors.New("store unavailable")

func (failingKV) Get(context.Context, string) ([]byte, error)              { return nil, errKVDown }
func (failingKV) Put(context.Context, string, []byte, time.Duration) error { return errKVDown }
func (failingKV) Delete(context.Context, string) error                     { return errKVDown }
func (failingKV) List(context.Context, string) ([]string, error)           { return nil, errKVDown }

func TestChange(t *testing.T) {
	tests := []struct {
		name              string
		current, previous float64
		want              string
	}{
		{"no prior activity", 0, 0, "+0%"},
		{"new activity", 50, 0, "+100%"},
		{"flat", 10, 10, "+0%"},
		{"growth", 150, 100, "+50%"},
		{"decline", 75, 100, "-25%"},
		{"rounded", 101, 300, "-66%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Change(tt.current, tt.previous); got != tt.want {
				t.Errorf("Change(%g, %g) = %q, want %q", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestWindowSumsHourlyBuckets(t *testing.T) {
	kv := memory.NewKV()
	r := NewRecorder(kv, nil, testCallCosts, testTokenCosts)
	ctx := context.Background()

	base := time.Date(2026, time.March, 5, 23, 0, 0, 0, time.UTC)

	// Three requests spread over the last 24 hours, one outside the window.
	for _, at := range []time.Time{
		base,
		base.Add(-5 * time.Hour),
		base.Add(-23 * time.Hour),
		base.Add(-30 * time.Hour), // outside
	} {
		r.SetClock(fixedClock(at))
		r.Record(ctx, Record{UserID: "u-1", Provider: "openai", LatencyMS: 100, Success: true})
	}

	agg, err := r.Window(ctx, base, 24)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if agg.Requests != 3 {
		t.Errorf("Requests = %d, want 3 inside the window", agg.Requests)
	}
	if agg.AvgLatencyMS != 100 {
		t.Errorf("AvgLatencyMS = %g, want 100", agg.AvgLatencyMS)
	}
	if agg.ActiveUsers != 1 {
		t.Errorf("ActiveUsers = %d, want 1", agg.ActiveUsers)
	}
}

func TestWindowWithChange(t *testing.T) {
	kv := memory.NewKV()
	r := NewRecorder(kv, nil, testCallCosts, testTokenCosts)
	ctx := context.Background()

	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	// Previous window: one request. Current window: two.
	r.SetClock(fixedClock(now.Add(-30 * time.Hour)))
	r.Record(ctx, Record{UserID: "u-1", Provider: "openai", Success: true})
	for i := 0; i < 2; i++ {
		r.SetClock(fixedClock(now.Add(-time.Duration(i) * time.Hour)))
		r.Record(ctx, Record{UserID: "u-1", Provider: "openai", Success: true})
	}

	r.SetClock(fixedClock(now))
	stats, err := r.WindowWithChange(ctx, 24)
	if err != nil {
		t.Fatalf("WindowWithChange failed: %v", err)
	}

	if stats.Requests != 2 {
		t.Errorf("Requests = %d, want 2", stats.Requests)
	}
	if stats.RequestsChange != "+100%" {
		t.Errorf("RequestsChange = %q, want +100%%", stats.RequestsChange)
	}
}

func TestWindowWithChangeEmptyStore(t *testing.T) {
	r := NewRecorder(memory.NewKV(), nil, testCallCosts, testTokenCosts)

	stats, err := r.WindowWithChange(context.Background(), 24)
	if err != nil {
		t.Fatalf("WindowWithChange failed: %v", err)
	}
	if stats.Requests != 0 {
		t.Errorf("Requests = %d, want 0", stats.Requests)
	}
	if stats.RequestsChange != "+0%" {
		t.Errorf("RequestsChange = %q, want +0%% with no activity at all", stats.RequestsChange)
	}
}
