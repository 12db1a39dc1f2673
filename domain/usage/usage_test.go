package usage_test

import (
	"testing"
	"time"

	"github.com/artpar/quotaguard/domain/usage"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func TestAggregate(t *testing.T) {
	records := []usage.Record{
		{KeyID: "k1", Endpoint: "/a", Cost: 1, Timestamp: baseTime},
		{KeyID: "k1", Endpoint: "/b", Cost: 1, Timestamp: baseTime.Add(time.Minute)},
		{KeyID: "k1", Endpoint: "/b", Cost: 2, Timestamp: baseTime.Add(3 * time.Minute)},
		{KeyID: "k1", Endpoint: "/a", Cost: 1, Timestamp: baseTime.Add(2 * time.Minute)},
		{KeyID: "k1", Endpoint: "/c", Cost: 2, Timestamp: baseTime.Add(-time.Hour)},
	}

	stats := usage.Aggregate(records)

	want := []usage.EndpointStats{
		{Endpoint: "/b", Count: 3, LastUsed: baseTime.Add(3 * time.Minute)},
		{Endpoint: "/a", Count: 2, LastUsed: baseTime.Add(2 * time.Minute)},
		{Endpoint: "/c", Count: 2, LastUsed: baseTime.Add(-time.Hour)},
	}
	if len(stats) != len(want) {
		t.Fatalf("len(stats) = %d, want %d", len(stats), len(want))
	}
	for i, w := range want {
		got := stats[i]
		if got.Endpoint != w.Endpoint || got.Count != w.Count || !got.LastUsed.Equal(w.LastUsed) {
			t.Errorf("stats[%d] = %+v, want %+v", i, got, w)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	if stats := usage.Aggregate(nil); len(stats) != 0 {
		t.Errorf("Aggregate(nil) = %v, want empty", stats)
	}
}

func TestSum(t *testing.T) {
	records := []usage.Record{
		{Cost: 1, Timestamp: baseTime.Add(-2 * time.Minute)},
		{Cost: 1, Timestamp: baseTime.Add(-time.Minute)},
		{Cost: 3, Timestamp: baseTime},
	}

	tests := []struct {
		since time.Time
		want  int64
	}{
		{baseTime.Add(-time.Hour), 5},
		{baseTime.Add(-time.Minute), 4},
		{baseTime.Add(time.Second), 0},
	}
	for _, tt := range tests {
		if got := usage.Sum(records, tt.since); got != tt.want {
			t.Errorf("Sum(since=%v) = %d, want %d", tt.since, got, tt.want)
		}
	}
}

func TestNewReport(t *testing.T) {
	r := usage.NewReport("k1", baseTime, []usage.EndpointStats{{Endpoint: "/a", Count: 4}, {Endpoint: "/b", Count: 6}})
	if r.Total != 10 {
		t.Errorf("Total = %d, want 10", r.Total)
	}
}

func TestReportSince(t *testing.T) {
	if got := usage.ReportSince(baseTime, 0); !got.Equal(baseTime.AddDate(0, 0, -30)) {
		t.Errorf("ReportSince(0) = %v, want 30 days back", got)
	}
	if got := usage.ReportSince(baseTime, 7); !got.Equal(baseTime.AddDate(0, 0, -7)) {
		t.Errorf("ReportSince(7) = %v, want 7 days back", got)
	}
	if got := usage.ReportSince(baseTime, 200000); !got.Equal(baseTime.AddDate(0, 0, -usage.MaxReportDays)) {
		t.Errorf("ReportSince(200000) = %v, want capped at %d days back", got, usage.MaxReportDays)
	}
}
