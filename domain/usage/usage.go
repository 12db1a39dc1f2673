// Package usage provides usage ledger types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"sort"
	"time"
)

// Report lookback bounds, in days.
const (
	DefaultReportDays = 30
	MaxReportDays     = 365
)

// Record is a single append-only usage fact (immutable value type).
type Record struct {
	ID        string
	KeyID     string
	Endpoint  string
	Cost      int64
	Timestamp time.Time
}

// EndpointStats is the usage of one endpoint over a period.
type EndpointStats struct {
	Endpoint string
	Count    int64
	LastUsed time.Time
}

// Report is the per-key usage view over a lookback period.
type Report struct {
	KeyID     string
	Since     time.Time
	Total     int64
	Endpoints []EndpointStats
}

// Aggregate sums cost per endpoint and keeps the latest timestamp.
// Results are ordered by count descending, then endpoint name.
// This is a PURE function.
func Aggregate(records []Record) []EndpointStats {
	byEndpoint := make(map[string]*EndpointStats)
	for _, r := range records {
		s, ok := byEndpoint[r.Endpoint]
		if !ok {
			s = &EndpointStats{Endpoint: r.Endpoint}
			byEndpoint[r.Endpoint] = s
		}
		s.Count += r.Cost
		if r.Timestamp.After(s.LastUsed) {
			s.LastUsed = r.Timestamp
		}
	}

	out := make([]EndpointStats, 0, len(byEndpoint))
	for _, s := range byEndpoint {
		out = append(out, *s)
	}
	SortStats(out)
	return out
}

// SortStats orders stats by count descending, then endpoint name.
func SortStats(stats []EndpointStats) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Endpoint < stats[j].Endpoint
	})
}

// Sum returns the total cost of records at or after since.
func Sum(records []Record, since time.Time) int64 {
	var total int64
	for _, r := range records {
		if !r.Timestamp.Before(since) {
			total += r.Cost
		}
	}
	return total
}

// NewReport builds a report from per-endpoint stats.
func NewReport(keyID string, since time.Time, stats []EndpointStats) Report {
	var total int64
	for _, s := range stats {
		total += s.Count
	}
	return Report{KeyID: keyID, Since: since, Total: total, Endpoints: stats}
}

// ReportSince returns the start of a report window of days ending at now.
// Non-positive days fall back to DefaultReportDays; longer windows are
// capped at MaxReportDays.
func ReportSince(now time.Time, days int) time.Time {
	switch {
	case days <= 0:
		days = DefaultReportDays
	case days > MaxReportDays:
		days = MaxReportDays
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
