// Package quota provides pure functions for daily quota status and alerting.
// All functions are deterministic with no side effects.
package quota

import (
	"fmt"
	"time"

	"github.com/artpar/quotaguard/domain/plan"
)

// Thresholds are the usage percentages that raise alerts, scanned in order.
var Thresholds = []int{90, 95, 98, 100}

// Status is the daily quota position of an identity (value type).
type Status struct {
	Identity        string
	Plan            string
	Limits          plan.Limits
	QuotaUsed       int64
	QuotaRemaining  int64
	QuotaPercentage float64
}

// NewStatus derives a status from the quota counter value.
func NewStatus(identity, planName string, limits plan.Limits, used int64) Status {
	pct := 100.0
	if limits.QuotaPerDay > 0 {
		pct = float64(used) * 100 / float64(limits.QuotaPerDay)
	}
	return Status{
		Identity:        identity,
		Plan:            planName,
		Limits:          limits,
		QuotaUsed:       used,
		QuotaRemaining:  limits.QuotaPerDay - used,
		QuotaPercentage: pct,
	}
}

// Alert is a threshold crossing to notify about (value type).
type Alert struct {
	Identity        string
	Plan            string
	QuotaPercentage float64
	QuotaRemaining  int64
	Threshold       int
	Day             string
	Message         string
}

// Candidate scans Thresholds in ascending order and returns the first one the
// status meets or exceeds, skipping thresholds for which sent reports true.
// The result is the lowest pending threshold, not the highest crossed one.
func Candidate(s Status, sent func(threshold int) bool) (int, bool) {
	for _, th := range Thresholds {
		if s.QuotaPercentage < float64(th) {
			return 0, false
		}
		if sent != nil && sent(th) {
			continue
		}
		return th, true
	}
	return 0, false
}

// NewAlert builds the alert for a status and threshold.
func NewAlert(s Status, threshold int, day string) Alert {
	return Alert{
		Identity:        s.Identity,
		Plan:            s.Plan,
		QuotaPercentage: s.QuotaPercentage,
		QuotaRemaining:  s.QuotaRemaining,
		Threshold:       threshold,
		Day:             day,
		Message:         Message(threshold, s.QuotaPercentage),
	}
}

// Message returns the user-facing text for a threshold.
func Message(threshold int, pct float64) string {
	switch {
	case threshold >= 100:
		return "You have reached your daily quota limit. Please upgrade your plan or wait until tomorrow."
	case threshold >= 95:
		return fmt.Sprintf("You have used %.1f%% of your daily quota. Consider upgrading your plan.", pct)
	default:
		return fmt.Sprintf("You have used %.1f%% of your daily quota.", pct)
	}
}

// Day returns the UTC calendar day used for alert deduplication.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
