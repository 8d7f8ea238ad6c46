// Package policy decides whether a member may be scanned.
package policy

import "time"

// ThrottleWindow is the interval during which repeated scans of the same member are denied
const ThrottleWindow = 24 * time.Hour

// Decision is the outcome of a scan check
type Decision struct {
	Allowed bool
	// RetryAfter is zero when Allowed
	RetryAfter time.Duration
}

// CanScan reports whether a scan at now is allowed given the last successful scan.
// A nil lastScan means the member was never scanned. Exactly one window elapsed is allowed.
func CanScan(lastScan *time.Time, now time.Time) Decision {
	if lastScan == nil {
		return Decision{Allowed: true}
	}
	elapsed := now.Sub(*lastScan)
	if elapsed >= ThrottleWindow {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, RetryAfter: ThrottleWindow - elapsed}
}

// Cutoff returns the latest lastScanTime that still allows a scan at now.
// Stores use it as the predicate "last_scan_time IS NULL OR last_scan_time <= cutoff",
// which is equivalent to CanScan.
func Cutoff(now time.Time) time.Time {
	return now.Add(-ThrottleWindow)
}
