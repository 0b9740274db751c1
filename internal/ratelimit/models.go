// Package ratelimit throttles unauthenticated and write-heavy endpoints per
// client IP using a sliding window.
package ratelimit

import (
	"time"
)

// EndpointClass groups routes that share a budget.
type EndpointClass string

const (
	// ClassAuth covers nonce issue, logins and registration.
	ClassAuth EndpointClass = "auth"
	// ClassSubmit covers incident submission, which costs a ledger read.
	ClassSubmit EndpointClass = "submit"
)

// Limit is the budget for one class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}
