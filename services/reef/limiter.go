// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reef

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterSet holds one token bucket per rate-limited endpoint.
//
// A bucket sized to the rule's full budget with tokens refilling
// evenly across the window approximates the documented "N requests
// per window" behavior.
type limiterSet struct {
	mu     sync.Mutex
	users  *rate.Limiter
	orders *rate.Limiter
}

func newLimiterSet(set RuleSet) *limiterSet {
	l := &limiterSet{}
	l.apply(set)
	return l
}

func bucket(r RateLimitRule) *rate.Limiter {
	window := time.Duration(r.WindowSeconds) * time.Second
	return rate.NewLimiter(rate.Every(window/time.Duration(r.MaxRequests)), r.MaxRequests)
}

// apply rebuilds both buckets from a rule set. Counts in flight
// reset, which is acceptable for a scenario change.
func (l *limiterSet) apply(set RuleSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = bucket(set.Users.RateLimit)
	l.orders = bucket(set.Orders.RateLimit)
}

func (l *limiterSet) allowUsers() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users.Allow()
}

func (l *limiterSet) allowOrders() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders.Allow()
}
