// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratelimit implements the windowed gates in front of the public
// verification endpoints.
//
// The cooldown limiter is a process-wide keyed map of last-seen timestamps
// with a fixed delay between admissions. The hourly quota is not implemented
// here: it lives in the license row and is enforced transactionally by the
// license store, so two concurrent requests for the same license cannot both
// be admitted past the threshold. This package only provides the hour bucket
// identity those counters rotate on.
package ratelimit

import (
	"sync"
	"time"
)

// HourlyQuotaLimit is the number of public code lookups admitted per license
// per hour bucket.
const HourlyQuotaLimit = 5

// HourBucketFormat renders a timestamp at hour granularity, e.g. "2024-01-15T14".
const HourBucketFormat = "2006-01-02T15"

// HourBucket returns the UTC hour bucket identity for t. Buckets are compared
// by value; a stored count is meaningful only relative to its bucket.
func HourBucket(t time.Time) string {
	return t.UTC().Format(HourBucketFormat)
}

// CooldownLimiter admits at most one request per key per cooldown period.
// Unknown keys are admitted immediately. Entries idle longer than the
// eviction window are garbage collected so the map stays bounded.
type CooldownLimiter struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	cooldown time.Duration
	evictAge time.Duration
	lastGC   time.Time

	// now is swappable for tests.
	now func() time.Time
}

const defaultEvictAge = 2 * time.Hour

// NewCooldownLimiter creates a limiter with the given fixed delay between
// admissions of the same key.
func NewCooldownLimiter(cooldown time.Duration) *CooldownLimiter {
	return &CooldownLimiter{
		lastSeen: make(map[string]time.Time),
		cooldown: cooldown,
		evictAge: defaultEvictAge,
		now:      time.Now,
	}
}

// Allow reports whether the key is admitted. On admission the key's timestamp
// is updated; on rejection nothing changes and the remaining wait is returned.
func (l *CooldownLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeEvict(now)

	if last, ok := l.lastSeen[key]; ok {
		if elapsed := now.Sub(last); elapsed < l.cooldown {
			return false, l.cooldown - elapsed
		}
	}

	l.lastSeen[key] = now
	return true, 0
}

// maybeEvict drops entries idle longer than evictAge. Runs at most once per
// eviction window; callers hold l.mu.
func (l *CooldownLimiter) maybeEvict(now time.Time) {
	if now.Sub(l.lastGC) < l.evictAge {
		return
	}
	l.lastGC = now

	for key, last := range l.lastSeen {
		if now.Sub(last) >= l.evictAge {
			delete(l.lastSeen, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *CooldownLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lastSeen)
}
