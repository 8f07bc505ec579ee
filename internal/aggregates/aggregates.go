// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package aggregates maintains the in-memory minute/hour KPI counters shared
// between the stream processor's main loop and its periodic flush task.
package aggregates

import (
	"sync"
	"time"
)

// Metrics is the additive 5-tuple of counters tracked per bucket.
type Metrics struct {
	Revenue       float64
	OrderCount    int64
	SessionCount  int64
	CheckoutCount int64
	PurchaseCount int64
}

// Add returns the componentwise sum of m and other. The identity element is
// the zero value.
func (m Metrics) Add(other Metrics) Metrics {
	return Metrics{
		Revenue:       m.Revenue + other.Revenue,
		OrderCount:    m.OrderCount + other.OrderCount,
		SessionCount:  m.SessionCount + other.SessionCount,
		CheckoutCount: m.CheckoutCount + other.CheckoutCount,
		PurchaseCount: m.PurchaseCount + other.PurchaseCount,
	}
}

// BucketMap maps a bucket instant to its accumulated Metrics.
type BucketMap map[time.Time]Metrics

// Buffer holds the minute- and hour-granularity bucket maps. Zero value is
// not usable; construct with New.
type Buffer struct {
	mu     sync.Mutex
	minute BucketMap
	hour   BucketMap
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{
		minute: make(BucketMap),
		hour:   make(BucketMap),
	}
}

// MinuteBucket truncates t to the start of its minute, in UTC.
func MinuteBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC)
}

// HourBucket truncates t to the start of its hour, in UTC.
func HourBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// Add folds delta into both the minute and hour buckets derived from
// eventTime. Safe for concurrent use with Drain; a single Add's contribution
// is never split across two Drain calls.
func (b *Buffer) Add(eventTime time.Time, delta Metrics) {
	minuteKey := MinuteBucket(eventTime)
	hourKey := HourBucket(eventTime)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.minute[minuteKey] = b.minute[minuteKey].Add(delta)
	b.hour[hourKey] = b.hour[hourKey].Add(delta)
}

// Restore merges previously drained maps back into the buffer. Used when a
// flush attempt fails, so the drained deltas are carried into the next
// cycle instead of being lost.
func (b *Buffer) Restore(minute, hour BucketMap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, m := range minute {
		b.minute[k] = b.minute[k].Add(m)
	}
	for k, m := range hour {
		b.hour[k] = b.hour[k].Add(m)
	}
}

// Drain atomically swaps in fresh empty maps and returns the previous
// contents. Callers own the returned maps exclusively.
func (b *Buffer) Drain() (minute, hour BucketMap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	minute, hour = b.minute, b.hour
	b.minute = make(BucketMap)
	b.hour = make(BucketMap)
	return minute, hour
}
