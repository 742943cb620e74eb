package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// dedupKey identifies a duplicate bucket: exact match on severity,
// case-insensitive on host and title.
type dedupKey struct {
	host     string
	title    string
	severity alert.Severity
}

func keyFor(al *alert.Alert) dedupKey {
	return dedupKey{
		host:     strings.ToLower(al.Host),
		title:    strings.ToLower(al.Title),
		severity: al.Severity,
	}
}

// bucket holds the ordered recent timestamps for one key. Each bucket has
// its own lock so checks on different keys proceed in parallel while
// checks on the same key are serialized.
type bucket struct {
	mu    sync.Mutex
	times []time.Time
}

// Detector maintains recent-alert state and determines whether an incoming
// alert matches a prior one within the configured window. It is the sole
// owner of this state; memory is bounded by active key cardinality over the
// trailing window, not total alert volume.
type Detector struct {
	mu      sync.Mutex
	buckets map[dedupKey]*bucket
}

// NewDetector creates an empty duplicate detector.
func NewDetector() *Detector {
	return &Detector{buckets: make(map[dedupKey]*bucket)}
}

func (d *Detector) bucketFor(k dedupKey) *bucket {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buckets[k]
	if !ok {
		b = &bucket{}
		d.buckets[k] = b
	}
	return b
}

// Check reports whether the alert duplicates a prior alert for the same key
// within the window (inclusive at the boundary: a gap of exactly window
// counts as duplicate). The alert's timestamp is recorded into the bucket
// regardless of outcome, so a burst of N alerts flags alerts 2..N as
// duplicates of the first. Entries older than the window relative to the
// incoming alert's timestamp are evicted during the check.
func (d *Detector) Check(al *alert.Alert, window time.Duration) DuplicateResult {
	b := d.bucketFor(keyFor(al))

	b.mu.Lock()
	defer b.mu.Unlock()

	now := al.Timestamp

	// Lazy eviction: drop entries outside the window.
	kept := b.times[:0]
	for _, t := range b.times {
		if now.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	b.times = kept

	var res DuplicateResult
	for _, t := range b.times {
		res.IsDuplicate = true
		if t.After(res.MatchedAt) {
			res.MatchedAt = t
		}
	}

	b.times = append(b.times, now)
	return res
}

// Seed records alert timestamps without evaluating them, used to rebuild
// window state from the audit log's trailing window on cold start.
func (d *Detector) Seed(alerts []alert.Alert) {
	for i := range alerts {
		al := &alerts[i]
		b := d.bucketFor(keyFor(al))
		b.mu.Lock()
		b.times = append(b.times, al.Timestamp)
		b.mu.Unlock()
	}
}

// Keys returns the number of live buckets, for observability.
func (d *Detector) Keys() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buckets)
}
