package logtail

import (
	"sync"
	"time"
)

// Summary is a point-in-time description of the buffer contents.
type Summary struct {
	TotalCount int        `json:"total_count"`
	Oldest     *time.Time `json:"oldest_timestamp,omitempty"`
	Newest     *time.Time `json:"newest_timestamp,omitempty"`
	ErrorCount int        `json:"error_count"`
	WarnCount  int        `json:"warn_count"`
	// RecentErrors holds the last 5 distinct error message bodies,
	// most recent first, with their resident occurrence counts.
	RecentErrors []ErrorDigest `json:"recent_errors"`
	Instances    []string      `json:"instances"`
}

// ErrorDigest is one deduplicated error message with its occurrence count
// and the span (minutes) between its first and last resident occurrence.
type ErrorDigest struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Minutes int    `json:"window_minutes"`
}

// RollingBuffer is a bounded in-memory window over recent Records.
//
// Two independent bounds apply after every push: a maximum entry count and
// a maximum age. Eviction is FIFO. A single mutex guards the window and the
// severity counters; no method holds the lock across I/O.
type RollingBuffer struct {
	mu         sync.Mutex
	records    []*Record
	maxEntries int
	maxAge     time.Duration
	errorCount int
	warnCount  int

	// now is injected so age-based eviction is testable.
	now func() time.Time
}

// NewRollingBuffer creates a buffer bounded by maxEntries and maxAge.
// A nil clock defaults to time.Now.
func NewRollingBuffer(maxEntries int, maxAge time.Duration, now func() time.Time) *RollingBuffer {
	if now == nil {
		now = time.Now
	}
	return &RollingBuffer{
		records:    make([]*Record, 0, min(maxEntries, 1024)),
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        now,
	}
}

// Push appends a record and evicts from the front until both bounds hold.
func (b *RollingBuffer) Push(rec *Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, rec)
	b.count(rec, +1)
	b.evictLocked()
}

func (b *RollingBuffer) count(rec *Record, delta int) {
	switch rec.Level {
	case LevelError:
		b.errorCount += delta
	case LevelWarn:
		b.warnCount += delta
	}
}

// evictLocked drops the oldest records until both the size and age
// invariants hold. Amortized O(1) per push.
func (b *RollingBuffer) evictLocked() {
	drop := 0
	for len(b.records)-drop > b.maxEntries {
		b.count(b.records[drop], -1)
		drop++
	}

	cutoff := b.now().Add(-b.maxAge)
	for drop < len(b.records) && b.records[drop].Time.Before(cutoff) {
		b.count(b.records[drop], -1)
		drop++
	}

	if drop > 0 {
		// Copy down instead of reslicing so evicted records are freed.
		n := copy(b.records, b.records[drop:])
		for i := n; i < len(b.records); i++ {
			b.records[i] = nil
		}
		b.records = b.records[:n]
	}
}

// Recent returns up to n most recent records in chronological order.
func (b *RollingBuffer) Recent(n int) []*Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.records) == 0 {
		return nil
	}
	if n > len(b.records) {
		n = len(b.records)
	}
	out := make([]*Record, n)
	copy(out, b.records[len(b.records)-n:])
	return out
}

// Since returns all records with timestamp >= now-d, chronological.
func (b *RollingBuffer) Since(d time.Duration) []*Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-d)
	// Records are ordered by insertion, which tracks bus timestamps;
	// scan back to the first record inside the window.
	i := len(b.records)
	for i > 0 && !b.records[i-1].Time.Before(cutoff) {
		i--
	}
	if i == len(b.records) {
		return nil
	}
	out := make([]*Record, len(b.records)-i)
	copy(out, b.records[i:])
	return out
}

// ByLevel returns, per severity, up to perLevelN most recent records of
// that severity, each slice chronological.
func (b *RollingBuffer) ByLevel(perLevelN int) map[Level][]*Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[Level][]*Record{
		LevelInfo:  nil,
		LevelWarn:  nil,
		LevelError: nil,
		LevelDebug: nil,
	}
	if perLevelN <= 0 {
		return out
	}

	remaining := 4 * perLevelN
	for i := len(b.records) - 1; i >= 0 && remaining > 0; i-- {
		rec := b.records[i]
		if len(out[rec.Level]) < perLevelN {
			out[rec.Level] = append(out[rec.Level], rec)
			remaining--
		}
	}
	// Collected newest-first; flip to chronological.
	for _, recs := range out {
		for l, r := 0, len(recs)-1; l < r; l, r = l+1, r-1 {
			recs[l], recs[r] = recs[r], recs[l]
		}
	}
	return out
}

// Len reports the current number of resident records.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Counts returns the resident error and warn counts.
func (b *RollingBuffer) Counts() (errors, warns int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCount, b.warnCount
}

// Summary describes the buffer contents. Idempotent between pushes.
func (b *RollingBuffer) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		TotalCount:   len(b.records),
		ErrorCount:   b.errorCount,
		WarnCount:    b.warnCount,
		RecentErrors: []ErrorDigest{},
	}
	if len(b.records) == 0 {
		s.Instances = []string{}
		return s
	}

	oldest := b.records[0].Time
	newest := b.records[len(b.records)-1].Time
	s.Oldest = &oldest
	s.Newest = &newest

	// Last 5 distinct error messages, most recent first. Dedup is exact
	// message identity.
	type span struct {
		count       int
		first, last time.Time
	}
	seen := make(map[string]*span)
	order := []string{}
	for i := len(b.records) - 1; i >= 0; i-- {
		rec := b.records[i]
		if rec.Level != LevelError {
			continue
		}
		sp, ok := seen[rec.Message]
		if !ok {
			if len(order) == 5 {
				continue
			}
			sp = &span{first: rec.Time, last: rec.Time}
			seen[rec.Message] = sp
			order = append(order, rec.Message)
		}
		sp.count++
		if rec.Time.Before(sp.first) {
			sp.first = rec.Time
		}
		if rec.Time.After(sp.last) {
			sp.last = rec.Time
		}
	}
	for _, msg := range order {
		sp := seen[msg]
		minutes := int(sp.last.Sub(sp.first).Minutes())
		if minutes < 1 {
			minutes = 1
		}
		s.RecentErrors = append(s.RecentErrors, ErrorDigest{
			Message: msg,
			Count:   sp.count,
			Minutes: minutes,
		})
	}

	instances := make(map[string]struct{})
	for _, rec := range b.records {
		instances[rec.Instance] = struct{}{}
	}
	s.Instances = make([]string, 0, len(instances))
	for inst := range instances {
		s.Instances = append(s.Instances, inst)
	}
	return s
}
