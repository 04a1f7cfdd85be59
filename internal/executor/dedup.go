package executor

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Dedup prevents the same set of target transactions from being bundled
// more than once within a time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // target-set key -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a target set as a duplicate if it
// was seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TargetKey is the order-independent identity of a target set. An empty
// set has an empty key.
func TargetKey(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// IsDuplicate reports whether key was seen within the TTL window. A key
// that is new or expired is recorded and false is returned. The empty key
// is never a duplicate.
func (d *Dedup) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops key so the next attempt is not treated as a duplicate.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup removes entries that have expired beyond the TTL and returns how
// many remain.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
	return len(d.seen)
}

// Reset forgets every entry.
func (d *Dedup) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.seen)
}

// Len returns the number of tracked target sets.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
