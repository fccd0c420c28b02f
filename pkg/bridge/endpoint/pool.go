// Package endpoint holds the two lookup structures the dispatcher
// consults for every inbound frame: an exact-match multimap keyed by
// topic key, and a linearly-scanned list of compiled wildcard
// expressions. Neither structure is safe for concurrent access; both
// are owned exclusively by the transport's dispatcher goroutine, which
// is the only place they are read or mutated.
package endpoint

import (
	"regexp"

	"github.com/google/uuid"
)

// Record is one registered endpoint attached to a topic key; the
// transport registers subscriptions here, not inboxes. Value is opaque
// to this package; it is the object the owning package registered, recovered
// by a type assertion after ForEach/ForEachMatching hands it back.
type Record struct {
	Key      string
	ID       uuid.UUID
	Wildcard bool
	Regex    *regexp.Regexp
	Value    any
}

// Pool is an insertion-ordered multimap from topic key to the records
// registered under it. Duplicate keys are expected and produce
// fan-out: every registered record for a key is visited on a match.
type Pool struct {
	entries map[string][]*Record
	byID    map[uuid.UUID]*Record
}

func NewPool() *Pool {
	return &Pool{
		entries: make(map[string][]*Record),
		byID:    make(map[uuid.UUID]*Record),
	}
}

// Register appends rec under key, preserving insertion order relative
// to any other record already registered under the same key.
func (p *Pool) Register(key string, rec *Record) {
	p.entries[key] = append(p.entries[key], rec)
	p.byID[rec.ID] = rec
}

// Unregister removes the record with the given id registered under
// key. It reports whether a record was found and removed.
func (p *Pool) Unregister(key string, id uuid.UUID) bool {
	recs, ok := p.entries[key]
	if !ok {
		return false
	}
	for i, r := range recs {
		if r.ID == id {
			p.entries[key] = append(recs[:i:i], recs[i+1:]...)
			if len(p.entries[key]) == 0 {
				delete(p.entries, key)
			}
			delete(p.byID, id)
			return true
		}
	}
	return false
}

// Lookup returns the record registered with the given id, if any,
// without removing it. Used to recover a record's key/wildcard flag
// before an unregister so the caller can compute its socket filter
// prefix.
func (p *Pool) Lookup(id uuid.UUID) (*Record, bool) {
	rec, ok := p.byID[id]
	return rec, ok
}

// UnregisterByID removes a record without the caller knowing which
// key it was registered under. Fan-out subscriptions are identified
// by ID over the control channel, not by key, since several
// subscriptions may share one key.
func (p *Pool) UnregisterByID(id uuid.UUID) bool {
	rec, ok := p.byID[id]
	if !ok {
		return false
	}
	return p.Unregister(rec.Key, id)
}

// ForEach invokes fn for every record registered under key, in
// insertion order.
func (p *Pool) ForEach(key string, fn func(*Record)) {
	for _, r := range p.entries[key] {
		fn(r)
	}
}

// HasAny reports whether any record is registered under key.
func (p *Pool) HasAny(key string) bool {
	return len(p.entries[key]) > 0
}

// Len returns the total number of registered records across all keys.
func (p *Pool) Len() int {
	n := 0
	for _, recs := range p.entries {
		n += len(recs)
	}
	return n
}
