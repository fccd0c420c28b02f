package endpoint

import "github.com/google/uuid"

// WildcardList is the ordered set of wildcard subscriptions. Every
// inbound subject is scanned against this list in registration order,
// whether or not an exact Pool lookup also matched; the scan is O(n) in the
// number of live wildcard subscriptions, which the original protocol
// accepts since wildcard subscriptions are rare relative to exact
// ones.
type WildcardList struct {
	records []*Record
}

func NewWildcardList() *WildcardList {
	return &WildcardList{}
}

func (w *WildcardList) Add(rec *Record) {
	w.records = append(w.records, rec)
}

// Remove deletes the record with the given id. It reports whether a
// record was found and removed.
func (w *WildcardList) Remove(id uuid.UUID) bool {
	for i, r := range w.records {
		if r.ID == id {
			w.records = append(w.records[:i:i], w.records[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the record with the given id, if any, without removing
// it.
func (w *WildcardList) Find(id uuid.UUID) (*Record, bool) {
	for _, r := range w.records {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// ForEachMatching invokes fn for every record whose compiled regex
// matches subject, in registration order.
func (w *WildcardList) ForEachMatching(subject string, fn func(*Record)) {
	for _, r := range w.records {
		if r.Regex != nil && r.Regex.MatchString(subject) {
			fn(r)
		}
	}
}

func (w *WildcardList) Len() int {
	return len(w.records)
}
