package bridge

import "time"

// Timer is the external collaborator used for periodic naming-protocol
// retransmission. pkg/bridge/adapters/timer ships a time.Ticker-backed
// implementation.
type Timer interface {
	// ScheduleRepeating invokes fn every interval until the returned
	// cancel func is called. fn runs on its own goroutine; callers
	// must not block it for longer than interval.
	ScheduleRepeating(interval time.Duration, fn func()) (cancel func())
}
