package bridge

import "sync/atomic"

// Stats are the plain counters a transport exposes through Stats(),
// separate from the OpenTelemetry instruments in metrics.go. They
// mirror the bookkeeping fields the original bridge kept on its
// transport struct (normal/naming message counts, poll/no-poll
// counts), useful for a quick health check without standing up a
// metrics backend.
type Stats struct {
	NormalMessages atomic.Int64
	NamingMessages atomic.Int64
	Polls          atomic.Int64
	NoPolls        atomic.Int64
	Dropped        atomic.Int64
}

// Snapshot is a point-in-time copy of Stats safe to log or serialize.
type Snapshot struct {
	NormalMessages int64
	NamingMessages int64
	Polls          int64
	NoPolls        int64
	Dropped        int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		NormalMessages: s.NormalMessages.Load(),
		NamingMessages: s.NamingMessages.Load(),
		Polls:          s.Polls.Load(),
		NoPolls:        s.NoPolls.Load(),
		Dropped:        s.Dropped.Load(),
	}
}
