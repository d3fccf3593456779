package rcp

import "sync/atomic"

// Stats accumulates end-of-run transfer statistics, in the spirit of
// the teacher's fs/accounting stats object (fs/accounting/stats_test.go,
// stats_groups_test.go) but scoped to the single-session shape this
// tool needs rather than rclone's multi-transfer group tracking.
type Stats struct {
	bytesSent     int64
	bytesReceived int64
	filesTotal    int64
	filesSkipped  int64
	filesAppended int64
	filesOverwritten int64
	errors        int64
}

func (s *Stats) AddSent(n int64)     { atomic.AddInt64(&s.bytesSent, n) }
func (s *Stats) AddReceived(n int64) { atomic.AddInt64(&s.bytesReceived, n) }
func (s *Stats) FileTransferred()    { atomic.AddInt64(&s.filesTotal, 1) }
func (s *Stats) FileSkipped()        { atomic.AddInt64(&s.filesSkipped, 1) }
func (s *Stats) FileAppended()       { atomic.AddInt64(&s.filesAppended, 1) }
func (s *Stats) FileOverwritten()    { atomic.AddInt64(&s.filesOverwritten, 1) }
func (s *Stats) Error()              { atomic.AddInt64(&s.errors, 1) }

// ErrorCount returns the number of non-fatal errors recorded so far,
// used to decide the process's final exit status (spec.md §7).
func (s *Stats) ErrorCount() int64 { return atomic.LoadInt64(&s.errors) }

// Snapshot is a point-in-time copy of the accumulated counters.
type Snapshot struct {
	BytesSent        int64
	BytesReceived    int64
	FilesTotal       int64
	FilesSkipped     int64
	FilesAppended    int64
	FilesOverwritten int64
	Errors           int64
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesSent:        atomic.LoadInt64(&s.bytesSent),
		BytesReceived:    atomic.LoadInt64(&s.bytesReceived),
		FilesTotal:       atomic.LoadInt64(&s.filesTotal),
		FilesSkipped:     atomic.LoadInt64(&s.filesSkipped),
		FilesAppended:    atomic.LoadInt64(&s.filesAppended),
		FilesOverwritten: atomic.LoadInt64(&s.filesOverwritten),
		Errors:           atomic.LoadInt64(&s.errors),
	}
}
