package rcp

import (
	"bufio"
	"sync/atomic"

	"github.com/hpnssh/hpnscp/internal/config"
	"github.com/hpnssh/hpnscp/internal/fbb"
	"github.com/hpnssh/hpnscp/internal/peer"
)

// Session holds the state for one hpnscp invocation (spec.md §3,
// "Resumable Copy session state").
type Session struct {
	Cfg  config.Config
	Peer peer.Pair

	in  *bufio.Reader
	out *fbb.Buffer // scratch buffer reused to marshal outbound records
	inb *fbb.Buffer // scratch buffer reused to parse inbound records

	limiter *BWLimiter
	Stats   *Stats

	deferred deferredError

	// interrupted is polled at I/O boundaries instead of using signal
	// handlers inside the core abstraction (spec.md §9, "Signal
	// handlers that reap the peer").
	interrupted int32

	currentFile string
}

// NewSession builds a Session ready to drive cfg's peer stream pair.
func NewSession(cfg config.Config, p peer.Pair) *Session {
	return &Session{
		Cfg:     cfg,
		Peer:    p,
		in:      bufio.NewReaderSize(p.In, 64*1024),
		out:     fbb.New(),
		inb:     fbb.New(),
		limiter: NewBWLimiter(cfg.BandwidthLimitKbps),
		Stats:   &Stats{},
	}
}

// Interrupt marks the session as interrupted; subsequent I/O
// boundary checks will abort the transfer. Safe to call from a
// signal handler (outside this package's scope, per spec.md §5).
func (s *Session) Interrupt() {
	atomic.StoreInt32(&s.interrupted, 1)
}

// Interrupted reports whether Interrupt has been called.
func (s *Session) Interrupted() bool {
	return atomic.LoadInt32(&s.interrupted) != 0
}
