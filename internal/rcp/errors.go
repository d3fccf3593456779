package rcp

import (
	"errors"
	"fmt"
)

// ErrProtocolDesync marks an unexpected record leader, missing
// delimiter, or truncated record: fatal, per spec.md §7.
var ErrProtocolDesync = errors.New("rcp: protocol desync")

// PeerError wraps a peer-reported error record (0x01/0x02).
type PeerError struct {
	Fatal   bool
	Message string
}

func (e *PeerError) Error() string {
	if e.Fatal {
		return "peer fatal error: " + e.Message
	}
	return "peer error: " + e.Message
}

// deferredError holds the first-noted local I/O error for a file, so
// the per-file epilogue surfaces exactly one error to the peer even
// when multiple local operations failed (spec.md §7).
type deferredError struct {
	err error
}

// note records err if this is the first error noted for the current
// file; later errors are discarded (the first is the one reported).
func (d *deferredError) note(context string, err error) {
	if err == nil || d.err != nil {
		return
	}
	d.err = fmt.Errorf("%s: %w", context, err)
}

func (d *deferredError) take() error {
	err := d.err
	d.err = nil
	return err
}
