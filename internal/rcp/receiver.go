package rcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hpnssh/hpnscp/internal/rcp/glob"
)

// Receiver parses the control protocol from a peer stream and
// applies file, directory, and times records to the local filesystem
// (spec.md §4.3).
type Receiver struct {
	s   *Session
	ctx context.Context

	dirStack     []string
	dirModeStack []uint32
	patterns     []string // optional name filter (brace-expanded globs)

	pendingTimes *TimeRecord
}

// NewReceiver returns a Receiver rooted at dest. dest is always used
// as the directory that incoming files and directories are written
// into; it is never used as the filename of a single incoming file.
func NewReceiver(ctx context.Context, s *Session, dest string) *Receiver {
	return &Receiver{s: s, ctx: ctx, dirStack: []string{dest}, dirModeStack: []uint32{0o755}}
}

// SetNamePatterns installs brace-expandable glob patterns that
// incoming basenames must match (spec.md §4.3, "Brace expansion").
func (rv *Receiver) SetNamePatterns(patterns []string) {
	rv.patterns = patterns
}

func (rv *Receiver) currentDir() string {
	return rv.dirStack[len(rv.dirStack)-1]
}

// Run drives the receive loop until the peer's stream is exhausted.
func (rv *Receiver) Run() error {
	for {
		if rv.s.Interrupted() {
			return fmt.Errorf("rcp: interrupted")
		}
		line, err := readLine(rv.s.in, rv.s.inb)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		rec, err := ParseControlLine(line, rv.s.Cfg.Resume)
		if err != nil {
			_ = WriteError(rv.s.Peer.Out, true, err.Error())
			return err
		}
		if err := rv.dispatch(rec); err != nil {
			return err
		}
	}
}

func (rv *Receiver) dispatch(rec interface{}) error {
	switch v := rec.(type) {
	case TimeRecord:
		rv.pendingTimes = &v
		return WriteAck(rv.s.Peer.Out)
	case DirRecord:
		return rv.handleDir(v)
	case EndRecord:
		return rv.handleEnd()
	case FileRecord:
		return rv.handleFile(v)
	default:
		return fmt.Errorf("%w: unparsed record type", ErrProtocolDesync)
	}
}

func (rv *Receiver) matchesPattern(name string) (bool, error) {
	if len(rv.patterns) == 0 {
		return true, nil
	}
	return glob.MatchAny(rv.patterns, name)
}

func (rv *Receiver) handleDir(rec DirRecord) error {
	ok, err := rv.matchesPattern(rec.Name)
	if err != nil {
		return err
	}
	if !ok {
		return WriteError(rv.s.Peer.Out, false, fmt.Sprintf("%s: name rejected by pattern", rec.Name))
	}

	path := filepath.Join(rv.currentDir(), rec.Name)
	info, statErr := os.Stat(path)
	switch {
	case statErr == nil && info.IsDir():
		// already present; nothing to create
	case os.IsNotExist(statErr):
		// grant owner-write temporarily so times/mode can be applied
		// on E even when the requested mode is read-only.
		if err := os.MkdirAll(path, os.FileMode(rec.Mode)|0o200); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case statErr != nil:
		return fmt.Errorf("%s: %w", path, statErr)
	default:
		return fmt.Errorf("%s: exists and is not a directory", path)
	}

	times := rv.pendingTimes
	rv.pendingTimes = nil
	rv.dirStack = append(rv.dirStack, path)
	rv.dirModeStack = append(rv.dirModeStack, rec.Mode)
	if times != nil {
		rv.applyTimesLater(path, *times)
	}
	return WriteAck(rv.s.Peer.Out)
}

func (rv *Receiver) handleEnd() error {
	if len(rv.dirStack) <= 1 {
		return fmt.Errorf("%w: unmatched E record", ErrProtocolDesync)
	}
	path := rv.dirStack[len(rv.dirStack)-1]
	mode := rv.dirModeStack[len(rv.dirModeStack)-1]
	rv.dirStack = rv.dirStack[:len(rv.dirStack)-1]
	rv.dirModeStack = rv.dirModeStack[:len(rv.dirModeStack)-1]
	if err := os.Chmod(path, os.FileMode(mode)); err != nil {
		rv.s.deferred.note(path, err)
	}
	if err := rv.s.deferred.take(); err != nil {
		return WriteError(rv.s.Peer.Out, false, err.Error())
	}
	return WriteAck(rv.s.Peer.Out)
}

// applyTimesLater applies mtime/atime to path immediately; the
// "later" in the name reflects that it runs after the directory or
// file it was buffered for has been fully written, per spec.md §4.3
// ("buffered and applied after the next file/directory is fully
// written").
func (rv *Receiver) applyTimesLater(path string, t TimeRecord) {
	if t.MTime < 0 || t.ATime < 0 {
		// Out-of-range values silently disable the apply (spec.md §4.3).
		return
	}
	mt := time.Unix(t.MTime, 0)
	at := time.Unix(t.ATime, 0)
	if err := os.Chtimes(path, at, mt); err != nil {
		rv.s.deferred.note(path, err)
	}
}

func (rv *Receiver) handleFile(rec FileRecord) error {
	ok, err := rv.matchesPattern(rec.Name)
	if err != nil {
		return err
	}
	if !ok {
		return rv.rejectFile(rec)
	}
	path := filepath.Join(rv.currentDir(), rec.Name)
	rv.s.currentFile = path

	if !rv.s.Cfg.Resume {
		return rv.receiveFull(rec, path)
	}
	return rv.receiveResumable(rec, path)
}

// rejectFile declines a file whose name doesn't match the configured
// patterns, without transferring its body. In resume mode the
// response must still be a padded envelope (the sender expects one
// whenever it sent a resume-extension C record), so a name rejection
// is answered the same way as an already-matching destination (`S`);
// in stock mode a plain non-fatal ack suffices.
func (rv *Receiver) rejectFile(rec FileRecord) error {
	if rv.s.Cfg.Resume {
		line, err := MarshalSkip(rv.s.out)
		if err != nil {
			return err
		}
		if _, err := rv.s.Peer.Out.Write(line); err != nil {
			return err
		}
		if _, err := ReadMatchByte(rv.s.in); err != nil {
			return err
		}
		return WriteAck(rv.s.Peer.Out)
	}
	return WriteError(rv.s.Peer.Out, false, fmt.Sprintf("%s: name rejected by pattern", rec.Name))
}

// receiveFull implements the stock-compatible flow.
func (rv *Receiver) receiveFull(rec FileRecord, path string) error {
	if err := WriteAck(rv.s.Peer.Out); err != nil {
		return err
	}
	return rv.receiveBodyAndFinish(path, rec.Mode, rec.Size, false)
}

// receiveResumable implements the resume negotiation (spec.md §4.3).
func (rv *Receiver) receiveResumable(rec FileRecord, path string) error {
	info, statErr := os.Stat(path)

	switch {
	case os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0):
		empty, err := EmptyHash()
		if err != nil {
			return err
		}
		line, err := MarshalResume(rv.s.out, rec.Mode, 0, empty)
		if err != nil {
			return err
		}
		if _, err := rv.s.Peer.Out.Write(line); err != nil {
			return err
		}
		return rv.afterResumeResponse(path, rec, 0, rec.Size, true)

	case statErr != nil:
		return fmt.Errorf("%s: %w", path, statErr)

	case info.Size() == rec.Size:
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		destHash, err := PrefixHash(f, info.Size())
		f.Close()
		if err != nil {
			return err
		}
		if destHash == rec.Hash {
			line, err := MarshalSkip(rv.s.out)
			if err != nil {
				return err
			}
			if _, err := rv.s.Peer.Out.Write(line); err != nil {
				return err
			}
			m, err := ReadMatchByte(rv.s.in)
			if err != nil {
				return err
			}
			_ = m // always matchNone for a skip; only the closing ack follows
			rv.s.Stats.FileSkipped()
			return WriteAck(rv.s.Peer.Out)
		}
		line, err := MarshalOverwrite(rv.s.out, rec.Mode, info.Size(), destHash)
		if err != nil {
			return err
		}
		if _, err := rv.s.Peer.Out.Write(line); err != nil {
			return err
		}
		return rv.afterResumeResponse(path, rec, info.Size(), rec.Size, false)

	case info.Size() < rec.Size:
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		destHash, err := PrefixHash(f, info.Size())
		f.Close()
		if err != nil {
			return err
		}
		line, err := MarshalResume(rv.s.out, rec.Mode, info.Size(), destHash)
		if err != nil {
			return err
		}
		if _, err := rv.s.Peer.Out.Write(line); err != nil {
			return err
		}
		return rv.afterResumeResponse(path, rec, info.Size(), rec.Size, true)

	default: // info.Size() > rec.Size
		line, err := MarshalOverwrite(rv.s.out, rec.Mode, info.Size(), "")
		if err != nil {
			return err
		}
		if _, err := rv.s.Peer.Out.Write(line); err != nil {
			return err
		}
		return rv.afterResumeResponse(path, rec, info.Size(), rec.Size, false)
	}
}

// afterResumeResponse reads the sender's match indicator and then
// receives the body it implies: an append of (totalSize-destSize)
// bytes on 'M', or a full (totalSize)-byte overwrite on 'F'/0x00.
// mayAppend gates whether 'M' is even a legal answer for this case
// (it never is for the plain-overwrite C-response branches).
func (rv *Receiver) afterResumeResponse(path string, rec FileRecord, destSize, totalSize int64, mayAppend bool) error {
	m, err := ReadMatchByte(rv.s.in)
	if err != nil {
		return err
	}
	switch m {
	case matchOK:
		if !mayAppend {
			return fmt.Errorf("%w: unexpected match byte for overwrite response", ErrProtocolDesync)
		}
		rv.s.Stats.FileAppended()
		return rv.receiveBodyAndFinish(path, rec.Mode, totalSize-destSize, true)
	case matchFail, matchNone:
		rv.s.Stats.FileOverwritten()
		return rv.receiveBodyAndFinish(path, rec.Mode, totalSize, false)
	default:
		return fmt.Errorf("%w: bad match byte 0x%02x", ErrProtocolDesync, m)
	}
}

// receiveBodyAndFinish reads exactly n bytes from the peer into path
// (appending if append is true, else truncating), reads the
// terminator byte, applies any pending times, and sends the final
// ack or deferred error.
func (rv *Receiver) receiveBodyAndFinish(path string, mode uint32, n int64, appendMode bool) error {
	var writeErr error
	if appendMode {
		writeErr = rv.appendViaSidecar(path, n)
	} else {
		writeErr = rv.overwriteDirect(path, mode, n)
	}
	if writeErr != nil {
		rv.s.deferred.note(path, writeErr)
	} else if err := os.Chmod(path, os.FileMode(mode)); err != nil {
		rv.s.deferred.note(path, err)
	}

	term, err := rv.s.in.ReadByte()
	if err != nil {
		return err
	}
	if term != ackOK {
		return fmt.Errorf("%w: missing body terminator", ErrProtocolDesync)
	}

	times := rv.pendingTimes
	rv.pendingTimes = nil
	if times != nil {
		rv.applyTimesLater(path, *times)
	}

	if err := rv.s.deferred.take(); err != nil {
		rv.s.Stats.Error()
		return WriteError(rv.s.Peer.Out, false, err.Error())
	}
	return WriteAck(rv.s.Peer.Out)
}

// overwriteDirect truncates (or creates) path and copies exactly n
// bytes from the peer into it. On a local write error it keeps
// draining the peer stream until n bytes have been consumed, to keep
// the two sides in sync (spec.md §7, "Interrupted writes").
func (rv *Receiver) overwriteDirect(path string, mode uint32, n int64) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		rv.s.deferred.note(path, err)
		return drain(rv.s.in, n)
	}
	defer dst.Close()
	_ = preallocate(n, dst)
	return rv.copyBody(dst, n)
}

// appendViaSidecar writes n incoming bytes to a randomly suffixed
// sidecar file, then concatenates it onto the existing destination
// and removes it (spec.md §6, "Persisted state").
func (rv *Receiver) appendViaSidecar(path string, n int64) error {
	suffix, err := randomSuffix()
	if err != nil {
		return err
	}
	sidecar := path + "." + suffix
	tmp, err := os.Create(sidecar)
	if err != nil {
		return drain(rv.s.in, n)
	}
	_ = preallocate(n, tmp)
	if err := rv.copyBody(tmp, n); err != nil {
		tmp.Close()
		os.Remove(sidecar)
		return err
	}
	tmp.Close()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		os.Remove(sidecar)
		return err
	}
	src, err := os.Open(sidecar)
	if err != nil {
		dst.Close()
		os.Remove(sidecar)
		return err
	}
	_, copyErr := io.Copy(dst, src)
	src.Close()
	dst.Close()
	os.Remove(sidecar)
	return copyErr
}

// copyBody copies exactly n bytes from the peer stream to dst,
// accounting each chunk against the bandwidth limiter.
func (rv *Receiver) copyBody(dst io.Writer, n int64) error {
	const blockSize = 32 * 1024
	buf := make([]byte, blockSize)
	var got int64
	for got < n {
		want := int64(blockSize)
		if remaining := n - got; remaining < want {
			want = remaining
		}
		read, err := rv.s.in.Read(buf[:want])
		if read > 0 {
			if _, werr := dst.Write(buf[:read]); werr != nil {
				// Keep consuming from the peer to maintain sync, but
				// remember the first write failure.
				remaining := n - got - int64(read)
				_ = drain(rv.s.in, remaining)
				rv.s.Stats.AddReceived(int64(read))
				return werr
			}
			got += int64(read)
			rv.s.Stats.AddReceived(int64(read))
			if lerr := rv.s.limiter.Account(rv.ctx, read); lerr != nil {
				return lerr
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	if got != n {
		return fmt.Errorf("rcp: short body: got %d of %d declared bytes", got, n)
	}
	return nil
}

// drain discards n bytes from r, used to keep the peer stream in sync
// after a local error (spec.md §7, "Interrupted writes").
func drain(r io.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	if err == io.EOF {
		return nil
	}
	return err
}
