package rcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Sender walks local paths and emits the control protocol records to
// drive a remote receiver (spec.md §4.3).
type Sender struct {
	s   *Session
	ctx context.Context
}

// NewSender returns a Sender driving s.
func NewSender(ctx context.Context, s *Session) *Sender {
	return &Sender{s: s, ctx: ctx}
}

// Run sends every path (recursing into directories when the session
// is configured for recursion).
func (sn *Sender) Run(paths []string) error {
	for _, p := range paths {
		if sn.s.Interrupted() {
			return fmt.Errorf("rcp: interrupted")
		}
		if err := sn.sendPath(p); err != nil {
			return err
		}
	}
	return nil
}

func (sn *Sender) sendPath(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if info.IsDir() {
		if !sn.s.Cfg.Recursive {
			return fmt.Errorf("%s: is a directory, recursion not requested", path)
		}
		return sn.sendDir(path, info)
	}
	return sn.sendFile(path, info)
}

func (sn *Sender) sendTimes(info os.FileInfo) error {
	if !sn.s.Cfg.PreserveTimes {
		return nil
	}
	mtime := info.ModTime().Unix()
	atime := mtime // os.FileInfo has no portable atime; mirror mtime.
	line, err := MarshalTime(sn.s.out, mtime, atime)
	if err != nil {
		return err
	}
	if _, err := sn.s.Peer.Out.Write(line); err != nil {
		return err
	}
	return ReadAck(sn.s.in)
}

func (sn *Sender) sendDir(path string, info os.FileInfo) error {
	if err := sn.sendTimes(info); err != nil {
		return err
	}
	line, err := MarshalDir(sn.s.out, uint32(info.Mode().Perm()), filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := sn.s.Peer.Out.Write(line); err != nil {
		return err
	}
	if err := ReadAck(sn.s.in); err != nil {
		return err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if sn.s.Interrupted() {
			return fmt.Errorf("rcp: interrupted")
		}
		if err := sn.sendPath(filepath.Join(path, e.Name())); err != nil {
			return err
		}
	}

	endLine, err := MarshalEnd(sn.s.out)
	if err != nil {
		return err
	}
	if _, err := sn.s.Peer.Out.Write(endLine); err != nil {
		return err
	}
	return ReadAck(sn.s.in)
}

func (sn *Sender) sendFile(path string, info os.FileInfo) error {
	if err := sn.sendTimes(info); err != nil {
		return err
	}

	mode := uint32(info.Mode().Perm())
	size := info.Size()
	name := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	if !sn.s.Cfg.Resume {
		return sn.sendFullFile(f, mode, size, name)
	}
	return sn.sendResumable(f, mode, size, name)
}

// sendFullFile implements the stock-compatible flow: emit C, wait
// ack, stream exactly size bytes, send 0x00, wait ack.
func (sn *Sender) sendFullFile(f *os.File, mode uint32, size int64, name string) error {
	line, err := MarshalFile(sn.s.out, mode, size, "", name)
	if err != nil {
		return err
	}
	if _, err := sn.s.Peer.Out.Write(line); err != nil {
		return err
	}
	if accepted, err := sn.handleFileAck(); err != nil || !accepted {
		return err
	}
	if err := sn.streamBody(f, size); err != nil {
		return err
	}
	if err := WriteAck(sn.s.Peer.Out); err != nil {
		return err
	}
	if err := ReadAck(sn.s.in); err != nil {
		return err
	}
	sn.s.Stats.FileTransferred()
	return nil
}

// handleFileAck reads the receiver's response to a just-sent C
// record. A peer-reported non-fatal rejection (the receiver declined
// the file, e.g. a name filter) is recorded and absorbed rather than
// aborting the whole run (spec.md §7: "Peer-reported non-fatal:
// increment the error counter, continue").
func (sn *Sender) handleFileAck() (accepted bool, err error) {
	err = ReadAck(sn.s.in)
	if err == nil {
		return true, nil
	}
	if pe, ok := err.(*PeerError); ok && !pe.Fatal {
		sn.s.Stats.Error()
		return false, nil
	}
	return false, err
}

// sendResumable implements the resume negotiation (spec.md §4.3).
func (sn *Sender) sendResumable(f *os.File, mode uint32, size int64, name string) error {
	hash, err := PrefixHash(f, size)
	if err != nil {
		return err
	}
	line, err := MarshalFile(sn.s.out, mode, size, hash, name)
	if err != nil {
		return err
	}
	if _, err := sn.s.Peer.Out.Write(line); err != nil {
		return err
	}

	envelope, err := readEnvelope(sn.s.in, sn.s.inb, BufAndHash)
	if err != nil {
		return err
	}
	if envelope == "" {
		return fmt.Errorf("%w: empty resume response", ErrProtocolDesync)
	}

	switch envelope[0] {
	case 'S':
		// Destination already matches: no body, but always send the
		// match indicator to stay in sync.
		if err := WriteMatchByte(sn.s.Peer.Out, matchNone); err != nil {
			return err
		}
		if err := ReadAck(sn.s.in); err != nil {
			return err
		}
		sn.s.Stats.FileSkipped()
		return nil

	case 'C':
		// Overwrite: same size but different content, or destination
		// larger than the source.
		if err := WriteMatchByte(sn.s.Peer.Out, matchNone); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := sn.streamBody(f, size); err != nil {
			return err
		}
		if err := WriteAck(sn.s.Peer.Out); err != nil {
			return err
		}
		if err := ReadAck(sn.s.in); err != nil {
			return err
		}
		sn.s.Stats.FileOverwritten()
		return nil

	case 'R':
		resume, err := ParseResume(envelope)
		if err != nil {
			return err
		}
		return sn.negotiateResume(f, size, resume)

	default:
		return fmt.Errorf("%w: unexpected resume response leader %q", ErrProtocolDesync, envelope[:1])
	}
}

// negotiateResume handles the `R` response: compare the sender's own
// prefix hash of the destination's declared size against the echoed
// hash, then append the suffix on a match or send the whole file on a
// mismatch.
func (sn *Sender) negotiateResume(f *os.File, size int64, resume ResumeRecord) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	ownPrefix, err := PrefixHash(f, resume.Size)
	if err != nil {
		return err
	}

	if ownPrefix == resume.Hash && resume.Size <= size {
		if err := WriteMatchByte(sn.s.Peer.Out, matchOK); err != nil {
			return err
		}
		if _, err := f.Seek(resume.Size, io.SeekStart); err != nil {
			return err
		}
		if err := sn.streamBody(f, size-resume.Size); err != nil {
			return err
		}
		if err := WriteAck(sn.s.Peer.Out); err != nil {
			return err
		}
		if err := ReadAck(sn.s.in); err != nil {
			return err
		}
		sn.s.Stats.FileAppended()
		return nil
	}

	if err := WriteMatchByte(sn.s.Peer.Out, matchFail); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := sn.streamBody(f, size); err != nil {
		return err
	}
	if err := WriteAck(sn.s.Peer.Out); err != nil {
		return err
	}
	if err := ReadAck(sn.s.in); err != nil {
		return err
	}
	sn.s.Stats.FileOverwritten()
	return nil
}

// streamBody copies exactly n bytes from f to the peer, accounting
// every write against the bandwidth limiter.
func (sn *Sender) streamBody(f *os.File, n int64) error {
	const blockSize = 32 * 1024
	buf := make([]byte, blockSize)
	var sent int64
	for sent < n {
		want := int64(blockSize)
		if remaining := n - sent; remaining < want {
			want = remaining
		}
		read, err := f.Read(buf[:want])
		if read > 0 {
			if _, werr := sn.s.Peer.Out.Write(buf[:read]); werr != nil {
				return werr
			}
			sent += int64(read)
			sn.s.Stats.AddSent(int64(read))
			if lerr := sn.s.limiter.Account(sn.ctx, read); lerr != nil {
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
	if sent != n {
		return fmt.Errorf("rcp: short read: sent %d of %d declared bytes", sent, n)
	}
	return nil
}
