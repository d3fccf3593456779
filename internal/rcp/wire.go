package rcp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hpnssh/hpnscp/internal/fbb"
)

// Wire-level constants (spec.md §4.3, §6).
const (
	// BufAndHash is the fixed envelope size every resume-mode
	// out-of-band record (R, S, additional C) is padded to, so the
	// sender can always read a predictable number of bytes without
	// desyncing a stock peer that doesn't understand them.
	BufAndHash = HashLen + 64

	// maxControlLine bounds line-oriented record parsing so a
	// corrupt or hostile peer can't force unbounded buffer growth.
	maxControlLine = 64 * 1024
)

// Ack byte values (spec.md §4.3 table).
const (
	ackOK        byte = 0x00
	ackNonFatal  byte = 0x01
	ackFatal     byte = 0x02
)

// Match indicator bytes the sender always sends after a resume
// negotiation response (spec.md §4.3 step 3).
const (
	matchOK   byte = 'M'
	matchFail byte = 'F'
	matchNone byte = 0x00
)

// FileRecord is a parsed `C` record: begin regular file.
type FileRecord struct {
	Mode uint32
	Size int64
	Hash string // only set when resume is negotiated
	Name string
}

// DirRecord is a parsed `D` record: enter directory.
type DirRecord struct {
	Mode uint32
	Name string
}

// TimeRecord is a parsed `T` record: preserve times for the next
// file or directory.
type TimeRecord struct {
	MTime int64
	ATime int64
}

// ResumeRecord is a parsed `R` (resume point) response.
type ResumeRecord struct {
	Mode uint32
	Size int64
	Hash string
}

// EndRecord marks an `E` (leave directory) line.
type EndRecord struct{}

// SkipRecord marks an `S` (skip, destination already matches) response.
type SkipRecord struct{}

// appendString writes s into buf (which is Reset first) and returns
// the live bytes.
func appendString(buf *fbb.Buffer, s string) ([]byte, error) {
	if err := buf.Reset(); err != nil {
		return nil, err
	}
	p, err := buf.Reserve(len(s))
	if err != nil {
		return nil, err
	}
	copy(p, s)
	return buf.Bytes(), nil
}

// appendPadded writes s into buf, zero-padded to total bytes, and
// returns the live bytes. It fails if s doesn't fit.
func appendPadded(buf *fbb.Buffer, s string, total int) ([]byte, error) {
	if len(s) > total {
		return nil, fmt.Errorf("rcp: record %q exceeds envelope size %d", s, total)
	}
	if err := buf.Reset(); err != nil {
		return nil, err
	}
	p, err := buf.Reserve(total)
	if err != nil {
		return nil, err
	}
	copy(p, s)
	return buf.Bytes(), nil
}

// MarshalTime builds a `T` record.
func MarshalTime(buf *fbb.Buffer, mtime, atime int64) ([]byte, error) {
	return appendString(buf, fmt.Sprintf("T%d 0 %d 0\n", mtime, atime))
}

// MarshalDir builds a `D` record.
func MarshalDir(buf *fbb.Buffer, mode uint32, name string) ([]byte, error) {
	return appendString(buf, fmt.Sprintf("D%04o 0 %s\n", mode&0o7777, name))
}

// MarshalEnd builds an `E` record.
func MarshalEnd(buf *fbb.Buffer) ([]byte, error) {
	return appendString(buf, "E\n")
}

// MarshalFile builds a `C` record. When hash is non-empty the
// resume-extension form carrying the sender's prefix hash is emitted;
// otherwise the stock-compatible three-field form is used.
func MarshalFile(buf *fbb.Buffer, mode uint32, size int64, hash, name string) ([]byte, error) {
	if hash == "" {
		return appendString(buf, fmt.Sprintf("C%04o %d %s\n", mode&0o7777, size, name))
	}
	return appendString(buf, fmt.Sprintf("C%04o %d %s %s\n", mode&0o7777, size, hash, name))
}

// MarshalResume builds a padded `R` resume-point response.
func MarshalResume(buf *fbb.Buffer, mode uint32, size int64, hash string) ([]byte, error) {
	return appendPadded(buf, fmt.Sprintf("R%04o %d %s\n", mode&0o7777, size, hash), BufAndHash)
}

// MarshalSkip builds a padded `S` skip response.
func MarshalSkip(buf *fbb.Buffer) ([]byte, error) {
	return appendPadded(buf, "S\n", BufAndHash)
}

// MarshalOverwrite builds a padded `C` overwrite response, echoing
// the destination's current mode/size/hash.
func MarshalOverwrite(buf *fbb.Buffer, mode uint32, size int64, hash string) ([]byte, error) {
	return appendPadded(buf, fmt.Sprintf("C%04o %d %s\n", mode&0o7777, size, hash), BufAndHash)
}

// readLine reads one record line, terminated by `\n`, into buf,
// using its growth policy rather than a fixed-size scratch array
// (spec.md §2: "RCP drives the peer streams, asking FBB to marshal
// outbound records and parse inbound records").
func readLine(r *bufio.Reader, buf *fbb.Buffer) (string, error) {
	if err := buf.Reset(); err != nil {
		return "", err
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		p, err := buf.Reserve(1)
		if err != nil {
			return "", err
		}
		p[0] = b
		if b == '\n' {
			break
		}
		if buf.Len() > maxControlLine {
			return "", ErrProtocolDesync
		}
	}
	return string(buf.Bytes()), nil
}

// readEnvelope reads exactly n bytes (a padded resume-mode record)
// into buf and returns the text up to the first newline.
func readEnvelope(r io.Reader, buf *fbb.Buffer, n int) (string, error) {
	if err := buf.Reset(); err != nil {
		return "", err
	}
	p, err := buf.Reserve(n)
	if err != nil {
		return "", err
	}
	if _, err := io.ReadFull(r, p); err != nil {
		return "", err
	}
	raw := buf.Bytes()
	if i := indexAny(raw, '\n', 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func indexAny(b []byte, c byte, start int) int {
	for i := start; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// ParseControlLine parses a line emitted by MarshalTime/Dir/End/File.
// resume indicates whether the resume extension's hash field is
// expected on `C` records.
func ParseControlLine(line string, resume bool) (interface{}, error) {
	line = strings.TrimSuffix(line, "\n")
	if line == "" {
		return nil, fmt.Errorf("%w: empty control line", ErrProtocolDesync)
	}
	switch line[0] {
	case 'T':
		return parseTime(line[1:])
	case 'D':
		return parseDir(line[1:])
	case 'E':
		return EndRecord{}, nil
	case 'C':
		return parseFile(line[1:], resume)
	default:
		return nil, fmt.Errorf("%w: unexpected leader %q", ErrProtocolDesync, line[:1])
	}
}

func parseTime(rest string) (TimeRecord, error) {
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		return TimeRecord{}, fmt.Errorf("%w: malformed T record", ErrProtocolDesync)
	}
	mtime, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return TimeRecord{}, fmt.Errorf("%w: bad mtime", ErrProtocolDesync)
	}
	atime, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return TimeRecord{}, fmt.Errorf("%w: bad atime", ErrProtocolDesync)
	}
	return TimeRecord{MTime: mtime, ATime: atime}, nil
}

func parseDir(rest string) (DirRecord, error) {
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) != 3 {
		return DirRecord{}, fmt.Errorf("%w: malformed D record", ErrProtocolDesync)
	}
	mode, err := strconv.ParseUint(parts[0], 8, 32)
	if err != nil {
		return DirRecord{}, fmt.Errorf("%w: bad mode", ErrProtocolDesync)
	}
	return DirRecord{Mode: uint32(mode), Name: parts[2]}, nil
}

func parseFile(rest string, resume bool) (FileRecord, error) {
	fieldCount := 3
	if resume {
		fieldCount = 4
	}
	parts := strings.SplitN(rest, " ", fieldCount)
	if len(parts) != fieldCount {
		return FileRecord{}, fmt.Errorf("%w: malformed C record", ErrProtocolDesync)
	}
	mode, err := strconv.ParseUint(parts[0], 8, 32)
	if err != nil {
		return FileRecord{}, fmt.Errorf("%w: bad mode", ErrProtocolDesync)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return FileRecord{}, fmt.Errorf("%w: bad size", ErrProtocolDesync)
	}
	rec := FileRecord{Mode: uint32(mode), Size: size}
	if resume {
		rec.Hash = parts[2]
		rec.Name = parts[3]
	} else {
		rec.Name = parts[2]
	}
	return rec, nil
}

// ParseResume parses an `R` resume-point response body (without the
// envelope padding already stripped by readEnvelope).
func ParseResume(line string) (ResumeRecord, error) {
	line = strings.TrimPrefix(line, "R")
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return ResumeRecord{}, fmt.Errorf("%w: malformed R record", ErrProtocolDesync)
	}
	mode, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return ResumeRecord{}, fmt.Errorf("%w: bad mode", ErrProtocolDesync)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return ResumeRecord{}, fmt.Errorf("%w: bad size", ErrProtocolDesync)
	}
	return ResumeRecord{Mode: uint32(mode), Size: size, Hash: fields[2]}, nil
}

// WriteAck writes the single-byte OK ack.
func WriteAck(w io.Writer) error {
	_, err := w.Write([]byte{ackOK})
	return err
}

// WriteError writes a non-fatal (0x01) or fatal (0x02) error record.
func WriteError(w io.Writer, fatal bool, message string) error {
	kind := ackNonFatal
	if fatal {
		kind = ackFatal
	}
	_, err := w.Write(append([]byte{kind}, []byte(message+"\n")...))
	return err
}

// ReadAck reads a single ack byte and, for non-OK values, the
// trailing message line. It returns a *PeerError for non-fatal and
// fatal peer reports.
func ReadAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch b {
	case ackOK:
		return nil
	case ackNonFatal, ackFatal:
		msg, _, err := r.ReadLine()
		if err != nil {
			return err
		}
		return &PeerError{Fatal: b == ackFatal, Message: string(msg)}
	default:
		return fmt.Errorf("%w: unexpected ack byte 0x%02x", ErrProtocolDesync, b)
	}
}

// WriteMatchByte writes the match indicator byte the sender always
// sends when resume is negotiated (spec.md §4.3 step 3).
func WriteMatchByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// ReadMatchByte reads the sender's match indicator byte.
func ReadMatchByte(r *bufio.Reader) (byte, error) {
	return r.ReadByte()
}
