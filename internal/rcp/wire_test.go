package rcp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpnssh/hpnscp/internal/fbb"
)

func TestMarshalParseTimeRoundTrip(t *testing.T) {
	buf := fbb.New()
	line, err := MarshalTime(buf, 1700000000, 1700000500)
	require.NoError(t, err)

	rec, err := ParseControlLine(string(line), false)
	require.NoError(t, err)
	tr, ok := rec.(TimeRecord)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), tr.MTime)
	assert.Equal(t, int64(1700000500), tr.ATime)
}

func TestMarshalParseDirRoundTrip(t *testing.T) {
	buf := fbb.New()
	line, err := MarshalDir(buf, 0o755, "subdir")
	require.NoError(t, err)

	rec, err := ParseControlLine(string(line), false)
	require.NoError(t, err)
	dr, ok := rec.(DirRecord)
	require.True(t, ok)
	assert.Equal(t, uint32(0o755), dr.Mode)
	assert.Equal(t, "subdir", dr.Name)
}

func TestMarshalParseEndRoundTrip(t *testing.T) {
	buf := fbb.New()
	line, err := MarshalEnd(buf)
	require.NoError(t, err)

	rec, err := ParseControlLine(string(line), false)
	require.NoError(t, err)
	assert.Equal(t, EndRecord{}, rec)
}

func TestMarshalParseFileStockRoundTrip(t *testing.T) {
	buf := fbb.New()
	line, err := MarshalFile(buf, 0o644, 1234, "", "report.txt")
	require.NoError(t, err)

	rec, err := ParseControlLine(string(line), false)
	require.NoError(t, err)
	fr, ok := rec.(FileRecord)
	require.True(t, ok)
	assert.Equal(t, uint32(0o644), fr.Mode)
	assert.Equal(t, int64(1234), fr.Size)
	assert.Equal(t, "report.txt", fr.Name)
	assert.Empty(t, fr.Hash)
}

func TestMarshalParseFileResumeRoundTrip(t *testing.T) {
	buf := fbb.New()
	hash := strings.Repeat("ab", HashLen/2)
	line, err := MarshalFile(buf, 0o644, 4096, hash, "with a space.bin")
	require.NoError(t, err)

	rec, err := ParseControlLine(string(line), true)
	require.NoError(t, err)
	fr, ok := rec.(FileRecord)
	require.True(t, ok)
	assert.Equal(t, uint32(0o644), fr.Mode)
	assert.Equal(t, int64(4096), fr.Size)
	assert.Equal(t, hash, fr.Hash)
	assert.Equal(t, "with a space.bin", fr.Name)
}

func TestMarshalParseResumeEnvelopeRoundTrip(t *testing.T) {
	buf := fbb.New()
	hash := strings.Repeat("cd", HashLen/2)
	envelope, err := MarshalResume(buf, 0o600, 9000, hash)
	require.NoError(t, err)
	require.Len(t, envelope, BufAndHash)

	readBuf := fbb.New()
	text, err := readEnvelope(strings.NewReader(string(envelope)), readBuf, BufAndHash)
	require.NoError(t, err)

	rr, err := ParseResume(text)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), rr.Mode)
	assert.Equal(t, int64(9000), rr.Size)
	assert.Equal(t, hash, rr.Hash)
}

func TestMarshalSkipEnvelopeIsPadded(t *testing.T) {
	buf := fbb.New()
	envelope, err := MarshalSkip(buf)
	require.NoError(t, err)
	require.Len(t, envelope, BufAndHash)
	assert.True(t, strings.HasPrefix(string(envelope), "S\n"))
}

func TestParseControlLineRejectsUnknownLeader(t *testing.T) {
	_, err := ParseControlLine("Z garbage\n", false)
	assert.ErrorIs(t, err, ErrProtocolDesync)
}

func TestParseControlLineRejectsEmptyLine(t *testing.T) {
	_, err := ParseControlLine("", false)
	assert.ErrorIs(t, err, ErrProtocolDesync)
}

func TestParseFileRejectsMalformedResumeRecord(t *testing.T) {
	_, err := ParseControlLine("C0644 10 onlytwofields\n", true)
	assert.ErrorIs(t, err, ErrProtocolDesync)
}

func TestReadLineGrowsAcrossBufferedReader(t *testing.T) {
	buf := fbb.New()
	r := bufio.NewReader(strings.NewReader("D0755 0 a/b/c\nE\n"))

	line, err := readLine(r, buf)
	require.NoError(t, err)
	rec, err := ParseControlLine(line, false)
	require.NoError(t, err)
	dr, ok := rec.(DirRecord)
	require.True(t, ok)
	assert.Equal(t, "a/b/c", dr.Name)

	line, err = readLine(r, buf)
	require.NoError(t, err)
	rec, err = ParseControlLine(line, false)
	require.NoError(t, err)
	assert.Equal(t, EndRecord{}, rec)
}

func TestAckRoundTrip(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteAck(&sb))
	r := bufio.NewReader(strings.NewReader(sb.String()))
	assert.NoError(t, ReadAck(r))
}

func TestAckNonFatalSurfacesAsPeerError(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteError(&sb, false, "name filtered out"))
	r := bufio.NewReader(strings.NewReader(sb.String()))

	err := ReadAck(r)
	require.Error(t, err)
	pe, ok := err.(*PeerError)
	require.True(t, ok)
	assert.False(t, pe.Fatal)
	assert.Equal(t, "name filtered out", pe.Message)
}

func TestAckFatalSurfacesAsPeerError(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteError(&sb, true, "disk full"))
	r := bufio.NewReader(strings.NewReader(sb.String()))

	err := ReadAck(r)
	require.Error(t, err)
	pe, ok := err.(*PeerError)
	require.True(t, ok)
	assert.True(t, pe.Fatal)
}

func TestMatchByteRoundTrip(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteMatchByte(&sb, matchOK))
	r := bufio.NewReader(strings.NewReader(sb.String()))
	b, err := ReadMatchByte(r)
	require.NoError(t, err)
	assert.Equal(t, matchOK, b)
}
