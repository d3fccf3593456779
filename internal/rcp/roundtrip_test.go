package rcp

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpnssh/hpnscp/internal/config"
	"github.com/hpnssh/hpnscp/internal/peer"
)

// roundtrip wires a Sender and a Receiver together over an in-process
// pipe pair and runs them concurrently to completion, the same shape
// cmd/hpnscp's local driver uses.
func roundtrip(t *testing.T, cfg config.Config, sources []string, dest string) (*Session, *Session) {
	t.Helper()

	senderRead, senderWrite := io.Pipe()
	receiverRead, receiverWrite := io.Pipe()

	senderSession := NewSession(cfg, peer.Pair{In: receiverRead, Out: senderWrite})
	receiverSession := NewSession(cfg, peer.Pair{In: senderRead, Out: receiverWrite})

	senderErr := make(chan error, 1)
	receiverErr := make(chan error, 1)

	go func() {
		defer senderWrite.Close()
		senderErr <- NewSender(context.Background(), senderSession).Run(sources)
	}()
	go func() {
		defer receiverWrite.Close()
		receiverErr <- NewReceiver(context.Background(), receiverSession, dest).Run()
	}()

	require.NoError(t, <-senderErr)
	require.NoError(t, <-receiverErr)
	return senderSession, receiverSession
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRoundtripSingleFileFullTransfer(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "hello, world")

	cfg := config.Default()
	roundtrip(t, cfg, []string{filepath.Join(src, "a.txt")}, dst)

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(got))
}

func TestRoundtripDirectoryRecursion(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "tree", "sub"), 0o755))
	writeFile(t, filepath.Join(src, "tree", "top.txt"), "top")
	writeFile(t, filepath.Join(src, "tree", "sub", "leaf.txt"), "leaf")

	cfg := config.Default()
	cfg.Recursive = true
	roundtrip(t, cfg, []string{filepath.Join(src, "tree")}, dst)

	top, err := os.ReadFile(filepath.Join(dst, "tree", "top.txt"))
	require.NoError(t, err)
	require.Equal(t, "top", string(top))

	leaf, err := os.ReadFile(filepath.Join(dst, "tree", "sub", "leaf.txt"))
	require.NoError(t, err)
	require.Equal(t, "leaf", string(leaf))
}

func TestRoundtripResumeSkipsIdenticalFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "identical content")
	writeFile(t, filepath.Join(dst, "a.txt"), "identical content")

	cfg := config.Default()
	cfg.Resume = true
	_, receiverSession := roundtrip(t, cfg, []string{filepath.Join(src, "a.txt")}, dst)

	snap := receiverSession.Stats.Snapshot()
	require.EqualValues(t, 1, snap.FilesSkipped)
	require.EqualValues(t, 0, snap.FilesOverwritten)
	require.EqualValues(t, 0, snap.FilesAppended)
}

func TestRoundtripResumeAppendsMissingSuffix(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "0123456789abcdef")
	writeFile(t, filepath.Join(dst, "a.txt"), "0123456789") // partial prefix, matches

	cfg := config.Default()
	cfg.Resume = true
	_, receiverSession := roundtrip(t, cfg, []string{filepath.Join(src, "a.txt")}, dst)

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef", string(got))

	snap := receiverSession.Stats.Snapshot()
	require.EqualValues(t, 1, snap.FilesAppended)
}

func TestRoundtripResumeOverwritesOnPrefixMismatch(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "freshcontent12345")
	writeFile(t, filepath.Join(dst, "a.txt"), "stalecontentxxxxx") // same length, different bytes

	cfg := config.Default()
	cfg.Resume = true
	_, receiverSession := roundtrip(t, cfg, []string{filepath.Join(src, "a.txt")}, dst)

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "freshcontent12345", string(got))

	snap := receiverSession.Stats.Snapshot()
	require.EqualValues(t, 1, snap.FilesOverwritten)
}

func TestRoundtripResumeAbsentDestinationFullyTransfers(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "new.txt"), "brand new file")

	cfg := config.Default()
	cfg.Resume = true
	roundtrip(t, cfg, []string{filepath.Join(src, "new.txt")}, dst)

	got, err := os.ReadFile(filepath.Join(dst, "new.txt"))
	require.NoError(t, err)
	require.Equal(t, "brand new file", string(got))
}

func TestRoundtripNamePatternRejectsNonMatchingFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.log"), "keep me")

	cfg := config.Default()
	senderRead, senderWrite := io.Pipe()
	receiverRead, receiverWrite := io.Pipe()
	senderSession := NewSession(cfg, peer.Pair{In: receiverRead, Out: senderWrite})
	receiverSession := NewSession(cfg, peer.Pair{In: senderRead, Out: receiverWrite})

	rv := NewReceiver(context.Background(), receiverSession, dst)
	rv.SetNamePatterns([]string{"*.txt"})

	senderErr := make(chan error, 1)
	receiverErr := make(chan error, 1)
	go func() {
		defer senderWrite.Close()
		senderErr <- NewSender(context.Background(), senderSession).Run([]string{filepath.Join(src, "keep.log")})
	}()
	go func() {
		defer receiverWrite.Close()
		receiverErr <- rv.Run()
	}()

	require.NoError(t, <-senderErr)
	require.NoError(t, <-receiverErr)

	_, statErr := os.Stat(filepath.Join(dst, "keep.log"))
	require.True(t, os.IsNotExist(statErr))
}
