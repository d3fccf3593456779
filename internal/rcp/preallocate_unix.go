//go:build linux

package rcp

import (
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/hpnssh/hpnscp/internal/log"
)

// fallocFlags is tried in order; ZFS and a few other filesystems
// reject FALLOC_FL_KEEP_SIZE alone, so a second combination is tried
// before giving up (grounded on the teacher's local backend, which
// hits the same ZFS quirk: backend/local/preallocate_unix.go).
var fallocFlags = [...]uint32{
	unix.FALLOC_FL_KEEP_SIZE,
	unix.FALLOC_FL_KEEP_SIZE | unix.FALLOC_FL_PUNCH_HOLE,
}

// fallocStart remembers which combination last worked, so once a
// filesystem's quirk is learned the cheaper entry is tried first on
// every later call instead of re-discovering it file by file.
var fallocStart int32

// preallocate reserves size bytes for out so the filesystem can lay
// them out contiguously ahead of the streamed write. Best-effort: a
// failure here never aborts the transfer.
func preallocate(size int64, out *os.File) error {
	if size <= 0 {
		return nil
	}
	start := atomic.LoadInt32(&fallocStart)
	var err error
	for i := start; int(i) < len(fallocFlags); i++ {
		err = unix.Fallocate(int(out.Fd()), fallocFlags[i], 0, size)
		if err != unix.ENOTSUP {
			atomic.StoreInt32(&fallocStart, i)
			return err
		}
		log.Debugf("rcp: preallocate: flag combination %d/%d unsupported, trying next", i+1, len(fallocFlags))
	}
	return err
}
