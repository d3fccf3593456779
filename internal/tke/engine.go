// Package tke implements the threaded keystream engine: a
// counter-mode AES accelerator that pregenerates keystream blocks
// into a ring of fixed-size queues using a pool of worker
// goroutines, so the encrypt/decrypt hot path degenerates to an
// aligned XOR (spec.md §4.2).
package tke

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Limits on worker and queue counts (spec.md §4.2).
const (
	MaxThreads = 6
	MinThreads = 2
	MaxNumKQ   = 24
)

// Errors returned by Engine operations.
var (
	ErrNotInstalled    = errors.New("tke: no key installed")
	ErrBadLength       = errors.New("tke: length is not a multiple of the block size")
	ErrBadKey          = errors.New("tke: invalid key material")
	ErrAlreadyInstalled = errors.New("tke: key already installed; call InstallKey again to rekey")
)

// Engine pregenerates AES-CTR keystream blocks across a ring of
// queues filled by a worker pool, and exposes a crypto/cipher.Stream
// style XORKeyStream hot path over them.
type Engine struct {
	mu      sync.Mutex // guards install/teardown only, never the hot path
	block   gocipher.Block
	queues  []*keyQueue
	workers int

	consumeQueue int
	consumeBlock int

	// stopped is read by workers while they may be holding a queue's
	// lock, so it must never require e.mu to observe: taking e.mu
	// while holding q.mu would invert the lock order teardownLocked
	// relies on (it takes every q.mu while holding e.mu).
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New returns a freshly constructed, uninstalled engine.
func New() *Engine {
	return &Engine{}
}

// chooseWorkerCount applies spec.md §4.2's sizing heuristic. Go has
// no portable, library-free way to distinguish physical cores from
// hyperthreads without platform-specific cgo (see DESIGN.md); this
// uses the documented simplification of treating an even, >=4
// logical CPU count as SMT-enabled.
func chooseWorkerCount() (workers, queues int) {
	logical := runtime.NumCPU()
	var w int
	if logical >= 4 && logical%2 == 0 {
		w = logical / 4 // assume SMT
	} else {
		w = logical / 2
	}
	if w < MinThreads {
		w = MinThreads
	}
	if w > MaxThreads {
		w = MaxThreads
	}
	q := 4 * w
	if q > MaxNumKQ {
		q = MaxNumKQ
	}
	return w, q
}

// InstallKey creates or re-initialises the engine with key material
// and a 16-byte initial counter block. If a prior key exists, its
// workers are stopped and joined first. InstallKey blocks until the
// first queue has finished its initial fill, matching spec.md's
// "Block the installer until queue 0 leaves INIT".
func (e *Engine) InstallKey(key []byte, iv [blockSize]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.block != nil {
		e.teardownLocked()
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	e.block = block

	workers, numQueues := chooseWorkerCount()
	e.workers = workers
	e.queues = make([]*keyQueue, numQueues)
	for i := range e.queues {
		q := newKeyQueue()
		q.counter = iv
		addCounter(&q.counter, uint64(i)*KQLen)
		if i == 0 {
			q.state = stateInit
		} else {
			q.state = stateEmpty
		}
		e.queues[i] = q
	}
	e.consumeQueue = 0
	e.consumeBlock = 0
	e.stopped.Store(false)

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		bootstrap := i == 0
		go e.workerLoop(bootstrap)
	}

	// Block until queue 0 leaves INIT.
	q0 := e.queues[0]
	q0.mu.Lock()
	for q0.state == stateInit {
		q0.cond.Wait()
	}
	q0.mu.Unlock()

	return nil
}

// workerLoop is run by every worker goroutine. The bootstrap worker
// fills queue 0 once before joining the common round-robin fill loop
// (spec.md §4.2, "Worker loop").
func (e *Engine) workerLoop(bootstrap bool) {
	defer e.wg.Done()

	if bootstrap {
		q0 := e.queues[0]
		q0.mu.Lock()
		if q0.state == stateInit {
			e.generateInto(q0)
			addCounter(&q0.counter, uint64(KQLen)*uint64(len(e.queues)-1))
			q0.state = stateDraining
			q0.cond.Broadcast()
		}
		q0.mu.Unlock()
	}

	idx := 1 % len(e.queues)
	for {
		if e.stopped.Load() {
			return
		}

		q := e.queues[idx]
		q.mu.Lock()
		for q.state == stateDraining || q.state == stateInit {
			if e.stopped.Load() {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		if q.state != stateEmpty {
			q.mu.Unlock()
			idx = (idx + 1) % len(e.queues)
			continue
		}
		q.state = stateFilling
		q.cond.Broadcast()
		q.mu.Unlock()

		e.generateInto(q)

		q.mu.Lock()
		addCounter(&q.counter, uint64(KQLen)*uint64(len(e.queues)-1))
		q.state = stateFull
		q.cond.Broadcast()
		q.mu.Unlock()

		idx = (idx + 1) % len(e.queues)
	}
}

// generateInto fills every block of q from its counter, without
// holding q's lock (spec.md: "Generate KQLEN blocks ... without
// holding the lock"), and leaves q's counter advanced by KQLen, at
// the next block not yet generated.
func (e *Engine) generateInto(q *keyQueue) {
	c := q.counter
	for i := 0; i < KQLen; i++ {
		e.block.Encrypt(q.blocks[i][:], c[:])
		addCounter(&c, 1)
	}
	q.counter = c
}

// Process XORs src into dst using the next len(src) keystream bytes,
// advancing through the queue ring. len(src) must be a multiple of
// the block size. Process is the sole consumer of keystream blocks
// and must not be called concurrently with itself.
func (e *Engine) Process(dst, src []byte) error {
	if e.block == nil {
		return ErrNotInstalled
	}
	if len(src)%blockSize != 0 {
		return ErrBadLength
	}
	if len(dst) < len(src) {
		return fmt.Errorf("%w: dst shorter than src", ErrBadLength)
	}
	for off := 0; off < len(src); off += blockSize {
		if e.consumeBlock == KQLen {
			e.rollQueue()
		}
		ks := &e.queues[e.consumeQueue].blocks[e.consumeBlock]
		for i := 0; i < blockSize; i++ {
			dst[off+i] = src[off+i] ^ ks[i]
		}
		e.consumeBlock++
	}
	return nil
}

// rollQueue hands off the exhausted current queue and claims the
// next one, giving producers strict priority on refilling the
// just-drained queue (spec.md §4.2, "Consumer interaction").
func (e *Engine) rollQueue() {
	numQueues := len(e.queues)
	nextIdx := (e.consumeQueue + 1) % numQueues
	next := e.queues[nextIdx]

	next.mu.Lock()
	for next.state != stateFull {
		next.cond.Wait()
	}
	next.state = stateDraining
	next.cond.Broadcast()
	next.mu.Unlock()

	prev := e.queues[e.consumeQueue]
	prev.mu.Lock()
	prev.state = stateEmpty
	prev.cond.Broadcast()
	prev.mu.Unlock()

	e.consumeQueue = nextIdx
	e.consumeBlock = 0
}

// Teardown stops and joins every worker goroutine and zeroes the
// engine's key material and queues.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

func (e *Engine) teardownLocked() {
	if e.block == nil && !e.stopped.Load() {
		return
	}
	e.stopped.Store(true)
	for _, q := range e.queues {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.mu.Lock()

	for _, q := range e.queues {
		q.counter = [blockSize]byte{}
		q.blocks = [KQLen][blockSize]byte{}
	}
	e.queues = nil
	e.block = nil
}
