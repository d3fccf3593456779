package rcp

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// minSleep clamps the limiter's sleep granularity so small transfers
// never trigger a syscall-storm of tiny sleeps (spec.md §4.4).
const minSleep = 10 * time.Millisecond

// BWLimiter is a token-bucket bandwidth limiter initialised with a
// kilobit-per-second rate, built over golang.org/x/time/rate the way
// the teacher's own bandwidth limiter is (fs/accounting's TokenBucket
// wraps rate.Limiter; see fs/accounting/token_bucket_test.go).
type BWLimiter struct {
	limiter *rate.Limiter
}

// NewBWLimiter builds a limiter targeting kbps kilobits per second. A
// non-positive kbps disables limiting: every call to Account returns
// immediately.
func NewBWLimiter(kbps int) *BWLimiter {
	if kbps <= 0 {
		return &BWLimiter{}
	}
	bytesPerSecond := float64(kbps) * 1000 / 8
	burst := int(bytesPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &BWLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Account records n bytes transferred and blocks the caller long
// enough to bring the average rate down to the configured target.
// Sleeps shorter than minSleep are rounded up to avoid a syscall
// storm of tiny sleeps on fast, tightly rate-limited links.
func (l *BWLimiter) Account(ctx context.Context, n int) error {
	if l == nil || l.limiter == nil || n <= 0 {
		return nil
	}
	r := l.limiter.ReserveN(time.Now(), n)
	if !r.OK() {
		// n exceeds burst size: fall back to waiting for the n bytes
		// in burst-sized pieces rather than failing the transfer outright.
		burst := l.limiter.Burst()
		for n > 0 {
			k := n
			if k > burst {
				k = burst
			}
			if err := l.limiter.WaitN(ctx, k); err != nil {
				return err
			}
			n -= k
		}
		return nil
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	if delay < minSleep {
		delay = minSleep
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRate changes the limiter's target rate in kbps at runtime; a
// non-positive value disables limiting.
func (l *BWLimiter) SetRate(kbps int) {
	if kbps <= 0 {
		l.limiter = nil
		return
	}
	bytesPerSecond := float64(kbps) * 1000 / 8
	burst := int(bytesPerSecond)
	if burst < 1 {
		burst = 1
	}
	if l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
		return
	}
	l.limiter.SetLimit(rate.Limit(bytesPerSecond))
	l.limiter.SetBurst(burst)
}
