package rcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBWLimiterDisabledByDefault(t *testing.T) {
	l := NewBWLimiter(0)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Account(context.Background(), 1<<20))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestBWLimiterThrottles(t *testing.T) {
	// 8 kbps == 1000 bytes/sec
	l := NewBWLimiter(8)
	start := time.Now()
	require.NoError(t, l.Account(context.Background(), 1000)) // consumes the burst
	require.NoError(t, l.Account(context.Background(), 1000)) // must wait ~1s
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestBWLimiterRespectsContextCancellation(t *testing.T) {
	l := NewBWLimiter(1) // very slow
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Account(context.Background(), 125)) // consume burst first
	err := l.Account(ctx, 125)
	assert.Error(t, err)
}
