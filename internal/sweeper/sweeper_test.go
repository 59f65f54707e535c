package sweeper

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/store/memory"
)

type countingExpirer struct {
	mu     sync.Mutex
	calls  int
	before time.Time
	err    error
}

func (c *countingExpirer) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.before = before
	return 2, c.err
}

func (c *countingExpirer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSweepDeletesExpiredRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now()
	_, err := store.Persist(ctx, &auth.RefreshCredential{UserID: "u1", TokenHash: "old", ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = store.Persist(ctx, &auth.RefreshCredential{UserID: "u1", TokenHash: "live", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	s, err := New(store, "@every 1h", quiet())
	require.NoError(t, err)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.TokenCount())
}

func TestSweepUsesClock(t *testing.T) {
	fixed := time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC)
	exp := &countingExpirer{}
	s, err := New(exp, "@every 1h", quiet())
	require.NoError(t, err)
	s.now = func() time.Time { return fixed }
	_, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, exp.before.Equal(fixed))

	exp.err = errors.New("db down")
	_, err = s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestInvalidSchedule(t *testing.T) {
	_, err := New(&countingExpirer{}, "every so often", quiet())
	assert.Error(t, err)
}

func TestRunFiresOnSchedule(t *testing.T) {
	exp := &countingExpirer{}
	s, err := New(exp, "@every 1s", quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return exp.count() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
