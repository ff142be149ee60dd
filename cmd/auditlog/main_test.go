package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	calls    int
	failUpTo int // fail the first N calls
	fields   []string
}

func (f *fakeCounter) HIncrBy(ctx context.Context, key, field string, incr int64) error {
	f.calls++
	f.fields = append(f.fields, field)
	if f.calls <= f.failUpTo {
		return errors.New("redis unavailable")
	}
	return nil
}

func TestCountWithRetrySucceedsFirstTry(t *testing.T) {
	c := &fakeCounter{}
	err := countWithRetry(context.Background(), c, "ride.created", 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, []string{"ride.created"}, c.fields)
}

func TestCountWithRetryRecoversAfterFailures(t *testing.T) {
	c := &fakeCounter{failUpTo: 2}
	err := countWithRetry(context.Background(), c, "request.accepted", 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, c.calls)
}

func TestCountWithRetryExhaustsAttempts(t *testing.T) {
	c := &fakeCounter{failUpTo: 10}
	err := countWithRetry(context.Background(), c, "ride.cancelled", 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, c.calls)
}
