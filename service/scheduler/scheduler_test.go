package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kylycht/valutatrade/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingUpdater struct {
	calls   int32
	success bool
	delay   time.Duration
}

func (c *countingUpdater) Run(ctx context.Context, source string) model.UpdateResult {
	atomic.AddInt32(&c.calls, 1)
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
	}
	if !c.success {
		return model.UpdateResult{Errors: []string{"CoinGecko: timeout"}}
	}
	return model.UpdateResult{Success: true}
}

func TestParseSchedule(t *testing.T) {
	spec, err := ParseSchedule("300")
	require.NoError(t, err)
	assert.Equal(t, "@every 300s", spec)

	spec, err = ParseSchedule("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", spec)

	_, err = ParseSchedule("0")
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = ParseSchedule("every now and then")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestRunReportsFailure(t *testing.T) {
	upd := &countingUpdater{}
	s, err := New("60", upd, time.Second)
	require.NoError(t, err)

	err = s.run(context.Background())
	assert.EqualError(t, err, "CoinGecko: timeout")

	upd.success = true
	assert.NoError(t, s.run(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&upd.calls))
}

func TestRunIsBoundedByTimeout(t *testing.T) {
	upd := &countingUpdater{success: true, delay: time.Minute}
	s, err := New("60", upd, 20*time.Millisecond)
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, s.run(context.Background()))
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestScheduledRunsFire(t *testing.T) {
	upd := &countingUpdater{success: true}
	s, err := New("1", upd, 0)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&upd.calls) >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
