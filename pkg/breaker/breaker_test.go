package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nanopubsub.com/pkg/logger"
)

func TestManager_TripsPerKey(t *testing.T) {
	logger.Nop()
	m := NewManager(Rule{TripConsecutiveFailures: 3, Timeout: time.Minute})
	unreachable := errors.New("connection refused")

	calls := 0
	fail := func() error { calls++; return unreachable }

	for i := 0; i < 3; i++ {
		err := m.Do("10.0.0.9:11011", fail)
		require.ErrorIs(t, err, unreachable)
		assert.False(t, IsOpen(err))
	}

	// 熔断后不再调用 fn
	err := m.Do("10.0.0.9:11011", fail)
	assert.True(t, IsOpen(err))
	assert.Equal(t, 3, calls)

	// 别的目的地不受影响
	assert.NoError(t, m.Do("10.0.0.2:11011", func() error { return nil }))
}

func TestManager_GetReusesBreaker(t *testing.T) {
	m := NewManager(Rule{})
	assert.Same(t, m.Get("a"), m.Get("a"))
	assert.NotSame(t, m.Get("a"), m.Get("b"))
}

func TestManager_HalfOpenRecovers(t *testing.T) {
	logger.Nop()
	m := NewManager(Rule{TripConsecutiveFailures: 1, Timeout: 20 * time.Millisecond})

	_ = m.Do("k", func() error { return errors.New("down") })
	assert.True(t, IsOpen(m.Do("k", func() error { return nil })))

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, m.Do("k", func() error { return nil }), "超时后进入 half-open，探测成功后恢复")
	assert.NoError(t, m.Do("k", func() error { return nil }))
}

func TestManager_OnStateChange(t *testing.T) {
	logger.Nop()
	m := NewManager(Rule{TripConsecutiveFailures: 1, Timeout: time.Minute})
	var got []string
	m.OnStateChange = func(key, from, to string) { got = append(got, key+":"+from+"->"+to) }

	_ = m.Do("k", func() error { return errors.New("down") })
	assert.Equal(t, []string{"k:closed->open"}, got)
}
