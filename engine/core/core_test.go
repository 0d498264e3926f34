package core

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDispatchOrder(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	bus.Register(EVENT_CODE_RESIZED, func(ctx EventContext) bool {
		calls = append(calls, "first")
		return false
	})
	id := bus.Register(EVENT_CODE_RESIZED, func(ctx EventContext) bool {
		calls = append(calls, "second")
		return true
	})
	bus.Register(EVENT_CODE_RESIZED, func(ctx EventContext) bool {
		calls = append(calls, "third")
		return true
	})

	handled := bus.Fire(EventContext{Type: EVENT_CODE_RESIZED, Data: &ResizeEvent{Width: 1, Height: 2}})
	assert.True(t, handled)
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	require.True(t, bus.Unregister(EVENT_CODE_RESIZED, id))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, id))
	bus.Fire(EventContext{Type: EVENT_CODE_RESIZED})
	assert.Equal(t, []string{"first", "third"}, calls)

	assert.False(t, bus.Fire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
}

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 1e-9)
	assert.Equal(t, uint64(AVG_COUNT), m.TotalFrames)

	// 70 frames of 16ms cross the one second boundary once.
	for i := 0; i < 40; i++ {
		m.Update(0.016)
	}
	fps, _ := m.Frame()
	assert.InDelta(t, 62, fps, 1)
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Update()
	assert.GreaterOrEqual(t, c.Elapsed(), 0.004)

	c.Stop()
	stopped := c.Elapsed()
	c.Update()
	assert.Equal(t, stopped, c.Elapsed())
	assert.False(t, c.Running())
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("warn"))
	assert.Equal(t, "warn", LogLevel())

	err := SetLogLevel("loud")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, "warn", LogLevel())

	require.NoError(t, SetLogLevel("debug"))
}
